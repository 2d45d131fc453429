package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSegmentFilename(t *testing.T) {
	tests := []struct {
		id       uint64
		expected string
	}{
		{1, "wal_000000000001.seg"},
		{100, "wal_000000000100.seg"},
		{999999999999, "wal_999999999999.seg"},
	}

	for _, tc := range tests {
		got := SegmentFilename(tc.id)
		if got != tc.expected {
			t.Errorf("SegmentFilename(%d) = %s, want %s", tc.id, got, tc.expected)
		}
	}
}

func TestCompactedSegmentFilename(t *testing.T) {
	tests := []struct {
		id       uint64
		expected string
	}{
		{1, "cmp_000000000001.seg"},
		{100, "cmp_000000000100.seg"},
		{999999999999, "cmp_999999999999.seg"},
	}

	for _, tc := range tests {
		got := CompactedSegmentFilename(tc.id)
		if got != tc.expected {
			t.Errorf("CompactedSegmentFilename(%d) = %s, want %s", tc.id, got, tc.expected)
		}
	}
}

func TestGetSegmentID(t *testing.T) {
	tests := []struct {
		filename string
		expected uint64
		wantErr  bool
	}{
		{"wal_000000000001.seg", 1, false},
		{"wal_000000000100.seg", 100, false},
		{"/path/to/wal_000000000005.seg", 5, false},
		{"cmp_000000000001.seg", 1, false},
		{"cmp_000000000100.seg", 100, false},
		{"/path/to/cmp_000000000005.seg", 5, false},
		{"invalid.seg", 0, true},
		{"wal_abc.seg", 0, true},
	}

	for _, tc := range tests {
		got, err := GetSegmentID(tc.filename)
		if tc.wantErr {
			if err == nil {
				t.Errorf("GetSegmentID(%s) should have errored", tc.filename)
			}
			continue
		}
		if err != nil {
			t.Errorf("GetSegmentID(%s) unexpected error: %v", tc.filename, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("GetSegmentID(%s) = %d, want %d", tc.filename, got, tc.expected)
		}
	}
}

func TestListSegmentFiles(t *testing.T) {
	dir := t.TempDir()

	// Create mixed WAL and compacted segment files
	files := []string{
		"wal_000000000001.seg",
		"wal_000000000003.seg",
		"cmp_000000000002.seg", // Compacted segment between WAL segments
		"cmp_000000000004.seg",
		"wal_000000000005.seg",
		"other.txt", // Should be ignored
	}

	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
	}

	segments, err := ListSegmentFiles(dir)
	if err != nil {
		t.Fatalf("ListSegmentFiles failed: %v", err)
	}

	// Should have 5 segment files (excluding other.txt)
	if len(segments) != 5 {
		t.Errorf("expected 5 segments, got %d", len(segments))
	}

	// Compacted segments replay first, then WAL segments, each by ID
	expectedOrder := []string{
		"cmp_000000000002.seg",
		"cmp_000000000004.seg",
		"wal_000000000001.seg",
		"wal_000000000003.seg",
		"wal_000000000005.seg",
	}
	for i, seg := range segments {
		if filepath.Base(seg) != expectedOrder[i] {
			t.Errorf("segment %d: expected %s, got %s", i, expectedOrder[i], filepath.Base(seg))
		}
	}
}

func TestCompactedAndWALSegmentsNoCollision(t *testing.T) {
	// This test verifies that compacted segments (cmp_) and WAL segments (wal_)
	// can have the same ID without collision because they use different prefixes

	dir := t.TempDir()

	// Create both a WAL segment and compacted segment with ID 5
	walPath := filepath.Join(dir, SegmentFilename(5))
	cmpPath := filepath.Join(dir, CompactedSegmentFilename(5))

	if err := os.WriteFile(walPath, []byte("wal data"), 0644); err != nil {
		t.Fatalf("failed to create WAL segment: %v", err)
	}
	if err := os.WriteFile(cmpPath, []byte("compacted data"), 0644); err != nil {
		t.Fatalf("failed to create compacted segment: %v", err)
	}

	// Both files should exist
	if _, err := os.Stat(walPath); os.IsNotExist(err) {
		t.Error("WAL segment file should exist")
	}
	if _, err := os.Stat(cmpPath); os.IsNotExist(err) {
		t.Error("Compacted segment file should exist")
	}

	// ListSegmentFiles should find both
	segments, err := ListSegmentFiles(dir)
	if err != nil {
		t.Fatalf("ListSegmentFiles failed: %v", err)
	}

	if len(segments) != 2 {
		t.Errorf("expected 2 segments, got %d", len(segments))
	}

	// Verify both are included
	foundWAL := false
	foundCMP := false
	for _, seg := range segments {
		base := filepath.Base(seg)
		if base == "wal_000000000005.seg" {
			foundWAL = true
		}
		if base == "cmp_000000000005.seg" {
			foundCMP = true
		}
	}

	if !foundWAL {
		t.Error("WAL segment not found in list")
	}
	if !foundCMP {
		t.Error("Compacted segment not found in list")
	}
}

func TestFindLatestWALSegment(t *testing.T) {
	dir := t.TempDir()

	path, id, err := FindLatestWALSegment(dir)
	if err != nil || path != "" || id != 0 {
		t.Fatalf("expected no segment in empty dir, got %q %d %v", path, id, err)
	}

	for _, f := range []string{SegmentFilename(2), SegmentFilename(7), CompactedSegmentFilename(9)} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
	}

	path, id, err = FindLatestWALSegment(dir)
	if err != nil {
		t.Fatalf("FindLatestWALSegment failed: %v", err)
	}
	if id != 7 || filepath.Base(path) != SegmentFilename(7) {
		t.Errorf("expected wal segment 7, got %q %d", path, id)
	}
}

func TestRotateIfDue(t *testing.T) {
	dir := t.TempDir()
	manifest := NewInMemoryManifest()

	writer, err := NewWALWriter(dir, WithSyncPolicy(ImmediateSyncPolicy()), WithManifest(manifest))
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	roller := NewSegmentRoller(dir, manifest, WithMaxAge(time.Nanosecond))

	// Empty segment is never due
	reason, err := roller.RotateIfDue(writer)
	if err != nil || reason != "" {
		t.Fatalf("expected no rotation, got %q %v", reason, err)
	}

	if _, err := writer.Append(RecordTypeSearchLogged, []byte("payload")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	time.Sleep(time.Millisecond)

	reason, err = roller.RotateIfDue(writer)
	if err != nil {
		t.Fatalf("RotateIfDue failed: %v", err)
	}
	if reason != "age limit exceeded" {
		t.Errorf("expected age rotation, got %q", reason)
	}
	if writer.CurrentSegmentID() != 2 {
		t.Errorf("expected segment 2, got %d", writer.CurrentSegmentID())
	}
}

func TestCleanupOldSegments(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	manifest := NewInMemoryManifest()

	oldPath := filepath.Join(dir, SegmentFilename(1))
	if err := os.WriteFile(oldPath, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := manifest.CreateSegment(ctx, SegmentTypeWAL, 1, oldPath); err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	if err := manifest.SwapCompacted(ctx, []SegmentInfo{{Type: SegmentTypeWAL, SegmentID: 1}}, SegmentInfo{SegmentID: 1}); err != nil {
		t.Fatalf("failed to swap: %v", err)
	}

	roller := NewSegmentRoller(dir, manifest)
	deleted, err := roller.CleanupOldSegments(ctx)
	if err != nil {
		t.Fatalf("CleanupOldSegments failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted file, got %d", deleted)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("archived segment file should be removed")
	}
}
