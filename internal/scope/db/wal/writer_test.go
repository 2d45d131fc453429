package wal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWALWriter(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWALWriter(dir)
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	if writer.CurrentLSN() != 1 {
		t.Errorf("initial LSN should be 1, got %d", writer.CurrentLSN())
	}

	if writer.CurrentSegmentID() != 1 {
		t.Errorf("initial segment ID should be 1, got %d", writer.CurrentSegmentID())
	}

	// Verify segment file was created
	segmentPath := filepath.Join(dir, "wal_000000000001.seg")
	if _, err := os.Stat(segmentPath); os.IsNotExist(err) {
		t.Errorf("segment file was not created: %s", segmentPath)
	}
}

func TestWALWriterAppend(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWALWriter(dir, WithSyncPolicy(ImmediateSyncPolicy()))
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	// Append records
	for i := 0; i < 10; i++ {
		payload := []byte("test payload")
		lsn, err := writer.Append(RecordTypeSearchLogged, payload)
		if err != nil {
			t.Fatalf("failed to append record %d: %v", i, err)
		}
		if lsn != uint64(i+1) {
			t.Errorf("expected LSN %d, got %d", i+1, lsn)
		}
	}

	if writer.CurrentLSN() != 11 {
		t.Errorf("expected current LSN 11, got %d", writer.CurrentLSN())
	}
}

func TestWALWriterSegmentRotation(t *testing.T) {
	dir := t.TempDir()

	// Small segment size to trigger rotation
	writer, err := NewWALWriter(dir,
		WithSyncPolicy(ImmediateSyncPolicy()),
		WithMaxSegmentSize(1024), // 1KB segments
	)
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	// Write enough data to trigger rotation
	payload := make([]byte, 256)
	for i := 0; i < 10; i++ {
		_, err := writer.Append(RecordTypeSearchLogged, payload)
		if err != nil {
			t.Fatalf("failed to append record %d: %v", i, err)
		}
	}

	// Should have rotated to a new segment
	if writer.CurrentSegmentID() <= 1 {
		t.Errorf("expected segment rotation, still on segment %d", writer.CurrentSegmentID())
	}

	// Verify multiple segment files exist
	entries, _ := os.ReadDir(dir)
	segmentCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".seg" {
			segmentCount++
		}
	}
	if segmentCount < 2 {
		t.Errorf("expected multiple segment files, got %d", segmentCount)
	}
}

func TestWALWriterCloseAndReopen(t *testing.T) {
	dir := t.TempDir()

	// Write some records
	writer1, err := NewWALWriter(dir, WithSyncPolicy(ImmediateSyncPolicy()))
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}

	for i := 0; i < 5; i++ {
		_, err := writer1.Append(RecordTypeSearchLogged, []byte("payload"))
		if err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	lastLSN := writer1.CurrentLSN()
	lastSegment := writer1.CurrentSegmentID()
	_ = writer1.Close()

	// Reopen with initial LSN and segment ID
	writer2, err := NewWALWriter(dir,
		WithSyncPolicy(ImmediateSyncPolicy()),
		WithInitialLSN(lastLSN),
		WithInitialSegmentID(lastSegment),
	)
	if err != nil {
		t.Fatalf("failed to reopen WAL writer: %v", err)
	}
	defer func() { _ = writer2.Close() }()

	// Write more records
	lsn, err := writer2.Append(RecordTypeSearchLogged, []byte("new payload"))
	if err != nil {
		t.Fatalf("failed to append after reopen: %v", err)
	}

	if lsn != lastLSN {
		t.Errorf("expected LSN %d after reopen, got %d", lastLSN, lsn)
	}
}

func TestWALWriterWithManifest(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	manifest := NewInMemoryManifest()

	writer, err := NewWALWriter(dir,
		WithSyncPolicy(ImmediateSyncPolicy()),
		WithManifest(manifest),
		WithMaxSegmentSize(512), // Small for rotation
	)
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	payload := make([]byte, 128)
	for i := 0; i < 10; i++ {
		if _, err := writer.Append(RecordTypeSearchLogged, payload); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	sealed, err := manifest.GetSegments(ctx, SegmentTypeWAL, SegmentStatusSealed)
	if err != nil {
		t.Fatalf("failed to get sealed segments: %v", err)
	}
	if len(sealed) == 0 {
		t.Fatal("expected sealed segments after rotation")
	}
	for _, seg := range sealed {
		if seg.Checksum == nil {
			t.Errorf("segment %d sealed without checksum", seg.SegmentID)
		}
		if seg.RecordCount == 0 || seg.MinLSN == nil || seg.MaxLSN == nil {
			t.Errorf("segment %d sealed without stats", seg.SegmentID)
		}
	}

	active, err := manifest.GetSegments(ctx, SegmentTypeWAL, SegmentStatusActive)
	if err != nil {
		t.Fatalf("failed to get active segments: %v", err)
	}
	if len(active) != 1 || active[0].SegmentID != writer.CurrentSegmentID() {
		t.Errorf("expected single active segment %d, got %+v", writer.CurrentSegmentID(), active)
	}

	state, err := manifest.GetWALState(ctx)
	if err != nil {
		t.Fatalf("failed to get WAL state: %v", err)
	}
	if state.CurrentSegmentID != writer.CurrentSegmentID() {
		t.Errorf("expected state segment %d, got %d", writer.CurrentSegmentID(), state.CurrentSegmentID)
	}
}

func TestWALWriterRotate(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWALWriter(dir, WithSyncPolicy(ImmediateSyncPolicy()))
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	// Empty segments are not rotated
	if err := writer.Rotate(); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if writer.CurrentSegmentID() != 1 {
		t.Errorf("expected no rotation of empty segment, got segment %d", writer.CurrentSegmentID())
	}

	if _, err := writer.Append(RecordTypeSearchLogged, []byte("payload")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := writer.Rotate(); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if writer.CurrentSegmentID() != 2 {
		t.Errorf("expected segment 2 after rotate, got %d", writer.CurrentSegmentID())
	}
	if writer.CurrentOffset() != 0 {
		t.Errorf("expected empty new segment, offset %d", writer.CurrentOffset())
	}
}

func TestWALWriterCompression(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWALWriter(dir, WithSyncPolicy(ImmediateSyncPolicy()), WithCompression(true))
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}

	body := []byte(strings.Repeat("piano lessons for beginners ", 50))
	if _, err := writer.AppendKeyed(RecordTypeSearchLogged, "entry-1", body); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	_ = writer.Close()

	records := readAllRecords(t, filepath.Join(dir, SegmentFilename(1)))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Flags&FlagCompressed == 0 {
		t.Error("expected compressed record")
	}

	data, err := records[0].Data()
	if err != nil {
		t.Fatalf("failed to decompress: %v", err)
	}
	key, got, err := DecodeKeyedPayload(data)
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if key != "entry-1" || string(got) != string(body) {
		t.Errorf("payload mismatch: key=%q", key)
	}
}

func TestWALWriterTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWALWriter(dir, WithSyncPolicy(ImmediateSyncPolicy()))
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := writer.Append(RecordTypeSearchLogged, []byte("payload")); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	validSize := writer.CurrentOffset()
	_ = writer.Close()

	// Simulate a torn write
	path := filepath.Join(dir, SegmentFilename(1))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open segment: %v", err)
	}
	_, _ = f.Write([]byte{0x52, 0x4C, 0x41, 0x57, 0x01})
	_ = f.Close()

	writer2, err := NewWALWriter(dir, WithSyncPolicy(ImmediateSyncPolicy()), WithInitialLSN(4))
	if err != nil {
		t.Fatalf("failed to reopen WAL writer: %v", err)
	}
	defer func() { _ = writer2.Close() }()

	if writer2.CurrentOffset() != validSize {
		t.Errorf("expected offset %d after truncation, got %d", validSize, writer2.CurrentOffset())
	}
	if _, err := writer2.Append(RecordTypeSearchLogged, []byte("after")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	records := readAllRecords(t, path)
	if len(records) != 4 {
		t.Errorf("expected 4 records, got %d", len(records))
	}
}

func TestWALWriterClosed(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWALWriter(dir)
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}

	_ = writer.Close()

	// Append after close should fail
	_, err = writer.Append(RecordTypeSearchLogged, []byte("test"))
	if err == nil {
		t.Error("expected error when appending to closed writer")
	}
}

func TestWALWriterSync(t *testing.T) {
	dir := t.TempDir()

	// Use batched sync policy
	writer, err := NewWALWriter(dir, WithSyncPolicy(SyncPolicy{
		Immediate: false,
		BatchSize: 100,
	}))
	if err != nil {
		t.Fatalf("failed to create WAL writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	// Write some records
	for i := 0; i < 5; i++ {
		_, err := writer.Append(RecordTypeSearchLogged, []byte("test"))
		if err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	// Explicit sync
	if err := writer.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
}
