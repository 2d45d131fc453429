package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SegmentRoller handles segment lifecycle operations
type SegmentRoller struct {
	dir      string
	manifest ManifestStore
	maxSize  int64
	maxAge   time.Duration // Max age before forcing rotation (0 = disabled)
}

// SegmentRollerOption configures a SegmentRoller
type SegmentRollerOption func(*SegmentRoller)

// WithMaxAge sets the maximum segment age before forced rotation
func WithMaxAge(d time.Duration) SegmentRollerOption {
	return func(r *SegmentRoller) {
		r.maxAge = d
	}
}

// WithRollerMaxSize sets the size that forces rotation
func WithRollerMaxSize(size int64) SegmentRollerOption {
	return func(r *SegmentRoller) {
		r.maxSize = size
	}
}

// NewSegmentRoller creates a new segment roller
func NewSegmentRoller(dir string, manifest ManifestStore, opts ...SegmentRollerOption) *SegmentRoller {
	r := &SegmentRoller{
		dir:      dir,
		manifest: manifest,
		maxSize:  DefaultMaxSegmentSize,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ShouldRotate checks if a segment should be rotated based on size and age
func (r *SegmentRoller) ShouldRotate(segmentPath string, createdAt time.Time) (bool, string, error) {
	stat, err := os.Stat(segmentPath)
	if err != nil {
		return false, "", fmt.Errorf("failed to stat segment: %w", err)
	}

	if stat.Size() >= r.maxSize {
		return true, "size limit exceeded", nil
	}

	// Empty segments never need rotation
	if stat.Size() > 0 && r.maxAge > 0 && time.Since(createdAt) >= r.maxAge {
		return true, "age limit exceeded", nil
	}

	return false, "", nil
}

// RotateIfDue rotates the writer's active segment when it is over size or age.
// It reports the rotation reason, or "" when nothing was done.
func (r *SegmentRoller) RotateIfDue(w *WALWriter) (string, error) {
	path := filepath.Join(w.Dir(), SegmentFilename(w.CurrentSegmentID()))
	due, reason, err := r.ShouldRotate(path, w.SegmentOpenedAt())
	if err != nil || !due {
		return "", err
	}
	if err := w.Rotate(); err != nil {
		return "", fmt.Errorf("failed to rotate segment: %w", err)
	}
	return reason, nil
}

// ListSegmentFiles returns all segment files in the WAL directory
func (r *SegmentRoller) ListSegmentFiles() ([]string, error) {
	return ListSegmentFiles(r.dir)
}

// ListSegmentFiles returns all segment files in a directory in replay order:
// compacted segments (cmp_) first, then WAL segments (wal_), each by segment ID
func ListSegmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, _, err := ParseSegmentFilename(name); err == nil {
			segments = append(segments, filepath.Join(dir, name))
		}
	}

	sort.Slice(segments, func(i, j int) bool {
		typI, idI, _ := ParseSegmentFilename(segments[i])
		typJ, idJ, _ := ParseSegmentFilename(segments[j])
		if typI != typJ {
			return typI == SegmentTypeCompacted
		}
		return idI < idJ
	})
	return segments, nil
}

// CleanupOldSegments removes files of archived segments still on disk
func (r *SegmentRoller) CleanupOldSegments(ctx context.Context) (int, error) {
	if r.manifest == nil {
		return 0, nil
	}

	deleted := 0
	for _, typ := range []SegmentType{SegmentTypeWAL, SegmentTypeCompacted} {
		segments, err := r.manifest.GetSegments(ctx, typ, SegmentStatusArchived)
		if err != nil {
			return deleted, fmt.Errorf("failed to get archived segments: %w", err)
		}

		for _, seg := range segments {
			err := os.Remove(seg.Filename)
			if err == nil {
				deleted++
				continue
			}
			if !os.IsNotExist(err) {
				return deleted, fmt.Errorf("failed to delete segment file %s: %w", seg.Filename, err)
			}
		}
	}

	return deleted, nil
}

// ParseSegmentFilename extracts the segment type and ID from a segment filename
func ParseSegmentFilename(filename string) (SegmentType, uint64, error) {
	base := filepath.Base(filename)
	if !strings.HasSuffix(base, ".seg") {
		return "", 0, fmt.Errorf("invalid segment filename: %s", filename)
	}

	var id uint64
	if n, err := fmt.Sscanf(base, "wal_%d.seg", &id); err == nil && n == 1 {
		return SegmentTypeWAL, id, nil
	}
	if n, err := fmt.Sscanf(base, "cmp_%d.seg", &id); err == nil && n == 1 {
		return SegmentTypeCompacted, id, nil
	}

	return "", 0, fmt.Errorf("invalid segment filename: %s", filename)
}

// GetSegmentID extracts the segment ID from a segment filename
func GetSegmentID(filename string) (uint64, error) {
	_, id, err := ParseSegmentFilename(filename)
	return id, err
}

// SegmentFilename generates a WAL segment filename for a given ID
func SegmentFilename(segmentID uint64) string {
	return fmt.Sprintf("wal_%012d.seg", segmentID)
}

// CompactedSegmentFilename generates a compacted segment filename for a given ID.
// Compacted segments use their own namespace so IDs never collide with the live writer.
func CompactedSegmentFilename(segmentID uint64) string {
	return fmt.Sprintf("cmp_%012d.seg", segmentID)
}

// FindLatestWALSegment finds the WAL segment with the highest ID in a directory.
// Compacted segments are ignored; the writer never appends to them.
func FindLatestWALSegment(dir string) (string, uint64, error) {
	segments, err := ListSegmentFiles(dir)
	if err != nil {
		return "", 0, err
	}

	var latest string
	var latestID uint64
	for _, path := range segments {
		typ, id, err := ParseSegmentFilename(path)
		if err != nil || typ != SegmentTypeWAL {
			continue
		}
		if id >= latestID {
			latest, latestID = path, id
		}
	}
	return latest, latestID, nil
}
