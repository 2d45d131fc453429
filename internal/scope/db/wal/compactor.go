package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/vidsearch/internal/libs/obs"
)

// Reducer maps a record to the compacted record it contributes under key.
// keep=false drops the record; for each key the output with the highest LSN wins.
type Reducer func(rec *Record) (key string, out *Record, keep bool, err error)

// CompactorConfig holds configuration for the compactor
type CompactorConfig struct {
	// MinSegmentsToCompact is the minimum number of sealed WAL segments before compaction
	MinSegmentsToCompact int

	// MaxSegmentsPerCompaction limits how many WAL segments are merged at once
	MaxSegmentsPerCompaction int

	// MinSegmentAge only compacts segments sealed at least this long ago (0 = any)
	MinSegmentAge time.Duration

	// TmpDir is the directory for temporary files during compaction
	TmpDir string
}

// DefaultCompactorConfig returns a reasonable default configuration
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		MinSegmentsToCompact:     2,
		MaxSegmentsPerCompaction: 10,
	}
}

// CompactionStats reports the outcome of one compaction run
type CompactionStats struct {
	SegmentsMerged int
	RecordsRead    int
	RecordsWritten int
	SegmentID      uint64
}

// Compactor merges sealed WAL segments into a compacted segment
type Compactor struct {
	manifest   ManifestStore
	reduce     Reducer
	segmentDir string
	config     CompactorConfig
	logger     zerolog.Logger
	now        func() time.Time

	mu sync.Mutex
}

// NewCompactor creates a new compactor
func NewCompactor(manifest ManifestStore, reduce Reducer, segmentDir string, config CompactorConfig) *Compactor {
	if config.TmpDir == "" {
		config.TmpDir = filepath.Join(segmentDir, ".tmp")
	}

	return &Compactor{
		manifest:   manifest,
		reduce:     reduce,
		segmentDir: segmentDir,
		config:     config,
		logger:     obs.Logger("wal-compactor"),
		now:        time.Now,
	}
}

// Compact performs a single compaction run when enough eligible segments exist
func (c *Compactor) Compact(ctx context.Context) (*CompactionStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	walSegments, err := c.eligibleSegments(ctx)
	if err != nil {
		return nil, err
	}
	if len(walSegments) == 0 || len(walSegments) < c.config.MinSegmentsToCompact {
		return &CompactionStats{}, nil
	}

	// Existing compacted segments are folded into the new one so a single
	// compacted segment carries all surviving state.
	cmpSegments, err := c.manifest.GetSegments(ctx, SegmentTypeCompacted, SegmentStatusSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to get compacted segments: %w", err)
	}

	return c.compactSegments(ctx, cmpSegments, walSegments)
}

// eligibleSegments returns the oldest sealed WAL segments old enough to compact
func (c *Compactor) eligibleSegments(ctx context.Context) ([]SegmentInfo, error) {
	segments, err := c.manifest.GetSegments(ctx, SegmentTypeWAL, SegmentStatusSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to get sealed WAL segments: %w", err)
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].SegmentID < segments[j].SegmentID
	})

	cutoff := c.now().Add(-c.config.MinSegmentAge)
	var eligible []SegmentInfo
	for _, seg := range segments {
		// segments seal in id order, so stop at the first one that is too young
		if c.config.MinSegmentAge > 0 && (seg.SealedAt == nil || seg.SealedAt.After(cutoff)) {
			break
		}
		eligible = append(eligible, seg)
		if c.config.MaxSegmentsPerCompaction > 0 && len(eligible) >= c.config.MaxSegmentsPerCompaction {
			break
		}
	}
	return eligible, nil
}

// compactSegments merges the given segments into a new compacted segment
func (c *Compactor) compactSegments(ctx context.Context, cmpSegments, walSegments []SegmentInfo) (*CompactionStats, error) {
	stats := &CompactionStats{}
	inputs := append(append([]SegmentInfo{}, cmpSegments...), walSegments...)

	merged, read, err := c.mergeRecords(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to merge records: %w", err)
	}
	stats.RecordsRead = read

	if err := os.MkdirAll(c.config.TmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tmp directory: %w", err)
	}

	tmpPath := filepath.Join(c.config.TmpDir, fmt.Sprintf("compact_%d.seg", time.Now().UnixNano()))
	writer, err := NewSegmentWriter(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp segment: %w", err)
	}

	var minLSN, maxLSN uint64
	for i, rec := range merged {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
		if i == 0 {
			minLSN = rec.LSN
		}
		maxLSN = rec.LSN
	}

	checksum, err := writer.Finalize()
	if err != nil {
		_ = writer.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to finalize segment: %w", err)
	}
	sizeBytes := writer.Offset()
	_ = writer.Close()

	// The newest merged WAL segment id names the compacted segment; each WAL
	// segment is compacted exactly once, so the id is never reused.
	newSegmentID := walSegments[len(walSegments)-1].SegmentID
	finalPath := filepath.Join(c.segmentDir, CompactedSegmentFilename(newSegmentID))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move compacted segment: %w", err)
	}

	compacted := SegmentInfo{
		SegmentID:   newSegmentID,
		Type:        SegmentTypeCompacted,
		Filename:    finalPath,
		SizeBytes:   sizeBytes,
		RecordCount: len(merged),
		Checksum:    &checksum,
	}
	if len(merged) > 0 {
		compacted.MinLSN = &minLSN
		compacted.MaxLSN = &maxLSN
	}

	if err := c.manifest.SwapCompacted(ctx, inputs, compacted); err != nil {
		_ = os.Remove(finalPath)
		return nil, err
	}

	for _, seg := range inputs {
		if seg.Filename == finalPath {
			continue
		}
		if err := os.Remove(seg.Filename); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("segment", seg.Filename).Msg("failed to remove compacted input")
		}
	}

	stats.SegmentsMerged = len(inputs)
	stats.RecordsWritten = len(merged)
	stats.SegmentID = newSegmentID

	c.logger.Info().
		Int("segments", stats.SegmentsMerged).
		Int("records_read", stats.RecordsRead).
		Int("records_written", stats.RecordsWritten).
		Uint64("segment_id", newSegmentID).
		Msg("compacted WAL segments")
	return stats, nil
}

// mergeRecords reduces every record of the segments and keeps the highest-LSN
// output per key, returned in LSN order
func (c *Compactor) mergeRecords(segments []SegmentInfo) ([]*Record, int, error) {
	latest := make(map[string]*Record)
	read := 0

	for _, seg := range segments {
		if seg.Checksum != nil {
			valid, err := VerifySegmentChecksum(seg.Filename, *seg.Checksum)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to verify segment %s: %w", seg.Filename, err)
			}
			if !valid {
				return nil, 0, fmt.Errorf("segment %s checksum mismatch", seg.Filename)
			}
		}

		iter, err := NewSegmentIterator(seg.Filename)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open segment %s: %w", seg.Filename, err)
		}

		for iter.Next() {
			read++
			key, out, keep, err := c.reduce(iter.Record())
			if err != nil {
				_ = iter.Close()
				return nil, 0, fmt.Errorf("failed to reduce record at LSN %d: %w", iter.Record().LSN, err)
			}
			if !keep || out == nil {
				continue
			}
			if existing, ok := latest[key]; !ok || out.LSN > existing.LSN {
				latest[key] = out.Clone()
			}
		}

		if err := iter.Err(); err != nil {
			_ = iter.Close()
			return nil, 0, fmt.Errorf("error reading segment %s: %w", seg.Filename, err)
		}
		_ = iter.Close()
	}

	merged := make([]*Record, 0, len(latest))
	for _, rec := range latest {
		merged = append(merged, rec)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].LSN < merged[j].LSN
	})
	return merged, read, nil
}
