package wal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/vidsearch/internal/libs/obs"
)

// RecoveryStats contains statistics from the recovery process
type RecoveryStats struct {
	SegmentsLoaded int
	RecordsLoaded  int
	RecordsApplied int
	StaleSkipped   int
	CorruptRecords int
	RecoveryTime   time.Duration
	MaxLSN         uint64
	// LatestWALSegment is the highest WAL segment id seen; the writer resumes there
	LatestWALSegment uint64
}

// NextLSN returns the LSN a writer should assign next
func (s *RecoveryStats) NextLSN() uint64 {
	return s.MaxLSN + 1
}

// ApplyFunc applies one recovered record to in-memory state
type ApplyFunc func(rec *Record) error

// RecoveryManager replays WAL segments on cold start
type RecoveryManager struct {
	manifest ManifestStore
	walDir   string
	logger   zerolog.Logger
}

// NewRecoveryManager creates a new recovery manager. manifest may be nil, in
// which case segments are discovered by scanning walDir.
func NewRecoveryManager(manifest ManifestStore, walDir string) *RecoveryManager {
	return &RecoveryManager{
		manifest: manifest,
		walDir:   walDir,
		logger:   obs.Logger("wal-recovery"),
	}
}

type replaySegment struct {
	path     string
	typ      SegmentType
	id       uint64
	checksum *string
}

// Recover replays compacted segments, then WAL segments in id order, calling
// apply for each record. For every record key only records newer than the last
// applied one for that key are applied, so replay is idempotent.
func (r *RecoveryManager) Recover(ctx context.Context, apply ApplyFunc) (*RecoveryStats, error) {
	startTime := time.Now()
	stats := &RecoveryStats{}

	segments, err := r.segments(ctx)
	if err != nil {
		return nil, err
	}

	applied := make(map[string]uint64)
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if seg.checksum != nil {
			valid, err := VerifySegmentChecksum(seg.path, *seg.checksum)
			if err != nil {
				return nil, fmt.Errorf("failed to verify segment %s: %w", seg.path, err)
			}
			if !valid {
				return nil, fmt.Errorf("corrupt segment detected: %s", seg.path)
			}
		}

		if seg.typ == SegmentTypeWAL && seg.id > stats.LatestWALSegment {
			stats.LatestWALSegment = seg.id
		}

		if err := r.replay(seg, applied, apply, stats); err != nil {
			// a torn tail is expected only in the last (active) segment
			if i != len(segments)-1 {
				r.logger.Warn().Err(err).Str("segment", seg.path).Msg("corruption in sealed segment, continuing")
			} else {
				r.logger.Warn().Err(err).Str("segment", seg.path).Msg("active segment truncated at corruption")
			}
			stats.CorruptRecords++
			continue
		}
		stats.SegmentsLoaded++
	}

	stats.RecoveryTime = time.Since(startTime)
	r.logger.Info().
		Int("segments", stats.SegmentsLoaded).
		Int("records", stats.RecordsLoaded).
		Int("applied", stats.RecordsApplied).
		Uint64("max_lsn", stats.MaxLSN).
		Dur("took", stats.RecoveryTime).
		Msg("WAL recovery complete")
	return stats, nil
}

// segments lists segments to replay from the manifest, or the directory when there is none
func (r *RecoveryManager) segments(ctx context.Context) ([]replaySegment, error) {
	var out []replaySegment

	if r.manifest == nil {
		paths, err := ListSegmentFiles(r.walDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list segment files: %w", err)
		}
		for _, p := range paths {
			typ, id, err := ParseSegmentFilename(p)
			if err != nil {
				continue
			}
			out = append(out, replaySegment{path: p, typ: typ, id: id})
		}
		return out, nil
	}

	info, err := r.manifest.GetRecoveryInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery info: %w", err)
	}
	sortSegments(info.Segments)

	for _, seg := range info.Segments {
		if _, err := os.Stat(seg.Filename); os.IsNotExist(err) {
			if seg.Status == SegmentStatusSealed {
				return nil, fmt.Errorf("missing sealed segment file: %s", seg.Filename)
			}
			continue
		}
		rs := replaySegment{path: seg.Filename, typ: seg.Type, id: seg.SegmentID}
		if seg.Status == SegmentStatusSealed {
			rs.checksum = seg.Checksum
		}
		out = append(out, rs)
	}
	return out, nil
}

func (r *RecoveryManager) replay(seg replaySegment, applied map[string]uint64, apply ApplyFunc, stats *RecoveryStats) error {
	iter, err := NewSegmentIterator(seg.path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", seg.path, err)
	}
	defer func() { _ = iter.Close() }()

	for iter.Next() {
		rec := iter.Record()
		stats.RecordsLoaded++
		if rec.LSN > stats.MaxLSN {
			stats.MaxLSN = rec.LSN
		}

		key, err := RecordKey(rec)
		if err != nil {
			stats.CorruptRecords++
			r.logger.Warn().Err(err).Uint64("lsn", rec.LSN).Msg("skipping undecodable record")
			continue
		}
		mapKey := rec.Type.String() + "/" + key
		if last, ok := applied[mapKey]; ok && last >= rec.LSN {
			stats.StaleSkipped++
			continue
		}

		if err := apply(rec); err != nil {
			stats.CorruptRecords++
			r.logger.Warn().Err(err).Uint64("lsn", rec.LSN).Msg("failed to apply record")
			continue
		}
		applied[mapKey] = rec.LSN
		stats.RecordsApplied++
	}

	return iter.Err()
}
