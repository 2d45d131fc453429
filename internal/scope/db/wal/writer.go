package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/vidsearch/internal/libs/obs"
)

// DefaultMaxSegmentSize is the default max size before rotation (64MB)
const DefaultMaxSegmentSize = 64 * 1024 * 1024

// manifestTimeout bounds manifest calls made while holding the writer lock
const manifestTimeout = 5 * time.Second

// SyncPolicy controls when to fsync writes to disk
type SyncPolicy struct {
	Immediate bool          // Sync after every write
	Interval  time.Duration // Sync every N ms (default: 100ms)
	BatchSize int           // Sync every N records (default: 100)
}

// DefaultSyncPolicy returns a balanced sync policy
func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		Immediate: false,
		Interval:  100 * time.Millisecond,
		BatchSize: 100,
	}
}

// ImmediateSyncPolicy returns a policy that syncs after every write
func ImmediateSyncPolicy() SyncPolicy {
	return SyncPolicy{
		Immediate: true,
	}
}

// WALWriter is a thread-safe Write-Ahead Log writer
type WALWriter struct {
	mu         sync.Mutex    // Serialize all writes
	dir        string        // WAL directory
	file       *os.File      // Current segment file
	segmentID  uint64        // Current segment number
	lsn        uint64        // Next LSN to assign (atomic)
	offset     int64         // Current file offset
	openedAt   time.Time     // When the current segment was opened
	syncPolicy SyncPolicy    // When to fsync
	maxSize    int64         // Max segment size
	compress   bool          // Store payloads snappy-compressed
	manifest   ManifestStore // Segment manifest (optional)
	logger     zerolog.Logger

	// Current segment stats, reported to the manifest on seal
	segRecords int
	segMinLSN  uint64
	segMaxLSN  uint64

	// Sync tracking
	pendingWrites int       // Number of writes since last sync
	lastSync      time.Time // Time of last sync
	syncTicker    *time.Ticker
	stopSync      chan struct{}
	wg            sync.WaitGroup

	closed bool
}

// WALWriterOption configures a WALWriter
type WALWriterOption func(*WALWriter)

// WithSyncPolicy sets the sync policy
func WithSyncPolicy(policy SyncPolicy) WALWriterOption {
	return func(w *WALWriter) {
		w.syncPolicy = policy
	}
}

// WithMaxSegmentSize sets the max segment size
func WithMaxSegmentSize(size int64) WALWriterOption {
	return func(w *WALWriter) {
		w.maxSize = size
	}
}

// WithManifest sets the manifest store
func WithManifest(manifest ManifestStore) WALWriterOption {
	return func(w *WALWriter) {
		w.manifest = manifest
	}
}

// WithCompression stores record payloads as snappy blocks
func WithCompression(enabled bool) WALWriterOption {
	return func(w *WALWriter) {
		w.compress = enabled
	}
}

// WithInitialLSN sets the initial LSN (for recovery)
func WithInitialLSN(lsn uint64) WALWriterOption {
	return func(w *WALWriter) {
		w.lsn = lsn
	}
}

// WithInitialSegmentID sets the initial segment ID (for recovery)
func WithInitialSegmentID(segmentID uint64) WALWriterOption {
	return func(w *WALWriter) {
		w.segmentID = segmentID
	}
}

// NewWALWriter creates a new WAL writer
func NewWALWriter(dir string, opts ...WALWriterOption) (*WALWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WALWriter{
		dir:        dir,
		segmentID:  1,
		lsn:        1,
		syncPolicy: DefaultSyncPolicy(),
		maxSize:    DefaultMaxSegmentSize,
		lastSync:   time.Now(),
		stopSync:   make(chan struct{}),
		logger:     obs.Logger("wal"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if err := w.openSegment(); err != nil {
		return nil, err
	}
	if err := w.registerSegment(); err != nil {
		_ = w.file.Close()
		return nil, err
	}

	if !w.syncPolicy.Immediate && w.syncPolicy.Interval > 0 {
		w.startBackgroundSync()
	}

	return w, nil
}

// openSegment opens the current segment file, truncating any corrupt tail
func (w *WALWriter) openSegment() error {
	path := w.segmentPath(w.segmentID)

	if stat, err := os.Stat(path); err == nil && stat.Size() > 0 {
		validOffset, err := findLastValidOffset(path)
		if err != nil {
			return fmt.Errorf("failed to scan segment for corruption: %w", err)
		}

		if validOffset < stat.Size() {
			w.logger.Warn().
				Str("segment", path).
				Int64("size", stat.Size()).
				Int64("valid_offset", validOffset).
				Msg("truncating corrupt tail")
			if err := os.Truncate(path, validOffset); err != nil {
				return fmt.Errorf("failed to truncate corrupt segment: %w", err)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat segment %s: %w", path, err)
	}

	w.file = f
	w.offset = stat.Size()
	w.openedAt = time.Now()
	w.segRecords, w.segMinLSN, w.segMaxLSN = 0, 0, 0
	return nil
}

func (w *WALWriter) registerSegment() error {
	if w.manifest == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), manifestTimeout)
	defer cancel()

	if err := w.manifest.CreateSegment(ctx, SegmentTypeWAL, w.segmentID, w.segmentPath(w.segmentID)); err != nil {
		return fmt.Errorf("failed to create segment in manifest: %w", err)
	}
	if err := w.manifest.UpdateWALState(ctx, w.segmentID, atomic.LoadUint64(&w.lsn)); err != nil {
		return fmt.Errorf("failed to update WAL state: %w", err)
	}
	return nil
}

// findLastValidOffset scans a segment and returns the offset after the last valid record
func findLastValidOffset(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	var offset int64
	for {
		// io.EOF or a torn record: everything before offset is valid
		rec, err := readRecord(f)
		if err != nil {
			return offset, nil
		}
		offset += int64(rec.TotalSize())
	}
}

// segmentPath returns the path for a segment ID
func (w *WALWriter) segmentPath(segmentID uint64) string {
	return filepath.Join(w.dir, SegmentFilename(segmentID))
}

// Append writes a record and returns the assigned LSN
// Thread-safe: uses mutex internally
func (w *WALWriter) Append(recType RecordType, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(recType, payload, w.syncPolicy.Immediate)
}

// AppendKeyed writes a keyed record (see EncodeKeyedPayload)
func (w *WALWriter) AppendKeyed(recType RecordType, key string, body []byte) (uint64, error) {
	payload, err := EncodeKeyedPayload(key, body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}
	return w.Append(recType, payload)
}

func (w *WALWriter) appendLocked(recType RecordType, payload []byte, syncNow bool) (uint64, error) {
	if w.closed {
		return 0, fmt.Errorf("WAL writer is closed")
	}

	lsn := atomic.LoadUint64(&w.lsn)

	var rec *Record
	var err error
	if w.compress {
		rec, err = NewCompressedRecord(recType, lsn, payload)
	} else {
		rec, err = NewRecord(recType, lsn, payload)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create record: %w", err)
	}

	data := rec.Encode()
	n, err := w.file.Write(data)
	if err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	if n != len(data) {
		return 0, fmt.Errorf("short write: %d < %d", n, len(data))
	}

	// the LSN is consumed only once the record is on disk
	atomic.AddUint64(&w.lsn, 1)
	w.offset += int64(n)
	w.pendingWrites++
	w.segRecords++
	if w.segMinLSN == 0 {
		w.segMinLSN = lsn
	}
	w.segMaxLSN = lsn

	if syncNow || (w.syncPolicy.BatchSize > 0 && w.pendingWrites >= w.syncPolicy.BatchSize) {
		if err := w.syncLocked(); err != nil {
			return 0, fmt.Errorf("failed to sync: %w", err)
		}
	}

	if w.offset >= w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, fmt.Errorf("failed to rotate segment: %w", err)
		}
	}

	return lsn, nil
}

// Sync forces fsync to disk
func (w *WALWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

// syncLocked syncs while holding the mutex
func (w *WALWriter) syncLocked() error {
	if w.file == nil || w.pendingWrites == 0 {
		return nil
	}

	if err := w.file.Sync(); err != nil {
		return err
	}

	w.pendingWrites = 0
	w.lastSync = time.Now()
	return nil
}

// Rotate seals the current segment and opens the next one.
// An empty segment is not rotated.
func (w *WALWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAL writer is closed")
	}
	if w.offset == 0 {
		return nil
	}
	return w.rotateLocked()
}

// rotateLocked rotates to a new segment while holding the mutex
func (w *WALWriter) rotateLocked() error {
	if err := w.syncLocked(); err != nil {
		return err
	}

	oldSegmentID := w.segmentID
	oldPath := w.segmentPath(oldSegmentID)
	oldSize, oldRecords, oldMin, oldMax := w.offset, w.segRecords, w.segMinLSN, w.segMaxLSN

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}

	if w.manifest != nil {
		ctx, cancel := context.WithTimeout(context.Background(), manifestTimeout)
		defer cancel()

		checksum, err := CalculateSegmentChecksum(oldPath)
		if err != nil {
			return fmt.Errorf("failed to calculate segment checksum: %w", err)
		}
		if err := w.manifest.UpdateSegmentStats(ctx, SegmentTypeWAL, oldSegmentID, oldSize, oldRecords, oldMin, oldMax); err != nil {
			return fmt.Errorf("failed to update segment stats: %w", err)
		}
		if err := w.manifest.SealSegment(ctx, SegmentTypeWAL, oldSegmentID, checksum); err != nil {
			return fmt.Errorf("failed to seal segment in manifest: %w", err)
		}
	}

	w.segmentID++
	if err := w.openSegment(); err != nil {
		return err
	}
	if err := w.registerSegment(); err != nil {
		return err
	}

	w.logger.Debug().
		Uint64("sealed", oldSegmentID).
		Uint64("active", w.segmentID).
		Int("records", oldRecords).
		Msg("rotated segment")
	return nil
}

// startBackgroundSync starts the background sync goroutine
func (w *WALWriter) startBackgroundSync() {
	w.syncTicker = time.NewTicker(w.syncPolicy.Interval)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.syncTicker.C:
				w.mu.Lock()
				if w.pendingWrites > 0 {
					if err := w.syncLocked(); err != nil {
						w.logger.Error().Err(err).Msg("background sync failed")
					}
				}
				w.mu.Unlock()
			case <-w.stopSync:
				return
			}
		}
	}()
}

// Close flushes and closes the current segment
func (w *WALWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true

	if w.syncTicker != nil {
		w.syncTicker.Stop()
		close(w.stopSync)
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync on close: %w", err)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
	}

	if w.manifest != nil {
		ctx, cancel := context.WithTimeout(context.Background(), manifestTimeout)
		defer cancel()
		if err := w.manifest.UpdateWALState(ctx, w.segmentID, atomic.LoadUint64(&w.lsn)); err != nil {
			return fmt.Errorf("failed to update WAL state: %w", err)
		}
	}

	return nil
}

// CurrentLSN returns the next LSN to be assigned
func (w *WALWriter) CurrentLSN() uint64 {
	return atomic.LoadUint64(&w.lsn)
}

// CurrentSegmentID returns the current segment ID
func (w *WALWriter) CurrentSegmentID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentID
}

// CurrentOffset returns the current offset in the segment
func (w *WALWriter) CurrentOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// SegmentOpenedAt returns when the current segment was opened
func (w *WALWriter) SegmentOpenedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openedAt
}

// Dir returns the WAL directory
func (w *WALWriter) Dir() string {
	return w.dir
}
