package wal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SegmentStatus represents the lifecycle status of a segment
type SegmentStatus string

// Segment status values
const (
	SegmentStatusActive   SegmentStatus = "active"
	SegmentStatusSealed   SegmentStatus = "sealed"
	SegmentStatusArchived SegmentStatus = "archived"
)

// SegmentType distinguishes live WAL segments from compacted ones
type SegmentType string

// Segment types
const (
	SegmentTypeWAL       SegmentType = "wal"
	SegmentTypeCompacted SegmentType = "cmp"
)

// SegmentInfo contains metadata about a WAL segment
type SegmentInfo struct {
	ID          int64
	SegmentID   uint64
	Type        SegmentType
	Filename    string
	SizeBytes   int64
	RecordCount int
	MinLSN      *uint64
	MaxLSN      *uint64
	Status      SegmentStatus
	CreatedAt   time.Time
	SealedAt    *time.Time
	Checksum    *string
}

// WALState contains the global WAL state
//
//nolint:revive // WALState name is intentional for clarity
type WALState struct {
	CurrentSegmentID uint64
	NextLSN          uint64
	UpdatedAt        time.Time
}

// RecoveryInfo contains information needed for WAL recovery
type RecoveryInfo struct {
	State    WALState
	Segments []SegmentInfo
}

// ManifestStore defines the interface for WAL manifest storage
type ManifestStore interface {
	// CreateSegment registers a new active segment. Registering an existing segment is a no-op.
	CreateSegment(ctx context.Context, segType SegmentType, segmentID uint64, filename string) error

	// SealSegment marks a segment as sealed with its checksum
	SealSegment(ctx context.Context, segType SegmentType, segmentID uint64, checksum string) error

	// UpdateSegmentStats updates segment statistics
	UpdateSegmentStats(ctx context.Context, segType SegmentType, segmentID uint64, sizeBytes int64, recordCount int, minLSN, maxLSN uint64) error

	// GetSegments returns segments of a type and status ordered by segment id
	GetSegments(ctx context.Context, segType SegmentType, status SegmentStatus) ([]SegmentInfo, error)

	// SwapCompacted archives old and registers compacted as sealed in one step
	SwapCompacted(ctx context.Context, old []SegmentInfo, compacted SegmentInfo) error

	// GetWALState returns the current WAL state
	GetWALState(ctx context.Context) (*WALState, error)

	// UpdateWALState updates the WAL state
	UpdateWALState(ctx context.Context, currentSegmentID, nextLSN uint64) error

	// GetRecoveryInfo returns all non-archived segments and the WAL state
	GetRecoveryInfo(ctx context.Context) (*RecoveryInfo, error)
}

// PostgresManifest implements ManifestStore using PostgreSQL
type PostgresManifest struct {
	db *pgxpool.Pool
}

// NewPostgresManifest creates a new PostgreSQL-backed manifest store
func NewPostgresManifest(db *pgxpool.Pool) *PostgresManifest {
	return &PostgresManifest{db: db}
}

const segmentColumns = `id, segment_id, segment_type, filename, size_bytes, record_count,
	min_lsn, max_lsn, status, created_at, sealed_at, checksum`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (SegmentInfo, error) {
	var seg SegmentInfo
	var segmentID int64
	var minLSN, maxLSN *int64

	err := row.Scan(
		&seg.ID, &segmentID, &seg.Type, &seg.Filename, &seg.SizeBytes, &seg.RecordCount,
		&minLSN, &maxLSN, &seg.Status, &seg.CreatedAt, &seg.SealedAt, &seg.Checksum,
	)
	if err != nil {
		return SegmentInfo{}, err
	}

	seg.SegmentID = uint64(segmentID)
	if minLSN != nil {
		v := uint64(*minLSN)
		seg.MinLSN = &v
	}
	if maxLSN != nil {
		v := uint64(*maxLSN)
		seg.MaxLSN = &v
	}
	return seg, nil
}

func collectSegments(rows pgx.Rows) ([]SegmentInfo, error) {
	defer rows.Close()

	var segments []SegmentInfo
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// CreateSegment registers a new segment
func (m *PostgresManifest) CreateSegment(ctx context.Context, segType SegmentType, segmentID uint64, filename string) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO wal_segments (segment_id, segment_type, filename, status, created_at)
		VALUES ($1, $2, $3, 'active', NOW())
		ON CONFLICT (segment_type, segment_id) DO NOTHING
	`, int64(segmentID), segType, filename)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	return nil
}

// SealSegment marks a segment as sealed with its checksum
func (m *PostgresManifest) SealSegment(ctx context.Context, segType SegmentType, segmentID uint64, checksum string) error {
	result, err := m.db.Exec(ctx, `
		UPDATE wal_segments
		SET status = 'sealed', sealed_at = NOW(), checksum = $3
		WHERE segment_type = $1 AND segment_id = $2 AND status = 'active'
	`, segType, int64(segmentID), checksum)
	if err != nil {
		return fmt.Errorf("failed to seal segment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("segment %s/%d not found or not active", segType, segmentID)
	}
	return nil
}

// UpdateSegmentStats updates segment statistics
func (m *PostgresManifest) UpdateSegmentStats(ctx context.Context, segType SegmentType, segmentID uint64, sizeBytes int64, recordCount int, minLSN, maxLSN uint64) error {
	_, err := m.db.Exec(ctx, `
		UPDATE wal_segments
		SET size_bytes = $3, record_count = $4, min_lsn = $5, max_lsn = $6
		WHERE segment_type = $1 AND segment_id = $2
	`, segType, int64(segmentID), sizeBytes, recordCount, int64(minLSN), int64(maxLSN))
	if err != nil {
		return fmt.Errorf("failed to update segment stats: %w", err)
	}
	return nil
}

// GetSegments returns segments of a type and status
func (m *PostgresManifest) GetSegments(ctx context.Context, segType SegmentType, status SegmentStatus) ([]SegmentInfo, error) {
	rows, err := m.db.Query(ctx, `
		SELECT `+segmentColumns+`
		FROM wal_segments
		WHERE segment_type = $1 AND status = $2
		ORDER BY segment_id ASC
	`, segType, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	return collectSegments(rows)
}

// SwapCompacted archives the merged segments and registers the compacted one in a transaction
func (m *PostgresManifest) SwapCompacted(ctx context.Context, old []SegmentInfo, compacted SegmentInfo) error {
	err := pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
		for _, seg := range old {
			if _, err := tx.Exec(ctx, `
				UPDATE wal_segments SET status = 'archived'
				WHERE segment_type = $1 AND segment_id = $2
			`, seg.Type, int64(seg.SegmentID)); err != nil {
				return fmt.Errorf("failed to archive segment %s/%d: %w", seg.Type, seg.SegmentID, err)
			}
		}

		var minLSN, maxLSN *int64
		if compacted.MinLSN != nil {
			v := int64(*compacted.MinLSN)
			minLSN = &v
		}
		if compacted.MaxLSN != nil {
			v := int64(*compacted.MaxLSN)
			maxLSN = &v
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO wal_segments (segment_id, segment_type, filename, size_bytes, record_count,
			                          min_lsn, max_lsn, status, checksum, sealed_at, created_at)
			VALUES ($1, 'cmp', $2, $3, $4, $5, $6, 'sealed', $7, NOW(), NOW())
			ON CONFLICT (segment_type, segment_id) DO UPDATE
			SET filename = EXCLUDED.filename, size_bytes = EXCLUDED.size_bytes,
			    record_count = EXCLUDED.record_count, min_lsn = EXCLUDED.min_lsn,
			    max_lsn = EXCLUDED.max_lsn, status = 'sealed', checksum = EXCLUDED.checksum,
			    sealed_at = NOW()
		`, int64(compacted.SegmentID), compacted.Filename, compacted.SizeBytes, compacted.RecordCount,
			minLSN, maxLSN, compacted.Checksum)
		if err != nil {
			return fmt.Errorf("failed to register compacted segment: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to swap compacted segment: %w", err)
	}
	return nil
}

// GetWALState returns the current WAL state
func (m *PostgresManifest) GetWALState(ctx context.Context) (*WALState, error) {
	var state WALState
	var currentSegmentID, nextLSN int64
	err := m.db.QueryRow(ctx, `
		SELECT current_segment_id, next_lsn, updated_at
		FROM wal_state
		WHERE id = 1
	`).Scan(&currentSegmentID, &nextLSN, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Return default state if not initialized
		return &WALState{CurrentSegmentID: 1, NextLSN: 1, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get WAL state: %w", err)
	}
	state.CurrentSegmentID = uint64(currentSegmentID)
	state.NextLSN = uint64(nextLSN)
	return &state, nil
}

// UpdateWALState updates the WAL state
func (m *PostgresManifest) UpdateWALState(ctx context.Context, currentSegmentID, nextLSN uint64) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO wal_state (id, current_segment_id, next_lsn, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET current_segment_id = $1, next_lsn = $2, updated_at = NOW()
	`, int64(currentSegmentID), int64(nextLSN))
	if err != nil {
		return fmt.Errorf("failed to update WAL state: %w", err)
	}
	return nil
}

// GetRecoveryInfo returns all information needed for recovery
func (m *PostgresManifest) GetRecoveryInfo(ctx context.Context) (*RecoveryInfo, error) {
	state, err := m.GetWALState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get WAL state: %w", err)
	}

	rows, err := m.db.Query(ctx, `
		SELECT `+segmentColumns+`
		FROM wal_segments
		WHERE status != 'archived'
		ORDER BY segment_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments for recovery: %w", err)
	}
	segments, err := collectSegments(rows)
	if err != nil {
		return nil, fmt.Errorf("error reading segments: %w", err)
	}
	sortSegments(segments)

	return &RecoveryInfo{State: *state, Segments: segments}, nil
}

type segmentKey struct {
	typ SegmentType
	id  uint64
}

// InMemoryManifest implements ManifestStore using in-memory storage
type InMemoryManifest struct {
	mu       sync.Mutex
	segments map[segmentKey]*SegmentInfo
	state    WALState
	nextID   int64
}

// NewInMemoryManifest creates a new in-memory manifest store
func NewInMemoryManifest() *InMemoryManifest {
	return &InMemoryManifest{
		segments: make(map[segmentKey]*SegmentInfo),
		state:    WALState{CurrentSegmentID: 1, NextLSN: 1, UpdatedAt: time.Now()},
	}
}

// CreateSegment registers a new segment
func (m *InMemoryManifest) CreateSegment(_ context.Context, segType SegmentType, segmentID uint64, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := segmentKey{segType, segmentID}
	if _, ok := m.segments[key]; ok {
		return nil
	}
	m.nextID++
	m.segments[key] = &SegmentInfo{
		ID:        m.nextID,
		SegmentID: segmentID,
		Type:      segType,
		Filename:  filename,
		Status:    SegmentStatusActive,
		CreatedAt: time.Now(),
	}
	if segType == SegmentTypeWAL {
		m.state.CurrentSegmentID = segmentID
	}
	return nil
}

// SealSegment marks a segment as sealed with its checksum
func (m *InMemoryManifest) SealSegment(_ context.Context, segType SegmentType, segmentID uint64, checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, ok := m.segments[segmentKey{segType, segmentID}]
	if !ok || seg.Status != SegmentStatusActive {
		return fmt.Errorf("segment %s/%d not found or not active", segType, segmentID)
	}
	now := time.Now()
	seg.Status = SegmentStatusSealed
	seg.SealedAt = &now
	seg.Checksum = &checksum
	return nil
}

// UpdateSegmentStats updates segment statistics
func (m *InMemoryManifest) UpdateSegmentStats(_ context.Context, segType SegmentType, segmentID uint64, sizeBytes int64, recordCount int, minLSN, maxLSN uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, ok := m.segments[segmentKey{segType, segmentID}]
	if !ok {
		return fmt.Errorf("segment %s/%d not found", segType, segmentID)
	}
	seg.SizeBytes = sizeBytes
	seg.RecordCount = recordCount
	seg.MinLSN = &minLSN
	seg.MaxLSN = &maxLSN
	return nil
}

// GetSegments returns segments of a type and status
func (m *InMemoryManifest) GetSegments(_ context.Context, segType SegmentType, status SegmentStatus) ([]SegmentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []SegmentInfo
	for _, seg := range m.segments {
		if seg.Type == segType && seg.Status == status {
			result = append(result, *seg)
		}
	}
	sortSegments(result)
	return result, nil
}

// SwapCompacted archives old and registers compacted
func (m *InMemoryManifest) SwapCompacted(_ context.Context, old []SegmentInfo, compacted SegmentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seg := range old {
		if _, ok := m.segments[segmentKey{seg.Type, seg.SegmentID}]; !ok {
			return fmt.Errorf("segment %s/%d not found", seg.Type, seg.SegmentID)
		}
	}
	for _, seg := range old {
		m.segments[segmentKey{seg.Type, seg.SegmentID}].Status = SegmentStatusArchived
	}

	now := time.Now()
	m.nextID++
	compacted.ID = m.nextID
	compacted.Type = SegmentTypeCompacted
	compacted.Status = SegmentStatusSealed
	compacted.CreatedAt = now
	compacted.SealedAt = &now
	m.segments[segmentKey{SegmentTypeCompacted, compacted.SegmentID}] = &compacted
	return nil
}

// GetWALState returns the current WAL state
func (m *InMemoryManifest) GetWALState(_ context.Context) (*WALState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	return &state, nil
}

// UpdateWALState updates the WAL state
func (m *InMemoryManifest) UpdateWALState(_ context.Context, currentSegmentID, nextLSN uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentSegmentID = currentSegmentID
	m.state.NextLSN = nextLSN
	m.state.UpdatedAt = time.Now()
	return nil
}

// GetRecoveryInfo returns all information needed for recovery
func (m *InMemoryManifest) GetRecoveryInfo(_ context.Context) (*RecoveryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var segments []SegmentInfo
	for _, seg := range m.segments {
		if seg.Status != SegmentStatusArchived {
			segments = append(segments, *seg)
		}
	}
	sortSegments(segments)
	return &RecoveryInfo{State: m.state, Segments: segments}, nil
}

// sortSegments orders compacted segments before WAL segments, each by id
func sortSegments(segments []SegmentInfo) {
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Type != segments[j].Type {
			return segments[i].Type == SegmentTypeCompacted
		}
		return segments[i].SegmentID < segments[j].SegmentID
	})
}
