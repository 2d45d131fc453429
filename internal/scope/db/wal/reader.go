package wal

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// SegmentIterator iterates over records in a WAL segment file
type SegmentIterator struct {
	file     *os.File
	filePath string
	offset   int64
	record   *Record
	err      error
}

// NewSegmentIterator creates an iterator for the given segment file
func NewSegmentIterator(filePath string) (*SegmentIterator, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", filePath, err)
	}
	return &SegmentIterator{file: f, filePath: filePath}, nil
}

// Next advances to the next record. Returns false when done or on error;
// a torn or corrupt record sets Err with its byte offset.
func (it *SegmentIterator) Next() bool {
	rec, err := readRecord(it.file)
	if err != nil {
		if err != io.EOF {
			it.err = fmt.Errorf("corrupt record at offset %d in %s: %w", it.offset, it.filePath, err)
		}
		return false
	}
	it.record = rec
	it.offset += int64(rec.TotalSize())
	return true
}

// Record returns the current record
func (it *SegmentIterator) Record() *Record {
	return it.record
}

// Err returns any error that occurred during iteration
func (it *SegmentIterator) Err() error {
	return it.err
}

// Close closes the iterator
func (it *SegmentIterator) Close() error {
	if it.file != nil {
		return it.file.Close()
	}
	return nil
}

// CalculateSegmentChecksum calculates the CRC32 checksum of an entire segment file
func CalculateSegmentChecksum(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open segment: %w", err)
	}
	defer func() { _ = f.Close() }()

	hash := crc32.NewIEEE()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return fmt.Sprintf("%08x", hash.Sum32()), nil
}

// VerifySegmentChecksum verifies a segment file against an expected checksum
func VerifySegmentChecksum(filePath, expectedChecksum string) (bool, error) {
	actual, err := CalculateSegmentChecksum(filePath)
	if err != nil {
		return false, err
	}
	return actual == expectedChecksum, nil
}

// SegmentWriter writes records to a segment file
type SegmentWriter struct {
	file     *os.File
	offset   int64
	checksum uint32
}

// NewSegmentWriter creates a new segment writer
func NewSegmentWriter(filePath string) (*SegmentWriter, error) {
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment %s: %w", filePath, err)
	}

	return &SegmentWriter{file: f}, nil
}

// Write writes a record to the segment
func (sw *SegmentWriter) Write(rec *Record) error {
	data := rec.Encode()

	n, err := sw.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d < %d", n, len(data))
	}

	sw.offset += int64(n)
	sw.checksum = crc32.Update(sw.checksum, crc32.IEEETable, data)
	return nil
}

// Finalize syncs and returns the segment checksum
func (sw *SegmentWriter) Finalize() (string, error) {
	if err := sw.file.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync segment: %w", err)
	}
	return fmt.Sprintf("%08x", sw.checksum), nil
}

// Close closes the segment writer
func (sw *SegmentWriter) Close() error {
	if sw.file != nil {
		return sw.file.Close()
	}
	return nil
}

// Offset returns the current byte offset
func (sw *SegmentWriter) Offset() int64 {
	return sw.offset
}
