// Package wal implements a Write-Ahead Log with LSN tracking and CRC32 checksums.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
)

// WAL Record Format (24-byte header + payload):
// ┌─────────────────────────────────────────────────────────────┐
// │ Magic (4B)  │ Type (1B) │ Flags (1B) │ Reserved (2B)        │
// ├─────────────────────────────────────────────────────────────┤
// │ LSN (8B, uint64) - Log Sequence Number                      │
// ├─────────────────────────────────────────────────────────────┤
// │ PayloadLen (4B, uint32)                                     │
// ├─────────────────────────────────────────────────────────────┤
// │ HeaderCRC32 (4B) - checksum of bytes [0:20]                 │
// ├─────────────────────────────────────────────────────────────┤
// │ Payload (variable) - key + body, snappy block if compressed │
// ├─────────────────────────────────────────────────────────────┤
// │ PayloadCRC32 (4B) - checksum of stored payload              │
// └─────────────────────────────────────────────────────────────┘

const (
	// Magic bytes for WAL record identification
	MagicBytes uint32 = 0x57414C52 // "WALR"

	// HeaderSize is the fixed size of the record header
	HeaderSize = 24

	// MaxPayloadSize limits individual record size (10MB)
	MaxPayloadSize = 10 * 1024 * 1024

	// MaxKeyLen limits record key length
	MaxKeyLen = 65535 // uint16 max
)

// RecordType identifies the type of WAL record
type RecordType uint8

const (
	RecordTypeSearchLogged    RecordType = 0x01 // A search was performed
	RecordTypeClickAttached   RecordType = 0x02 // A result click for an earlier search
	RecordTypePopularSnapshot RecordType = 0x03 // Folded popular-query counter
)

func (r RecordType) String() string {
	switch r {
	case RecordTypeSearchLogged:
		return "search_logged"
	case RecordTypeClickAttached:
		return "click_attached"
	case RecordTypePopularSnapshot:
		return "popular_snapshot"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// RecordFlags holds optional flags for records
type RecordFlags uint8

const (
	FlagNone       RecordFlags = 0x00
	FlagCompressed RecordFlags = 0x01 // Payload is a snappy block
)

// Record represents a WAL record with header and payload
type Record struct {
	Magic      uint32
	Type       RecordType
	Flags      RecordFlags
	Reserved   uint16
	LSN        uint64
	PayloadLen uint32
	HeaderCRC  uint32
	Payload    []byte
	PayloadCRC uint32
}

// NewRecord creates a new WAL record with the given type and payload
func NewRecord(recType RecordType, lsn uint64, payload []byte) (*Record, error) {
	return newRecord(recType, FlagNone, lsn, payload)
}

// NewCompressedRecord creates a record whose payload is stored snappy-compressed
func NewCompressedRecord(recType RecordType, lsn uint64, payload []byte) (*Record, error) {
	return newRecord(recType, FlagCompressed, lsn, snappy.Encode(nil, payload))
}

func newRecord(recType RecordType, flags RecordFlags, lsn uint64, stored []byte) (*Record, error) {
	if len(stored) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d > %d", len(stored), MaxPayloadSize)
	}

	rec := &Record{
		Magic:      MagicBytes,
		Type:       recType,
		Flags:      flags,
		LSN:        lsn,
		PayloadLen: uint32(len(stored)),
		Payload:    stored,
	}
	rec.HeaderCRC = crc32.ChecksumIEEE(rec.headerBytes())
	rec.PayloadCRC = crc32.ChecksumIEEE(stored)
	return rec, nil
}

// headerBytes returns header bytes [0:20], the range covered by the header CRC
func (r *Record) headerBytes() []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], r.Magic)
	buf[4] = byte(r.Type)
	buf[5] = byte(r.Flags)
	binary.LittleEndian.PutUint16(buf[6:8], r.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], r.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], r.PayloadLen)
	return buf
}

// Encode serializes the record to bytes
func (r *Record) Encode() []byte {
	buf := make([]byte, 0, r.TotalSize())
	buf = append(buf, r.headerBytes()...)
	buf = binary.LittleEndian.AppendUint32(buf, r.HeaderCRC)
	buf = append(buf, r.Payload...)
	buf = binary.LittleEndian.AppendUint32(buf, r.PayloadCRC)
	return buf
}

// DecodeRecord deserializes a record from bytes
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("data too short for header: %d < %d", len(data), HeaderSize)
	}
	rec, err := parseHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	totalLen := rec.TotalSize()
	if len(data) < totalLen {
		return nil, fmt.Errorf("data too short for payload: %d < %d", len(data), totalLen)
	}

	rec.Payload = make([]byte, rec.PayloadLen)
	copy(rec.Payload, data[HeaderSize:HeaderSize+int(rec.PayloadLen)])
	rec.PayloadCRC = binary.LittleEndian.Uint32(data[HeaderSize+int(rec.PayloadLen) : totalLen])
	if err := rec.verifyPayload(); err != nil {
		return nil, err
	}
	return rec, nil
}

// readRecord reads one record from r. io.EOF means a clean end; any other
// error means a torn or corrupt record at this position.
func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	rec, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	body := make([]byte, int(rec.PayloadLen)+4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	rec.Payload = body[:rec.PayloadLen]
	rec.PayloadCRC = binary.LittleEndian.Uint32(body[rec.PayloadLen:])
	if err := rec.verifyPayload(); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseHeader(header []byte) (*Record, error) {
	rec := &Record{
		Magic:      binary.LittleEndian.Uint32(header[0:4]),
		Type:       RecordType(header[4]),
		Flags:      RecordFlags(header[5]),
		Reserved:   binary.LittleEndian.Uint16(header[6:8]),
		LSN:        binary.LittleEndian.Uint64(header[8:16]),
		PayloadLen: binary.LittleEndian.Uint32(header[16:20]),
		HeaderCRC:  binary.LittleEndian.Uint32(header[20:24]),
	}

	if rec.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid magic: expected 0x%X, got 0x%X", MagicBytes, rec.Magic)
	}
	if expected := crc32.ChecksumIEEE(header[0:20]); rec.HeaderCRC != expected {
		return nil, fmt.Errorf("header CRC mismatch: expected 0x%X, got 0x%X", expected, rec.HeaderCRC)
	}
	if rec.PayloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d > %d", rec.PayloadLen, MaxPayloadSize)
	}
	return rec, nil
}

func (r *Record) verifyPayload() error {
	if expected := crc32.ChecksumIEEE(r.Payload); r.PayloadCRC != expected {
		return fmt.Errorf("payload CRC mismatch: expected 0x%X, got 0x%X", expected, r.PayloadCRC)
	}
	return nil
}

// TotalSize returns the total size of the encoded record
func (r *Record) TotalSize() int {
	return HeaderSize + int(r.PayloadLen) + 4
}

// VerifyChecksums validates both header and payload CRCs
func (r *Record) VerifyChecksums() error {
	if expected := crc32.ChecksumIEEE(r.headerBytes()); r.HeaderCRC != expected {
		return fmt.Errorf("header CRC mismatch: expected 0x%X, got 0x%X", expected, r.HeaderCRC)
	}
	return r.verifyPayload()
}

// Data returns the logical payload, decompressing it when FlagCompressed is set
func (r *Record) Data() ([]byte, error) {
	if r.Flags&FlagCompressed == 0 {
		return r.Payload, nil
	}
	out, err := snappy.Decode(nil, r.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload at LSN %d: %w", r.LSN, err)
	}
	return out, nil
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := *r
	c.Payload = make([]byte, len(r.Payload))
	copy(c.Payload, r.Payload)
	return &c
}

// EncodeKeyedPayload serializes a keyed payload
// Format:
// - Key Length (2B) + Key (variable)
// - Body (remaining bytes)
func EncodeKeyedPayload(key string, body []byte) ([]byte, error) {
	if len(key) > MaxKeyLen {
		return nil, fmt.Errorf("key too long: %d > %d", len(key), MaxKeyLen)
	}

	buf := make([]byte, 0, 2+len(key)+len(body))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	buf = append(buf, body...)
	return buf, nil
}

// DecodeKeyedPayload splits a keyed payload into key and body
func DecodeKeyedPayload(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("payload too short: %d", len(data))
	}
	keyLen := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < 2+keyLen {
		return "", nil, fmt.Errorf("payload too short for key: %d < %d", len(data), 2+keyLen)
	}
	return string(data[2 : 2+keyLen]), data[2+keyLen:], nil
}

// RecordKey decodes the key of a keyed record, decompressing if needed
func RecordKey(rec *Record) (string, error) {
	data, err := rec.Data()
	if err != nil {
		return "", err
	}
	key, _, err := DecodeKeyedPayload(data)
	return key, err
}
