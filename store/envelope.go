package store

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

var (
	// envelopeMagic is the 4-byte prefix for framed blob values.
	envelopeMagic = []byte("FWB1")

	// errInvalidMagic is returned when a value doesn't start with the
	// expected magic bytes.
	errInvalidMagic = errors.New("invalid magic bytes: expected FWB1")

	// errHeaderTooLarge is returned when the header exceeds maxHeaderSize.
	errHeaderTooLarge = errors.New("header exceeds maximum size")

	// errHashMismatch is returned when the payload does not match the hash
	// recorded in the header.
	errHashMismatch = errors.New("payload hash mismatch")
)

// maxHeaderSize is the maximum allowed size for the JSON header (16 KiB).
const maxHeaderSize = 16 * 1024

// entryHeader is the JSON header framed ahead of each payload.
// Format of a stored value: MAGIC (4 bytes) | HDRLEN (uint32 big-endian) |
// HDRBYTES (JSON) | PAYLOAD.
type entryHeader struct {
	MIME           string `json:"mime"`
	Size           int64  `json:"size"`
	StoredAtUnixMs int64  `json:"stored_at_unix_ms"`
	TTLMs          int64  `json:"ttl_ms"`
	ContentHash    string `json:"content_hash"`
}

// encodeEntry frames an entry into a single value.
func encodeEntry(e *Entry) ([]byte, error) {
	sum := blake3.Sum256(e.Payload)
	hdr := entryHeader{
		MIME:           e.MIME,
		Size:           int64(len(e.Payload)),
		StoredAtUnixMs: e.StoredAt.UnixMilli(),
		TTLMs:          e.TTL.Milliseconds(),
		ContentHash:    hex.EncodeToString(sum[:]),
	}

	headerBytes, err := json.Marshal(&hdr)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}
	if len(headerBytes) > maxHeaderSize {
		return nil, errHeaderTooLarge
	}

	buf := make([]byte, 0, 4+4+len(headerBytes)+len(e.Payload))
	buf = append(buf, envelopeMagic...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(headerBytes))) //nolint:gosec // bounds-checked above
	buf = append(buf, headerBytes...)
	buf = append(buf, e.Payload...)
	return buf, nil
}

// decodeEntry parses a framed value and verifies the payload hash.
// The returned entry owns its payload slice.
func decodeEntry(key string, data []byte) (*Entry, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], envelopeMagic) {
		return nil, errInvalidMagic
	}

	headerLen := binary.BigEndian.Uint32(data[4:8])
	if headerLen > maxHeaderSize {
		return nil, errHeaderTooLarge
	}
	if uint64(len(data)) < 8+uint64(headerLen) {
		return nil, fmt.Errorf("truncated header: want %d bytes", headerLen)
	}

	var hdr entryHeader
	if err := json.Unmarshal(data[8:8+headerLen], &hdr); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	payload := make([]byte, len(data)-8-int(headerLen))
	copy(payload, data[8+headerLen:])

	if int64(len(payload)) != hdr.Size {
		return nil, fmt.Errorf("payload size mismatch: header says %d, got %d", hdr.Size, len(payload))
	}

	sum := blake3.Sum256(payload)
	if hex.EncodeToString(sum[:]) != hdr.ContentHash {
		return nil, errHashMismatch
	}

	return &Entry{
		Key:      key,
		Payload:  payload,
		MIME:     hdr.MIME,
		Size:     hdr.Size,
		StoredAt: time.UnixMilli(hdr.StoredAtUnixMs),
		TTL:      time.Duration(hdr.TTLMs) * time.Millisecond,
	}, nil
}
