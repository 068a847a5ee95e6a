package badger

import (
	"encoding/json"
	"fmt"

	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// ============================================================================
// Database Key Namespace Design
// ============================================================================
//
// BadgerDB is a key-value store, so we use prefixed keys to organize data
// types into logical namespaces. This design:
//   - Prevents key collisions between different data types
//   - Enables efficient range scans (all chunks of a content item, all
//     content of a session)
//   - Keeps content IDs fully opaque: they are embedded in keys as-is and
//     never touch the filesystem, so path-like characters are harmless
//
// Key Namespace Prefixes:
//
// Data Type        Prefix   Key Format                            Value
// =========================================================================
// Content Metadata "c:"     c:<contentID>                         ContentMetadata (JSON)
// Chunk Data       "k:"     k:<len>:<contentID>:<index, %06d>     chunk record (binary)
// Session Index    "s:"     s:<len>:<sessionID>:<contentID>       empty
//
// Scanned namespaces embed the ID's byte length before the ID itself, so a
// prefix scan for content "a" cannot match keys of content "a:b" even though
// IDs are opaque and may contain the delimiter. The metadata namespace is
// only ever read by exact key, so it needs no length.
//
// Chunk indexes are zero-padded to six digits so lexicographic key order
// equals ascending chunk order during prefix iteration.

const (
	prefixContent      = "c:"
	prefixChunk        = "k:"
	prefixSessionIndex = "s:"

	chunkIndexDigits = 6
)

// keyContent generates a key for content metadata: "c:<contentID>"
func keyContent(contentID string) []byte {
	return []byte(prefixContent + contentID)
}

// keyChunk generates a key for chunk data: "k:<len>:<contentID>:<index>"
func keyChunk(contentID string, index int) []byte {
	return fmt.Appendf(nil, "%s%d:%s:%0*d", prefixChunk, len(contentID), contentID, chunkIndexDigits, index)
}

// keyChunkPrefix generates a prefix for range scanning a content's chunks.
// The embedded length keeps the scan from straying into another content's
// keys when one ID is a delimited prefix of the other.
func keyChunkPrefix(contentID string) []byte {
	return fmt.Appendf(nil, "%s%d:%s:", prefixChunk, len(contentID), contentID)
}

// keySessionIndex generates a session index key:
// "s:<len>:<sessionID>:<contentID>"
//
// The contentID is recovered by trimming the known session prefix, so
// separator characters embedded in either ID do not break scans.
func keySessionIndex(sessionID, contentID string) []byte {
	return fmt.Appendf(nil, "%s%d:%s:%s", prefixSessionIndex, len(sessionID), sessionID, contentID)
}

// keySessionIndexPrefix generates a prefix for scanning a session's content.
func keySessionIndexPrefix(sessionID string) []byte {
	return fmt.Appendf(nil, "%s%d:%s:", prefixSessionIndex, len(sessionID), sessionID)
}

// ============================================================================
// Content Metadata Encoding (JSON)
// ============================================================================

func encodeContent(meta *store.ContentMetadata) ([]byte, error) {
	bytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content metadata: %w", err)
	}
	return bytes, nil
}

func decodeContent(bytes []byte) (*store.ContentMetadata, error) {
	var meta store.ContentMetadata
	if err := json.Unmarshal(bytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode content metadata: %w", err)
	}
	return &meta, nil
}

// ============================================================================
// Chunk Record Encoding (binary)
// ============================================================================
//
// Chunk values carry ciphertext, so JSON would inflate them; the record is a
// single-byte IV length followed by the IV and the raw encrypted bytes:
//
//   [ivLen: 1 byte][iv: ivLen bytes][encryptedData: remainder]

func encodeChunkRecord(iv, data []byte) ([]byte, error) {
	if len(iv) > 255 {
		return nil, fmt.Errorf("iv too long: %d bytes", len(iv))
	}
	record := make([]byte, 0, 1+len(iv)+len(data))
	record = append(record, byte(len(iv)))
	record = append(record, iv...)
	record = append(record, data...)
	return record, nil
}

func decodeChunkRecord(record []byte) (iv, data []byte, err error) {
	if len(record) < 1 {
		return nil, nil, fmt.Errorf("chunk record too short: %d bytes", len(record))
	}
	ivLen := int(record[0])
	if len(record) < 1+ivLen {
		return nil, nil, fmt.Errorf("chunk record truncated: iv length %d, record %d bytes", ivLen, len(record))
	}
	iv = append([]byte(nil), record[1:1+ivLen]...)
	data = append([]byte(nil), record[1+ivLen:]...)
	return iv, data, nil
}
