package store

import (
	"encoding/json"
	"time"
)

// ContentType classifies a content item. The server never inspects payload
// bytes; the type is a client-supplied hint echoed to peers and used by
// clients for rendering.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeFile  ContentType = "file"
	ContentTypeOther ContentType = "other"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeFile, ContentTypeOther:
		return true
	}
	return false
}

// EncryptionMetadata carries the IV for non-chunked content, whose single
// ciphertext body travels inline over the socket.
type EncryptionMetadata struct {
	IV []byte `json:"iv"`
}

// ContentMetadata is the server-side record for one content item.
//
// All fields originate from the client except the bookkeeping flags
// (IsComplete, IsPinned, TotalSize) and timestamps, which the store owns.
// Structural hints and AdditionalMetadata are preserved verbatim; the server
// never interprets them.
type ContentMetadata struct {
	ContentID  string `json:"contentId"`
	SessionID  string `json:"sessionId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`

	ContentType ContentType `json:"contentType"`
	MimeType    string      `json:"mimeType,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	Size        int64       `json:"size"`

	ImageInfo json.RawMessage `json:"imageInfo,omitempty"`
	TextInfo  json.RawMessage `json:"textInfo,omitempty"`
	FileInfo  json.RawMessage `json:"fileInfo,omitempty"`

	TotalChunks int   `json:"totalChunks"`
	TotalSize   int64 `json:"totalSize"`
	IsChunked   bool  `json:"isChunked"`
	IsLargeFile bool  `json:"isLargeFile"`

	IsComplete bool `json:"isComplete"`
	IsPinned   bool `json:"isPinned"`

	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`

	EncryptionMetadata *EncryptionMetadata `json:"encryptionMetadata,omitempty"`
	AdditionalMetadata map[string]any      `json:"additionalMetadata,omitempty"`
}

// Chunk is one independently-encrypted slice of a content item.
type Chunk struct {
	ContentID   string
	ChunkIndex  int
	TotalChunks int

	// IV is the per-chunk nonce, stored as-is (12 bytes for GCM, 16 accepted).
	IV []byte

	// EncryptedData is the opaque ciphertext for this chunk.
	EncryptedData []byte
}
