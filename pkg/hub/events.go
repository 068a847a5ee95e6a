package hub

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/jsbattig/share-things-sub004/pkg/session"
	"github.com/jsbattig/share-things-sub004/pkg/store"
	"github.com/jsbattig/share-things-sub004/pkg/wire"
)

// Client-initiated events.
const (
	EventJoin     = "join"
	EventRejoin   = "rejoin"
	EventLeave    = "leave"
	EventContent  = "content"
	EventChunk    = "chunk"
	EventPin      = "pin"
	EventUnpin    = "unpin"
	EventRename   = "rename"
	EventClearAll = "clear-all"
)

// Server-initiated events.
const (
	EventClientJoined    = "client-joined"
	EventClientLeft      = "client-left"
	EventClientRejoined  = "client-rejoined"
	EventContentComplete = "content-complete"
	EventContentCleared  = "content-cleared"
	EventSessionExpired  = "session-expired"
	EventError           = "error"
)

// Error codes carried in error replies.
const (
	CodePassphraseMismatch = "PassphraseMismatch"
	CodeSessionExpired     = "SessionExpired"
	CodeUnauthorized       = "Unauthorized"
	CodeOutOfOrder         = "OutOfOrder"
	CodeInvalidArgument    = "InvalidArgument"
	CodeNotFound           = "NotFound"
	CodeStorageError       = "StorageError"
)

// Envelope is the tagged frame every socket message travels in. Data is
// decoded per Event after the envelope itself validates.
type Envelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

// JoinRequest is the payload of join and rejoin. ClientID is optional on
// join (the server assigns one) and expected on rejoin so the prior
// identity is preserved.
type JoinRequest struct {
	SessionID   string              `json:"sessionId" validate:"required,max=128"`
	ClientID    string              `json:"clientId,omitempty" validate:"max=128"`
	ClientName  string              `json:"clientName" validate:"required,max=256"`
	Fingerprint session.Fingerprint `json:"fingerprint"`
}

// JoinReply answers a successful join or rejoin.
type JoinReply struct {
	Token           string                   `json:"token"`
	ClientID        string                   `json:"clientId"`
	Clients         []session.MemberInfo     `json:"clients"`
	ContentManifest []*store.ContentMetadata `json:"contentManifest"`
}

// ContentEvent announces a content item. Body is present iff the content is
// non-chunked; chunked payloads follow as chunk events.
type ContentEvent struct {
	Metadata store.ContentMetadata `json:"metadata"`
	Body     wire.Bytes            `json:"body,omitempty"`
}

// ChunkEvent carries one encrypted chunk.
type ChunkEvent struct {
	ContentID     string     `json:"contentId" validate:"required,max=256"`
	ChunkIndex    int        `json:"chunkIndex" validate:"min=0"`
	TotalChunks   int        `json:"totalChunks" validate:"min=1"`
	IV            wire.Bytes `json:"iv"`
	EncryptedData wire.Bytes `json:"encryptedData"`
}

// PinEvent pins or unpins a content item.
type PinEvent struct {
	ContentID string `json:"contentId" validate:"required,max=256"`
}

// RenameEvent renames a content item.
type RenameEvent struct {
	ContentID string `json:"contentId" validate:"required,max=256"`
	FileName  string `json:"fileName" validate:"required,max=1024"`
}

// ClearAllEvent clears every content item in a session.
type ClearAllEvent struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
}

// ClientEvent announces membership changes to peers.
type ClientEvent struct {
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
}

// CompleteEvent announces that all chunks of a content item arrived.
type CompleteEvent struct {
	ContentID string `json:"contentId"`
}

// ClearedEvent announces that a session's content was cleared.
type ClearedEvent struct {
	SessionID string `json:"sessionId"`
}

// ExpiredEvent tells members their session expired and they should rejoin.
type ExpiredEvent struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// ErrorReply is sent in response to a rejected event.
type ErrorReply struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New()

func decodeEvent(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func marshalEnvelope(event string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return nil
	}
	return out
}
