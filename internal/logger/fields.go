package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried per session, client, or content item.
const (
	KeySessionID  = "session_id" // Session identifier (client-chosen rendezvous name)
	KeyClientID   = "client_id"  // Client identifier within a session
	KeyClientName = "client_name"

	KeyContentID   = "content_id"  // Content identifier (client-generated, opaque)
	KeyChunkIndex  = "chunk_index" // 0-based chunk index
	KeyTotalChunks = "total_chunks"
	KeySize        = "size" // Byte count

	KeyEvent      = "event" // Socket event name
	KeyRemoteAddr = "remote_addr"
	KeyRequestID  = "request_id"

	KeyError      = "error"
	KeyDurationMs = "duration_ms"
)
