// Package store defines the chunk store contract: durable storage for
// encrypted chunks and their content metadata, with listing, pinning,
// rename, and retention-driven eviction.
//
// Ciphertext is opaque at this layer. The store guarantees byte-exact
// round-trips and never interprets chunk contents.
package store

import "context"

// ChunkStore is the durable storage engine for encrypted content.
//
// Implementations must be safe for concurrent readers; writers to the same
// content item are serialized by the backend's own transaction primitives.
// Operations return *StorageError for domain failures.
type ChunkStore interface {
	// SaveContent persists or updates a content metadata row. For chunked
	// content this reserves the row before chunks arrive; for non-chunked
	// content it is the complete record.
	SaveContent(ctx context.Context, meta *ContentMetadata) error

	// SaveChunk persists one chunk and atomically creates or updates the
	// parent metadata row. If the chunk is the last outstanding one for its
	// content, the row is marked complete and TotalSize is recomputed from
	// the stored chunk set. Idempotent per (ContentID, ChunkIndex).
	SaveChunk(ctx context.Context, chunk *Chunk) error

	// GetChunk returns the stored chunk, or ErrNotFound.
	GetChunk(ctx context.Context, contentID string, chunkIndex int) (*Chunk, error)

	// ForEachChunk yields chunks in ascending index order without loading
	// the whole content into memory. Fails with ErrIncomplete if any index
	// in [0, TotalChunks) is missing.
	ForEachChunk(ctx context.Context, contentID string, fn func(*Chunk) error) error

	// GetAllChunks returns all chunks by ascending index. Convenience
	// wrapper over ForEachChunk for small content and tests.
	GetAllChunks(ctx context.Context, contentID string) ([]*Chunk, error)

	// GetContentMetadata returns the metadata row, or ErrNotFound.
	GetContentMetadata(ctx context.Context, contentID string) (*ContentMetadata, error)

	// ListContent returns a session's content ordered pinned-first, then by
	// CreatedAt descending within each group. limit == 0 returns an empty
	// list; limit < 0 returns everything.
	ListContent(ctx context.Context, sessionID string, limit int) ([]*ContentMetadata, error)

	// MarkContentComplete sets IsComplete and recomputes TotalSize.
	MarkContentComplete(ctx context.Context, contentID string) error

	// PinContent exempts the content from retention eviction. No-op if the
	// content is unknown.
	PinContent(ctx context.Context, contentID string) error

	// UnpinContent clears the pin. No-op if the content is unknown.
	UnpinContent(ctx context.Context, contentID string) error

	// RenameContent updates FileName and the fileName key of
	// AdditionalMetadata. Rejects empty names with ErrInvalidArgument.
	RenameContent(ctx context.Context, contentID, newFileName string) error

	// RemoveContent deletes all chunks and the metadata row atomically.
	RemoveContent(ctx context.Context, contentID string) error

	// ClearSession deletes all content for the session, pinned included.
	ClearSession(ctx context.Context, sessionID string) error

	// CleanupOldContent keeps all pinned items plus the newest maxItems
	// non-pinned items and deletes the remainder oldest-first. Returns the
	// removed content IDs.
	CleanupOldContent(ctx context.Context, sessionID string, maxItems int) ([]string, error)

	// GetPinnedContentCount returns the number of pinned items in a session.
	GetPinnedContentCount(ctx context.Context, sessionID string) (int, error)

	// TouchContent updates LastAccessedAt. Used by the download path.
	TouchContent(ctx context.Context, contentID string) error

	// SessionHasContent reports whether any content rows reference the
	// session. The session registry uses this to decide whether an emptied
	// session may be destroyed.
	SessionHasContent(ctx context.Context, sessionID string) (bool, error)

	// Close releases the backing store.
	Close() error
}
