package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// SaveChunk persists one chunk and atomically creates or updates the parent
// metadata row.
//
// Idempotent per (ContentID, ChunkIndex): a retransmission overwrites the
// stored record and totals are recomputed from the on-disk chunk set, so
// re-sends never inflate TotalSize. If the parent row does not exist yet
// (chunks racing ahead of their metadata announcement), a skeleton row is
// reserved and later overwritten by SaveContent.
func (s *Store) SaveChunk(ctx context.Context, chunk *store.Chunk) error {
	if chunk.ContentID == "" {
		return store.NewInvalidArgumentError("", "content id is required")
	}
	if chunk.TotalChunks <= 0 {
		return store.NewInvalidArgumentError(chunk.ContentID,
			fmt.Sprintf("total chunks must be positive, got %d", chunk.TotalChunks))
	}
	if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= chunk.TotalChunks {
		return store.NewInvalidArgumentError(chunk.ContentID,
			fmt.Sprintf("chunk index %d out of range [0, %d)", chunk.ChunkIndex, chunk.TotalChunks))
	}

	return s.update(ctx, func(txn *badgerdb.Txn) error {
		record, err := encodeChunkRecord(chunk.IV, chunk.EncryptedData)
		if err != nil {
			return err
		}
		if err := txn.Set(keyChunk(chunk.ContentID, chunk.ChunkIndex), record); err != nil {
			return err
		}

		meta, err := getContentTxn(txn, chunk.ContentID)
		if store.IsNotFound(err) {
			meta = &store.ContentMetadata{
				ContentID:   chunk.ContentID,
				ContentType: store.ContentTypeOther,
				TotalChunks: chunk.TotalChunks,
				IsChunked:   true,
				CreatedAt:   time.Now().UTC(),
			}
		} else if err != nil {
			return err
		}

		if meta.TotalChunks == 0 {
			meta.TotalChunks = chunk.TotalChunks
		}
		if meta.TotalChunks != chunk.TotalChunks {
			return store.NewInvalidArgumentError(chunk.ContentID,
				fmt.Sprintf("total chunks mismatch: row has %d, chunk says %d",
					meta.TotalChunks, chunk.TotalChunks))
		}

		count, totalSize, err := countChunksTxn(txn, chunk.ContentID)
		if err != nil {
			return err
		}
		if count == meta.TotalChunks {
			meta.IsComplete = true
			meta.TotalSize = totalSize
		}
		meta.LastAccessedAt = time.Now().UTC()

		if err := putContentTxn(txn, meta); err != nil {
			return err
		}
		if meta.SessionID != "" {
			if err := txn.Set(keySessionIndex(meta.SessionID, meta.ContentID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChunk returns the stored chunk, or ErrNotFound.
func (s *Store) GetChunk(ctx context.Context, contentID string, chunkIndex int) (*store.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chunkIndex < 0 {
		return nil, store.NewInvalidArgumentError(contentID,
			fmt.Sprintf("chunk index must not be negative, got %d", chunkIndex))
	}

	var chunk *store.Chunk
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyChunk(contentID, chunkIndex))
		if err == badgerdb.ErrKeyNotFound {
			return store.NewNotFoundError(contentID, "chunk")
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			iv, data, decErr := decodeChunkRecord(val)
			if decErr != nil {
				return &store.StorageError{
					Code:      store.ErrCorrupt,
					Message:   fmt.Sprintf("unreadable chunk %d", chunkIndex),
					ContentID: contentID,
				}
			}
			chunk = &store.Chunk{
				ContentID:     contentID,
				ChunkIndex:    chunkIndex,
				IV:            iv,
				EncryptedData: data,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	chunk.TotalChunks = s.chunkTotal(contentID)
	return chunk, nil
}

// chunkTotal reads TotalChunks from the metadata row; zero if the row is gone.
func (s *Store) chunkTotal(contentID string) int {
	var total int
	_ = s.db.View(func(txn *badgerdb.Txn) error {
		meta, err := getContentTxn(txn, contentID)
		if err != nil {
			return nil
		}
		total = meta.TotalChunks
		return nil
	})
	return total
}

// ForEachChunk yields chunks in ascending index order.
//
// The expected count comes from the metadata row; a gap in the stored set
// fails with ErrIncomplete before fn has seen the chunk past the gap, so a
// caller streaming to a client aborts at the chunk boundary.
func (s *Store) ForEachChunk(ctx context.Context, contentID string, fn func(*store.Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta, err := s.GetContentMetadata(ctx, contentID)
	if err != nil {
		return err
	}

	for i := 0; i < meta.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := s.GetChunk(ctx, contentID, i)
		if store.IsNotFound(err) {
			return &store.StorageError{
				Code:      store.ErrIncomplete,
				Message:   fmt.Sprintf("chunk %d of %d missing", i, meta.TotalChunks),
				ContentID: contentID,
			}
		}
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

// GetAllChunks returns all chunks by ascending index.
func (s *Store) GetAllChunks(ctx context.Context, contentID string) ([]*store.Chunk, error) {
	var chunks []*store.Chunk
	err := s.ForEachChunk(ctx, contentID, func(chunk *store.Chunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// CleanupOldContent keeps all pinned items plus the newest maxItems
// non-pinned items and deletes the remainder oldest-first.
func (s *Store) CleanupOldContent(ctx context.Context, sessionID string, maxItems int) ([]string, error) {
	if maxItems < 0 {
		return nil, store.NewInvalidArgumentError("",
			fmt.Sprintf("max items must not be negative, got %d", maxItems))
	}

	items, err := s.sessionContent(sessionID)
	if err != nil {
		return nil, err
	}

	// Partition: pinned items are always retained.
	var unpinned []*store.ContentMetadata
	for _, meta := range items {
		if !meta.IsPinned {
			unpinned = append(unpinned, meta)
		}
	}

	sortContent(unpinned)
	if len(unpinned) <= maxItems {
		return nil, nil
	}

	var removed []string
	// Delete oldest-first so an interrupted pass has trimmed the tail.
	doomed := unpinned[maxItems:]
	for i := len(doomed) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		contentID := doomed[i].ContentID
		if err := s.RemoveContent(ctx, contentID); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return removed, fmt.Errorf("failed to evict content %s: %w", contentID, err)
		}
		removed = append(removed, contentID)
	}

	if len(removed) > 0 {
		logger.Info("Retention pass evicted content",
			"session_id", sessionID, "removed", len(removed), "max_items", maxItems)
	}
	return removed, nil
}
