package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// SaveContent persists or updates a content metadata row and its session
// index entry.
//
// Bookkeeping fields are server-owned: a fresh row gets CreatedAt stamped
// and IsComplete forced false for chunked content; an update preserves the
// existing pin state and completion flag so a metadata re-send cannot unpin
// or un-complete an item.
func (s *Store) SaveContent(ctx context.Context, meta *store.ContentMetadata) error {
	if meta.ContentID == "" {
		return store.NewInvalidArgumentError("", "content id is required")
	}
	if meta.SessionID == "" {
		return store.NewInvalidArgumentError(meta.ContentID, "session id is required")
	}
	if !meta.ContentType.Valid() {
		return store.NewInvalidArgumentError(meta.ContentID,
			fmt.Sprintf("unknown content type %q", meta.ContentType))
	}

	return s.update(ctx, func(txn *badgerdb.Txn) error {
		row := *meta
		now := time.Now().UTC()

		existing, err := getContentTxn(txn, meta.ContentID)
		switch {
		case err == nil:
			row.CreatedAt = existing.CreatedAt
			row.IsPinned = existing.IsPinned
			row.IsComplete = existing.IsComplete
			row.TotalSize = existing.TotalSize
		case store.IsNotFound(err):
			row.CreatedAt = now
			if row.IsChunked {
				row.IsComplete = false
			} else {
				// Non-chunked content is complete on arrival; its single
				// ciphertext body travels inline and is not stored here.
				row.IsComplete = true
				row.TotalSize = row.Size
			}
			row.IsPinned = false
		default:
			return err
		}
		row.LastAccessedAt = now

		if err := putContentTxn(txn, &row); err != nil {
			return err
		}
		return txn.Set(keySessionIndex(row.SessionID, row.ContentID), nil)
	})
}

// GetContentMetadata returns the metadata row, or ErrNotFound.
func (s *Store) GetContentMetadata(ctx context.Context, contentID string) (*store.ContentMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var meta *store.ContentMetadata
	err := s.db.View(func(txn *badgerdb.Txn) error {
		m, err := getContentTxn(txn, contentID)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// ListContent returns a session's content ordered pinned-first, then by
// CreatedAt descending within each group. limit == 0 returns an empty list;
// limit < 0 returns everything.
func (s *Store) ListContent(ctx context.Context, sessionID string, limit int) ([]*store.ContentMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*store.ContentMetadata{}, nil
	}

	all, err := s.sessionContent(sessionID)
	if err != nil {
		return nil, err
	}

	sortContent(all)

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// sortContent orders pinned items first, then newest-first within each group.
func sortContent(items []*store.ContentMetadata) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsPinned != items[j].IsPinned {
			return items[i].IsPinned
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// MarkContentComplete sets IsComplete and recomputes TotalSize from the
// stored chunk set, so chunk retransmissions cannot inflate the total.
func (s *Store) MarkContentComplete(ctx context.Context, contentID string) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		meta, err := getContentTxn(txn, contentID)
		if err != nil {
			return err
		}

		_, totalSize, err := countChunksTxn(txn, contentID)
		if err != nil {
			return err
		}

		meta.IsComplete = true
		meta.TotalSize = totalSize
		return putContentTxn(txn, meta)
	})
}

// PinContent exempts the content from retention eviction. No-op if unknown.
func (s *Store) PinContent(ctx context.Context, contentID string) error {
	return s.setPinned(ctx, contentID, true)
}

// UnpinContent clears the pin. No-op if unknown.
func (s *Store) UnpinContent(ctx context.Context, contentID string) error {
	return s.setPinned(ctx, contentID, false)
}

func (s *Store) setPinned(ctx context.Context, contentID string, pinned bool) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		meta, err := getContentTxn(txn, contentID)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if meta.IsPinned == pinned {
			return nil
		}
		meta.IsPinned = pinned
		return putContentTxn(txn, meta)
	})
}

// RenameContent updates FileName and the fileName key of AdditionalMetadata.
func (s *Store) RenameContent(ctx context.Context, contentID, newFileName string) error {
	if newFileName == "" {
		return store.NewInvalidArgumentError(contentID, "file name must not be empty")
	}

	return s.update(ctx, func(txn *badgerdb.Txn) error {
		meta, err := getContentTxn(txn, contentID)
		if err != nil {
			return err
		}
		meta.FileName = newFileName
		if meta.AdditionalMetadata == nil {
			meta.AdditionalMetadata = make(map[string]any)
		}
		meta.AdditionalMetadata["fileName"] = newFileName
		return putContentTxn(txn, meta)
	})
}

// RemoveContent deletes all chunks and the metadata row in one transaction.
func (s *Store) RemoveContent(ctx context.Context, contentID string) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		return removeContentTxn(txn, contentID)
	})
}

// ClearSession deletes all content for the session, pinned items included.
//
// Each content item is removed in its own transaction; the session index is
// the source of truth, so a failure partway leaves the remainder intact and
// re-clearable.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	ids, err := s.sessionContentIDs(sessionID)
	if err != nil {
		return err
	}

	for _, contentID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RemoveContent(ctx, contentID); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("failed to clear content %s: %w", contentID, err)
		}
	}

	logger.Info("Session content cleared", "session_id", sessionID, "removed", len(ids))
	return nil
}

// GetPinnedContentCount returns the number of pinned items in a session.
func (s *Store) GetPinnedContentCount(ctx context.Context, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	items, err := s.sessionContent(sessionID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, meta := range items {
		if meta.IsPinned {
			count++
		}
	}
	return count, nil
}

// TouchContent updates LastAccessedAt.
func (s *Store) TouchContent(ctx context.Context, contentID string) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		meta, err := getContentTxn(txn, contentID)
		if err != nil {
			return err
		}
		meta.LastAccessedAt = time.Now().UTC()
		return putContentTxn(txn, meta)
	})
}

// SessionHasContent reports whether any content rows reference the session.
func (s *Store) SessionHasContent(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.IteratorOptions{
			Prefix:         keySessionIndexPrefix(sessionID),
			PrefetchValues: false,
		})
		defer it.Close()
		it.Rewind()
		found = it.Valid()
		return nil
	})
	return found, err
}

// ============================================================================
// Transaction helpers
// ============================================================================

func getContentTxn(txn *badgerdb.Txn, contentID string) (*store.ContentMetadata, error) {
	item, err := txn.Get(keyContent(contentID))
	if err == badgerdb.ErrKeyNotFound {
		return nil, store.NewNotFoundError(contentID, "content")
	}
	if err != nil {
		return nil, err
	}

	var meta *store.ContentMetadata
	err = item.Value(func(val []byte) error {
		m, decErr := decodeContent(val)
		if decErr != nil {
			return &store.StorageError{
				Code:      store.ErrCorrupt,
				Message:   "unreadable content metadata",
				ContentID: contentID,
			}
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func putContentTxn(txn *badgerdb.Txn, meta *store.ContentMetadata) error {
	data, err := encodeContent(meta)
	if err != nil {
		return err
	}
	return txn.Set(keyContent(meta.ContentID), data)
}

// removeContentTxn deletes the chunks, metadata row, and session index entry
// for one content item inside an open transaction.
func removeContentTxn(txn *badgerdb.Txn, contentID string) error {
	meta, err := getContentTxn(txn, contentID)
	if err != nil {
		return err
	}

	// Collect chunk keys first; deleting while iterating invalidates the
	// iterator.
	var chunkKeys [][]byte
	it := txn.NewIterator(badgerdb.IteratorOptions{
		Prefix:         keyChunkPrefix(contentID),
		PrefetchValues: false,
	})
	for it.Rewind(); it.Valid(); it.Next() {
		chunkKeys = append(chunkKeys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range chunkKeys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	if err := txn.Delete(keyContent(contentID)); err != nil {
		return err
	}
	return txn.Delete(keySessionIndex(meta.SessionID, contentID))
}

// sessionContentIDs scans the session index for content IDs.
func (s *Store) sessionContentIDs(sessionID string) ([]string, error) {
	prefix := keySessionIndexPrefix(sessionID)

	var ids []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.IteratorOptions{
			Prefix:         prefix,
			PrefetchValues: false,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// sessionContent loads all metadata rows referenced by the session index.
// Index entries whose row vanished mid-scan are skipped.
func (s *Store) sessionContent(sessionID string) ([]*store.ContentMetadata, error) {
	ids, err := s.sessionContentIDs(sessionID)
	if err != nil {
		return nil, err
	}

	items := make([]*store.ContentMetadata, 0, len(ids))
	err = s.db.View(func(txn *badgerdb.Txn) error {
		for _, contentID := range ids {
			meta, err := getContentTxn(txn, contentID)
			if store.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			items = append(items, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
