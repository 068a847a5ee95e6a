// Package badger implements the chunk store on BadgerDB.
//
// Both chunk bytes and content metadata live in the same BadgerDB instance,
// so a chunk write and its metadata update commit in one transaction. Chunk
// lookup by (contentID, chunkIndex) is a single key get; a session's content
// is enumerated through a dedicated index namespace.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// Ensure Store implements the chunk store contract.
var _ store.ChunkStore = (*Store)(nil)

// Store is a BadgerDB-backed chunk store.
type Store struct {
	db *badgerdb.DB
}

// Options configures the store.
type Options struct {
	// Path is the on-disk directory for the BadgerDB instance.
	Path string

	// InMemory runs the store without disk persistence. Used by tests.
	InMemory bool
}

// New opens (or creates) the store at the given path and runs the startup
// recovery scan.
func New(ctx context.Context, opts Options) (*Store, error) {
	var badgerOpts badgerdb.Options
	if opts.InMemory {
		badgerOpts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, fmt.Errorf("storage path is required")
		}
		badgerOpts = badgerdb.DefaultOptions(opts.Path)
	}
	// Badger's own logger is chatty at INFO; route nothing through it and
	// report store-level events ourselves.
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badgerdb.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store at %q: %w", opts.Path, err)
	}

	s := &Store{db: db}

	if err := s.recoverIncomplete(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("startup recovery scan failed: %w", err)
	}

	logger.Info("Chunk store opened", "path", opts.Path, "in_memory", opts.InMemory)
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badgerdb.Txn) error { return nil })
}

// recoverIncomplete repairs metadata rows left behind by a crash between the
// last chunk write and the completion mark: if every chunk of a content item
// is present but IsComplete is false, the flag and TotalSize are restored.
func (s *Store) recoverIncomplete(ctx context.Context) error {
	var repaired []string

	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: []byte(prefixContent)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var meta *store.ContentMetadata
			err := it.Item().Value(func(val []byte) error {
				m, decErr := decodeContent(val)
				if decErr != nil {
					return decErr
				}
				meta = m
				return nil
			})
			if err != nil {
				return err
			}

			if meta.IsComplete || !meta.IsChunked || meta.TotalChunks == 0 {
				continue
			}

			count, _, err := countChunksTxn(txn, meta.ContentID)
			if err != nil {
				return err
			}
			if count == meta.TotalChunks {
				repaired = append(repaired, meta.ContentID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, contentID := range repaired {
		if err := s.MarkContentComplete(ctx, contentID); err != nil {
			return fmt.Errorf("failed to repair %s: %w", contentID, err)
		}
		logger.Info("Repaired incomplete content flag after restart", "content_id", contentID)
	}
	return nil
}

// updateRetryAttempts bounds the retry loop for conflicting transactions.
const updateRetryAttempts = 3

// update runs fn in a read-write transaction, retrying with bounded backoff
// on transaction conflicts. Badger's SSI detection aborts one of two racing
// writers; a short retry makes per-content writer races invisible to callers.
func (s *Store) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < updateRetryAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if err == nil || !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		logger.Debug("Chunk store transaction conflict, retrying",
			"attempt", attempt+1, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("transaction conflict persisted after %d attempts: %w", updateRetryAttempts, err)
}

// countChunksTxn counts the stored chunks for a content item and sums their
// ciphertext sizes (IV bytes excluded) within an open transaction.
func countChunksTxn(txn *badgerdb.Txn, contentID string) (count int, totalSize int64, err error) {
	prefix := keyChunkPrefix(contentID)
	it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: prefix})
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			_, data, decErr := decodeChunkRecord(val)
			if decErr != nil {
				return decErr
			}
			totalSize += int64(len(data))
			return nil
		})
		if err != nil {
			return 0, 0, err
		}
		count++
	}
	return count, totalSize, nil
}
