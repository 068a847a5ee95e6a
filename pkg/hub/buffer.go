package hub

import (
	"errors"
	"sync"

	"github.com/jsbattig/share-things-sub004/pkg/store"
)

const (
	// pendingChunkLimit bounds how many chunks are held for one content
	// item whose metadata has not arrived yet. The limit covers the
	// realistic interleaving window between a content announcement and its
	// first chunks; anything beyond it is a misbehaving client.
	pendingChunkLimit = 64

	// pendingTotalLimit bounds buffered chunks across all content items,
	// so a client spraying chunks for never-announced IDs cannot grow
	// memory without bound.
	pendingTotalLimit = 1024
)

var errPendingOverflow = errors.New("too many chunks buffered for unknown content")

// pendingKey scopes a buffered queue to the session the chunks were
// submitted in, so an announcement in another session cannot claim them.
type pendingKey struct {
	sessionID string
	contentID string
}

type pendingQueue struct {
	// clientID of the submitter; the queue is discarded when that client
	// disconnects before announcing the content.
	clientID string
	chunks   []*store.Chunk
}

// chunkBuffer holds chunks that raced ahead of their content metadata. The
// router drains a content's buffer as soon as the metadata is persisted, and
// evicts queues when the submitter disconnects or the session expires.
type chunkBuffer struct {
	mu      sync.Mutex
	pending map[pendingKey]*pendingQueue
	total   int
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{pending: make(map[pendingKey]*pendingQueue)}
}

// add buffers a chunk submitted by a session member for a content item with
// no metadata yet. Returns errPendingOverflow when the per-content or global
// bound is hit; the chunk is then dropped and the sender gets an OutOfOrder
// rejection.
func (b *chunkBuffer) add(sessionID, clientID string, chunk *store.Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total >= pendingTotalLimit {
		return errPendingOverflow
	}

	key := pendingKey{sessionID: sessionID, contentID: chunk.ContentID}
	queue, ok := b.pending[key]
	if !ok {
		queue = &pendingQueue{clientID: clientID}
		b.pending[key] = queue
	}
	if len(queue.chunks) >= pendingChunkLimit {
		return errPendingOverflow
	}
	queue.chunks = append(queue.chunks, chunk)
	b.total++
	return nil
}

// take removes and returns the chunks buffered for a content item in the
// given session, in arrival order. Chunks buffered under other sessions for
// the same content ID are left alone.
func (b *chunkBuffer) take(sessionID, contentID string) []*store.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := pendingKey{sessionID: sessionID, contentID: contentID}
	queue, ok := b.pending[key]
	if !ok {
		return nil
	}
	delete(b.pending, key)
	b.total -= len(queue.chunks)
	return queue.chunks
}

// dropClient discards every queue the client buffered in the session.
func (b *chunkBuffer) dropClient(sessionID, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, queue := range b.pending {
		if key.sessionID == sessionID && queue.clientID == clientID {
			delete(b.pending, key)
			b.total -= len(queue.chunks)
		}
	}
}

// dropSession discards every queue buffered in the session.
func (b *chunkBuffer) dropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, queue := range b.pending {
		if key.sessionID == sessionID {
			delete(b.pending, key)
			b.total -= len(queue.chunks)
		}
	}
}
