package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jsbattig/share-things-sub004/pkg/session"
	"github.com/jsbattig/share-things-sub004/pkg/store"
	badgerstore "github.com/jsbattig/share-things-sub004/pkg/store/badger"
)

type testEnv struct {
	hub   *Hub
	store store.ChunkStore
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	chunks, err := badgerstore.New(context.Background(), badgerstore.Options{InMemory: true})
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { chunks.Close() })

	tokens, err := session.NewTokenService(session.TokenConfig{})
	if err != nil {
		t.Fatalf("could not create token service: %v", err)
	}
	registry := session.NewRegistry(tokens, chunks)

	h := New(registry, chunks, Config{SendLimit: 5})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	return &testEnv{hub: h, store: chunks, srv: srv}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	if err := conn.WriteJSON(Envelope{Event: event, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

// recvNothing asserts no message arrives within the window.
func recvNothing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("unexpected message: %s", env.Event)
	}
}

func fingerprint(seed byte) session.Fingerprint {
	fp := session.Fingerprint{
		IV:   make([]byte, session.FingerprintIVSize),
		Data: make([]byte, session.FingerprintDataSize),
	}
	for i := range fp.IV {
		fp.IV[i] = seed + byte(i)
	}
	for i := range fp.Data {
		fp.Data[i] = seed ^ byte(i)
	}
	return fp
}

func join(t *testing.T, conn *websocket.Conn, sessionID, name string, fp session.Fingerprint) JoinReply {
	t.Helper()
	send(t, conn, EventJoin, JoinRequest{
		SessionID:   sessionID,
		ClientName:  name,
		Fingerprint: fp,
	})
	env := recv(t, conn)
	if env.Event != EventJoin {
		t.Fatalf("expected join reply, got %s: %s", env.Event, env.Data)
	}
	var reply JoinReply
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		t.Fatalf("bad join reply: %v", err)
	}
	return reply
}

func TestJoinFanOut(t *testing.T) {
	env := newTestEnv(t)
	fp := fingerprint(1)

	connA := env.dial(t)
	replyA := join(t, connA, "quiet-meadow", "Alice", fp)
	if replyA.Token == "" {
		t.Error("expected a token")
	}
	if len(replyA.Clients) != 0 {
		t.Errorf("first joiner should see no peers, got %v", replyA.Clients)
	}

	connB := env.dial(t)
	replyB := join(t, connB, "quiet-meadow", "Bob", fp)
	if len(replyB.Clients) != 1 || replyB.Clients[0].Name != "Alice" {
		t.Errorf("expected Alice as peer, got %v", replyB.Clients)
	}

	// A is told about B; B gets no echo of its own join.
	got := recv(t, connA)
	if got.Event != EventClientJoined {
		t.Fatalf("expected client-joined, got %s", got.Event)
	}
	var ev ClientEvent
	json.Unmarshal(got.Data, &ev)
	if ev.ClientName != "Bob" {
		t.Errorf("expected Bob in client-joined, got %q", ev.ClientName)
	}
	recvNothing(t, connB)
}

func TestJoinWrongFingerprintRejected(t *testing.T) {
	env := newTestEnv(t)

	connA := env.dial(t)
	join(t, connA, "quiet-meadow", "Alice", fingerprint(1))

	connB := env.dial(t)
	send(t, connB, EventJoin, JoinRequest{
		SessionID:   "quiet-meadow",
		ClientName:  "Mallory",
		Fingerprint: fingerprint(9),
	})
	got := recv(t, connB)
	if got.Event != EventError {
		t.Fatalf("expected error reply, got %s", got.Event)
	}
	var errReply ErrorReply
	json.Unmarshal(got.Data, &errReply)
	if errReply.Code != CodePassphraseMismatch {
		t.Errorf("expected PassphraseMismatch, got %s", errReply.Code)
	}

	// The rejected joiner must not appear to Alice.
	recvNothing(t, connA)
}

func TestEventsBeforeJoinRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, EventChunk, ChunkEvent{
		ContentID: "c1", ChunkIndex: 0, TotalChunks: 1,
		IV: make([]byte, 12), EncryptedData: []byte{1},
	})
	got := recv(t, conn)
	if got.Event != EventError {
		t.Fatalf("expected error reply, got %s", got.Event)
	}
	var errReply ErrorReply
	json.Unmarshal(got.Data, &errReply)
	if errReply.Code != CodeUnauthorized {
		t.Errorf("expected Unauthorized, got %s", errReply.Code)
	}
}

func TestContentFanOutExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	fp := fingerprint(1)

	connA := env.dial(t)
	join(t, connA, "quiet-meadow", "Alice", fp)
	connB := env.dial(t)
	join(t, connB, "quiet-meadow", "Bob", fp)
	recv(t, connA) // client-joined for Bob

	now := time.Now().UTC()
	send(t, connA, EventContent, ContentEvent{
		Metadata: store.ContentMetadata{
			ContentID:   "content-1",
			SessionID:   "quiet-meadow",
			ContentType: store.ContentTypeText,
			MimeType:    "text/plain",
			CreatedAt:   now,
			Size:        11,
		},
		Body: []byte("ciphertext!"),
	})

	got := recv(t, connB)
	if got.Event != EventContent {
		t.Fatalf("expected content event at peer, got %s", got.Event)
	}
	var ev ContentEvent
	if err := json.Unmarshal(got.Data, &ev); err != nil {
		t.Fatalf("bad content payload: %v", err)
	}
	if ev.Metadata.ContentID != "content-1" || string(ev.Body) != "ciphertext!" {
		t.Errorf("payload not identical: %+v", ev)
	}

	// No echo to the sender.
	recvNothing(t, connA)

	// Metadata is persisted.
	meta, err := env.store.GetContentMetadata(context.Background(), "content-1")
	if err != nil {
		t.Fatalf("content not persisted: %v", err)
	}
	if meta.SessionID != "quiet-meadow" {
		t.Errorf("wrong session on persisted metadata: %q", meta.SessionID)
	}
}

func TestChunkBeforeMetadataBuffered(t *testing.T) {
	env := newTestEnv(t)
	fp := fingerprint(1)

	conn := env.dial(t)
	join(t, conn, "quiet-meadow", "Alice", fp)

	// Chunks race ahead of the announcement.
	for i := 0; i < 2; i++ {
		send(t, conn, EventChunk, ChunkEvent{
			ContentID:     "racy-content",
			ChunkIndex:    i,
			TotalChunks:   2,
			IV:            make([]byte, 12),
			EncryptedData: []byte{byte(i), byte(i)},
		})
	}

	now := time.Now().UTC()
	send(t, conn, EventContent, ContentEvent{
		Metadata: store.ContentMetadata{
			ContentID:   "racy-content",
			SessionID:   "quiet-meadow",
			ContentType: store.ContentTypeFile,
			CreatedAt:   now,
			IsChunked:   true,
			TotalChunks: 2,
		},
	})

	// Buffered chunks get flushed and the content completes.
	got := recv(t, conn)
	if got.Event != EventContentComplete {
		t.Fatalf("expected content-complete, got %s", got.Event)
	}

	meta, err := env.store.GetContentMetadata(context.Background(), "racy-content")
	if err != nil {
		t.Fatalf("metadata missing: %v", err)
	}
	if !meta.IsComplete {
		t.Error("content should be complete after flush")
	}
	if meta.TotalSize != 4 {
		t.Errorf("expected TotalSize 4, got %d", meta.TotalSize)
	}
}

func TestChunkBufferOverflowRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	join(t, conn, "quiet-meadow", "Alice", fingerprint(1))

	total := pendingChunkLimit + 1
	for i := 0; i < total; i++ {
		send(t, conn, EventChunk, ChunkEvent{
			ContentID:     "flood",
			ChunkIndex:    i,
			TotalChunks:   total,
			IV:            make([]byte, 12),
			EncryptedData: []byte{1},
		})
	}

	got := recv(t, conn)
	if got.Event != EventError {
		t.Fatalf("expected error reply, got %s", got.Event)
	}
	var errReply ErrorReply
	json.Unmarshal(got.Data, &errReply)
	if errReply.Code != CodeOutOfOrder {
		t.Errorf("expected OutOfOrder, got %s", errReply.Code)
	}
}

func TestLargeFileChunksNotFannedOut(t *testing.T) {
	env := newTestEnv(t)
	fp := fingerprint(1)

	connA := env.dial(t)
	join(t, connA, "quiet-meadow", "Alice", fp)
	connB := env.dial(t)
	join(t, connB, "quiet-meadow", "Bob", fp)
	recv(t, connA) // client-joined for Bob

	now := time.Now().UTC()
	send(t, connA, EventContent, ContentEvent{
		Metadata: store.ContentMetadata{
			ContentID:   "big-file",
			SessionID:   "quiet-meadow",
			ContentType: store.ContentTypeFile,
			CreatedAt:   now,
			IsChunked:   true,
			IsLargeFile: true,
			TotalChunks: 2,
		},
	})

	// Bob sees the announcement.
	if got := recv(t, connB); got.Event != EventContent {
		t.Fatalf("expected content announcement, got %s", got.Event)
	}

	send(t, connA, EventChunk, ChunkEvent{
		ContentID: "big-file", ChunkIndex: 0, TotalChunks: 2,
		IV: make([]byte, 12), EncryptedData: []byte{1, 2, 3},
	})

	// The chunk is persisted but never rides the socket.
	recvNothing(t, connB)
	if _, err := env.store.GetChunk(context.Background(), "big-file", 0); err != nil {
		t.Errorf("large-file chunk not persisted: %v", err)
	}
}

func TestClearAllBroadcast(t *testing.T) {
	env := newTestEnv(t)
	fp := fingerprint(1)

	connA := env.dial(t)
	join(t, connA, "quiet-meadow", "Alice", fp)
	connB := env.dial(t)
	join(t, connB, "quiet-meadow", "Bob", fp)
	recv(t, connA) // client-joined for Bob

	now := time.Now().UTC()
	send(t, connA, EventContent, ContentEvent{
		Metadata: store.ContentMetadata{
			ContentID:   "note-1",
			SessionID:   "quiet-meadow",
			ContentType: store.ContentTypeText,
			CreatedAt:   now,
		},
	})
	recv(t, connB) // content event

	send(t, connB, EventClearAll, ClearAllEvent{SessionID: "quiet-meadow"})

	got := recv(t, connA)
	if got.Event != EventContentCleared {
		t.Fatalf("expected content-cleared, got %s", got.Event)
	}

	list, err := env.store.ListContent(context.Background(), "quiet-meadow", -1)
	if err != nil {
		t.Fatalf("ListContent failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty session after clear, got %d items", len(list))
	}
}

func TestRenameBroadcast(t *testing.T) {
	env := newTestEnv(t)
	fp := fingerprint(1)

	connA := env.dial(t)
	join(t, connA, "quiet-meadow", "Alice", fp)
	connB := env.dial(t)
	join(t, connB, "quiet-meadow", "Bob", fp)
	recv(t, connA) // client-joined for Bob

	now := time.Now().UTC()
	send(t, connA, EventContent, ContentEvent{
		Metadata: store.ContentMetadata{
			ContentID:   "doc-1",
			SessionID:   "quiet-meadow",
			ContentType: store.ContentTypeFile,
			FileName:    "old.bin",
			CreatedAt:   now,
		},
	})
	recv(t, connB) // content event

	send(t, connA, EventRename, RenameEvent{ContentID: "doc-1", FileName: "new.bin"})

	got := recv(t, connB)
	if got.Event != EventRename {
		t.Fatalf("expected rename at peer, got %s", got.Event)
	}

	meta, err := env.store.GetContentMetadata(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("metadata missing: %v", err)
	}
	if meta.FileName != "new.bin" {
		t.Errorf("rename not persisted: %q", meta.FileName)
	}
}

func TestBroadcastSurvivesConcurrentDisconnect(t *testing.T) {
	h := New(nil, nil, Config{})
	msg := marshalEnvelope(EventContentComplete, CompleteEvent{ContentID: "c"})

	// A peer tearing down while a broadcast is in flight must never crash
	// the broadcaster; teardown closes done, never the send channel.
	for i := 0; i < 200; i++ {
		c := &Client{
			hub:       h,
			send:      make(chan []byte, 1),
			done:      make(chan struct{}),
			sessionID: "racy",
			joined:    true,
		}
		h.register(c)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h.broadcast("racy", nil, msg)
			}
		}()
		go func() {
			defer wg.Done()
			h.unregister(c)
			close(c.done)
		}()
		wg.Wait()
	}
}

func TestBufferedChunksDroppedOnLeave(t *testing.T) {
	env := newTestEnv(t)
	fp := fingerprint(1)

	connA := env.dial(t)
	join(t, connA, "quiet-meadow", "Alice", fp)
	send(t, connA, EventChunk, ChunkEvent{
		ContentID:     "orphan",
		ChunkIndex:    0,
		TotalChunks:   1,
		IV:            make([]byte, 12),
		EncryptedData: []byte{1, 2, 3},
	})
	send(t, connA, EventLeave, struct{}{})

	// The announcement arrives after the submitter left; its buffered
	// chunk must be gone.
	connB := env.dial(t)
	join(t, connB, "quiet-meadow", "Bob", fp)
	send(t, connB, EventContent, ContentEvent{
		Metadata: store.ContentMetadata{
			ContentID:   "orphan",
			SessionID:   "quiet-meadow",
			ContentType: store.ContentTypeFile,
			CreatedAt:   time.Now().UTC(),
			IsChunked:   true,
			TotalChunks: 1,
		},
	})
	recvNothing(t, connB) // no content-complete

	if _, err := env.store.GetChunk(context.Background(), "orphan", 0); !store.IsNotFound(err) {
		t.Errorf("expected chunk gone after submitter left, got %v", err)
	}
	meta, err := env.store.GetContentMetadata(context.Background(), "orphan")
	if err != nil {
		t.Fatalf("metadata missing: %v", err)
	}
	if meta.IsComplete {
		t.Error("content must not complete from a departed client's buffer")
	}
}

func TestBufferedChunksSessionScoped(t *testing.T) {
	env := newTestEnv(t)

	connA := env.dial(t)
	join(t, connA, "meadow-a", "Alice", fingerprint(1))
	send(t, connA, EventChunk, ChunkEvent{
		ContentID:     "shared-id",
		ChunkIndex:    0,
		TotalChunks:   1,
		IV:            make([]byte, 12),
		EncryptedData: []byte{9, 9, 9},
	})

	// A different session announcing the same content ID must not claim
	// chunks buffered elsewhere.
	connB := env.dial(t)
	join(t, connB, "meadow-b", "Bob", fingerprint(2))
	send(t, connB, EventContent, ContentEvent{
		Metadata: store.ContentMetadata{
			ContentID:   "shared-id",
			SessionID:   "meadow-b",
			ContentType: store.ContentTypeFile,
			CreatedAt:   time.Now().UTC(),
			IsChunked:   true,
			TotalChunks: 1,
		},
	})
	recvNothing(t, connB) // no content-complete

	if _, err := env.store.GetChunk(context.Background(), "shared-id", 0); !store.IsNotFound(err) {
		t.Errorf("expected no chunk persisted into the foreign session, got %v", err)
	}
}

func TestSessionExpiredNotification(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	join(t, conn, "quiet-meadow", "Alice", fingerprint(1))

	env.hub.NotifySessionExpired("quiet-meadow", "session expired due to inactivity")

	got := recv(t, conn)
	if got.Event != EventSessionExpired {
		t.Fatalf("expected session-expired, got %s", got.Event)
	}
	var ev ExpiredEvent
	json.Unmarshal(got.Data, &ev)
	if ev.SessionID != "quiet-meadow" {
		t.Errorf("wrong session in expiry notice: %q", ev.SessionID)
	}
}
