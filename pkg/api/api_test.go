package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jsbattig/share-things-sub004/pkg/session"
	"github.com/jsbattig/share-things-sub004/pkg/store"
	badgerstore "github.com/jsbattig/share-things-sub004/pkg/store/badger"
	"github.com/jsbattig/share-things-sub004/pkg/wire"
)

type apiEnv struct {
	store    store.ChunkStore
	registry *session.Registry
	srv      *httptest.Server
	token    string
}

func newAPIEnv(t *testing.T) *apiEnv {
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

	fp := session.Fingerprint{
		IV:   make([]byte, session.FingerprintIVSize),
		Data: make([]byte, session.FingerprintDataSize),
	}
	res, err := registry.JoinOrCreate(context.Background(), "s1", "client-a", "A", fp)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	router := NewRouter(Config{EnableMetrics: true}, registry, chunks, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &apiEnv{store: chunks, registry: registry, srv: srv, token: res.Token}
}

func (e *apiEnv) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("could not build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// saveLargeFile stores a 2-chunk large file with full-size ciphertext chunks
// and returns the expected download body.
func saveLargeFile(t *testing.T, chunks store.ChunkStore, contentID string) []byte {
	t.Helper()
	ctx := context.Background()

	meta := &store.ContentMetadata{
		ContentID:   contentID,
		SessionID:   "s1",
		ContentType: store.ContentTypeFile,
		FileName:    "payload.bin",
		CreatedAt:   time.Now().UTC(),
		IsChunked:   true,
		IsLargeFile: true,
		TotalChunks: 2,
	}
	if err := chunks.SaveContent(ctx, meta); err != nil {
		t.Fatalf("SaveContent failed: %v", err)
	}

	var want bytes.Buffer
	for i := 0; i < 2; i++ {
		iv := make([]byte, wire.IVSize)
		data := make([]byte, wire.EncryptedChunkSize)
		for j := range iv {
			iv[j] = byte(i + j)
		}
		for j := 0; j < len(data); j += 997 {
			data[j] = byte(i*31 + j)
		}
		want.Write(iv)
		want.Write(data)

		err := chunks.SaveChunk(ctx, &store.Chunk{
			ContentID:     contentID,
			ChunkIndex:    i,
			TotalChunks:   2,
			IV:            iv,
			EncryptedData: data,
		})
		if err != nil {
			t.Fatalf("SaveChunk %d failed: %v", i, err)
		}
	}
	return want.Bytes()
}

func TestDownloadStreamsFramedChunks(t *testing.T) {
	env := newAPIEnv(t)
	want := saveLargeFile(t, env.store, "L")

	resp := env.get(t, "/api/download/L", env.token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read body: %v", err)
	}
	if len(body) != 131128 {
		t.Fatalf("expected 131128 bytes, got %d", len(body))
	}
	if !bytes.Equal(body, want) {
		t.Error("download body differs from iv||ct concatenation")
	}
}

func TestDownloadRequiresToken(t *testing.T) {
	env := newAPIEnv(t)
	saveLargeFile(t, env.store, "L")

	resp := env.get(t, "/api/download/L", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = env.get(t, "/api/download/L", "garbage-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestDownloadForeignSessionLooksAbsent(t *testing.T) {
	env := newAPIEnv(t)
	saveLargeFile(t, env.store, "L")

	// A member of a different session gets 404, not 403.
	fp := session.Fingerprint{
		IV:   bytes.Repeat([]byte{7}, session.FingerprintIVSize),
		Data: bytes.Repeat([]byte{7}, session.FingerprintDataSize),
	}
	other, err := env.registry.JoinOrCreate(context.Background(), "s2", "client-x", "X", fp)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	resp := env.get(t, "/api/download/L", other.Token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for foreign content, got %d", resp.StatusCode)
	}

	resp = env.get(t, "/api/download/missing", env.token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown content, got %d", resp.StatusCode)
	}
}

func TestDownloadIncompleteContentConflicts(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	meta := &store.ContentMetadata{
		ContentID:   "partial",
		SessionID:   "s1",
		ContentType: store.ContentTypeFile,
		CreatedAt:   time.Now().UTC(),
		IsChunked:   true,
		IsLargeFile: true,
		TotalChunks: 3,
	}
	if err := env.store.SaveContent(ctx, meta); err != nil {
		t.Fatalf("SaveContent failed: %v", err)
	}
	err := env.store.SaveChunk(ctx, &store.Chunk{
		ContentID: "partial", ChunkIndex: 0, TotalChunks: 3,
		IV: make([]byte, wire.IVSize), EncryptedData: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}

	resp := env.get(t, "/api/download/partial", env.token)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for incomplete content, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.get(t, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", resp.StatusCode)
	}

	resp = env.get(t, "/health/ready", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readiness: expected 200, got %d", resp.StatusCode)
	}

	resp = env.get(t, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", resp.StatusCode)
	}
}
