package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/api/middleware"
	"github.com/jsbattig/share-things-sub004/pkg/metrics"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// DownloadHandler streams large-file content as the concatenation of its
// encrypted chunks. Each chunk is framed on the wire as iv followed by
// ciphertext; clients detect the final chunk by its short length.
type DownloadHandler struct {
	store store.ChunkStore
}

// NewDownloadHandler creates a download handler.
func NewDownloadHandler(chunks store.ChunkStore) *DownloadHandler {
	return &DownloadHandler{store: chunks}
}

// Download handles GET /api/download/{contentID}.
//
// The token's session must own the content; anything else is 404 so callers
// cannot distinguish foreign content from absent content. The body streams
// chunk by chunk without buffering the whole payload. A missing chunk
// mid-stream aborts the response after headers with a truncated body, which
// clients detect through the framing contract.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	member := middleware.GetMembershipFromContext(r.Context())
	if member == nil {
		WriteError(w, http.StatusUnauthorized, "missing session token")
		return
	}

	ctx := r.Context()
	meta, err := h.store.GetContentMetadata(ctx, contentID)
	if err != nil || meta.SessionID != member.SessionID {
		metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		WriteError(w, http.StatusNotFound, "content not found")
		return
	}
	if !meta.IsComplete {
		metrics.DownloadsTotal.WithLabelValues("incomplete").Inc()
		WriteError(w, http.StatusConflict, "content is not complete yet")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if meta.FileName != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFileName(meta.FileName)+`"`)
	}

	flusher, _ := w.(http.Flusher)
	var sent int64

	err = h.store.ForEachChunk(ctx, contentID, func(chunk *store.Chunk) error {
		if _, err := w.Write(chunk.IV); err != nil {
			return err
		}
		if _, err := w.Write(chunk.EncryptedData); err != nil {
			return err
		}
		sent += int64(len(chunk.IV) + len(chunk.EncryptedData))
		if flusher != nil {
			flusher.Flush()
		}
		// Client disconnects surface here, at the chunk boundary.
		return ctx.Err()
	})
	if err != nil {
		// Headers are already out; the truncated body is the signal.
		metrics.DownloadsTotal.WithLabelValues("aborted").Inc()
		if ctx.Err() == nil {
			logger.Warn("Download aborted",
				"content_id", contentID, "session_id", member.SessionID,
				"bytes_sent", sent, "error", err)
		}
		return
	}

	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	metrics.DownloadBytes.Add(float64(sent))

	if err := h.store.TouchContent(ctx, contentID); err != nil {
		logger.Debug("Could not update content access time", "content_id", contentID, "error", err)
	}

	logger.Debug("Download completed",
		"content_id", contentID, "session_id", member.SessionID, "bytes_sent", sent)
}

// sanitizeFileName strips characters that would break the header.
func sanitizeFileName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '"' || c == '\\' || c < 0x20 {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
