package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/metrics"
	"github.com/jsbattig/share-things-sub004/pkg/session"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// dispatch decodes one inbound frame and routes it. Called from the
// connection's readPump, so a connection's events are processed strictly in
// arrival order.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		c.replyError("", CodeInvalidArgument, "malformed event envelope")
		metrics.EventsTotal.WithLabelValues("invalid", "rejected").Inc()
		return
	}

	ok := false
	switch env.Event {
	case EventJoin:
		ok = h.handleJoin(c, env.Data, false)
	case EventRejoin:
		ok = h.handleJoin(c, env.Data, true)
	case EventLeave:
		ok = h.handleLeave(c)
	case EventContent:
		ok = h.handleContent(c, env.Data, raw)
	case EventChunk:
		ok = h.handleChunk(c, env.Data, raw)
	case EventPin:
		ok = h.handlePin(c, env.Data, raw, true)
	case EventUnpin:
		ok = h.handlePin(c, env.Data, raw, false)
	case EventRename:
		ok = h.handleRename(c, env.Data, raw)
	case EventClearAll:
		ok = h.handleClearAll(c, env.Data)
	default:
		c.replyError(env.Event, CodeInvalidArgument, "unknown event")
	}

	outcome := "rejected"
	if ok {
		outcome = "ok"
	}
	metrics.EventsTotal.WithLabelValues(env.Event, outcome).Inc()
}

// requireMember gates every post-join event. The membership check also
// covers session expiration, since expired sessions report no members.
func (h *Hub) requireMember(c *Client, event string) bool {
	if !c.joined {
		c.replyError(event, CodeUnauthorized, "join a session first")
		return false
	}
	if !h.registry.IsMember(c.sessionID, c.clientID) {
		c.replyError(event, CodeSessionExpired, "session expired, rejoin to continue")
		return false
	}
	h.registry.Touch(c.sessionID)
	return true
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage, rejoin bool) bool {
	event := EventJoin
	if rejoin {
		event = EventRejoin
	}

	var req JoinRequest
	if err := decodeEvent(data, &req); err != nil {
		c.replyError(event, CodeInvalidArgument, "invalid join payload")
		return false
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ctx := context.Background()
	var res *session.JoinResult
	var err error
	if rejoin {
		res, err = h.registry.Rejoin(ctx, req.SessionID, clientID, req.ClientName, req.Fingerprint)
	} else {
		res, err = h.registry.JoinOrCreate(ctx, req.SessionID, clientID, req.ClientName, req.Fingerprint)
	}
	if err != nil {
		c.replyError(event, joinErrorCode(err), err.Error())
		return false
	}

	// A connection switching sessions (or rejoining after expiry) must
	// leave its old fan-out set first.
	if c.joined {
		h.unregister(c)
	}
	c.sessionID = req.SessionID
	c.clientID = clientID
	c.clientName = req.ClientName
	c.joined = true
	h.register(c)

	manifest, err := h.store.ListContent(ctx, req.SessionID, h.config.SendLimit)
	if err != nil {
		logger.Warn("Could not list content for join manifest",
			"session_id", req.SessionID, "error", err)
		manifest = nil
	}
	if manifest == nil {
		manifest = []*store.ContentMetadata{}
	}

	c.reply(event, JoinReply{
		Token:           res.Token,
		ClientID:        clientID,
		Clients:         res.Peers,
		ContentManifest: manifest,
	})

	announce := EventClientJoined
	if rejoin {
		announce = EventClientRejoined
	}
	h.broadcast(req.SessionID, c, marshalEnvelope(announce, ClientEvent{
		ClientID:   clientID,
		ClientName: req.ClientName,
	}))
	return true
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrPassphraseMismatch):
		return CodePassphraseMismatch
	case errors.Is(err, session.ErrSessionExpired):
		return CodeSessionExpired
	case errors.Is(err, session.ErrInvalidFingerprint):
		return CodeInvalidArgument
	default:
		return CodeStorageError
	}
}

func (h *Hub) handleLeave(c *Client) bool {
	if !c.joined {
		c.replyError(EventLeave, CodeUnauthorized, "join a session first")
		return false
	}

	h.unregister(c)
	h.pending.dropClient(c.sessionID, c.clientID)
	if err := h.registry.Leave(context.Background(), c.sessionID, c.clientID); err != nil {
		logger.Debug("Leave failed", "session_id", c.sessionID, "client_id", c.clientID, "error", err)
	}
	h.broadcast(c.sessionID, c, marshalEnvelope(EventClientLeft, ClientEvent{
		ClientID:   c.clientID,
		ClientName: c.clientName,
	}))
	c.joined = false
	return true
}

func (h *Hub) handleContent(c *Client, data json.RawMessage, raw []byte) bool {
	if !h.requireMember(c, EventContent) {
		return false
	}

	var ev ContentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.replyError(EventContent, CodeInvalidArgument, "invalid content payload")
		return false
	}
	if ev.Metadata.ContentID == "" || ev.Metadata.SessionID != c.sessionID {
		c.replyError(EventContent, CodeUnauthorized, "content must target the joined session")
		return false
	}

	ctx := context.Background()
	if err := h.store.SaveContent(ctx, &ev.Metadata); err != nil {
		c.replyError(EventContent, storeErrorCode(err), "could not persist content metadata")
		return false
	}

	// Peers get the identical payload. A large file's ciphertext never
	// rides the socket, but its announcement still does.
	h.broadcast(c.sessionID, c, raw)

	// Drain any chunks that raced ahead of this announcement.
	for _, chunk := range h.pending.take(c.sessionID, ev.Metadata.ContentID) {
		if err := h.store.SaveChunk(ctx, chunk); err != nil {
			logger.Warn("Could not persist buffered chunk",
				"content_id", chunk.ContentID, "chunk_index", chunk.ChunkIndex, "error", err)
			continue
		}
		metrics.ChunksStored.Inc()
		metrics.BytesStored.Add(float64(len(chunk.EncryptedData)))
	}
	h.maybeAnnounceComplete(ctx, c, ev.Metadata.ContentID)
	return true
}

func (h *Hub) handleChunk(c *Client, data json.RawMessage, raw []byte) bool {
	if !h.requireMember(c, EventChunk) {
		return false
	}

	var ev ChunkEvent
	if err := decodeEvent(data, &ev); err != nil {
		c.replyError(EventChunk, CodeInvalidArgument, "invalid chunk payload")
		return false
	}
	if ev.ChunkIndex >= ev.TotalChunks {
		c.replyError(EventChunk, CodeInvalidArgument, "chunk index out of range")
		return false
	}

	chunk := &store.Chunk{
		ContentID:     ev.ContentID,
		ChunkIndex:    ev.ChunkIndex,
		TotalChunks:   ev.TotalChunks,
		IV:            ev.IV,
		EncryptedData: ev.EncryptedData,
	}

	ctx := context.Background()
	meta, err := h.store.GetContentMetadata(ctx, ev.ContentID)
	if err != nil {
		if !store.IsNotFound(err) {
			c.replyError(EventChunk, storeErrorCode(err), "could not look up content")
			return false
		}
		// Metadata has not arrived yet; hold the chunk against it.
		if err := h.pending.add(c.sessionID, c.clientID, chunk); err != nil {
			c.replyError(EventChunk, CodeOutOfOrder, "too many chunks before content announcement")
			return false
		}
		return true
	}

	if meta.SessionID != c.sessionID {
		c.replyError(EventChunk, CodeUnauthorized, "chunk must target the joined session")
		return false
	}

	if err := h.store.SaveChunk(ctx, chunk); err != nil {
		c.replyError(EventChunk, storeErrorCode(err), "could not persist chunk")
		return false
	}
	metrics.ChunksStored.Inc()
	metrics.BytesStored.Add(float64(len(chunk.EncryptedData)))

	// Large-file chunks are persisted only; peers fetch over HTTP.
	if !meta.IsLargeFile {
		h.broadcast(c.sessionID, c, raw)
	}
	h.maybeAnnounceComplete(ctx, c, ev.ContentID)
	return true
}

// maybeAnnounceComplete broadcasts a completion event when the content's
// last chunk has arrived. Sent to the whole session including the sender,
// since completion is a server-side determination, not an echo.
func (h *Hub) maybeAnnounceComplete(ctx context.Context, c *Client, contentID string) {
	meta, err := h.store.GetContentMetadata(ctx, contentID)
	if err != nil || !meta.IsChunked || !meta.IsComplete {
		return
	}
	h.broadcast(c.sessionID, nil, marshalEnvelope(EventContentComplete, CompleteEvent{
		ContentID: contentID,
	}))
}

func (h *Hub) handlePin(c *Client, data json.RawMessage, raw []byte, pin bool) bool {
	event := EventPin
	if !pin {
		event = EventUnpin
	}
	if !h.requireMember(c, event) {
		return false
	}

	var ev PinEvent
	if err := decodeEvent(data, &ev); err != nil {
		c.replyError(event, CodeInvalidArgument, "invalid pin payload")
		return false
	}
	if !h.contentBelongsToSession(c, ev.ContentID) {
		c.replyError(event, CodeNotFound, "unknown content")
		return false
	}

	ctx := context.Background()
	var err error
	if pin {
		err = h.store.PinContent(ctx, ev.ContentID)
	} else {
		err = h.store.UnpinContent(ctx, ev.ContentID)
	}
	if err != nil {
		c.replyError(event, storeErrorCode(err), "could not update pin state")
		return false
	}

	h.broadcast(c.sessionID, c, raw)
	return true
}

func (h *Hub) handleRename(c *Client, data json.RawMessage, raw []byte) bool {
	if !h.requireMember(c, EventRename) {
		return false
	}

	var ev RenameEvent
	if err := decodeEvent(data, &ev); err != nil {
		c.replyError(EventRename, CodeInvalidArgument, "invalid rename payload")
		return false
	}
	if !h.contentBelongsToSession(c, ev.ContentID) {
		c.replyError(EventRename, CodeNotFound, "unknown content")
		return false
	}

	if err := h.store.RenameContent(context.Background(), ev.ContentID, ev.FileName); err != nil {
		c.replyError(EventRename, storeErrorCode(err), "could not rename content")
		return false
	}

	h.broadcast(c.sessionID, c, raw)
	return true
}

func (h *Hub) handleClearAll(c *Client, data json.RawMessage) bool {
	if !h.requireMember(c, EventClearAll) {
		return false
	}

	var ev ClearAllEvent
	if err := decodeEvent(data, &ev); err != nil {
		c.replyError(EventClearAll, CodeInvalidArgument, "invalid clear payload")
		return false
	}
	if ev.SessionID != c.sessionID {
		c.replyError(EventClearAll, CodeUnauthorized, "can only clear the joined session")
		return false
	}

	if err := h.store.ClearSession(context.Background(), c.sessionID); err != nil {
		c.replyError(EventClearAll, storeErrorCode(err), "could not clear session content")
		return false
	}

	logger.Info("Session content cleared", "session_id", c.sessionID, "client_id", c.clientID)
	h.broadcast(c.sessionID, c, marshalEnvelope(EventContentCleared, ClearedEvent{
		SessionID: c.sessionID,
	}))
	return true
}

// contentBelongsToSession checks that a content item exists and belongs to
// the client's session, so clients cannot mutate other sessions' content.
func (h *Hub) contentBelongsToSession(c *Client, contentID string) bool {
	meta, err := h.store.GetContentMetadata(context.Background(), contentID)
	return err == nil && meta.SessionID == c.sessionID
}

func storeErrorCode(err error) string {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		switch storageErr.Code {
		case store.ErrNotFound:
			return CodeNotFound
		case store.ErrInvalidArgument:
			return CodeInvalidArgument
		}
	}
	return CodeStorageError
}
