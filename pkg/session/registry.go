// Package session holds the authoritative in-memory state for active
// sessions: membership, passphrase fingerprint, activity timestamps, and the
// bearer tokens that bind clients to sessions.
//
// A session is created by its first joiner, who donates the fingerprint;
// every later joiner must present an equal fingerprint. Sessions expire
// through the sweeper when idle, and an expired session accepts a fresh
// join only with the matching fingerprint.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/metrics"
)

// State is a session's lifecycle state. Idleness is derived from
// lastActivityAt rather than stored; the sweeper turns idle into expired.
type State int

const (
	StateActive State = iota
	StateExpired
)

// Member is one client's membership in a session.
type Member struct {
	ClientID string
	Name     string
	JoinedAt time.Time
	LastSeen time.Time

	// tokenID is the jti of the member's current token. Reissuing or
	// revoking rotates it, invalidating any previously issued token.
	tokenID string
}

// MemberInfo is the wire-safe view of a member.
type MemberInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is the registry's record for one active session. All fields are
// guarded by mu. The registry locks a session only after releasing the
// registry lock, except in Leave's destruction path where the registry
// lock is taken first; per-session work never takes the registry lock,
// so the ordering is consistent.
type Session struct {
	id string

	mu             sync.Mutex
	fingerprint    Fingerprint
	members        map[string]*Member
	createdAt      time.Time
	lastActivityAt time.Time
	state          State
}

func newSession(id string, fp Fingerprint) *Session {
	now := time.Now()
	s := &Session{
		id:             id,
		fingerprint:    fp,
		members:        make(map[string]*Member),
		createdAt:      now,
		lastActivityAt: now,
	}
	return s
}

// ContentChecker reports whether persisted content still references a
// session. The registry consults it before destroying an emptied session.
type ContentChecker interface {
	SessionHasContent(ctx context.Context, sessionID string) (bool, error)
}

// Registry tracks all live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	tokens  *TokenService
	content ContentChecker
}

// NewRegistry creates a session registry. content may be nil, in which case
// emptied sessions are destroyed immediately.
func NewRegistry(tokens *TokenService, content ContentChecker) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		tokens:   tokens,
		content:  content,
	}
	return r
}

// JoinResult is the reply to a successful join or rejoin.
type JoinResult struct {
	// Token is the bearer credential for this membership.
	Token string

	// Peers lists the other members, excluding the joiner.
	Peers []MemberInfo

	// IsNew reports whether the join created the session.
	IsNew bool
}

// JoinOrCreate admits a client into a session, creating the session if
// absent. The first joiner's fingerprint becomes the session fingerprint;
// later joiners must match it byte-for-byte.
//
// A join onto an expired session with the matching fingerprint purges the
// old session and creates a fresh one under the same ID (so reconnecting
// clients recover after expiration without choosing a new name).
func (r *Registry) JoinOrCreate(ctx context.Context, sessionID, clientID, clientName string, fp Fingerprint) (*JoinResult, error) {
	if !fp.Valid() {
		return nil, ErrInvalidFingerprint
	}
	if sessionID == "" || clientID == "" {
		return nil, ErrInvalidFingerprint
	}

	sess, isNew, err := r.sessionForJoin(sessionID, fp)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == StateExpired {
		// Lost the race with the sweeper between lookup and lock.
		return nil, ErrSessionExpired
	}
	if !FingerprintsEqual(sess.fingerprint, fp) {
		return nil, ErrPassphraseMismatch
	}

	token, tokenID, err := r.tokens.Issue(sessionID, clientID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	member, known := sess.members[clientID]
	if !known {
		member = &Member{ClientID: clientID, JoinedAt: now}
		sess.members[clientID] = member
	}
	member.Name = clientName
	member.LastSeen = now
	member.tokenID = tokenID
	sess.lastActivityAt = now

	peers := make([]MemberInfo, 0, len(sess.members)-1)
	for _, m := range sess.members {
		if m.ClientID == clientID {
			continue
		}
		peers = append(peers, MemberInfo{ID: m.ClientID, Name: m.Name})
	}

	logger.Info("Client joined session",
		"session_id", sessionID, "client_id", clientID, "client_name", clientName,
		"is_new", isNew, "members", len(sess.members))

	return &JoinResult{Token: token, Peers: peers, IsNew: isNew}, nil
}

// Rejoin is JoinOrCreate preserving the prior client identity; the socket
// layer broadcasts a distinguishable event for it. An existing member record
// under the same clientID is refreshed rather than replaced.
func (r *Registry) Rejoin(ctx context.Context, sessionID, clientID, clientName string, fp Fingerprint) (*JoinResult, error) {
	return r.JoinOrCreate(ctx, sessionID, clientID, clientName, fp)
}

// sessionForJoin resolves or creates the session record a join targets.
func (r *Registry) sessionForJoin(sessionID string, fp Fingerprint) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if ok && sess.state == StateExpired {
		// Expired sessions reject joins unless the joiner proves knowledge
		// of the original passphrase, in which case a fresh session takes
		// over the ID.
		if !FingerprintsEqual(sess.fingerprint, fp) {
			return nil, false, ErrPassphraseMismatch
		}
		delete(r.sessions, sessionID)
		ok = false
	}
	if !ok {
		sess = newSession(sessionID, fp)
		r.sessions[sessionID] = sess
		metrics.ActiveSessions.Inc()
		return sess, true, nil
	}
	return sess, false, nil
}

// Leave removes the member and revokes its token. An emptied session with no
// persisted content is destroyed; with content it lingers as a ghost session
// that rejoining clients can revive with the matching fingerprint.
func (r *Registry) Leave(ctx context.Context, sessionID, clientID string) error {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	if _, known := sess.members[clientID]; !known {
		sess.mu.Unlock()
		return ErrMemberNotFound
	}
	delete(sess.members, clientID)
	sess.lastActivityAt = time.Now()
	empty := len(sess.members) == 0
	sess.mu.Unlock()

	logger.Info("Client left session", "session_id", sessionID, "client_id", clientID)

	if !empty {
		return nil
	}

	hasContent := false
	if r.content != nil {
		var err error
		hasContent, err = r.content.SessionHasContent(ctx, sessionID)
		if err != nil {
			// Destruction is deferred to the sweeper rather than guessed.
			logger.Warn("Could not check session content, deferring destruction",
				"session_id", sessionID, "error", err)
			return nil
		}
	}
	if !hasContent {
		r.mu.Lock()
		// Re-check emptiness: a join may have slipped in.
		sess.mu.Lock()
		if len(sess.members) == 0 {
			delete(r.sessions, sessionID)
			metrics.ActiveSessions.Dec()
			logger.Info("Session destroyed", "session_id", sessionID)
		}
		sess.mu.Unlock()
		r.mu.Unlock()
	}
	return nil
}

// Touch updates the session's activity timestamp. Called on every ingress
// event so active sessions never expire.
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	sess.lastActivityAt = time.Now()
	sess.mu.Unlock()
}

// ValidateToken verifies a bearer token and returns the membership it is
// bound to. A token is rejected when its session is gone or expired, when
// the member has left, or when a newer token has been issued for the member.
func (r *Registry) ValidateToken(tokenString string) (sessionID, clientID string, err error) {
	claims, err := r.tokens.Validate(tokenString)
	if err != nil {
		return "", "", ErrUnauthorized
	}

	r.mu.RLock()
	sess, ok := r.sessions[claims.SessionID]
	r.mu.RUnlock()
	if !ok {
		return "", "", ErrUnauthorized
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == StateExpired {
		return "", "", ErrSessionExpired
	}
	member, known := sess.members[claims.ClientID]
	if !known || member.tokenID != claims.ID {
		return "", "", ErrUnauthorized
	}

	member.LastSeen = time.Now()
	return claims.SessionID, claims.ClientID, nil
}

// SnapshotMembers returns the current member list.
func (r *Registry) SnapshotMembers(sessionID string) []MemberInfo {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	members := make([]MemberInfo, 0, len(sess.members))
	for _, m := range sess.members {
		members = append(members, MemberInfo{ID: m.ClientID, Name: m.Name})
	}
	return members
}

// IsMember reports whether the client currently belongs to the session.
func (r *Registry) IsMember(sessionID, clientID string) bool {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, known := sess.members[clientID]
	return known && sess.state == StateActive
}

// IdleSessions returns a snapshot of active sessions whose last activity is
// older than the threshold. The sweeper processes each candidate under the
// session's own lock afterwards, so a session that becomes active between
// snapshot and expiration survives.
func (r *Registry) IdleSessions(threshold time.Duration) []string {
	cutoff := time.Now().Add(-threshold)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []string
	for id, sess := range r.sessions {
		sess.mu.Lock()
		if sess.state == StateActive && sess.lastActivityAt.Before(cutoff) {
			idle = append(idle, id)
		}
		sess.mu.Unlock()
	}
	return idle
}

// ActiveSessions returns the IDs of all non-expired sessions.
func (r *Registry) ActiveSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []string
	for id, sess := range r.sessions {
		sess.mu.Lock()
		if sess.state == StateActive {
			active = append(active, id)
		}
		sess.mu.Unlock()
	}
	return active
}

// Expire marks the session expired if it is still idle past the threshold,
// revokes all member tokens, and returns the members that should be
// notified. Returns false when the session revived since the snapshot.
func (r *Registry) Expire(sessionID string, threshold time.Duration) ([]MemberInfo, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != StateActive || sess.lastActivityAt.After(time.Now().Add(-threshold)) {
		return nil, false
	}

	sess.state = StateExpired
	metrics.ActiveSessions.Dec()
	members := make([]MemberInfo, 0, len(sess.members))
	for _, m := range sess.members {
		m.tokenID = "" // revoke
		members = append(members, MemberInfo{ID: m.ClientID, Name: m.Name})
	}

	logger.Info("Session expired", "session_id", sessionID, "members", len(members))
	return members, true
}

// Purge removes an expired session with no remaining content from the
// registry. No-op if the session is still active.
func (r *Registry) Purge(ctx context.Context, sessionID string) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	expired := sess.state == StateExpired
	sess.mu.Unlock()
	if !expired {
		return
	}

	if r.content != nil {
		hasContent, err := r.content.SessionHasContent(ctx, sessionID)
		if err != nil || hasContent {
			return
		}
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	logger.Info("Expired session purged", "session_id", sessionID)
}
