// Package session tracks short-lived conversational identities. A session
// is keyed on a deterministic hash of the client fingerprint, so the same
// client talking to the same model keeps finding its own history without
// any cookie or token exchange.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

const sweepInterval = 5 * time.Minute

// Session holds one client's bounded message history.
type Session struct {
	ID           string             `json:"id"`
	Messages     []protocol.Message `json:"messages"`
	LastActivity time.Time          `json:"lastActivity"`
	MessageCount int                `json:"messageCount"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Stats is the shape reported by GET /api/sessions.
type Stats struct {
	ActiveSessions int            `json:"activeSessions"`
	TotalMessages  int            `json:"totalMessages"`
	Sessions       []SessionStats `json:"sessions"`
}

// SessionStats summarizes a single live session.
type SessionStats struct {
	ID           string `json:"id"`
	MessageCount int    `json:"messageCount"`
	HistoryLen   int    `json:"historyLength"`
	AgeSeconds   int64  `json:"ageSeconds"`
	IdleSeconds  int64  `json:"idleSeconds"`
}

// Store is the in-memory session map. All state is process-local; expired
// sessions are invisible to lookup and reaped by a periodic sweeper.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	maxHistory int
	timeout    time.Duration
	nowFn      func() time.Time
}

// NewStore creates a session store with the given history bound and TTL.
func NewStore(maxHistory int, timeout time.Duration) *Store {
	return &Store{
		sessions:   make(map[string]*Session),
		maxHistory: maxHistory,
		timeout:    timeout,
		nowFn:      time.Now,
	}
}

// SessionID computes the deterministic 16-hex identity for a request.
// The message count at creation participates so that a fresh conversation
// from the same client gets a fresh session.
func SessionID(userAgent, model string, messageCount int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s||%s||%d", userAgent, model, messageCount))
	return hex.EncodeToString(sum[:8])
}

// GetOrAssign resolves the session for a request, creating it if absent or
// expired. It returns the session id and a copy of the current history.
func (s *Store) GetOrAssign(userAgent, model string, messageCount int) (string, []protocol.Message) {
	id := SessionID(userAgent, model, messageCount)
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if ok && s.expired(sess, now) {
		delete(s.sessions, id)
		ok = false
	}
	if !ok {
		sess = &Session{
			ID:           id,
			LastActivity: now,
			CreatedAt:    now,
		}
		s.sessions[id] = sess
		return id, nil
	}

	history := make([]protocol.Message, len(sess.Messages))
	copy(history, sess.Messages)
	return id, history
}

// Update replaces the session's history with the tail of messages, bounded
// by the store's history limit, and refreshes the activity clock. Updating
// an unknown or expired id re-creates the session silently.
func (s *Store) Update(id string, messages []protocol.Message) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || s.expired(sess, now) {
		sess = &Session{ID: id, CreatedAt: now}
		s.sessions[id] = sess
	}

	if len(messages) > s.maxHistory {
		messages = messages[len(messages)-s.maxHistory:]
	}
	sess.Messages = make([]protocol.Message, len(messages))
	copy(sess.Messages, messages)
	sess.LastActivity = now
	sess.MessageCount++
}

// Stats reports the live session population.
func (s *Store) Stats() Stats {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Sessions: make([]SessionStats, 0, len(s.sessions))}
	for _, sess := range s.sessions {
		if s.expired(sess, now) {
			continue
		}
		stats.ActiveSessions++
		stats.TotalMessages += sess.MessageCount
		stats.Sessions = append(stats.Sessions, SessionStats{
			ID:           sess.ID,
			MessageCount: sess.MessageCount,
			HistoryLen:   len(sess.Messages),
			AgeSeconds:   int64(now.Sub(sess.CreatedAt).Seconds()),
			IdleSeconds:  int64(now.Sub(sess.LastActivity).Seconds()),
		})
	}
	return stats
}

// Sweep removes expired sessions and returns how many were evicted.
func (s *Store) Sweep() int {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Run sweeps expired sessions on a fixed interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("Swept expired sessions", "evicted", n)
			}
		}
	}
}

func (s *Store) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastActivity) > s.timeout
}
