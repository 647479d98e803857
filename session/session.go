// Package session implements per-connection state for the Parley
// gateway: outbound framing with per-session sequence numbers, the
// local group-subscription set, heartbeat tracking, and idempotent
// close. A Session is owned exclusively by the connection registry once
// registered; nothing outside the registry mutates its indices.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/types"
)

// DefaultLivenessWindow is how stale a session's heartbeat may be
// before the liveness sweep closes it.
const DefaultLivenessWindow = 60 * time.Second

// Transport abstracts the wire connection under a session so the
// registry and handshake can be tested without real sockets.
type Transport interface {
	// WriteFrame serializes and writes one frame.
	WriteFrame(f *protocol.Frame) error

	// Close terminates the connection with a close code. Implementations
	// must tolerate repeated calls.
	Close(code int, reason string) error

	// IsOpen reports whether writes can still be attempted.
	IsOpen() bool
}

// Session holds the gateway-side state of one client connection
type Session struct {
	id        string
	transport Transport

	mu            sync.Mutex
	user          *types.PublicProfile
	groups        map[string]struct{}
	authenticated bool
	lastHeartbeat time.Time
	seq           int64

	livenessWindow time.Duration
	closeOnce      sync.Once
}

// New creates a session for a freshly accepted transport. A zero
// livenessWindow selects the default 60 second window.
func New(transport Transport, livenessWindow time.Duration) *Session {
	if livenessWindow <= 0 {
		livenessWindow = DefaultLivenessWindow
	}
	return &Session{
		id:             uuid.NewString(),
		transport:      transport,
		groups:         make(map[string]struct{}),
		lastHeartbeat:  time.Now(),
		livenessWindow: livenessWindow,
	}
}

// ID returns the session's opaque identifier
func (s *Session) ID() string {
	return s.id
}

// Send writes a frame if the transport is open. Dispatch-class frames
// are assigned the next per-session sequence number; acknowledgment
// frames are sent as-is. Delivery failure is reported as a boolean and
// a debug log, never an error.
func (s *Session) Send(f *protocol.Frame) bool {
	if s.transport == nil || !s.transport.IsOpen() {
		slog.Debug("dropping frame for closed transport", "session_id", s.id, "op", f.Op)
		return false
	}

	// The same frame value may be broadcast to many sessions; sequence
	// numbers are per-session, so stamp a copy, not the shared frame.
	out := *f
	if out.IsDispatch() {
		s.mu.Lock()
		s.seq++
		out.S = s.seq
		s.mu.Unlock()
	}

	if err := s.transport.WriteFrame(&out); err != nil {
		slog.Debug("frame delivery failed", "session_id", s.id, "op", out.Op, "error", err)
		return false
	}
	return true
}

// SendEvent builds and sends a dispatch frame for the named event
func (s *Session) SendEvent(event string, data any) bool {
	f, err := protocol.Dispatch(event, data)
	if err != nil {
		slog.Debug("dispatch payload marshal failed", "session_id", s.id, "event", event, "error", err)
		return false
	}
	return s.Send(f)
}

// Authenticate attaches the public user projection and marks the
// session authenticated. Called by the registry only.
func (s *Session) Authenticate(profile types.PublicProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &profile
	s.authenticated = true
}

// IsAuthenticated reports whether the session completed identification
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// User returns the authenticated user projection, if any
func (s *Session) User() (types.PublicProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return types.PublicProfile{}, false
	}
	return *s.user, true
}

// UserID returns the authenticated user id, or "" when unauthenticated
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// SubscribeToGroup adds a group to the session's local subscription set
func (s *Session) SubscribeToGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = struct{}{}
}

// UnsubscribeFromGroup removes a group from the local subscription set
func (s *Session) UnsubscribeFromGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
}

// IsSubscribedToGroup reports local subscription membership
func (s *Session) IsSubscribedToGroup(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[groupID]
	return ok
}

// GroupIDs returns a snapshot of the session's subscription set
func (s *Session) GroupIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	return ids
}

// UpdateHeartbeat records the current time as the last heartbeat
func (s *Session) UpdateHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

// LastHeartbeat returns when the session last heartbeated
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// IsAlive reports whether the last heartbeat is within the liveness window
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastHeartbeat) < s.livenessWindow
}

// IsOpen reports whether the underlying transport can still be written
func (s *Session) IsOpen() bool {
	return s.transport != nil && s.transport.IsOpen()
}

// Close terminates the transport with the given close code. Safe to
// call multiple times; only the first call reaches the transport.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		if s.transport == nil {
			return
		}
		if err := s.transport.Close(code, reason); err != nil {
			slog.Debug("transport close failed", "session_id", s.id, "code", code, "error", err)
		}
	})
}
