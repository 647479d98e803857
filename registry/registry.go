// Package registry implements the gateway's authoritative connection
// store: the session map, the user to sessions index, the group to
// subscribers index, and the user-profile cache used during fan-out.
// All four structures are mutated only through registry operations so
// that every mutation leaves them mutually consistent; external code
// never touches an index directly.
package registry

import (
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/metric"
	"github.com/parleyhq/parley/pkg/cache"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/session"
	"github.com/parleyhq/parley/types"
)

// Registry is the multi-index session store. Safe for concurrent use.
type Registry struct {
	mu               sync.RWMutex
	sessions         map[string]*session.Session
	userSessions     map[string]map[string]struct{}
	groupSubscribers map[string]map[string]struct{}
	profiles         cache.Cache[types.PublicProfile]

	metrics *Metrics
}

// Stats is a point-in-time snapshot of registry occupancy
type Stats struct {
	TotalSessions         int `json:"total_sessions"`
	AuthenticatedSessions int `json:"authenticated_sessions"`
	GroupsWithSubscribers int `json:"groups_with_subscribers"`
	CachedProfiles        int `json:"cached_profiles"`
}

// New creates an empty registry. The metrics registry is optional; nil
// disables instrumentation.
func New(metricsRegistry *metric.MetricsRegistry) *Registry {
	return &Registry{
		sessions:         make(map[string]*session.Session),
		userSessions:     make(map[string]map[string]struct{}),
		groupSubscribers: make(map[string]map[string]struct{}),
		profiles:         cache.NewSimple[types.PublicProfile](),
		metrics:          newMetrics(metricsRegistry),
	}
}

// Add registers a session under its id
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	total := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.sessionsConnected.Set(float64(total))
		r.metrics.connectionsTotal.Inc()
	}
}

// Get looks up a session by id
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters a session and prunes every index entry that
// referenced it: its user-session bucket (and the cached profile when
// the bucket empties) and every group-subscriber set it belonged to.
func (r *Registry) Remove(id string) {
	r.mu.Lock()

	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)

	var evictProfile string
	if userID := s.UserID(); userID != "" {
		if bucket, ok := r.userSessions[userID]; ok {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(r.userSessions, userID)
				evictProfile = userID
			}
		}
	}

	for _, groupID := range s.GroupIDs() {
		if subscribers, ok := r.groupSubscribers[groupID]; ok {
			delete(subscribers, id)
			if len(subscribers) == 0 {
				delete(r.groupSubscribers, groupID)
			}
		}
	}

	total := len(r.sessions)
	r.mu.Unlock()

	// The profile cache entry lives exactly as long as the user has a
	// registered session.
	if evictProfile != "" {
		_, _ = r.profiles.Delete(evictProfile)
	}

	if r.metrics != nil {
		r.metrics.sessionsConnected.Set(float64(total))
	}
}

// Authenticate projects the user record to its public subset, marks the
// session authenticated, and indexes it under the user id. The full
// record's credentials never reach the session.
func (r *Registry) Authenticate(id string, user *types.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return errors.Wrap(errors.ErrSessionNotFound, "Registry", "Authenticate", "lookup session "+id)
	}

	s.Authenticate(user.Public())

	bucket, ok := r.userSessions[user.ID]
	if !ok {
		bucket = make(map[string]struct{})
		r.userSessions[user.ID] = bucket
	}
	bucket[id] = struct{}{}

	if r.metrics != nil {
		r.metrics.authenticatedSessions.Set(float64(r.authenticatedLocked()))
	}
	return nil
}

// SubscribeToGroup mirrors a subscription into the session's local set
// and the group index. A no-op for unauthenticated sessions:
// subscription requires prior authentication.
func (r *Registry) SubscribeToGroup(id, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.IsAuthenticated() {
		return
	}

	s.SubscribeToGroup(groupID)

	subscribers, ok := r.groupSubscribers[groupID]
	if !ok {
		subscribers = make(map[string]struct{})
		r.groupSubscribers[groupID] = subscribers
	}
	subscribers[id] = struct{}{}
}

// UnsubscribeFromGroup removes the subscription from both the session's
// local set and the group index, pruning an emptied bucket.
func (r *Registry) UnsubscribeFromGroup(id, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.IsAuthenticated() {
		return
	}

	s.UnsubscribeFromGroup(groupID)

	if subscribers, ok := r.groupSubscribers[groupID]; ok {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(r.groupSubscribers, groupID)
		}
	}
}

// UnsubscribeUserFromGroup drops every one of the user's live sessions
// from a group. Used when a member is removed from a group mid-session
// so they stop receiving that group's events immediately.
func (r *Registry) UnsubscribeUserFromGroup(userID, groupID string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.userSessions[userID]))
	for id := range r.userSessions[userID] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.UnsubscribeFromGroup(id, groupID)
	}
}

// CacheUserData stores a public profile projection for fan-out reuse
func (r *Registry) CacheUserData(userID string, profile types.PublicProfile) {
	if _, err := r.profiles.Set(userID, profile); err != nil {
		slog.Debug("profile cache set failed", "user_id", userID, "error", err)
	}
}

// GetCachedUserData retrieves a cached public profile projection
func (r *Registry) GetCachedUserData(userID string) (types.PublicProfile, bool) {
	return r.profiles.Get(userID)
}

// BroadcastToGroupSubscribers sends the frame to every authenticated
// subscriber of the group whose user id is not excluded. The subscriber
// set is snapshotted before delivery so concurrent removals cannot
// corrupt iteration. Returns the number of sessions delivered to.
func (r *Registry) BroadcastToGroupSubscribers(groupID string, f *protocol.Frame, excludeUserIDs ...string) int {
	return r.deliver(r.snapshotGroup(groupID, nil), f, excludeUserIDs)
}

// BroadcastToMultipleGroups unions subscribers across the listed groups
// and delivers at most one copy of the frame per physical session, even
// when a session subscribes to several of the groups.
func (r *Registry) BroadcastToMultipleGroups(groupIDs []string, f *protocol.Frame, excludeUserIDs ...string) int {
	seen := make(map[string]struct{})
	var targets []*session.Session
	for _, groupID := range groupIDs {
		targets = append(targets, r.snapshotGroup(groupID, seen)...)
	}
	return r.deliver(targets, f, excludeUserIDs)
}

// SendToUser delivers the frame to every session currently
// authenticated as the user. Returns the number delivered.
func (r *Registry) SendToUser(userID string, f *protocol.Frame) int {
	r.mu.RLock()
	targets := make([]*session.Session, 0, len(r.userSessions[userID]))
	for id := range r.userSessions[userID] {
		if s, ok := r.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, f, nil)
}

// GetUserGroupIDs returns the union of subscription sets across all of
// the user's sessions.
func (r *Registry) GetUserGroupIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for sessionID := range r.userSessions[userID] {
		s, ok := r.sessions[sessionID]
		if !ok {
			continue
		}
		for _, groupID := range s.GroupIDs() {
			if _, dup := seen[groupID]; dup {
				continue
			}
			seen[groupID] = struct{}{}
			ids = append(ids, groupID)
		}
	}
	return ids
}

// CleanupDeadConnections closes and removes every session whose last
// heartbeat fell outside the liveness window. Returns the number swept.
func (r *Registry) CleanupDeadConnections() int {
	r.mu.RLock()
	var stale []*session.Session
	for _, s := range r.sessions {
		if !s.IsAlive() {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		s.Close(protocol.CloseStaleConnection, "heartbeat timeout")
		r.Remove(s.ID())
		slog.Debug("swept stale connection", "session_id", s.ID(), "last_heartbeat", s.LastHeartbeat())
	}

	if len(stale) > 0 && r.metrics != nil {
		r.metrics.sweptConnections.Add(float64(len(stale)))
	}
	return len(stale)
}

// CloseAll closes and removes every registered session. Used on
// gateway shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	all := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.Close(code, reason)
		r.Remove(s.ID())
	}
}

// GetStats returns a snapshot of registry occupancy
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		TotalSessions:         len(r.sessions),
		AuthenticatedSessions: r.authenticatedLocked(),
		GroupsWithSubscribers: len(r.groupSubscribers),
		CachedProfiles:        r.profiles.Size(),
	}
}

// authenticatedLocked counts authenticated sessions; caller holds r.mu.
func (r *Registry) authenticatedLocked() int {
	n := 0
	for _, bucket := range r.userSessions {
		n += len(bucket)
	}
	return n
}

// snapshotGroup returns the group's live sessions, skipping session
// ids already present in seen (when seen is non-nil).
func (r *Registry) snapshotGroup(groupID string, seen map[string]struct{}) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []*session.Session
	for id := range r.groupSubscribers[groupID] {
		if seen != nil {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		if s, ok := r.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	return targets
}

// deliver writes the frame to each target session, applying the user-id
// exclusion list, and counts successful writes.
func (r *Registry) deliver(targets []*session.Session, f *protocol.Frame, excludeUserIDs []string) int {
	var excluded map[string]struct{}
	if len(excludeUserIDs) > 0 {
		excluded = make(map[string]struct{}, len(excludeUserIDs))
		for _, id := range excludeUserIDs {
			excluded[id] = struct{}{}
		}
	}

	delivered := 0
	for _, s := range targets {
		if !s.IsAuthenticated() {
			continue
		}
		if excluded != nil {
			if _, skip := excluded[s.UserID()]; skip {
				continue
			}
		}
		if s.Send(f) {
			delivered++
		}
	}

	if r.metrics != nil && delivered > 0 {
		r.metrics.framesDelivered.Add(float64(delivered))
	}
	return delivered
}
