// Package handshake implements the gateway's identification exchange:
// token verification, session hydration, and the batched group sync
// streamed to a freshly identified connection. The handshake is
// fail-fast; any step failure is terminal for the connection and the
// client must reconnect and identify again.
package handshake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/registry"
	"github.com/parleyhq/parley/session"
	"github.com/parleyhq/parley/types"
)

const (
	// DefaultBatchSize is how many groups each GROUPS_SYNC frame carries
	DefaultBatchSize = 3
	// DefaultBatchDelay is the pause between sync batches, giving slow
	// clients backpressure relief and bounding write bursts
	DefaultBatchDelay = 200 * time.Millisecond
)

// ReadyPayload is the D payload of the READY dispatch. Groups is always
// empty; group payloads are streamed separately in batches to bound the
// size of any single frame.
type ReadyPayload struct {
	User        types.PrivateProfile `json:"user"`
	SessionID   string               `json:"session_id"`
	TotalGroups int                  `json:"total_groups"`
	Groups      []types.GroupSync    `json:"groups"`
}

// GroupsSyncPayload is the D payload of one GROUPS_SYNC batch
type GroupsSyncPayload struct {
	Groups     []types.GroupSync `json:"groups"`
	BatchIndex int               `json:"batch_index"`
	IsFinal    bool              `json:"is_final"`
}

// Config tunes the batched group sync
type Config struct {
	BatchSize  int
	BatchDelay time.Duration
}

// Handshake validates identification frames and hydrates sessions
type Handshake struct {
	registry *registry.Registry
	verifier types.TokenVerifier
	users    types.UserDirectory
	groups   types.GroupDirectory

	batchSize  int
	batchDelay time.Duration

	wg sync.WaitGroup
}

// New creates a handshake handler. Zero config fields select defaults.
func New(reg *registry.Registry, verifier types.TokenVerifier, users types.UserDirectory, groups types.GroupDirectory, cfg Config) *Handshake {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	return &Handshake{
		registry:   reg,
		verifier:   verifier,
		users:      users,
		groups:     groups,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
	}
}

// Identify runs the handshake for an IDENTIFY frame carrying the given
// bearer token. On success the session is authenticated, subscribed to
// all of its groups, the READY frame has been sent, and the group sync
// continues asynchronously. On error the caller closes the connection;
// no retry happens inside the gateway.
func (h *Handshake) Identify(ctx context.Context, s *session.Session, token string) error {
	claims, err := h.verifier.Verify(token)
	if err != nil {
		return errors.Wrap(err, "Handshake", "Identify", "verify token")
	}

	user, err := h.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return errors.Wrap(err, "Handshake", "Identify", "resolve user "+claims.UserID)
	}

	if err := h.registry.Authenticate(s.ID(), user); err != nil {
		return errors.Wrap(err, "Handshake", "Identify", "authenticate session")
	}

	userGroups, err := h.groups.GroupsForUser(ctx, user.ID)
	if err != nil {
		return errors.WrapAuth(err, "Handshake", "Identify", "resolve groups for "+user.ID)
	}

	for _, g := range userGroups {
		h.registry.SubscribeToGroup(s.ID(), g.ID)
	}

	h.registry.CacheUserData(user.ID, user.Public())

	ready := ReadyPayload{
		User:        user.Private(),
		SessionID:   claims.SessionID,
		TotalGroups: len(userGroups),
		Groups:      []types.GroupSync{},
	}
	if !s.SendEvent(protocol.EventReady, ready) {
		return errors.WrapTransient(errors.ErrTransportClosed, "Handshake", "Identify", "send READY")
	}

	slog.Info("session identified",
		"session_id", s.ID(),
		"user_id", user.ID,
		"groups", len(userGroups))

	if len(userGroups) > 0 {
		h.wg.Add(1)
		go h.streamGroups(ctx, s, userGroups)
	}

	return nil
}

// Wait blocks until all in-flight group sync streams have finished
func (h *Handshake) Wait() {
	h.wg.Wait()
}

// streamGroups sends the session's groups in fixed-size batches with a
// delay between batches. Before each batch it re-checks that the
// session is still alive and its transport open; if not, the remaining
// batches are abandoned silently. One group's member lookup failing
// skips that group, not the batch.
func (h *Handshake) streamGroups(ctx context.Context, s *session.Session, groups []types.Group) {
	defer h.wg.Done()

	batchIndex := 0
	for start := 0; start < len(groups); start += h.batchSize {
		if batchIndex > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.batchDelay):
			}
		}

		if !s.IsAlive() || !s.IsOpen() {
			slog.Debug("aborting group sync for dead session",
				"session_id", s.ID(), "batch_index", batchIndex)
			return
		}

		end := start + h.batchSize
		if end > len(groups) {
			end = len(groups)
		}

		payload := GroupsSyncPayload{
			Groups:     h.hydrateBatch(ctx, groups[start:end]),
			BatchIndex: batchIndex,
			IsFinal:    end == len(groups),
		}

		if !s.SendEvent(protocol.EventGroupsSync, payload) {
			return
		}
		batchIndex++
	}
}

// hydrateBatch resolves member profiles for each group in the batch.
// A group whose member lookup fails is skipped and logged; the batch
// continues with the rest.
func (h *Handshake) hydrateBatch(ctx context.Context, groups []types.Group) []types.GroupSync {
	hydrated := make([]types.GroupSync, 0, len(groups))
	for _, g := range groups {
		members, err := h.users.FindMany(ctx, g.MemberIDs)
		if err != nil {
			slog.Warn("skipping group in sync batch, member lookup failed",
				"group_id", g.ID, "error", err)
			continue
		}
		hydrated = append(hydrated, types.GroupSync{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			OwnerID:     g.OwnerID,
			Members:     members,
			Tags:        g.Tags,
			CreatedAt:   g.CreatedAt,
			UpdatedAt:   g.UpdatedAt,
		})
	}
	return hydrated
}
