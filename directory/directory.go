// Package directory provides in-memory implementations of the user and
// group directories. The production deployment backs these interfaces
// with the REST layer's database; the in-memory forms serve the dev
// binary and the gateway test suite.
package directory

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/types"
)

// Users is a thread-safe in-memory types.UserDirectory
type Users struct {
	mu    sync.RWMutex
	users map[string]*types.User
}

// NewUsers creates an empty in-memory user directory
func NewUsers() *Users {
	return &Users{users: make(map[string]*types.User)}
}

// Put inserts or replaces a user record
func (d *Users) Put(u *types.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// FindByID resolves a user by id
func (d *Users) FindByID(_ context.Context, id string) (*types.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, errors.WrapAuth(errors.ErrUserNotFound, "Users", "FindByID", "lookup "+id)
	}
	cp := *u
	return &cp, nil
}

// FindMany resolves a set of user ids to public projections. Unknown
// ids are omitted from the result rather than failing the call.
func (d *Users) FindMany(_ context.Context, ids []string) ([]types.PublicProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	profiles := make([]types.PublicProfile, 0, len(ids))
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			profiles = append(profiles, u.Public())
		}
	}
	return profiles, nil
}

// Groups is a thread-safe in-memory types.GroupDirectory
type Groups struct {
	mu     sync.RWMutex
	groups map[string]*types.Group
}

// NewGroups creates an empty in-memory group directory
func NewGroups() *Groups {
	return &Groups{groups: make(map[string]*types.Group)}
}

// Put inserts or replaces a group record
func (d *Groups) Put(g *types.Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[g.ID] = g
}

// GroupsForUser returns every group the user is a member of
func (d *Groups) GroupsForUser(_ context.Context, userID string) ([]types.Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []types.Group
	for _, g := range d.groups {
		for _, member := range g.MemberIDs {
			if member == userID {
				result = append(result, *g)
				break
			}
		}
	}
	return result, nil
}

// Compile-time interface checks
var _ types.UserDirectory = (*Users)(nil)
var _ types.GroupDirectory = (*Groups)(nil)
