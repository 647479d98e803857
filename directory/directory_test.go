package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/types"
)

func TestUsers_FindByID(t *testing.T) {
	d := NewUsers()
	d.Put(&types.User{ID: "u1", Username: "alice", Email: "alice@corp.test"})

	u, err := d.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	// Mutating the returned record must not leak into the directory.
	u.Username = "mallory"
	again, err := d.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
}

func TestUsers_FindByID_Unknown(t *testing.T) {
	d := NewUsers()

	_, err := d.FindByID(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestUsers_FindMany_OmitsUnknownAndCredentials(t *testing.T) {
	d := NewUsers()
	d.Put(&types.User{ID: "u1", Username: "alice", Email: "alice@corp.test", PasswordHash: "x"})
	d.Put(&types.User{ID: "u2", Username: "bob"})

	profiles, err := d.FindMany(context.Background(), []string{"u1", "ghost", "u2"})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "alice", profiles[0].Username)
	assert.Equal(t, "bob", profiles[1].Username)
}

func TestGroups_GroupsForUser(t *testing.T) {
	d := NewGroups()
	d.Put(&types.Group{ID: "g1", Name: "general", MemberIDs: []string{"u1", "u2"}})
	d.Put(&types.Group{ID: "g2", Name: "ops", MemberIDs: []string{"u2"}})

	groups, err := d.GroupsForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].ID)

	groups, err = d.GroupsForUser(context.Background(), "u2")
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestGroups_GroupsForUser_NoMembership(t *testing.T) {
	d := NewGroups()
	d.Put(&types.Group{ID: "g1", MemberIDs: []string{"u1"}})

	groups, err := d.GroupsForUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestPut_ReplacesRecord(t *testing.T) {
	d := NewUsers()
	d.Put(&types.User{ID: "u1", Username: "alice"})
	d.Put(&types.User{ID: "u1", Username: "alice2"})

	u, err := d.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
}
