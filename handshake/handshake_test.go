package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/directory"
	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/registry"
	"github.com/parleyhq/parley/session"
	"github.com/parleyhq/parley/testutil"
	"github.com/parleyhq/parley/token"
	"github.com/parleyhq/parley/types"
)

var testSecret = []byte("handshake-test-secret-0123456789")

type fixture struct {
	registry  *registry.Registry
	users     *directory.Users
	groups    *directory.Groups
	signer    *token.Signer
	handshake *Handshake
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		registry: registry.New(nil),
		users:    directory.NewUsers(),
		groups:   directory.NewGroups(),
		signer:   token.NewSigner(testSecret),
	}
	f.handshake = New(f.registry, token.NewVerifier(testSecret), f.users, f.groups, cfg)
	return f
}

func (f *fixture) addUser(id string) *types.User {
	u := &types.User{
		ID:           id,
		Username:     "user-" + id,
		DisplayName:  "User " + id,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		Status:       types.StatusOnline,
	}
	f.users.Put(u)
	return u
}

func (f *fixture) addGroup(id string, memberIDs ...string) *types.Group {
	g := &types.Group{ID: id, Name: "Group " + id, OwnerID: memberIDs[0], MemberIDs: memberIDs}
	f.groups.Put(g)
	return g
}

func (f *fixture) connect(t *testing.T) (*session.Session, *testutil.FakeTransport) {
	t.Helper()
	tr := testutil.NewFakeTransport()
	s := session.New(tr, 0)
	f.registry.Add(s)
	return s, tr
}

func (f *fixture) mintToken(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.signer.Sign(userID, "sess-"+userID, time.Minute)
	require.NoError(t, err)
	return tok
}

func decodeReady(t *testing.T, f protocol.Frame) ReadyPayload {
	t.Helper()
	require.Equal(t, protocol.EventReady, f.T)
	var payload ReadyPayload
	require.NoError(t, json.Unmarshal(f.D, &payload))
	return payload
}

func decodeSync(t *testing.T, f protocol.Frame) GroupsSyncPayload {
	t.Helper()
	require.Equal(t, protocol.EventGroupsSync, f.T)
	var payload GroupsSyncPayload
	require.NoError(t, json.Unmarshal(f.D, &payload))
	return payload
}

func TestIdentify_ReadyThenBatchedSync(t *testing.T) {
	fx := newFixture(t, Config{BatchSize: 3, BatchDelay: 60 * time.Millisecond})
	fx.addUser("u1")
	for i := 0; i < 4; i++ {
		fx.addGroup(fmt.Sprintf("g%d", i), "u1")
	}

	s, tr := fx.connect(t)
	require.NoError(t, fx.handshake.Identify(context.Background(), s, fx.mintToken(t, "u1")))
	fx.handshake.Wait()

	frames := tr.Frames()
	require.Len(t, frames, 3, "READY plus two sync batches")

	ready := decodeReady(t, frames[0])
	assert.Equal(t, "u1", ready.User.ID)
	assert.Equal(t, "u1@example.com", ready.User.Email)
	assert.Equal(t, "sess-u1", ready.SessionID)
	assert.Equal(t, 4, ready.TotalGroups)
	assert.Empty(t, ready.Groups, "groups are streamed separately, never inlined in READY")

	first := decodeSync(t, frames[1])
	assert.Equal(t, 0, first.BatchIndex)
	assert.Len(t, first.Groups, 3)
	assert.False(t, first.IsFinal)

	second := decodeSync(t, frames[2])
	assert.Equal(t, 1, second.BatchIndex)
	assert.Len(t, second.Groups, 1)
	assert.True(t, second.IsFinal)

	times := tr.WriteTimes()
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 60*time.Millisecond,
		"batches are spaced by the configured delay")

	// Sequence numbers: READY is 1, sync batches follow without gaps.
	assert.Equal(t, int64(1), frames[0].S)
	assert.Equal(t, int64(2), frames[1].S)
	assert.Equal(t, int64(3), frames[2].S)
}

func TestIdentify_HydratesSessionState(t *testing.T) {
	fx := newFixture(t, Config{BatchDelay: time.Millisecond})
	u := fx.addUser("u1")
	fx.addGroup("g1", "u1", "u2")
	fx.addUser("u2")

	s, _ := fx.connect(t)
	require.NoError(t, fx.handshake.Identify(context.Background(), s, fx.mintToken(t, "u1")))
	fx.handshake.Wait()

	assert.True(t, s.IsAuthenticated())
	assert.True(t, s.IsSubscribedToGroup("g1"))

	cached, ok := fx.registry.GetCachedUserData("u1")
	require.True(t, ok)
	assert.Equal(t, u.Public(), cached)

	stats := fx.registry.GetStats()
	assert.Equal(t, 1, stats.AuthenticatedSessions)
	assert.Equal(t, 1, stats.GroupsWithSubscribers)
}

func TestIdentify_SyncIncludesMemberProfiles(t *testing.T) {
	fx := newFixture(t, Config{BatchDelay: time.Millisecond})
	fx.addUser("u1")
	fx.addUser("u2")
	fx.addGroup("g1", "u1", "u2")

	s, tr := fx.connect(t)
	require.NoError(t, fx.handshake.Identify(context.Background(), s, fx.mintToken(t, "u1")))
	fx.handshake.Wait()

	frames := tr.Frames()
	require.Len(t, frames, 2)
	sync := decodeSync(t, frames[1])
	require.Len(t, sync.Groups, 1)
	require.Len(t, sync.Groups[0].Members, 2)

	data, err := json.Marshal(sync.Groups[0].Members)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "example.com", "member projections carry no email")
}

func TestIdentify_NoGroups(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.addUser("u1")

	s, tr := fx.connect(t)
	require.NoError(t, fx.handshake.Identify(context.Background(), s, fx.mintToken(t, "u1")))
	fx.handshake.Wait()

	frames := tr.Frames()
	require.Len(t, frames, 1, "no sync batches for a user with no groups")
	ready := decodeReady(t, frames[0])
	assert.Equal(t, 0, ready.TotalGroups)
}

func TestIdentify_InvalidToken_NoRegistryMutation(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.addUser("u1")

	s, tr := fx.connect(t)
	before := fx.registry.GetStats()

	err := fx.handshake.Identify(context.Background(), s, "garbage-token")
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))

	assert.Equal(t, before, fx.registry.GetStats(), "failed identify must not mutate the registry")
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, 0, tr.FrameCount())
}

func TestIdentify_ExpiredToken(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.addUser("u1")

	tok, err := fx.signer.Sign("u1", "s1", -time.Second)
	require.NoError(t, err)

	s, _ := fx.connect(t)
	err = fx.handshake.Identify(context.Background(), s, tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTokenExpired)
}

func TestIdentify_UnknownUser(t *testing.T) {
	fx := newFixture(t, Config{})

	s, _ := fx.connect(t)
	err := fx.handshake.Identify(context.Background(), s, fx.mintToken(t, "ghost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
	assert.True(t, errors.IsAuth(err))
	assert.False(t, s.IsAuthenticated())
}

// failingUsers fails FindMany whenever the id set contains poisonID
type failingUsers struct {
	*directory.Users
	poisonID string
}

func (d *failingUsers) FindMany(ctx context.Context, ids []string) ([]types.PublicProfile, error) {
	for _, id := range ids {
		if id == d.poisonID {
			return nil, errors.WrapTransient(fmt.Errorf("directory unavailable"), "failingUsers", "FindMany", "lookup")
		}
	}
	return d.Users.FindMany(ctx, ids)
}

func TestIdentify_PartialSyncFailure_SkipsGroupOnly(t *testing.T) {
	fx := newFixture(t, Config{BatchSize: 3, BatchDelay: time.Millisecond})
	fx.addUser("u1")
	fx.addUser("poison")
	fx.addGroup("g1", "u1")
	fx.addGroup("g2", "u1", "poison") // member lookup for this group fails
	fx.addGroup("g3", "u1")

	users := &failingUsers{Users: fx.users, poisonID: "poison"}
	h := New(fx.registry, token.NewVerifier(testSecret), users, fx.groups, Config{BatchSize: 3, BatchDelay: time.Millisecond})

	s, tr := fx.connect(t)
	require.NoError(t, h.Identify(context.Background(), s, fx.mintToken(t, "u1")))
	h.Wait()

	frames := tr.Frames()
	require.Len(t, frames, 2)

	sync := decodeSync(t, frames[1])
	require.Len(t, sync.Groups, 2, "the failing group is skipped, the batch continues")
	ids := []string{sync.Groups[0].ID, sync.Groups[1].ID}
	assert.ElementsMatch(t, []string{"g1", "g3"}, ids)
	assert.True(t, sync.IsFinal)
}

func TestIdentify_SyncAbortsWhenSessionCloses(t *testing.T) {
	fx := newFixture(t, Config{BatchSize: 1, BatchDelay: 40 * time.Millisecond})
	fx.addUser("u1")
	for i := 0; i < 5; i++ {
		fx.addGroup(fmt.Sprintf("g%d", i), "u1")
	}

	s, tr := fx.connect(t)
	require.NoError(t, fx.handshake.Identify(context.Background(), s, fx.mintToken(t, "u1")))

	// Wait for READY plus the first batch, then drop the connection.
	require.Eventually(t, func() bool { return tr.FrameCount() >= 2 }, time.Second, time.Millisecond)
	s.Close(protocol.ClosePolicyViolation, "test disconnect")

	fx.handshake.Wait()
	assert.Less(t, tr.FrameCount(), 6, "remaining batches abandoned after close")
}

func TestIdentify_SyncAbortsOnContextCancel(t *testing.T) {
	fx := newFixture(t, Config{BatchSize: 1, BatchDelay: 50 * time.Millisecond})
	fx.addUser("u1")
	for i := 0; i < 4; i++ {
		fx.addGroup(fmt.Sprintf("g%d", i), "u1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s, tr := fx.connect(t)
	require.NoError(t, fx.handshake.Identify(ctx, s, fx.mintToken(t, "u1")))

	require.Eventually(t, func() bool { return tr.FrameCount() >= 2 }, time.Second, time.Millisecond)
	cancel()

	fx.handshake.Wait()
	assert.Less(t, tr.FrameCount(), 5, "shutdown cancels the batch loop")
}
