package gateway

import (
	"time"

	"github.com/parleyhq/parley/events"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/types"
)

// Wire payloads for events whose domain form does not match what goes
// over the wire.

// MessageDeletePayload identifies a removed message
type MessageDeletePayload struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
}

// GroupDeletePayload identifies a removed group
type GroupDeletePayload struct {
	ID string `json:"id"`
}

// MemberPayload carries a member addition or profile change
type MemberPayload struct {
	GroupID string              `json:"group_id"`
	User    types.PublicProfile `json:"user"`
}

// MemberRemovePayload carries a membership removal
type MemberRemovePayload struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

// PresencePayload carries a presence transition
type PresencePayload struct {
	UserID string           `json:"user_id"`
	Status types.UserStatus `json:"status"`
}

// TypingPayload carries a typing indicator
type TypingPayload struct {
	GroupID   string `json:"group_id"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// MessageCreated fans a new message out to the group's subscribers
func (g *Gateway) MessageCreated(msg types.Message) {
	start := time.Now()
	f := g.dispatch(protocol.EventMessageCreate, msg)
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(msg.GroupID, f)
	g.observeBroadcast(protocol.EventMessageCreate, start, n)
}

// MessageUpdated fans an edited message out to the group's subscribers
func (g *Gateway) MessageUpdated(msg types.Message) {
	start := time.Now()
	f := g.dispatch(protocol.EventMessageUpdate, msg)
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(msg.GroupID, f)
	g.observeBroadcast(protocol.EventMessageUpdate, start, n)
}

// MessageDeleted fans a message removal out to the group's subscribers
func (g *Gateway) MessageDeleted(del events.MessageDeletion) {
	start := time.Now()
	f := g.dispatch(protocol.EventMessageDelete, MessageDeletePayload{
		ID:      del.MessageID,
		GroupID: del.GroupID,
	})
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(del.GroupID, f)
	g.observeBroadcast(protocol.EventMessageDelete, start, n)
}

// GroupCreated notifies every member of a new group directly, since
// nobody is subscribed to a group that did not exist yet.
func (g *Gateway) GroupCreated(group types.Group) {
	start := time.Now()
	f := g.dispatch(protocol.EventGroupCreate, group)
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(group.ID, f)
	for _, memberID := range group.MemberIDs {
		n += g.registry.SendToUser(memberID, f)
	}
	g.observeBroadcast(protocol.EventGroupCreate, start, n)
}

// GroupUpdated fans a group settings change out to its subscribers
func (g *Gateway) GroupUpdated(group types.Group) {
	start := time.Now()
	f := g.dispatch(protocol.EventGroupUpdate, group)
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(group.ID, f)
	g.observeBroadcast(protocol.EventGroupUpdate, start, n)
}

// GroupDeleted fans a group removal out to its subscribers
func (g *Gateway) GroupDeleted(groupID string) {
	start := time.Now()
	f := g.dispatch(protocol.EventGroupDelete, GroupDeletePayload{ID: groupID})
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(groupID, f)
	g.observeBroadcast(protocol.EventGroupDelete, start, n)
}

// GroupMemberAdded notifies existing subscribers of the new member and
// sends the new member a direct copy, since their sessions are not yet
// in the group's subscriber set.
func (g *Gateway) GroupMemberAdded(ch events.MemberChange) {
	start := time.Now()
	f := g.dispatch(protocol.EventGroupMemberAdd, MemberPayload{
		GroupID: ch.GroupID,
		User:    ch.Member,
	})
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(ch.GroupID, f)
	n += g.registry.SendToUser(ch.Member.ID, f)
	g.observeBroadcast(protocol.EventGroupMemberAdd, start, n)
}

// GroupMemberRemoved unsubscribes the removed user's live sessions from
// the group, notifies the remaining subscribers, and tells the removed
// user directly that their access ended.
func (g *Gateway) GroupMemberRemoved(rm events.MemberRemoval) {
	start := time.Now()
	f := g.dispatch(protocol.EventGroupMemberRemove, MemberRemovePayload{
		GroupID: rm.GroupID,
		UserID:  rm.UserID,
	})
	if f == nil {
		return
	}

	g.registry.UnsubscribeUserFromGroup(rm.UserID, rm.GroupID)

	n := g.registry.BroadcastToGroupSubscribers(rm.GroupID, f, rm.UserID)
	n += g.registry.SendToUser(rm.UserID, f)
	g.observeBroadcast(protocol.EventGroupMemberRemove, start, n)
}

// GroupMemberUpdated fans a member profile change out to the group
func (g *Gateway) GroupMemberUpdated(ch events.MemberChange) {
	start := time.Now()
	f := g.dispatch(protocol.EventGroupMemberUpdate, MemberPayload{
		GroupID: ch.GroupID,
		User:    ch.Member,
	})
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(ch.GroupID, f)
	g.observeBroadcast(protocol.EventGroupMemberUpdate, start, n)
}

// UserUpdated refreshes the user's cached profile and fans the change
// out to every group the user's sessions are subscribed to.
func (g *Gateway) UserUpdated(profile types.PublicProfile) {
	start := time.Now()
	f := g.dispatch(protocol.EventUserUpdate, profile)
	if f == nil {
		return
	}

	g.registry.CacheUserData(profile.ID, profile)

	groupIDs := g.registry.GetUserGroupIDs(profile.ID)
	n := g.registry.BroadcastToMultipleGroups(groupIDs, f)
	g.observeBroadcast(protocol.EventUserUpdate, start, n)
}

// UserPresenceUpdated fans a presence transition out to the user's
// groups, excluding the user's own sessions.
func (g *Gateway) UserPresenceUpdated(pc events.PresenceChange) {
	start := time.Now()
	f := g.dispatch(protocol.EventUserPresence, PresencePayload{
		UserID: pc.UserID,
		Status: pc.Status,
	})
	if f == nil {
		return
	}

	if cached, ok := g.registry.GetCachedUserData(pc.UserID); ok {
		cached.Status = pc.Status
		g.registry.CacheUserData(pc.UserID, cached)
	}

	groupIDs := g.registry.GetUserGroupIDs(pc.UserID)
	n := g.registry.BroadcastToMultipleGroups(groupIDs, f, pc.UserID)
	g.observeBroadcast(protocol.EventUserPresence, start, n)
}

// TypingStarted fans a typing indicator out to the group's subscribers
func (g *Gateway) TypingStarted(te events.TypingEvent) {
	start := time.Now()
	f := g.dispatch(protocol.EventTypingStart, TypingPayload{
		GroupID:   te.GroupID,
		UserID:    te.UserID,
		Timestamp: time.Now().Unix(),
	})
	if f == nil {
		return
	}
	n := g.registry.BroadcastToGroupSubscribers(te.GroupID, f)
	g.observeBroadcast(protocol.EventTypingStart, start, n)
}
