// Package events decouples domain-event producers from the gateway's
// lifecycle. Domain services hold a Router from construction time; the
// gateway attaches itself when it starts and detaches when it stops.
// Publishing with no gateway attached is a debug-logged no-op, never an
// error: persisting a message must succeed even if no one is listening.
package events

import (
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/types"
)

// Kind identifies a domain event class. Values match the dispatch
// event names carried on the wire.
type Kind string

const (
	KindMessageCreate     Kind = protocol.EventMessageCreate
	KindMessageUpdate     Kind = protocol.EventMessageUpdate
	KindMessageDelete     Kind = protocol.EventMessageDelete
	KindGroupCreate       Kind = protocol.EventGroupCreate
	KindGroupUpdate       Kind = protocol.EventGroupUpdate
	KindGroupDelete       Kind = protocol.EventGroupDelete
	KindGroupMemberAdd    Kind = protocol.EventGroupMemberAdd
	KindGroupMemberRemove Kind = protocol.EventGroupMemberRemove
	KindGroupMemberUpdate Kind = protocol.EventGroupMemberUpdate
	KindUserUpdate        Kind = protocol.EventUserUpdate
	KindUserPresence      Kind = protocol.EventUserPresence
	KindTypingStart       Kind = protocol.EventTypingStart
)

// MessageDeletion identifies a removed message
type MessageDeletion struct {
	GroupID   string
	MessageID string
}

// MemberChange carries a group membership addition or profile update
type MemberChange struct {
	GroupID string
	Member  types.PublicProfile
}

// MemberRemoval carries a group membership removal
type MemberRemoval struct {
	GroupID string
	UserID  string
}

// PresenceChange carries a user presence transition
type PresenceChange struct {
	UserID string
	Status types.UserStatus
}

// TypingEvent signals that a user started typing in a group
type TypingEvent struct {
	GroupID string
	UserID  string
}

// Gateway is the fan-out surface the router forwards events to.
// Implemented by the protocol gateway; absent during startup and after
// shutdown.
type Gateway interface {
	MessageCreated(msg types.Message)
	MessageUpdated(msg types.Message)
	MessageDeleted(del MessageDeletion)
	GroupCreated(g types.Group)
	GroupUpdated(g types.Group)
	GroupDeleted(groupID string)
	GroupMemberAdded(ch MemberChange)
	GroupMemberRemoved(rm MemberRemoval)
	GroupMemberUpdated(ch MemberChange)
	UserUpdated(profile types.PublicProfile)
	UserPresenceUpdated(pc PresenceChange)
	TypingStarted(te TypingEvent)
}

// Handler consumes one published event payload
type Handler func(payload any)

// Router forwards typed domain events to whatever gateway is currently
// attached. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewRouter creates a router with no gateway attached
func NewRouter() *Router {
	return &Router{}
}

// Attach builds the registration table for the given gateway, replacing
// any previous attachment.
func (r *Router) Attach(gw Gateway) {
	table := map[Kind][]Handler{
		KindMessageCreate:     {func(p any) { gw.MessageCreated(p.(types.Message)) }},
		KindMessageUpdate:     {func(p any) { gw.MessageUpdated(p.(types.Message)) }},
		KindMessageDelete:     {func(p any) { gw.MessageDeleted(p.(MessageDeletion)) }},
		KindGroupCreate:       {func(p any) { gw.GroupCreated(p.(types.Group)) }},
		KindGroupUpdate:       {func(p any) { gw.GroupUpdated(p.(types.Group)) }},
		KindGroupDelete:       {func(p any) { gw.GroupDeleted(p.(string)) }},
		KindGroupMemberAdd:    {func(p any) { gw.GroupMemberAdded(p.(MemberChange)) }},
		KindGroupMemberRemove: {func(p any) { gw.GroupMemberRemoved(p.(MemberRemoval)) }},
		KindGroupMemberUpdate: {func(p any) { gw.GroupMemberUpdated(p.(MemberChange)) }},
		KindUserUpdate:        {func(p any) { gw.UserUpdated(p.(types.PublicProfile)) }},
		KindUserPresence:      {func(p any) { gw.UserPresenceUpdated(p.(PresenceChange)) }},
		KindTypingStart:       {func(p any) { gw.TypingStarted(p.(TypingEvent)) }},
	}

	r.mu.Lock()
	r.handlers = table
	r.mu.Unlock()
}

// Detach drops the current registration table. Subsequent publishes
// become no-ops until the next Attach.
func (r *Router) Detach() {
	r.mu.Lock()
	r.handlers = nil
	r.mu.Unlock()
}

// Attached reports whether a gateway is currently registered
func (r *Router) Attached() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers != nil
}

func (r *Router) publish(kind Kind, payload any) {
	r.mu.RLock()
	handlers := r.handlers[kind]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("event dropped, no gateway attached", "kind", string(kind))
		return
	}
	for _, h := range handlers {
		h(payload)
	}
}

// MessageCreated publishes a newly persisted message
func (r *Router) MessageCreated(msg types.Message) {
	r.publish(KindMessageCreate, msg)
}

// MessageUpdated publishes an edited message
func (r *Router) MessageUpdated(msg types.Message) {
	r.publish(KindMessageUpdate, msg)
}

// MessageDeleted publishes a message removal
func (r *Router) MessageDeleted(groupID, messageID string) {
	r.publish(KindMessageDelete, MessageDeletion{GroupID: groupID, MessageID: messageID})
}

// GroupCreated publishes a newly created group
func (r *Router) GroupCreated(g types.Group) {
	r.publish(KindGroupCreate, g)
}

// GroupUpdated publishes a group settings change
func (r *Router) GroupUpdated(g types.Group) {
	r.publish(KindGroupUpdate, g)
}

// GroupDeleted publishes a group removal
func (r *Router) GroupDeleted(groupID string) {
	r.publish(KindGroupDelete, groupID)
}

// GroupMemberAdded publishes a membership addition
func (r *Router) GroupMemberAdded(groupID string, member types.PublicProfile) {
	r.publish(KindGroupMemberAdd, MemberChange{GroupID: groupID, Member: member})
}

// GroupMemberRemoved publishes a membership removal
func (r *Router) GroupMemberRemoved(groupID, userID string) {
	r.publish(KindGroupMemberRemove, MemberRemoval{GroupID: groupID, UserID: userID})
}

// GroupMemberUpdated publishes a member profile change within a group
func (r *Router) GroupMemberUpdated(groupID string, member types.PublicProfile) {
	r.publish(KindGroupMemberUpdate, MemberChange{GroupID: groupID, Member: member})
}

// UserUpdated publishes a user profile change
func (r *Router) UserUpdated(profile types.PublicProfile) {
	r.publish(KindUserUpdate, profile)
}

// UserPresenceUpdated publishes a presence transition
func (r *Router) UserPresenceUpdated(userID string, status types.UserStatus) {
	r.publish(KindUserPresence, PresenceChange{UserID: userID, Status: status})
}

// TypingStarted publishes a typing indicator
func (r *Router) TypingStarted(groupID, userID string) {
	r.publish(KindTypingStart, TypingEvent{GroupID: groupID, UserID: userID})
}
