// Package protocol defines the Parley gateway wire protocol: JSON frames
// exchanged over a persistent WebSocket connection, the opcodes that tag
// them, the dispatch event names, and the close codes used to terminate
// misbehaving or stale connections.
package protocol

import (
	"encoding/json"

	"github.com/parleyhq/parley/errors"
)

// Opcode identifies a frame's purpose
type Opcode int

const (
	// OpDispatch is a server-to-client frame carrying a named event and a
	// per-connection sequence number
	OpDispatch Opcode = 0
	// OpHeartbeat is sent by clients to signal liveness
	OpHeartbeat Opcode = 1
	// OpIdentify carries the client's bearer token to begin the handshake
	OpIdentify Opcode = 2
	// OpHeartbeatAck acknowledges a heartbeat; never carries a sequence number
	OpHeartbeatAck Opcode = 11
)

// Dispatch event names carried in the T field of DISPATCH frames
const (
	EventReady             = "READY"
	EventGroupsSync        = "GROUPS_SYNC"
	EventMessageCreate     = "MESSAGE_CREATE"
	EventMessageUpdate     = "MESSAGE_UPDATE"
	EventMessageDelete     = "MESSAGE_DELETE"
	EventGroupCreate       = "GROUP_CREATE"
	EventGroupUpdate       = "GROUP_UPDATE"
	EventGroupDelete       = "GROUP_DELETE"
	EventGroupMemberAdd    = "GROUP_MEMBER_ADD"
	EventGroupMemberRemove = "GROUP_MEMBER_REMOVE"
	EventGroupMemberUpdate = "GROUP_MEMBER_UPDATE"
	EventUserUpdate        = "USER_UPDATE"
	EventUserPresence      = "USER_PRESENCE_UPDATE"
	EventTypingStart       = "TYPING_START"
)

// Close codes sent when the gateway terminates a connection
const (
	// CloseMalformedPayload is used when a frame cannot be decoded
	CloseMalformedPayload = 4002
	// ClosePolicyViolation is used for unknown opcodes and failed
	// identification (protocol and auth violations share one code)
	ClosePolicyViolation = 4003
	// CloseStaleConnection is used by the liveness sweep for connections
	// that have not heartbeated within the liveness window
	CloseStaleConnection = 4009
)

// Frame is the wire representation of a gateway message.
// S and T are only present on dispatch frames.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// IdentifyPayload is the D payload of an IDENTIFY frame
type IdentifyPayload struct {
	Token string `json:"token"`
}

// Decode parses raw bytes into a Frame, returning a protocol-classified
// error for anything that is not a JSON object with an integer op.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapProtocol(errors.ErrMalformedFrame, "protocol", "Decode", "unmarshal frame")
	}
	return &f, nil
}

// Encode serializes a frame for transmission
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Encode", "marshal frame")
	}
	return data, nil
}

// Dispatch builds a dispatch frame for the named event. The sequence
// number is assigned later by the owning session, not here.
func Dispatch(event string, data any) (*Frame, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Dispatch", "marshal event payload")
	}
	return &Frame{
		Op: OpDispatch,
		D:  payload,
		T:  event,
	}, nil
}

// HeartbeatAck builds the reply to a client heartbeat. Ack frames are
// not dispatch-class and never carry a sequence number.
func HeartbeatAck() *Frame {
	return &Frame{Op: OpHeartbeatAck}
}

// IsDispatch reports whether the frame is dispatch-class and therefore
// eligible for a per-session sequence number.
func (f *Frame) IsDispatch() bool {
	return f.Op == OpDispatch
}
