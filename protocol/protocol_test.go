package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/errors"
)

func TestDecode_ValidFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		op   Opcode
	}{
		{"heartbeat", `{"op":1}`, OpHeartbeat},
		{"identify", `{"op":2,"d":{"token":"abc"}}`, OpIdentify},
		{"dispatch", `{"op":0,"d":{},"s":1,"t":"MESSAGE_CREATE"}`, OpDispatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.op, f.Op)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []string{
		"",
		"not json",
		`{"op":"identify"}`,
		`[1,2,3]`,
	}

	for _, raw := range tests {
		f, err := Decode([]byte(raw))
		assert.Nil(t, f)
		require.Error(t, err)
		assert.True(t, errors.IsProtocol(err), "decode error must be protocol-classified: %v", err)
	}
}

func TestDispatch_CarriesEventAndPayload(t *testing.T) {
	f, err := Dispatch(EventMessageCreate, map[string]string{"id": "m1"})
	require.NoError(t, err)

	assert.Equal(t, OpDispatch, f.Op)
	assert.Equal(t, EventMessageCreate, f.T)
	assert.True(t, f.IsDispatch())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(f.D, &payload))
	assert.Equal(t, "m1", payload["id"])
}

func TestHeartbeatAck_NoSequence(t *testing.T) {
	f := HeartbeatAck()
	assert.Equal(t, OpHeartbeatAck, f.Op)
	assert.False(t, f.IsDispatch())

	data, err := f.Encode()
	require.NoError(t, err)

	// The s field must be absent entirely, not just zero.
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, hasSeq := decoded["s"]
	assert.False(t, hasSeq)
	_, hasEvent := decoded["t"]
	assert.False(t, hasEvent)
}

func TestEncode_RoundTrip(t *testing.T) {
	f := &Frame{Op: OpDispatch, D: json.RawMessage(`{"k":"v"}`), S: 7, T: EventTypingStart}

	data, err := f.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f.Op, decoded.Op)
	assert.Equal(t, f.S, decoded.S)
	assert.Equal(t, f.T, decoded.T)
	assert.JSONEq(t, string(f.D), string(decoded.D))
}
