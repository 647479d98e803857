package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorProtocol, "protocol"},
		{ErrorAuth, "auth"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Gateway", "Start", "listen")

	require.Error(t, err)
	assert.Equal(t, "Gateway.Start: listen failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "C", "M", "a"))
	assert.NoError(t, WrapProtocol(nil, "C", "M", "a"))
	assert.NoError(t, WrapAuth(nil, "C", "M", "a"))
	assert.NoError(t, WrapTransient(nil, "C", "M", "a"))
	assert.NoError(t, WrapInvalid(nil, "C", "M", "a"))
	assert.NoError(t, WrapFatal(nil, "C", "M", "a"))
}

func TestClassification_Wrappers(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"protocol", WrapProtocol(base, "G", "route", "decode"), ErrorProtocol},
		{"auth", WrapAuth(base, "H", "Identify", "verify token"), ErrorAuth},
		{"transient", WrapTransient(base, "S", "Send", "write frame"), ErrorTransient},
		{"invalid", WrapInvalid(base, "C", "Load", "parse"), ErrorInvalid},
		{"fatal", WrapFatal(base, "M", "Register", "register"), ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))

			var ce *ClassifiedError
			require.True(t, stderrors.As(tt.err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.True(t, stderrors.Is(tt.err, base), "classification must preserve the error chain")
		})
	}
}

func TestIsProtocol_Sentinels(t *testing.T) {
	assert.True(t, IsProtocol(ErrMalformedFrame))
	assert.True(t, IsProtocol(ErrUnknownOpcode))
	assert.True(t, IsProtocol(ErrAlreadyIdentified))
	assert.True(t, IsProtocol(fmt.Errorf("route: %w", ErrMalformedFrame)))
	assert.False(t, IsProtocol(ErrTokenInvalid))
	assert.False(t, IsProtocol(nil))
}

func TestIsAuth_Sentinels(t *testing.T) {
	assert.True(t, IsAuth(ErrTokenMissing))
	assert.True(t, IsAuth(ErrTokenExpired))
	assert.True(t, IsAuth(ErrTokenInvalid))
	assert.True(t, IsAuth(ErrUserNotFound))
	assert.False(t, IsAuth(ErrMalformedFrame))
	assert.False(t, IsAuth(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransportClosed))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(stderrors.New("write: broken pipe")))
	assert.False(t, IsTransient(ErrInvalidConfig))
	assert.False(t, IsTransient(nil))
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidConfig))
	assert.True(t, IsInvalid(ErrMissingConfig))
	assert.True(t, IsInvalid(ErrInvalidData))
	assert.False(t, IsInvalid(ErrTokenInvalid))
}

func TestClassify_Priority(t *testing.T) {
	// Protocol and auth classes win over the transient fallback even when
	// the message contains a transient-looking word.
	err := WrapProtocol(stderrors.New("connection reset"), "G", "route", "read")
	assert.Equal(t, ErrorProtocol, Classify(err))

	// Unknown errors default to transient.
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestClassifiedError_MessageAndUnwrap(t *testing.T) {
	base := stderrors.New("inner")
	err := WrapAuth(base, "Handshake", "Identify", "resolve user")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "Handshake", ce.Component)
	assert.Equal(t, "Identify", ce.Operation)
	assert.Contains(t, ce.Error(), "resolve user failed")
	assert.ErrorIs(t, ce.Unwrap(), base)
}
