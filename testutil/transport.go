// Package testutil provides shared fakes for gateway tests.
package testutil

import (
	"sync"
	"time"

	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/protocol"
)

// FakeTransport is an in-memory session.Transport that records written
// frames, write times, and close calls for assertions.
type FakeTransport struct {
	mu         sync.Mutex
	frames     []protocol.Frame
	writeTimes []time.Time
	open       bool
	closes     []int
}

// NewFakeTransport creates an open fake transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{open: true}
}

// WriteFrame records the frame, or fails if the transport was closed
func (t *FakeTransport) WriteFrame(f *protocol.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return errors.ErrTransportClosed
	}
	t.frames = append(t.frames, *f)
	t.writeTimes = append(t.writeTimes, time.Now())
	return nil
}

// Close marks the transport closed and records the close code
func (t *FakeTransport) Close(code int, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	t.closes = append(t.closes, code)
	return nil
}

// IsOpen reports whether the transport accepts writes
func (t *FakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// SetOpen overrides the open flag without recording a close
func (t *FakeTransport) SetOpen(open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = open
}

// Frames returns a copy of all written frames
func (t *FakeTransport) Frames() []protocol.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Frame(nil), t.frames...)
}

// WriteTimes returns a copy of when each frame was written
func (t *FakeTransport) WriteTimes() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Time(nil), t.writeTimes...)
}

// FrameCount returns how many frames were written
func (t *FakeTransport) FrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// LastClose returns the most recent close code, if any
func (t *FakeTransport) LastClose() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.closes) == 0 {
		return 0, false
	}
	return t.closes[len(t.closes)-1], true
}

// CloseCount returns how many times Close was called
func (t *FakeTransport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.closes)
}
