package channel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTransport implements Transport for testing. It records emitted frames
// and lets tests inject inbound events via SimulateInbound.
type MockTransport struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	handshake    *Frame
	inbound      chan Event
	emitted      []Frame
	connectCalls int
	closeCalls   int

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// EmitErr, when set, is returned by Emit.
	EmitErr error
}

// NewMockTransport creates a MockTransport with a buffered inbound channel.
func NewMockTransport() *MockTransport {
	return &MockTransport{inbound: make(chan Event, 100)}
}

// Connect marks the transport as connected, or returns ConnectErr.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if m.closed {
		return fmt.Errorf("mock transport: already closed")
	}
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	if m.handshake != nil {
		m.emitted = append(m.emitted, *m.handshake)
	}
	return nil
}

// SetHandshake records the frame written on every (re)connect.
func (m *MockTransport) SetHandshake(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handshake = &f
}

// Listen returns the inbound channel. Must be called after Connect.
func (m *MockTransport) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	return m.inbound, nil
}

// Emit records the frame.
func (m *MockTransport) Emit(ctx context.Context, f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.EmitErr != nil {
		return m.EmitErr
	}
	m.emitted = append(m.emitted, f)
	return nil
}

// Close marks the transport closed and closes the inbound channel.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound delivers an event as if it arrived from the server.
func (m *MockTransport) SimulateInbound(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.inbound <- ev
}

// SimulateDrop marks the connection lost and delivers KindDisconnected.
// Emit fails with ErrNotConnected until SimulateReconnect.
func (m *MockTransport) SimulateDrop(err error) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.SimulateInbound(Event{Kind: KindDisconnected, Err: err})
}

// SimulateReconnect restores the connection the way a redial does: the
// handshake is written first, then KindConnected is delivered.
func (m *MockTransport) SimulateReconnect() {
	m.mu.Lock()
	m.connected = true
	if m.handshake != nil {
		m.emitted = append(m.emitted, *m.handshake)
	}
	m.mu.Unlock()
	m.SimulateInbound(Event{Kind: KindConnected})
}

// SimulateFrame decodes a wire frame and delivers the resulting event.
func (m *MockTransport) SimulateFrame(f Frame) error {
	ev, err := Decode(f)
	if err != nil {
		return err
	}
	m.SimulateInbound(ev)
	return nil
}

// Emitted returns a copy of all emitted frames.
func (m *MockTransport) Emitted() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.emitted))
	copy(out, m.emitted)
	return out
}

// EmittedNamed returns the emitted frames with the given event name.
func (m *MockTransport) EmittedNamed(event string) []Frame {
	var out []Frame
	for _, f := range m.Emitted() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// ConnectCalls returns how many times Connect was called.
func (m *MockTransport) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// Closed reports whether Close has been called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
