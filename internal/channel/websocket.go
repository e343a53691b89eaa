package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnect is the number of reconnection attempts before giving up.
	maxReconnect = 10

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WebsocketTransport is a Transport over a gorilla websocket connection.
// A dropped connection is redialled with exponential backoff; each
// successful redial is reported as a KindConnected event.
type WebsocketTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *zap.Logger

	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
	pongWait     time.Duration
	pingPeriod   time.Duration

	mu        sync.Mutex
	handshake *Frame
	conn      *websocket.Conn
	connected bool
	listening bool
	closed    bool
	done      chan struct{}
	inbound   chan Event

	writeMu sync.Mutex
}

// WebsocketOpts holds parameters for creating a WebsocketTransport.
type WebsocketOpts struct {
	URL          string      // ws:// or wss:// endpoint
	Token        string      // optional bearer token sent on the upgrade request
	Header       http.Header // extra upgrade headers
	Dialer       *websocket.Dialer
	Logger       *zap.Logger
	BaseBackoff  time.Duration // default 2s
	MaxBackoff   time.Duration // default 2m
	MaxReconnect int           // default 10; negative disables reconnection
	PingPeriod   time.Duration // default 54s
}

// NewWebsocket creates a WebsocketTransport.
func NewWebsocket(opts WebsocketOpts) (*WebsocketTransport, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("channel: websocket url is required")
	}
	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = append([]string(nil), v...)
	}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	t := &WebsocketTransport{
		url:          opts.URL,
		header:       header,
		dialer:       opts.Dialer,
		logger:       opts.Logger,
		baseBackoff:  opts.BaseBackoff,
		maxBackoff:   opts.MaxBackoff,
		maxReconnect: opts.MaxReconnect,
		pongWait:     pongWait,
		pingPeriod:   opts.PingPeriod,
		done:         make(chan struct{}),
		inbound:      make(chan Event, 100),
	}
	if t.dialer == nil {
		t.dialer = websocket.DefaultDialer
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.baseBackoff <= 0 {
		t.baseBackoff = baseBackoff
	}
	if t.maxBackoff <= 0 {
		t.maxBackoff = maxBackoff
	}
	if t.maxReconnect == 0 {
		t.maxReconnect = maxReconnect
	}
	if t.pingPeriod <= 0 {
		t.pingPeriod = pingPeriod
	}
	if t.pongWait <= t.pingPeriod {
		t.pongWait = t.pingPeriod * 10 / 9
	}
	return t, nil
}

// SetHandshake sets the frame written on each new connection before it is
// published to Emit.
func (t *WebsocketTransport) SetHandshake(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handshake = &f
}

// Connect dials the websocket endpoint and writes the handshake.
func (t *WebsocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("channel: websocket: already closed")
	}
	if t.connected {
		return nil
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	if err := t.greet(ctx, conn, t.handshake); err != nil {
		conn.Close()
		return err
	}
	t.conn = conn
	t.connected = true
	return nil
}

// greet writes the handshake on conn, if one is set.
func (t *WebsocketTransport) greet(ctx context.Context, conn *websocket.Conn, hs *Frame) error {
	if hs == nil {
		return nil
	}
	return t.write(ctx, conn, *hs)
}

func (t *WebsocketTransport) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("channel: websocket: marshal %s: %w", f.Event, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("channel: websocket: write %s: %w", f.Event, err)
	}
	return nil
}

func (t *WebsocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("channel: websocket: dial %s: %s: %w", t.url, resp.Status, err)
		}
		return nil, fmt.Errorf("channel: websocket: dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// Listen starts the read loop and returns the inbound event channel.
func (t *WebsocketTransport) Listen(ctx context.Context) (<-chan Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, ErrNotConnected
	}
	if !t.listening {
		t.listening = true
		go t.run(ctx, t.conn)
	}
	return t.inbound, nil
}

// Emit writes one JSON frame.
func (t *WebsocketTransport) Emit(ctx context.Context, f Frame) error {
	t.mu.Lock()
	conn, ok := t.conn, t.connected
	t.mu.Unlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}
	return t.write(ctx, conn, f)
}

// Close sends a close frame and shuts the connection. Safe to call more
// than once.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	close(t.done)
	conn := t.conn
	listening := t.listening
	t.mu.Unlock()

	if !listening {
		close(t.inbound)
	}
	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (t *WebsocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// run owns the inbound channel: it reads from conn until it fails, then
// reconnects, until the transport is closed or reconnection gives up.
func (t *WebsocketTransport) run(ctx context.Context, conn *websocket.Conn) {
	defer close(t.inbound)
	for {
		err := t.readLoop(ctx, conn)
		if t.isClosed() || ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		t.logger.Warn("websocket disconnected", zap.Error(err))
		if !t.deliver(ctx, Event{Kind: KindDisconnected, Err: err, At: time.Now()}) {
			return
		}

		conn = t.reconnect(ctx)
		if conn == nil {
			if !t.isClosed() && ctx.Err() == nil {
				t.deliver(ctx, Event{Kind: KindError, Detail: "connection lost", At: time.Now()})
			}
			return
		}
		if !t.deliver(ctx, Event{Kind: KindConnected, At: time.Now()}) {
			return
		}
	}
}

// reconnect redials with exponential backoff. It returns nil when the
// transport closes, ctx ends, or all attempts fail.
func (t *WebsocketTransport) reconnect(ctx context.Context) *websocket.Conn {
	for attempt := 0; attempt < t.maxReconnect; attempt++ {
		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		t.logger.Info("websocket reconnecting",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", t.maxReconnect),
			zap.Duration("wait", wait),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		case <-time.After(wait):
		}

		conn, err := t.dial(ctx)
		if err != nil {
			t.logger.Warn("websocket reconnect failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		t.mu.Lock()
		hs := t.handshake
		t.mu.Unlock()
		if err := t.greet(ctx, conn, hs); err != nil {
			t.logger.Warn("websocket handshake failed", zap.Int("attempt", attempt+1), zap.Error(err))
			conn.Close()
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return nil
		}
		t.conn = conn
		t.connected = true
		t.mu.Unlock()
		return conn
	}
	return nil
}

func (t *WebsocketTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go t.pingLoop(conn, stopPing)

	conn.SetReadDeadline(time.Now().Add(t.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("closed by server")
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(t.pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.logger.Warn("websocket: malformed frame", zap.Error(err))
			continue
		}
		ev, err := Decode(f)
		if err != nil {
			t.logger.Warn("websocket: undecodable frame", zap.String("event", f.Event), zap.Error(err))
			continue
		}
		if !t.deliver(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (t *WebsocketTransport) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (t *WebsocketTransport) deliver(ctx context.Context, ev Event) bool {
	select {
	case t.inbound <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
}
