// Package session coordinates one live interview room: it owns the
// channel, the message log, the suggested-question bank, the follow-up
// queue and the evaluation requester for the lifetime of the view.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/interviewdesk/internal/channel"
	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/evaluation"
	"github.com/zulandar/interviewdesk/internal/followup"
	"github.com/zulandar/interviewdesk/internal/logger"
	"github.com/zulandar/interviewdesk/internal/notify"
	"github.com/zulandar/interviewdesk/internal/questions"
	"github.com/zulandar/interviewdesk/internal/room"
)

// DefaultRedirectDelay is the pause between a room closing and the redirect.
const DefaultRedirectDelay = 1500 * time.Millisecond

// User-facing texts.
const (
	AlreadyClosedText = "This room has already been closed."
	SocketErrorText   = "Socket error"
	ConnectErrorText  = "Failed to connect to the interview room"
)

var (
	// ErrNotOpen is returned by actions that need an open channel.
	ErrNotOpen = errors.New("session: channel is not open")
	// ErrNoEvaluator is returned by Evaluate when no requester is configured.
	ErrNoEvaluator = errors.New("session: evaluation is not configured")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateOpen
	// StateConnectFailed means the channel was never opened.
	StateConnectFailed
	// StateRoomClosed means the room was closed and a redirect is scheduled.
	StateRoomClosed
	// StateRoomAlreadyClosed is terminal; no redirect is scheduled.
	StateRoomAlreadyClosed
	// StateDisconnected means the transport gave up reconnecting.
	StateDisconnected
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateOpen:              "open",
	StateConnectFailed:     "connect_failed",
	StateRoomClosed:        "room_closed",
	StateRoomAlreadyClosed: "room_already_closed",
	StateDisconnected:      "disconnected",
	StateClosed:            "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionError reports that the channel could not be opened. The session
// may be discarded and a new one opened.
type ConnectionError struct {
	RoomCode string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: connect to room %s: %v", e.RoomCode, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Releaser is satisfied by *Lease.
type Releaser interface {
	Release() error
}

// Session is the scoped context of one interview view.
type Session struct {
	lookup        *room.Lookup
	roomCode      string
	role          room.Role
	transport     channel.Transport
	log           *chatlog.Log
	bank          *questions.Bank
	queue         *followup.Queue
	requester     *evaluation.Requester
	lease         Releaser
	notifier      notify.Notifier
	navigate      func(path string)
	redirectDelay time.Duration
	logger        *zap.Logger

	// applyMu serialises every log change: inbound events, local sends
	// and evaluation results.
	applyMu sync.Mutex

	mu       sync.Mutex
	state    State
	errText  string
	closedBy string
	redirect string
	timer    *time.Timer
	inbound  <-chan channel.Event
	notified bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Opts holds parameters for creating a Session.
type Opts struct {
	Lookup    *room.Lookup      // required
	Transport channel.Transport // required
	Log       *chatlog.Log      // defaults to an empty log
	Bank      *questions.Bank   // optional
	Queue     *followup.Queue   // optional; attached to Bank when both are set
	Requester *evaluation.Requester
	Lease     Releaser
	Notifier  notify.Notifier
	// Navigate is called with the destination path when the room closes.
	Navigate      func(path string)
	RedirectDelay time.Duration // defaults to DefaultRedirectDelay
	Logger        *zap.Logger
}

// New creates a Session. Nothing is connected until Open.
func New(opts Opts) (*Session, error) {
	if opts.Lookup == nil || opts.Lookup.Room == nil {
		return nil, fmt.Errorf("session: room lookup is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	l := opts.Log
	if l == nil {
		l = chatlog.New()
	}
	delay := opts.RedirectDelay
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	if opts.Bank != nil && opts.Queue != nil {
		opts.Bank.AddListener(opts.Queue)
	}
	role := opts.Lookup.Role()
	code := opts.Lookup.Room.RoomCode
	s := &Session{
		lookup:        opts.Lookup,
		roomCode:      code,
		role:          role,
		transport:     opts.Transport,
		log:           l,
		bank:          opts.Bank,
		queue:         opts.Queue,
		requester:     opts.Requester,
		lease:         opts.Lease,
		notifier:      opts.Notifier,
		navigate:      opts.Navigate,
		redirectDelay: delay,
		logger:        logger.WithSession(opts.Logger, code, string(role)),
	}
	if s.requester != nil {
		s.requester.Route(reducerSink{s})
	}
	return s, nil
}

// reducerSink applies evaluation results under the reducer lock.
type reducerSink struct{ s *Session }

func (r reducerSink) SetEvalState(id string, state chatlog.EvalState, errText string) error {
	r.s.applyMu.Lock()
	defer r.s.applyMu.Unlock()
	return r.s.log.SetEvalState(id, state, errText)
}

func (r reducerSink) AttachScores(id string, sc chatlog.Scores) error {
	r.s.applyMu.Lock()
	defer r.s.applyMu.Unlock()
	return r.s.log.AttachScores(id, sc)
}

// Open preloads the stored transcript, connects the transport, joins the
// room and starts listening. A failure leaves the session in
// StateConnectFailed and returns a *ConnectionError; the transport is
// closed before returning.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: open: session is %s", st)
	}
	s.mu.Unlock()

	for _, m := range HistoryMessages(s.lookup.Room) {
		if _, err := s.log.Append(m); err != nil {
			s.logger.Warn("preload history", zap.Error(err))
		}
	}

	inbound, err := s.connect(ctx)
	if err != nil {
		s.transport.Close()
		s.mu.Lock()
		s.state = StateConnectFailed
		s.errText = ConnectErrorText
		s.mu.Unlock()
		s.logger.Warn("connect failed", zap.Error(err))
		return &ConnectionError{RoomCode: s.roomCode, Err: err}
	}

	s.mu.Lock()
	s.inbound = inbound
	s.state = StateOpen
	s.mu.Unlock()
	s.logger.Info("joined room", zap.Int("history", s.log.Len()))
	return nil
}

// connect dials the transport with the join frame as its handshake, so
// every connection, including redials, joins before carrying traffic.
func (s *Session) connect(ctx context.Context) (<-chan channel.Event, error) {
	s.transport.SetHandshake(channel.JoinRoom(s.roomCode))
	if err := s.transport.Connect(ctx); err != nil {
		return nil, err
	}
	return s.transport.Listen(ctx)
}

// Run applies inbound events in receipt order until ctx ends or the
// transport stops delivering. Open must have succeeded.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	inbound := s.inbound
	s.mu.Unlock()
	if inbound == nil {
		return ErrNotOpen
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-inbound:
			if !ok {
				s.mu.Lock()
				if s.state == StateOpen {
					s.state = StateDisconnected
				}
				s.mu.Unlock()
				s.logger.Info("inbound channel closed")
				return nil
			}
			s.apply(ctx, ev)
		}
	}
}

// apply is the single reducer for inbound events.
func (s *Session) apply(ctx context.Context, ev channel.Event) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	log := s.logger.With(zap.String(logger.FieldEvent, ev.Kind.String()))
	switch ev.Kind {
	case channel.KindMessage:
		s.appendMessage(chatlog.Remote(ev.SenderID, ev.Username, ev.Text))

	case channel.KindSystem:
		s.appendMessage(chatlog.System(chatlog.PrefixSystem, ev.Text))

	case channel.KindRoomClosed:
		by := strings.TrimSpace(ev.By)
		if by == "" {
			by = "someone"
		}
		s.appendMessage(chatlog.System(chatlog.PrefixClosed, "Room closed by "+by))
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateRoomClosed
		s.closedBy = by
		s.scheduleRedirectLocked()
		s.mu.Unlock()
		log.Info("room closed", zap.String("by", by))
		s.sendSummary(ctx, by)

	case channel.KindRoomAlreadyClosed:
		s.mu.Lock()
		if s.state != StateClosed {
			s.state = StateRoomAlreadyClosed
			s.errText = AlreadyClosedText
		}
		s.mu.Unlock()
		log.Info("room already closed")

	case channel.KindError:
		text := strings.TrimSpace(ev.Detail)
		if text == "" {
			text = SocketErrorText
		}
		s.mu.Lock()
		s.errText = text
		s.mu.Unlock()
		log.Warn("channel error", zap.String("detail", text))

	case channel.KindConnected:
		// The transport already rejoined on the new connection.
		s.mu.Lock()
		if s.state == StateOpen {
			s.errText = ""
		}
		s.mu.Unlock()
		log.Info("rejoined room")

	case channel.KindDisconnected:
		log.Info("disconnected", zap.Error(ev.Err))

	default:
		log.Debug("ignoring event", zap.String("name", ev.Name))
	}
}

func (s *Session) appendMessage(m chatlog.Message) {
	if _, err := s.log.Append(m); err != nil {
		s.logger.Warn("append message", zap.String(logger.FieldMessageID, m.ID), zap.Error(err))
	}
}

// scheduleRedirectLocked must be called with s.mu held.
func (s *Session) scheduleRedirectLocked() {
	if s.timer != nil {
		return
	}
	path := s.role.HomePath()
	s.redirect = path
	s.timer = time.AfterFunc(s.redirectDelay, func() {
		s.mu.Lock()
		closed := s.state == StateClosed
		s.mu.Unlock()
		if closed {
			return
		}
		s.logger.Info("redirecting", zap.String("path", path))
		if s.navigate != nil {
			s.navigate(path)
		}
	})
}

// sendSummary posts the session summary once, in the background.
func (s *Session) sendSummary(ctx context.Context, closedBy string) {
	if s.notifier == nil {
		return
	}
	s.mu.Lock()
	if s.notified {
		s.mu.Unlock()
		return
	}
	s.notified = true
	s.mu.Unlock()

	summary := notify.Summarize(s.roomCode, string(s.role), closedBy, s.log.Messages())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.notifier.Notify(nctx, summary); err != nil {
			s.logger.Warn("post summary", zap.Error(err))
		}
	}()
}

// Send emits text to the room and appends it to the log as a self message.
// Blank text or a channel that is not open is a silent no-op.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || s.State() != StateOpen {
		return nil
	}
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if err := s.transport.Emit(ctx, channel.SendMessage(s.roomCode, text)); err != nil {
		return fmt.Errorf("session: send: %w", err)
	}
	s.appendMessage(chatlog.Self(text))
	return nil
}

// EndRoom asks the server to close the room for both participants.
func (s *Session) EndRoom(ctx context.Context) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}
	if err := s.transport.Emit(ctx, channel.EndRoom(s.roomCode)); err != nil {
		return fmt.Errorf("session: end room: %w", err)
	}
	s.logger.Info("end room requested")
	s.sendSummary(ctx, string(s.role))
	return nil
}

// Evaluate scores the answer in messageID. It blocks until the scorer
// returns.
func (s *Session) Evaluate(ctx context.Context, messageID string) (chatlog.Scores, error) {
	if s.requester == nil {
		return chatlog.Scores{}, ErrNoEvaluator
	}
	return s.requester.Trigger(ctx, messageID)
}

// Close tears the session down: it cancels a pending redirect, closes the
// transport, waits for a pending summary post and releases the lease. It
// is safe to call more than once and after a failed Open.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()

		var errs []error
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		s.wg.Wait()
		if s.lease != nil {
			if err := s.lease.Release(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("session closed")
	})
	return s.closeErr
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrorText returns the user-visible error line, if any.
func (s *Session) ErrorText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errText
}

// ClosedBy returns who closed the room, once it is closed.
func (s *Session) ClosedBy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedBy
}

// RedirectPath returns the scheduled redirect destination, if any.
func (s *Session) RedirectPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirect
}

func (s *Session) RoomCode() string                 { return s.roomCode }
func (s *Session) Role() room.Role                  { return s.role }
func (s *Session) Room() *room.Room                 { return s.lookup.Room }
func (s *Session) Log() *chatlog.Log                { return s.log }
func (s *Session) Bank() *questions.Bank            { return s.bank }
func (s *Session) Queue() *followup.Queue           { return s.queue }
func (s *Session) Requester() *evaluation.Requester { return s.requester }

// Snapshot is a point-in-time view of session status.
type Snapshot struct {
	RoomCode string    `json:"roomCode"`
	Role     room.Role `json:"role"`
	Topic    string    `json:"topic"`
	JobID    string    `json:"jobID"`
	Allowed  []string  `json:"allowUserEmail"`
	State    State     `json:"state"`
	Error    string    `json:"error,omitempty"`
	ClosedBy string    `json:"closedBy,omitempty"`
	Redirect string    `json:"redirect,omitempty"`
	Messages int       `json:"messages"`
	Unread   int       `json:"unreadFollowUps"`
}

// Snapshot returns the current status.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		RoomCode: s.roomCode,
		Role:     s.role,
		Topic:    s.lookup.Room.Topic,
		JobID:    s.lookup.Room.JobID,
		Allowed:  append([]string(nil), s.lookup.Room.AllowUserEmail...),
		State:    s.state,
		Error:    s.errText,
		ClosedBy: s.closedBy,
		Redirect: s.redirect,
	}
	s.mu.Unlock()
	snap.Messages = s.log.Len()
	if s.queue != nil {
		snap.Unread = s.queue.Unread()
	}
	return snap
}
