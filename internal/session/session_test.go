package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/interviewdesk/internal/channel"
	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/evaluation"
	"github.com/zulandar/interviewdesk/internal/followup"
	"github.com/zulandar/interviewdesk/internal/notify"
	"github.com/zulandar/interviewdesk/internal/questions"
	"github.com/zulandar/interviewdesk/internal/room"
)

func testLookup(isHR bool, history ...room.HistoryItem) *room.Lookup {
	return &room.Lookup{
		Room: &room.Room{
			RoomCode:       "R7K2",
			Topic:          "Backend interview",
			JobID:          "job-1",
			AllowUserEmail: []string{"dana@example.com"},
			ChatHistory:    history,
		},
		IsHR: isHR,
	}
}

type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *navRecorder) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type countingReleaser struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReleaser) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []notify.Summary
}

func (f *fakeNotifier) Notify(_ context.Context, s notify.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, s)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type harness struct {
	sess      *Session
	transport *channel.MockTransport
	nav       *navRecorder
	lease     *countingReleaser
	notifier  *fakeNotifier
	cancel    context.CancelFunc
	done      chan error
}

// openSession builds and opens a session, then runs its reducer in the
// background.
func openSession(t *testing.T, lookup *room.Lookup, mutate func(*Opts)) *harness {
	t.Helper()
	h := &harness{
		transport: channel.NewMockTransport(),
		nav:       &navRecorder{},
		lease:     &countingReleaser{},
		notifier:  &fakeNotifier{},
		done:      make(chan error, 1),
	}
	opts := Opts{
		Lookup:        lookup,
		Transport:     h.transport,
		Lease:         h.lease,
		Notifier:      h.notifier,
		Navigate:      h.nav.navigate,
		RedirectDelay: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sess = s
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Transport: channel.NewMockTransport()}); err == nil {
		t.Error("expected error for missing lookup")
	}
	if _, err := New(Opts{Lookup: testLookup(true)}); err == nil {
		t.Error("expected error for missing transport")
	}
}

// ---------------------------------------------------------------------------
// Open / join
// ---------------------------------------------------------------------------

func TestOpen_JoinsFirstAndPreloadsHistory(t *testing.T) {
	h := openSession(t, testLookup(true,
		room.HistoryItem{SenderID: "u-1", Message: "hello"},
		room.HistoryItem{SenderID: "u-2", Message: "hi"},
	), nil)

	frames := h.transport.Emitted()
	if len(frames) != 1 || frames[0].Event != channel.EventJoinRoom {
		t.Fatalf("emitted = %+v, want one join_room", frames)
	}
	if frames[0].Data["room_code"] != "R7K2" {
		t.Errorf("join room_code = %v", frames[0].Data["room_code"])
	}
	if h.sess.State() != StateOpen {
		t.Errorf("State() = %s, want open", h.sess.State())
	}

	msgs := h.sess.Log().Messages()
	if len(msgs) != 2 {
		t.Fatalf("log len = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "history-0" || msgs[1].ID != "history-1" {
		t.Errorf("ids = %s, %s", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Username != "u-1" || msgs[0].IsSelf {
		t.Errorf("history[0] = %+v", msgs[0])
	}
}

func TestOpen_ConnectFailure(t *testing.T) {
	tr := channel.NewMockTransport()
	tr.ConnectErr = errors.New("dial tcp: refused")
	s, _ := New(Opts{Lookup: testLookup(false), Transport: tr})

	err := s.Open(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *ConnectionError", err)
	}
	if connErr.RoomCode != "R7K2" {
		t.Errorf("RoomCode = %q", connErr.RoomCode)
	}
	if s.State() != StateConnectFailed || s.ErrorText() != ConnectErrorText {
		t.Errorf("state=%s error=%q", s.State(), s.ErrorText())
	}
	if !tr.Closed() {
		t.Error("transport not closed after failed open")
	}
	if len(tr.Emitted()) != 0 {
		t.Error("frames emitted on a channel that never opened")
	}
	if err := s.Send(context.Background(), "hello"); err != nil {
		t.Errorf("Send after failed open: %v", err)
	}
	if s.Log().Len() != 0 {
		t.Error("Send appended to log on unopened channel")
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Run error = %v, want ErrNotOpen", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpen_Twice(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	if err := h.sess.Open(context.Background()); err == nil {
		t.Error("expected error opening twice")
	}
	if n := len(h.transport.EmittedNamed(channel.EventJoinRoom)); n != 1 {
		t.Errorf("joins = %d, want 1", n)
	}
}

func TestReconnect_Rejoins(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	h.transport.SimulateDrop(errors.New("eof"))
	h.transport.SimulateReconnect()
	h.transport.SimulateInbound(channel.Event{Kind: channel.KindSystem, Text: "after"})

	waitFor(t, "event after reconnect", func() bool { return h.sess.Log().Len() == 1 })
	if n := len(h.transport.EmittedNamed(channel.EventJoinRoom)); n != 2 {
		t.Errorf("joins = %d, want 2", n)
	}
	if h.sess.State() != StateOpen {
		t.Errorf("State() = %s, want open", h.sess.State())
	}
}

// A send racing a redial, before the reducer has seen the transport
// events, must never reach the new connection ahead of its join.
func TestReconnect_SendBeforeReducerCatchesUp(t *testing.T) {
	tr := channel.NewMockTransport()
	s, err := New(Opts{Lookup: testLookup(true), Transport: tr})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	tr.SimulateDrop(errors.New("eof"))
	if err := s.Send(ctx, "while down"); err == nil {
		t.Error("Send on a dropped connection should fail")
	}
	if s.Log().Len() != 0 {
		t.Error("failed send appended to the log")
	}

	tr.SimulateReconnect()
	if err := s.Send(ctx, "after redial"); err != nil {
		t.Fatalf("Send after redial: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()
	tr.SimulateInbound(channel.Event{Kind: channel.KindSystem, Text: "drained"})
	waitFor(t, "reducer drain", func() bool { return s.Log().Len() == 2 })
	cancel()
	<-done

	var names []string
	for _, f := range tr.Emitted() {
		names = append(names, f.Event)
	}
	want := []string{channel.EventJoinRoom, channel.EventJoinRoom, channel.EventSendMessage}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("emitted = %v, want %v", names, want)
	}
}

// ---------------------------------------------------------------------------
// Send / end
// ---------------------------------------------------------------------------

func TestSend(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	ctx := context.Background()

	if err := h.sess.Send(ctx, "   "); err != nil {
		t.Fatalf("Send blank: %v", err)
	}
	if err := h.sess.Send(ctx, "  Tell me about yourself \n"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := h.transport.EmittedNamed(channel.EventSendMessage)
	if len(sent) != 1 {
		t.Fatalf("send_message frames = %d, want 1", len(sent))
	}
	if sent[0].Data["message"] != "Tell me about yourself" || sent[0].Data["room_code"] != "R7K2" {
		t.Errorf("frame data = %v", sent[0].Data)
	}

	msgs := h.sess.Log().Messages()
	if len(msgs) != 1 {
		t.Fatalf("log len = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if !m.IsSelf || m.Username != chatlog.SelfUsername || m.SenderID != nil || !strings.HasPrefix(m.ID, "self-") {
		t.Errorf("self message = %+v", m)
	}
}

func TestSend_EmitErrorDoesNotAppend(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	h.transport.EmitErr = errors.New("broken pipe")
	if err := h.sess.Send(context.Background(), "hi"); err == nil {
		t.Error("expected error")
	}
	if h.sess.Log().Len() != 0 {
		t.Error("message appended despite emit failure")
	}
}

func TestEndRoom(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	if err := h.sess.EndRoom(context.Background()); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	if n := len(h.transport.EmittedNamed(channel.EventEndRoom)); n != 1 {
		t.Errorf("end_room frames = %d, want 1", n)
	}

	// The server then broadcasts room_closed; only one summary is posted.
	h.transport.SimulateInbound(channel.Event{Kind: channel.KindRoomClosed, By: "hr"})
	waitFor(t, "room closed", func() bool { return h.sess.State() == StateRoomClosed })
	h.sess.Close()
	if n := h.notifier.count(); n != 1 {
		t.Errorf("summaries = %d, want 1", n)
	}
}

func TestEndRoom_NotOpen(t *testing.T) {
	s, _ := New(Opts{Lookup: testLookup(true), Transport: channel.NewMockTransport()})
	if err := s.EndRoom(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("error = %v, want ErrNotOpen", err)
	}
}

// ---------------------------------------------------------------------------
// Inbound reducer
// ---------------------------------------------------------------------------

func TestInbound_MessagesInReceiptOrder(t *testing.T) {
	h := openSession(t, testLookup(true), nil)

	h.sess.Send(context.Background(), "Tell me about yourself")
	h.transport.SimulateFrame(channel.Frame{Event: channel.EventMessageReceived, Data: map[string]any{
		"senderID": "u-2", "username": "Dana", "message": "I have three years of backend experience",
	}})
	h.transport.SimulateFrame(channel.Frame{Event: channel.EventMessageReceivedAlt, Data: map[string]any{
		"senderID": "u-2", "message": "and some Go",
	}})
	h.transport.SimulateFrame(channel.Frame{Event: channel.EventSystemMessage, Data: map[string]any{
		"message": "Dana is typing",
	}})

	waitFor(t, "4 messages", func() bool { return h.sess.Log().Len() == 4 })
	msgs := h.sess.Log().Messages()

	if msgs[1].Username != "Dana" || msgs[1].IsSelf || msgs[1].IsSystem || !strings.HasPrefix(msgs[1].ID, "msg-") {
		t.Errorf("remote = %+v", msgs[1])
	}
	if msgs[2].Username != chatlog.UnknownUsername {
		t.Errorf("alt username = %q, want %q", msgs[2].Username, chatlog.UnknownUsername)
	}
	if !msgs[3].IsSystem || msgs[3].Username != chatlog.SystemUsername || !strings.HasPrefix(msgs[3].ID, "sys-") {
		t.Errorf("system = %+v", msgs[3])
	}
}

func TestInbound_DuplicateDeliveryAppendsTwice(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	ev := channel.Event{Kind: channel.KindMessage, SenderID: "u-2", Username: "Dana", Text: "same"}
	h.transport.SimulateInbound(ev)
	h.transport.SimulateInbound(ev)

	waitFor(t, "2 messages", func() bool { return h.sess.Log().Len() == 2 })
	msgs := h.sess.Log().Messages()
	if msgs[0].ID == msgs[1].ID {
		t.Error("duplicate delivery produced the same id")
	}
}

func TestRoomClosed_RedirectByRole(t *testing.T) {
	tests := []struct {
		name     string
		isHR     bool
		by       string
		wantText string
		wantPath string
	}{
		{"reviewer", true, "reviewer", "Room closed by reviewer", "/hr"},
		{"respondent", false, "reviewer", "Room closed by reviewer", "/home"},
		{"no closer", false, "", "Room closed by someone", "/home"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := openSession(t, testLookup(tt.isHR), nil)
			h.transport.SimulateFrame(channel.Frame{Event: channel.EventRoomClosed, Data: map[string]any{"by": tt.by}})

			waitFor(t, "redirect", func() bool { return len(h.nav.got()) == 1 })

			msgs := h.sess.Log().Messages()
			if len(msgs) != 1 {
				t.Fatalf("log len = %d, want exactly 1", len(msgs))
			}
			if msgs[0].Text != tt.wantText || !msgs[0].IsSystem || !strings.HasPrefix(msgs[0].ID, "closed-") {
				t.Errorf("closure message = %+v", msgs[0])
			}
			if got := h.nav.got()[0]; got != tt.wantPath {
				t.Errorf("redirect = %q, want %q", got, tt.wantPath)
			}
			if h.sess.State() != StateRoomClosed || h.sess.RedirectPath() != tt.wantPath {
				t.Errorf("state=%s redirect=%q", h.sess.State(), h.sess.RedirectPath())
			}
			if err := h.sess.Send(context.Background(), "late"); err != nil || h.sess.Log().Len() != 1 {
				t.Errorf("Send after close: err=%v len=%d", err, h.sess.Log().Len())
			}
		})
	}
}

func TestRoomClosed_RedirectWaitsForDelay(t *testing.T) {
	h := openSession(t, testLookup(true), func(o *Opts) { o.RedirectDelay = 200 * time.Millisecond })
	h.transport.SimulateInbound(channel.Event{Kind: channel.KindRoomClosed, By: "hr"})
	waitFor(t, "closed state", func() bool { return h.sess.State() == StateRoomClosed })
	if n := len(h.nav.got()); n != 0 {
		t.Errorf("redirected before delay elapsed")
	}
	waitFor(t, "redirect", func() bool { return len(h.nav.got()) == 1 })
}

func TestClose_CancelsPendingRedirect(t *testing.T) {
	h := openSession(t, testLookup(true), func(o *Opts) { o.RedirectDelay = 100 * time.Millisecond })
	h.transport.SimulateInbound(channel.Event{Kind: channel.KindRoomClosed, By: "hr"})
	waitFor(t, "closed state", func() bool { return h.sess.State() == StateRoomClosed })

	if err := h.sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := len(h.nav.got()); n != 0 {
		t.Errorf("redirect fired after Close")
	}
}

func TestRoomAlreadyClosed(t *testing.T) {
	h := openSession(t, testLookup(false), nil)
	h.transport.SimulateFrame(channel.Frame{Event: channel.EventRoomAlreadyClosed})
	waitFor(t, "terminal state", func() bool { return h.sess.State() == StateRoomAlreadyClosed })

	if h.sess.ErrorText() != AlreadyClosedText {
		t.Errorf("ErrorText() = %q, want %q", h.sess.ErrorText(), AlreadyClosedText)
	}
	time.Sleep(60 * time.Millisecond)
	if len(h.nav.got()) != 0 || h.sess.RedirectPath() != "" {
		t.Error("already-closed room scheduled a redirect")
	}
}

func TestErrorEvent(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	h.transport.SimulateFrame(channel.Frame{Event: channel.EventError, Data: map[string]any{"detail": "Not allowed"}})
	waitFor(t, "error text", func() bool { return h.sess.ErrorText() == "Not allowed" })

	h.transport.SimulateFrame(channel.Frame{Event: channel.EventError})
	waitFor(t, "default error text", func() bool { return h.sess.ErrorText() == SocketErrorText })
	if h.sess.State() != StateOpen {
		t.Errorf("State() = %s, want open", h.sess.State())
	}
}

func TestRun_InboundClosed(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	h.transport.Close()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after inbound closed")
	}
	if h.sess.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", h.sess.State())
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

func TestClose_Idempotent(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	h.sess.Close()
	h.sess.Close()
	if !h.transport.Closed() {
		t.Error("transport not closed")
	}
	if h.lease.calls != 1 {
		t.Errorf("lease released %d times, want 1", h.lease.calls)
	}
	if h.sess.State() != StateClosed {
		t.Errorf("State() = %s, want closed", h.sess.State())
	}
}

// ---------------------------------------------------------------------------
// Owned collaborators
// ---------------------------------------------------------------------------

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, req questions.Request) (*questions.Response, error) {
	return &questions.Response{Topic: req.Topic, Questions: []questions.Question{
		{ID: 1, Question: "q-" + string(req.Topic), FollowUpTopics: []string{"f-" + string(req.Topic)}},
	}}, nil
}

type stubScorer struct{}

func (stubScorer) Score(context.Context, evaluation.Request) (chatlog.Scores, error) {
	return chatlog.Scores{Accuracy: 4, Depth: 4, Attitude: 4, Relevance: 4}, nil
}

func TestSession_WiresBankQueueAndEvaluator(t *testing.T) {
	bank, _ := questions.NewBank(questions.BankOpts{Fetcher: stubFetcher{}})
	queue := followup.NewQueue()
	log := chatlog.New()
	req, _ := evaluation.NewRequester(evaluation.RequesterOpts{Log: log, Scorer: stubScorer{}, RoomCode: "R7K2"})

	h := openSession(t, testLookup(true), func(o *Opts) {
		o.Bank, o.Queue, o.Log, o.Requester = bank, queue, log, req
	})

	if err := bank.Load(context.Background(), "C9"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := bank.Select(questions.TopicSkills, 1); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if queue.Len() != 1 || h.sess.Snapshot().Unread != 1 {
		t.Errorf("queue len=%d unread=%d, want 1/1", queue.Len(), h.sess.Snapshot().Unread)
	}

	h.sess.Send(context.Background(), "Tell me about yourself")
	h.transport.SimulateInbound(channel.Event{Kind: channel.KindMessage, SenderID: "u-2", Username: "Dana", Text: "Three years"})
	waitFor(t, "answer", func() bool { return log.Len() == 2 })

	answer, _ := log.At(1)
	scores, err := h.sess.Evaluate(context.Background(), answer.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if scores.Average() != 4 {
		t.Errorf("average = %v", scores.Average())
	}
}

// blockingScorer returns fixed scores once release is closed.
type blockingScorer struct {
	release chan struct{}
}

func (b blockingScorer) Score(context.Context, evaluation.Request) (chatlog.Scores, error) {
	<-b.release
	return chatlog.Scores{Accuracy: 5, Depth: 5, Attitude: 5, Relevance: 5}, nil
}

func TestEvaluate_ResultsApplyUnderReducerLock(t *testing.T) {
	log := chatlog.New()
	scorer := blockingScorer{release: make(chan struct{})}
	req, _ := evaluation.NewRequester(evaluation.RequesterOpts{Log: log, Scorer: scorer, RoomCode: "R7K2"})
	h := openSession(t, testLookup(true), func(o *Opts) { o.Log, o.Requester = log, req })

	h.transport.SimulateInbound(channel.Event{Kind: channel.KindMessage, SenderID: "u-2", Text: "answer"})
	waitFor(t, "answer", func() bool { return log.Len() == 1 })
	answer, _ := log.At(0)

	done := make(chan error, 1)
	go func() {
		_, err := h.sess.Evaluate(context.Background(), answer.ID)
		done <- err
	}()
	waitFor(t, "pending", func() bool {
		m, _ := log.At(0)
		return m.EvalState == chatlog.EvalPending
	})

	h.sess.applyMu.Lock()
	close(scorer.release)
	select {
	case err := <-done:
		h.sess.applyMu.Unlock()
		t.Fatalf("evaluation finished while the reducer lock was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if m, _ := log.At(0); m.Scores != nil {
		t.Error("scores attached while the reducer lock was held")
	}
	h.sess.applyMu.Unlock()

	if err := <-done; err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if m, _ := log.At(0); m.Scores == nil || m.EvalState != chatlog.EvalDone {
		t.Errorf("message after evaluation = %+v", m)
	}
}

func TestEvaluate_NotConfigured(t *testing.T) {
	h := openSession(t, testLookup(true), nil)
	if _, err := h.sess.Evaluate(context.Background(), "msg-1"); !errors.Is(err, ErrNoEvaluator) {
		t.Errorf("error = %v, want ErrNoEvaluator", err)
	}
}

func TestSnapshot(t *testing.T) {
	h := openSession(t, testLookup(false), nil)
	snap := h.sess.Snapshot()
	if snap.RoomCode != "R7K2" || snap.Role != room.RoleCandidate || snap.State != StateOpen {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.JobID != "job-1" || len(snap.Allowed) != 1 {
		t.Errorf("candidate card = %+v", snap)
	}
}
