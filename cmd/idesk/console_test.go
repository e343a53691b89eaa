package main

import (
	"bytes"
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
	"github.com/zulandar/interviewdesk/internal/questions"
	"github.com/zulandar/interviewdesk/internal/room"
	"github.com/zulandar/interviewdesk/internal/session"
)

// syncBuffer is a bytes.Buffer safe for the console's background writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixedScorer struct {
	scores chatlog.Scores
	err    error
}

func (f fixedScorer) Score(context.Context, evaluation.Request) (chatlog.Scores, error) {
	return f.scores, f.err
}

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, req questions.Request) (*questions.Response, error) {
	return &questions.Response{
		Topic: req.Topic,
		Questions: []questions.Question{
			{ID: 1, Question: "Explain " + string(req.Topic), Difficulty: questions.Medium, FollowUpTopics: []string{"Go deeper on " + string(req.Topic)}},
		},
	}, nil
}

type consoleHarness struct {
	con       *console
	sess      *session.Session
	transport *channel.MockTransport
	out       *syncBuffer
}

func newConsoleHarness(t *testing.T, isHR bool, scorer evaluation.Scorer) *consoleHarness {
	t.Helper()
	log := chatlog.New()
	transport := channel.NewMockTransport()
	opts := session.Opts{
		Lookup: &room.Lookup{
			Room: &room.Room{RoomCode: "R7K2", Topic: "Backend"},
			IsHR: isHR,
		},
		Transport: transport,
		Log:       log,
	}
	if isHR {
		bank, err := questions.NewBank(questions.BankOpts{Fetcher: stubFetcher{}})
		if err != nil {
			t.Fatal(err)
		}
		opts.Bank = bank
		opts.Queue = followup.NewQueue()
		if scorer != nil {
			req, err := evaluation.NewRequester(evaluation.RequesterOpts{Log: log, Scorer: scorer, RoomCode: "R7K2"})
			if err != nil {
				t.Fatal(err)
			}
			opts.Requester = req
		}
	}
	sess, err := session.New(opts)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	out := &syncBuffer{}
	con := newConsole(sess, out)
	con.interactive = false
	return &consoleHarness{con: con, sess: sess, transport: transport, out: out}
}

// --- sending ---

func TestConsole_PlainTextSends(t *testing.T) {
	h := newConsoleHarness(t, false, nil)

	if err := h.con.handle(context.Background(), "  hello there  "); err != nil {
		t.Fatalf("handle: %v", err)
	}
	sent := h.transport.EmittedNamed(channel.EventSendMessage)
	if len(sent) != 1 || sent[0].Data["message"] != "hello there" {
		t.Fatalf("emitted = %+v", sent)
	}
	if h.sess.Log().Len() != 1 {
		t.Errorf("log len = %d, want 1", h.sess.Log().Len())
	}
}

func TestConsole_BlankLineIgnored(t *testing.T) {
	h := newConsoleHarness(t, false, nil)
	if err := h.con.handle(context.Background(), "   "); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(h.transport.EmittedNamed(channel.EventSendMessage)); n != 0 {
		t.Errorf("emitted %d messages, want 0", n)
	}
}

func TestConsole_QuitAndUnknown(t *testing.T) {
	h := newConsoleHarness(t, false, nil)
	ctx := context.Background()

	if err := h.con.handle(ctx, "/quit"); !errors.Is(err, errQuit) {
		t.Errorf("/quit = %v, want errQuit", err)
	}
	if err := h.con.handle(ctx, "/bogus"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("/bogus = %v", err)
	}
}

func TestConsole_End(t *testing.T) {
	h := newConsoleHarness(t, true, nil)
	if err := h.con.handle(context.Background(), "/end"); err != nil {
		t.Fatalf("/end: %v", err)
	}
	if n := len(h.transport.EmittedNamed(channel.EventEndRoom)); n != 1 {
		t.Errorf("end_room frames = %d, want 1", n)
	}
}

// --- reviewer tooling ---

func TestConsole_CandidateHasNoBank(t *testing.T) {
	h := newConsoleHarness(t, false, nil)
	for _, line := range []string{"/questions", "/load c-1", "/select skills 1", "/refresh skills"} {
		if err := h.con.handle(context.Background(), line); err == nil {
			t.Errorf("%s: expected error for candidate", line)
		}
	}
}

func TestConsole_LoadSelectFollowUps(t *testing.T) {
	h := newConsoleHarness(t, true, nil)
	ctx := context.Background()

	if err := h.con.handle(ctx, "/load cand-9"); err != nil {
		t.Fatalf("/load: %v", err)
	}
	h.con.wait()
	if got := h.sess.Bank().CandidateID(); got != "cand-9" {
		t.Errorf("CandidateID = %q", got)
	}

	if err := h.con.handle(ctx, "/select skills 1"); err != nil {
		t.Fatalf("/select: %v", err)
	}
	if h.sess.Queue().Len() != 1 || h.sess.Queue().Unread() != 1 {
		t.Fatalf("queue len=%d unread=%d, want 1/1", h.sess.Queue().Len(), h.sess.Queue().Unread())
	}

	if err := h.con.handle(ctx, "/followups"); err != nil {
		t.Fatalf("/followups: %v", err)
	}
	if !strings.Contains(h.out.String(), "Go deeper on skills") {
		t.Errorf("output missing follow-up:\n%s", h.out.String())
	}
	if h.sess.Queue().Unread() != 0 {
		t.Errorf("unread after view = %d, want 0", h.sess.Queue().Unread())
	}

	if err := h.con.handle(ctx, "/select skills 1"); err != nil {
		t.Fatalf("deselect: %v", err)
	}
	if h.sess.Queue().Len() != 0 {
		t.Errorf("queue len after deselect = %d", h.sess.Queue().Len())
	}
}

func TestConsole_SelectErrors(t *testing.T) {
	h := newConsoleHarness(t, true, nil)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"/select", "usage"},
		{"/select nope 1", "unknown topic"},
		{"/select skills x", "invalid question id"},
		{"/select skills 42", "skills/42"},
		{"/pick", "interactive terminal"},
	}
	for _, tt := range tests {
		err := h.con.handle(ctx, tt.line)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want containing %q", tt.line, err, tt.want)
		}
	}
}

// --- evaluation ---

func TestConsole_EvalScoresAnswer(t *testing.T) {
	scores := chatlog.Scores{Accuracy: 5, Depth: 4, Attitude: 5, Relevance: 4}
	h := newConsoleHarness(t, true, fixedScorer{scores: scores})
	ctx := context.Background()

	if err := h.con.handle(ctx, "What is a goroutine?"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.sess.Log().Append(chatlog.Remote("cand", "Sam", "A lightweight thread.")); err != nil {
		t.Fatal(err)
	}

	if err := h.con.handle(ctx, "/eval 2"); err != nil {
		t.Fatalf("/eval: %v", err)
	}
	h.con.wait()

	m, _ := h.sess.Log().At(1)
	if m.Scores == nil || *m.Scores != scores {
		t.Fatalf("scores = %+v", m.Scores)
	}
	if !strings.Contains(h.out.String(), "#2 favorable 4.50") {
		t.Errorf("output = %q", h.out.String())
	}
}

func TestConsole_EvalErrors(t *testing.T) {
	h := newConsoleHarness(t, true, fixedScorer{err: errors.New("boom")})
	ctx := context.Background()

	for _, line := range []string{"/eval", "/eval zero", "/eval 0", "/eval 3"} {
		if err := h.con.handle(ctx, line); err == nil {
			t.Errorf("%s: expected error", line)
		}
	}

	if _, err := h.sess.Log().Append(chatlog.Remote("cand", "Sam", "answer")); err != nil {
		t.Fatal(err)
	}
	if err := h.con.handle(ctx, "/eval 1"); err != nil {
		t.Fatalf("/eval 1: %v", err)
	}
	h.con.wait()
	if !strings.Contains(h.out.String(), "Evaluation of #1 failed") {
		t.Errorf("output = %q", h.out.String())
	}
	m, _ := h.sess.Log().At(0)
	if m.EvalState != chatlog.EvalFailed {
		t.Errorf("EvalState = %v, want failed", m.EvalState)
	}
}

// --- loop ---

func TestConsoleLoop_StopsOnRedirect(t *testing.T) {
	h := newConsoleHarness(t, false, nil)
	redirect := make(chan string, 1)
	redirect <- "/home"

	done := make(chan error, 1)
	go func() {
		done <- h.con.loop(context.Background(), strings.NewReader(""), redirect)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not return")
	}
}

func TestConsoleLoop_QuitCommand(t *testing.T) {
	h := newConsoleHarness(t, false, nil)
	err := h.con.loop(context.Background(), strings.NewReader("hi\n/quit\nnever sent\n"), make(chan string))
	if !errors.Is(err, errQuit) {
		t.Fatalf("loop = %v, want errQuit", err)
	}
	sent := h.transport.EmittedNamed(channel.EventSendMessage)
	if len(sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(sent))
	}
}

// --- formatting ---

func TestFormatMessage(t *testing.T) {
	scored := chatlog.Remote("c", "Sam", "answer")
	scored.Scores = &chatlog.Scores{Accuracy: 1, Depth: 1, Attitude: 1, Relevance: 1}
	pending := chatlog.Remote("c", "Sam", "answer")
	pending.EvalState = chatlog.EvalPending
	failed := chatlog.Remote("c", "Sam", "answer")
	failed.EvalState = chatlog.EvalFailed

	tests := []struct {
		name string
		msg  chatlog.Message
		want string
	}{
		{"self", chatlog.Self("hello"), "[1] You: hello"},
		{"system", chatlog.System(chatlog.PrefixSystem, "joined"), "[1] * joined"},
		{"scored", scored, "unfavorable 1.00"},
		{"pending", pending, "(evaluating...)"},
		{"failed", failed, "(evaluation failed)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatMessage(0, tt.msg)
			if !strings.Contains(got, tt.want) {
				t.Errorf("formatMessage = %q, want containing %q", got, tt.want)
			}
		})
	}
}

func TestFormatQuestion(t *testing.T) {
	q := questions.Question{ID: 3, Question: "Why Go?", Topic: questions.TopicSkills, Difficulty: questions.Easy, IsSelect: true}
	want := "[x] skills #3 (easy) Why Go?"
	if got := formatQuestion(q); got != want {
		t.Errorf("formatQuestion = %q, want %q", got, want)
	}
}
