package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/evaluation"
	"github.com/zulandar/interviewdesk/internal/questions"
	"github.com/zulandar/interviewdesk/internal/session"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit requested")

const consoleHelp = `Type a message and press ENTER to send it.
Commands:
  /log                 reprint the conversation with message numbers
  /eval N              score answer number N against the preceding question
  /end                 close the room for both participants
  /load CANDIDATE      fetch suggested questions for a candidate
  /questions [TOPIC]   list suggested questions
  /select TOPIC ID     toggle a suggested question
  /pick                choose a question interactively
  /refresh TOPIC       fetch new questions for one topic
  /followups           show follow-up prompts and mark them read
  /status              show session status
  /quit                leave the room
`

// console turns typed lines into session actions.
type console struct {
	sess *session.Session
	out  io.Writer

	// interactive enables promptui pickers.
	interactive bool

	mu sync.Mutex
	wg sync.WaitGroup
}

func newConsole(sess *session.Session, out io.Writer) *console {
	return &console{
		sess:        sess,
		out:         out,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// wait blocks until background evaluations and loads finish.
func (c *console) wait() {
	c.wg.Wait()
}

// handle runs one input line.
func (c *console) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.sess.Send(ctx, line)
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		c.printf("%s", consoleHelp)
	case "/log":
		c.printLog()
	case "/status":
		c.printStatus()
	case "/end":
		if err := c.sess.EndRoom(ctx); err != nil {
			return err
		}
		c.printf("End of room requested.\n")
	case "/eval":
		return c.evaluate(ctx, args)
	case "/load":
		return c.load(ctx, args)
	case "/questions":
		return c.listQuestions(args)
	case "/select":
		return c.selectQuestion(args)
	case "/pick":
		return c.pick()
	case "/refresh":
		return c.refresh(ctx, args)
	case "/followups":
		c.printFollowUps()
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

func (c *console) printLog() {
	for i, m := range c.sess.Log().Messages() {
		c.printf("%s\n", formatMessage(i, m))
	}
}

func (c *console) printStatus() {
	snap := c.sess.Snapshot()
	c.printf("Room %s (%s): %s, %d messages", snap.RoomCode, snap.Role, snap.State, snap.Messages)
	if c.sess.Queue() != nil {
		c.printf(", %d unread follow-ups", snap.Unread)
	}
	c.printf("\n")
	if snap.Error != "" {
		c.printf("Error: %s\n", snap.Error)
	}
}

// evaluate scores the N-th message (1-based) in the background.
func (c *console) evaluate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: /eval N")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid message number %q", args[0])
	}
	m, ok := c.sess.Log().At(n - 1)
	if !ok {
		return fmt.Errorf("no message number %d", n)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		scores, err := c.sess.Evaluate(ctx, m.ID)
		if err != nil {
			c.printf("Evaluation of #%d failed: %v\n", n, err)
			return
		}
		c.printf("#%d %s\n", n, formatScores(scores))
	}()
	return nil
}

func (c *console) bank() (*questions.Bank, error) {
	b := c.sess.Bank()
	if b == nil {
		return nil, fmt.Errorf("suggested questions are only available to the reviewer")
	}
	return b, nil
}

func (c *console) load(ctx context.Context, args []string) error {
	b, err := c.bank()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: /load CANDIDATE")
	}
	c.printf("Loading suggested questions for %s...\n", args[0])
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := b.Load(ctx, args[0]); err != nil {
			c.printf("%s\n", b.Err())
			return
		}
		c.printf("Suggested questions ready (/questions).\n")
	}()
	return nil
}

func (c *console) listQuestions(args []string) error {
	b, err := c.bank()
	if err != nil {
		return err
	}
	topics := questions.Topics
	if len(args) == 1 {
		t, err := questions.ParseTopic(args[0])
		if err != nil {
			return err
		}
		topics = []questions.Topic{t}
	}
	if b.Loading() {
		c.printf("(loading)\n")
	}
	if msg := b.Err(); msg != "" {
		c.printf("%s\n", msg)
	}
	for _, t := range topics {
		c.printf("%s:\n", t)
		qs := b.Questions(t)
		if len(qs) == 0 {
			c.printf("  (none)\n")
		}
		for _, q := range qs {
			c.printf("  %s\n", formatQuestion(q))
		}
	}
	return nil
}

func (c *console) selectQuestion(args []string) error {
	b, err := c.bank()
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: /select TOPIC ID")
	}
	t, err := questions.ParseTopic(args[0])
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid question id %q", args[1])
	}
	q, err := b.Select(t, id)
	if err != nil {
		return err
	}
	c.printf("%s\n", formatQuestion(q))
	return nil
}

func (c *console) pick() error {
	b, err := c.bank()
	if err != nil {
		return err
	}
	if !c.interactive {
		return fmt.Errorf("/pick needs an interactive terminal; use /select")
	}
	var items []questions.Question
	var labels []string
	for _, t := range questions.Topics {
		for _, q := range b.Questions(t) {
			items = append(items, q)
			labels = append(labels, formatQuestion(q))
		}
	}
	if len(items) == 0 {
		return fmt.Errorf("no suggested questions loaded")
	}
	prompt := promptui.Select{
		Label: "Toggle a question",
		Items: labels,
		Size:  12,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return err
	}
	q, err := b.Select(items[idx].Topic, items[idx].ID)
	if err != nil {
		return err
	}
	c.printf("%s\n", formatQuestion(q))
	return nil
}

func (c *console) refresh(ctx context.Context, args []string) error {
	b, err := c.bank()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: /refresh TOPIC")
	}
	t, err := questions.ParseTopic(args[0])
	if err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := b.RefreshTopic(ctx, t); err != nil {
			c.printf("%s\n", b.Err())
			return
		}
		c.printf("New %s questions ready.\n", t)
	}()
	return nil
}

// printFollowUps shows the queue newest first. Leaving the view marks
// everything read, so the next view shows no unread items.
func (c *console) printFollowUps() {
	q := c.sess.Queue()
	if q == nil {
		c.printf("No follow-up queue in this session.\n")
		return
	}
	items := q.Display()
	if len(items) == 0 {
		c.printf("Select a main question to add its follow-up topics here.\n")
	}
	for _, it := range items {
		mark := "*"
		if it.Read {
			mark = " "
		}
		c.printf("%s %s Question-%d: %s\n", mark, it.SourceTopic, it.SourceQuestionID, it.Text)
	}
	q.MarkRead()
}

// formatMessage renders one log entry with its 1-based number.
func formatMessage(i int, m chatlog.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] ", i+1)
	switch {
	case m.IsSystem:
		fmt.Fprintf(&b, "* %s", m.Text)
	default:
		fmt.Fprintf(&b, "%s: %s", m.Username, m.Text)
	}
	switch {
	case m.Scores != nil:
		fmt.Fprintf(&b, "  (%s)", formatScores(*m.Scores))
	case m.EvalState == chatlog.EvalPending:
		b.WriteString("  (evaluating...)")
	case m.EvalState == chatlog.EvalFailed:
		b.WriteString("  (evaluation failed)")
	}
	return b.String()
}

func formatScores(s chatlog.Scores) string {
	avg := s.Average()
	return fmt.Sprintf("%s %.2f: accuracy %d/5, depth %d/5, attitude %d/5, relevance %d/5",
		evaluation.TierOf(avg), avg, s.Accuracy, s.Depth, s.Attitude, s.Relevance)
}

func formatQuestion(q questions.Question) string {
	box := "[ ]"
	if q.IsSelect {
		box = "[x]"
	}
	diff := ""
	if q.Difficulty != "" {
		diff = " (" + string(q.Difficulty) + ")"
	}
	return fmt.Sprintf("%s %s #%d%s %s", box, q.Topic, q.ID, diff, q.Question)
}
