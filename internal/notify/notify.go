// Package notify posts end-of-session summaries to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/evaluation"
)

// Sidebar colors by tier.
const (
	ColorFavorable   = "#36a64f"
	ColorCaution     = "#ff9800"
	ColorUnfavorable = "#e53935"
	ColorInfo        = "#2196f3"
)

// Notifier delivers a session summary somewhere.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// EvaluatedAnswer is one scored answer in a summary.
type EvaluatedAnswer struct {
	Question string
	Answer   string
	Scores   chatlog.Scores
	Tier     evaluation.Tier
}

// Summary describes a finished session.
type Summary struct {
	RoomCode  string
	Role      string
	ClosedBy  string
	Messages  int
	Evaluated []EvaluatedAnswer
	At        time.Time
}

// Summarize builds a Summary from the session log. System notices are not
// counted as messages.
func Summarize(roomCode, role, closedBy string, msgs []chatlog.Message) Summary {
	s := Summary{RoomCode: roomCode, Role: role, ClosedBy: closedBy, At: time.Now()}
	lastQuestion := ""
	for _, m := range msgs {
		if m.IsSystem {
			continue
		}
		s.Messages++
		if m.IsSelf {
			lastQuestion = m.Text
			continue
		}
		if m.Scores != nil {
			s.Evaluated = append(s.Evaluated, EvaluatedAnswer{
				Question: lastQuestion,
				Answer:   m.Text,
				Scores:   *m.Scores,
				Tier:     evaluation.TierOf(m.Scores.Average()),
			})
		}
	}
	return s
}

// Title returns the headline of the summary.
func (s Summary) Title() string {
	if s.ClosedBy != "" {
		return fmt.Sprintf("Interview %s closed by %s", s.RoomCode, s.ClosedBy)
	}
	return fmt.Sprintf("Interview %s ended", s.RoomCode)
}

// Body returns the one-line totals.
func (s Summary) Body() string {
	return fmt.Sprintf("%d messages, %d evaluated answers", s.Messages, len(s.Evaluated))
}

// Color returns the sidebar color for the mean of all evaluated answers.
func (s Summary) Color() string {
	if len(s.Evaluated) == 0 {
		return ColorInfo
	}
	total := 0.0
	for _, e := range s.Evaluated {
		total += e.Scores.Average()
	}
	return TierColor(evaluation.TierOf(total / float64(len(s.Evaluated))))
}

// TierColor maps a tier to a sidebar color.
func TierColor(t evaluation.Tier) string {
	switch t {
	case evaluation.TierFavorable:
		return ColorFavorable
	case evaluation.TierCaution:
		return ColorCaution
	default:
		return ColorUnfavorable
	}
}

// answerLine renders one evaluated answer for a field value.
func answerLine(e EvaluatedAnswer) string {
	return fmt.Sprintf("%s (%.2f) accuracy %d, depth %d, attitude %d, relevance %d",
		e.Tier, e.Scores.Average(),
		e.Scores.Accuracy, e.Scores.Depth, e.Scores.Attitude, e.Scores.Relevance)
}

func fieldName(i int, e EvaluatedAnswer) string {
	q := strings.TrimSpace(e.Question)
	if q == "" {
		q = "(no question)"
	}
	return fmt.Sprintf("%d. %s", i+1, truncate(q, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// Multi fans a summary out to several notifiers and joins their errors.
type Multi []Notifier

// Notify calls every notifier, even after a failure.
func (m Multi) Notify(ctx context.Context, s Summary) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
