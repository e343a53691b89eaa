// Package chatlog holds the ordered message log of an interview session.
package chatlog

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ID prefixes by message origin.
const (
	PrefixHistory = "history"
	PrefixRemote  = "msg"
	PrefixSystem  = "sys"
	PrefixClosed  = "closed"
	PrefixSelf    = "self"
)

// Display names for messages that do not come from a named participant.
const (
	SelfUsername    = "You"
	SystemUsername  = "System"
	UnknownUsername = "Unknown"
)

// EvalState tracks the evaluation lifecycle of a message.
type EvalState int

const (
	EvalNone EvalState = iota
	EvalPending
	EvalDone
	EvalFailed
)

func (s EvalState) String() string {
	switch s {
	case EvalPending:
		return "pending"
	case EvalDone:
		return "done"
	case EvalFailed:
		return "failed"
	default:
		return "none"
	}
}

// MarshalText renders the state by name.
func (s EvalState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Scores is a four-axis evaluation of one answer. Each axis is 0..5.
type Scores struct {
	Accuracy  int `json:"accuracy"`
	Depth     int `json:"depth"`
	Attitude  int `json:"attitude"`
	Relevance int `json:"relevance"`
}

// Average returns the arithmetic mean of the four axes.
func (s Scores) Average() float64 {
	return float64(s.Accuracy+s.Depth+s.Attitude+s.Relevance) / 4
}

// Validate checks that every axis is within 0..5.
func (s Scores) Validate() error {
	for _, ax := range []struct {
		name string
		v    int
	}{
		{"accuracy", s.Accuracy},
		{"depth", s.Depth},
		{"attitude", s.Attitude},
		{"relevance", s.Relevance},
	} {
		if ax.v < 0 || ax.v > 5 {
			return fmt.Errorf("chatlog: %s score %d out of range 0..5", ax.name, ax.v)
		}
	}
	return nil
}

// Message is one entry of the log. IsSelf is fixed when the message is
// built and never recomputed.
type Message struct {
	ID        string    `json:"id"`
	SenderID  *string   `json:"senderID"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	IsSelf    bool      `json:"isSelf"`
	IsSystem  bool      `json:"isSystem"`
	Scores    *Scores   `json:"evaluation,omitempty"`
	EvalState EvalState `json:"evalState"`
	EvalError string    `json:"evalError,omitempty"`
}

func (m Message) clone() Message {
	if m.SenderID != nil {
		s := *m.SenderID
		m.SenderID = &s
	}
	if m.Scores != nil {
		sc := *m.Scores
		m.Scores = &sc
	}
	return m
}

// NewID returns a session-unique id with the given origin prefix.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Self builds a locally authored message.
func Self(text string) Message {
	return Message{
		ID:       NewID(PrefixSelf),
		Username: SelfUsername,
		Text:     text,
		IsSelf:   true,
	}
}

// Remote builds a message received from the other participant.
func Remote(senderID, username, text string) Message {
	if username == "" {
		username = UnknownUsername
	}
	m := Message{
		ID:       NewID(PrefixRemote),
		Username: username,
		Text:     text,
	}
	if senderID != "" {
		m.SenderID = &senderID
	}
	return m
}

// System builds a system notice. prefix is PrefixSystem or PrefixClosed.
func System(prefix, text string) Message {
	return Message{
		ID:       NewID(prefix),
		Username: SystemUsername,
		Text:     text,
		IsSystem: true,
	}
}

// History builds the i-th preloaded transcript line. The stored transcript
// carries no usernames, so the sender id stands in for one.
func History(i int, senderID, text string) Message {
	m := Message{
		ID:       PrefixHistory + "-" + strconv.Itoa(i),
		Username: senderID,
		Text:     text,
	}
	if senderID != "" {
		m.SenderID = &senderID
	}
	return m
}
