package chatlog

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned for an unknown message id.
	ErrNotFound = errors.New("chatlog: message not found")
	// ErrDuplicateID is returned when appending an id already in the log.
	ErrDuplicateID = errors.New("chatlog: duplicate message id")
	// ErrAlreadyScored is returned when scores are attached a second time.
	ErrAlreadyScored = errors.New("chatlog: message already scored")
)

// UpdateKind tells subscribers what changed.
type UpdateKind string

const (
	Appended UpdateKind = "appended"
	Updated  UpdateKind = "updated"
)

// Update is delivered to subscribers after each change.
type Update struct {
	Kind    UpdateKind `json:"kind"`
	Index   int        `json:"index"`
	Message Message    `json:"message"`
}

// Log is an append-only ordered message sequence. Order is the order of
// Append calls; entries are never reordered or removed.
type Log struct {
	mu    sync.RWMutex
	msgs  []Message
	index map[string]int
	subs  map[int]chan Update
	next  int
}

// New creates an empty Log.
func New() *Log {
	return &Log{
		index: make(map[string]int),
		subs:  make(map[int]chan Update),
	}
}

// Append adds msg at the end of the log and returns its position.
func (l *Log) Append(msg Message) (int, error) {
	if msg.ID == "" {
		return -1, fmt.Errorf("chatlog: append: empty id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[msg.ID]; ok {
		return -1, fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	msg = msg.clone()
	l.msgs = append(l.msgs, msg)
	i := len(l.msgs) - 1
	l.index[msg.ID] = i
	l.publish(Update{Kind: Appended, Index: i, Message: msg.clone()})
	return i, nil
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Messages returns a copy of all messages in order.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.msgs))
	for i, m := range l.msgs {
		out[i] = m.clone()
	}
	return out
}

// At returns the message at position i.
func (l *Log) At(i int) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.msgs) {
		return Message{}, false
	}
	return l.msgs[i].clone(), true
}

// Get returns the message with id and its position.
func (l *Log) Get(id string) (Message, int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Message{}, -1, false
	}
	return l.msgs[i].clone(), i, true
}

// PrecedingSelf returns the most recent self-authored message with index
// strictly less than target. This is the question a reviewer asked before
// the answer at target.
func (l *Log) PrecedingSelf(target int) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if target > len(l.msgs) {
		target = len(l.msgs)
	}
	for i := target - 1; i >= 0; i-- {
		if l.msgs[i].IsSelf {
			return l.msgs[i].clone(), true
		}
	}
	return Message{}, false
}

// SetEvalState records the evaluation state of a message. errText is kept
// only for EvalFailed.
func (l *Log) SetEvalState(id string, state EvalState, errText string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m := &l.msgs[i]
	m.EvalState = state
	m.EvalError = ""
	if state == EvalFailed {
		m.EvalError = errText
	}
	l.publish(Update{Kind: Updated, Index: i, Message: m.clone()})
	return nil
}

// AttachScores attaches scores to a message. A message is scored at most once.
func (l *Log) AttachScores(id string, s Scores) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m := &l.msgs[i]
	if m.Scores != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyScored, id)
	}
	m.Scores = &s
	m.EvalState = EvalDone
	m.EvalError = ""
	l.publish(Update{Kind: Updated, Index: i, Message: m.clone()})
	return nil
}

// Subscribe returns a channel receiving every later update and a function
// that cancels the subscription. Slow subscribers miss updates rather than
// block writers.
func (l *Log) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)
	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// publish must be called with l.mu held.
func (l *Log) publish(u Update) {
	for _, ch := range l.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
