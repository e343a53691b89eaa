package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// User-facing error strings.
const (
	PrefetchError = "Failed to prefetch suggested questions"
	RefreshError  = "Failed to refresh questions"
)

var (
	// ErrPrefetch is returned when a candidate batch load fails.
	ErrPrefetch = errors.New("questions: prefetch failed")
	// ErrUnknownQuestion is returned by Select for an id not in the topic.
	ErrUnknownQuestion = errors.New("questions: unknown question")
)

// Listener observes selection changes and bulk replacements.
type Listener interface {
	Selected(q Question)
	Deselected(q Question)
	// TopicReplaced is called after one topic's questions are refetched.
	TopicReplaced(t Topic)
	// Replaced is called after the whole mapping is replaced or reset.
	Replaced()
}

// Bank holds per-topic suggested questions for the current candidate.
type Bank struct {
	fetcher Fetcher
	logger  *zap.Logger

	// notifyMu is taken before mu by every change that notifies listeners
	// and held until they return, so a selection and its notification
	// never straddle a replacement.
	notifyMu sync.Mutex

	mu          sync.Mutex
	candidateID string
	byTopic     map[Topic][]Question
	previous    map[Topic][]string
	errText     string
	loading     bool
	generation  int
	listeners   []Listener
}

// BankOpts holds parameters for creating a Bank.
type BankOpts struct {
	Fetcher Fetcher
	Logger  *zap.Logger
}

// NewBank creates an empty Bank.
func NewBank(opts BankOpts) (*Bank, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("questions: fetcher is required")
	}
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Bank{
		fetcher:  opts.Fetcher,
		logger:   l,
		byTopic:  emptyMapping(),
		previous: make(map[Topic][]string),
	}, nil
}

func emptyMapping() map[Topic][]Question {
	m := make(map[Topic][]Question, len(Topics))
	for _, t := range Topics {
		m[t] = []Question{}
	}
	return m
}

// AddListener registers l for selection and replacement notifications.
func (b *Bank) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

type topicResult struct {
	topic     Topic
	questions []Question
	err       error
}

// Load fetches all topics for candidateID as one batch. Either every topic
// succeeds and the mapping is replaced, or all topics reset to empty and
// Err reports PrefetchError. Previous selections are discarded either way.
// An empty candidateID is a no-op.
func (b *Bank) Load(ctx context.Context, candidateID string) error {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return nil
	}

	b.mu.Lock()
	b.generation++
	gen := b.generation
	b.candidateID = candidateID
	b.loading = true
	b.errText = ""
	b.previous = make(map[Topic][]string)
	b.mu.Unlock()

	results := make([]topicResult, len(Topics))
	var wg sync.WaitGroup
	for i, t := range Topics {
		wg.Add(1)
		go func(i int, t Topic) {
			defer wg.Done()
			resp, err := b.fetcher.Fetch(ctx, Request{
				Topic:             t,
				CandidateID:       candidateID,
				PreviousQuestions: []string{},
				SelectedQuestions: []string{},
			})
			results[i] = topicResult{topic: t, err: err}
			if err == nil {
				results[i].questions = prepare(t, resp)
			}
		}(i, t)
	}
	wg.Wait()

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	var failed error
	for _, r := range results {
		if r.err != nil {
			failed = fmt.Errorf("%s: %w", r.topic, r.err)
			break
		}
	}

	b.mu.Lock()
	if gen != b.generation {
		// A newer Load owns the mapping.
		b.mu.Unlock()
		return nil
	}
	b.loading = false
	if failed != nil {
		b.byTopic = emptyMapping()
		b.errText = PrefetchError
	} else {
		m := emptyMapping()
		for _, r := range results {
			m[r.topic] = r.questions
		}
		b.byTopic = m
	}
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range listeners {
		l.Replaced()
	}
	if failed != nil {
		b.logger.Warn("question prefetch failed", zap.String("candidate_id", candidateID), zap.Error(failed))
		return fmt.Errorf("%w: %v", ErrPrefetch, failed)
	}
	b.logger.Info("questions loaded", zap.String("candidate_id", candidateID))
	return nil
}

// RefreshTopic refetches one topic and replaces its questions, asking the
// generator to avoid questions already shown. On failure existing questions
// are kept and Err reports RefreshError.
func (b *Bank) RefreshTopic(ctx context.Context, topic Topic) error {
	if !topic.Valid() {
		return fmt.Errorf("questions: refresh: unknown topic %q", topic)
	}
	b.mu.Lock()
	candidateID := b.candidateID
	if candidateID == "" {
		b.mu.Unlock()
		return nil
	}
	gen := b.generation
	b.loading = true
	b.errText = ""
	var shown, selected []string
	shown = append(shown, b.previous[topic]...)
	for _, q := range b.byTopic[topic] {
		shown = append(shown, q.Question)
	}
	for _, t := range Topics {
		for _, q := range b.byTopic[t] {
			if q.IsSelect {
				selected = append(selected, q.Question)
			}
		}
	}
	b.mu.Unlock()
	if shown == nil {
		shown = []string{}
	}
	if selected == nil {
		selected = []string{}
	}

	resp, err := b.fetcher.Fetch(ctx, Request{
		Topic:             topic,
		CandidateID:       candidateID,
		PreviousQuestions: shown,
		SelectedQuestions: selected,
	})

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return nil
	}
	b.loading = false
	if err != nil {
		b.errText = RefreshError
		b.mu.Unlock()
		b.logger.Warn("question refresh failed", zap.String("topic", string(topic)), zap.Error(err))
		return fmt.Errorf("questions: refresh %s: %w", topic, err)
	}
	b.previous[topic] = shown
	b.byTopic[topic] = prepare(topic, resp)
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range listeners {
		l.TopicReplaced(topic)
	}
	return nil
}

func prepare(t Topic, resp *Response) []Question {
	if resp == nil {
		return []Question{}
	}
	out := make([]Question, 0, len(resp.Questions))
	for _, q := range resp.Questions {
		q = q.clone()
		q.Topic = t
		q.IsSelect = false
		out = append(out, q)
	}
	return out
}

// Select flips the selection flag of a question. It never refetches.
// Listeners are told whether the question became selected or deselected.
func (b *Bank) Select(topic Topic, id int) (Question, error) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.mu.Lock()
	qs := b.byTopic[topic]
	idx := -1
	for i := range qs {
		if qs[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return Question{}, fmt.Errorf("%w: %s/%d", ErrUnknownQuestion, topic, id)
	}
	qs[idx].IsSelect = !qs[idx].IsSelect
	q := qs[idx].clone()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range listeners {
		if q.IsSelect {
			l.Selected(q)
		} else {
			l.Deselected(q)
		}
	}
	return q, nil
}

// Questions returns a copy of the questions for topic.
func (b *Bank) Questions(topic Topic) []Question {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs := b.byTopic[topic]
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = q.clone()
	}
	return out
}

// Selected returns every selected question across topics, in topic order.
func (b *Bank) Selected() []Question {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Question
	for _, t := range Topics {
		for _, q := range b.byTopic[t] {
			if q.IsSelect {
				out = append(out, q.clone())
			}
		}
	}
	return out
}

// Err returns the current user-facing error, or "".
func (b *Bank) Err() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errText
}

// Loading reports whether a fetch is in progress.
func (b *Bank) Loading() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loading
}

// CandidateID returns the candidate the bank was last loaded for.
func (b *Bank) CandidateID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.candidateID
}
