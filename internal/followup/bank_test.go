package followup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/interviewdesk/internal/questions"
)

// candidateFetcher serves two skills questions for C9 and none for anyone
// else, counting calls per candidate.
type candidateFetcher struct {
	calls sync.Map // candidate id -> *atomic.Int32
}

func (f *candidateFetcher) count(candidate string) int32 {
	v, _ := f.calls.LoadOrStore(candidate, new(atomic.Int32))
	return v.(*atomic.Int32).Load()
}

func (f *candidateFetcher) Fetch(_ context.Context, req questions.Request) (*questions.Response, error) {
	v, _ := f.calls.LoadOrStore(req.CandidateID, new(atomic.Int32))
	v.(*atomic.Int32).Add(1)
	resp := &questions.Response{Topic: req.Topic, Questions: []questions.Question{}}
	if req.CandidateID == "C9" && req.Topic == questions.TopicSkills {
		resp.Questions = []questions.Question{
			{ID: 1, Question: "q1", FollowUpTopics: []string{"f1"}},
			{ID: 2, Question: "q2", FollowUpTopics: []string{"f2"}},
		}
	}
	return resp, nil
}

// gateListener holds the first Selected call until release is closed.
type gateListener struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateListener) Selected(questions.Question) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}
func (g *gateListener) Deselected(questions.Question) {}
func (g *gateListener) TopicReplaced(questions.Topic) {}
func (g *gateListener) Replaced()                     {}

// Every queued item must trace to a question the bank still holds as
// selected, even when a load lands while a selection is being announced.
func TestQueue_SelectRacingLoadLeavesNoOrphans(t *testing.T) {
	fetcher := &candidateFetcher{}
	bank, err := questions.NewBank(questions.BankOpts{Fetcher: fetcher})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := bank.Load(ctx, "C9"); err != nil {
		t.Fatalf("Load C9: %v", err)
	}

	gate := &gateListener{entered: make(chan struct{}), release: make(chan struct{})}
	queue := NewQueue()
	bank.AddListener(gate)
	bank.AddListener(queue)

	selectDone := make(chan error, 1)
	go func() {
		_, err := bank.Select(questions.TopicSkills, 2)
		selectDone <- err
	}()
	<-gate.entered

	loadDone := make(chan error, 1)
	go func() { loadDone <- bank.Load(ctx, "C10") }()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.count("C10") < int32(len(questions.Topics)) {
		if time.Now().After(deadline) {
			t.Fatal("load never fetched")
		}
		time.Sleep(2 * time.Millisecond)
	}
	// Give the load time to reach its commit while the selection is held.
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	if err := <-selectDone; err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := <-loadDone; err != nil {
		t.Fatalf("Load C10: %v", err)
	}

	selected := map[string]bool{}
	for _, q := range bank.Selected() {
		selected[ItemKey(q.Topic, q.ID, 0)] = true
	}
	for _, it := range queue.Items() {
		if !selected[ItemKey(it.SourceTopic, it.SourceQuestionID, 0)] {
			t.Errorf("orphan follow-up %s: bank selected=%d skills=%d",
				it.Key, len(bank.Selected()), len(bank.Questions(questions.TopicSkills)))
		}
	}
	if queue.Len() != 0 {
		t.Errorf("queue = %v, want empty after the new candidate loaded", keys(queue.Items()))
	}
}
