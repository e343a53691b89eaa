// Package followup derives a queue of follow-up prompts from the questions
// a reviewer selects, with an unread marker.
package followup

import (
	"fmt"
	"sync"

	"github.com/zulandar/interviewdesk/internal/questions"
)

// Item is one queued follow-up prompt.
type Item struct {
	Key              string          `json:"id"`
	Text             string          `json:"text"`
	SourceTopic      questions.Topic `json:"sourceTopic"`
	SourceQuestionID int             `json:"sourceQuestionId"`
	Index            int             `json:"index"`
}

// ItemKey returns the identity of the idx-th follow-up of a question.
func ItemKey(topic questions.Topic, questionID, idx int) string {
	return fmt.Sprintf("%s-%d-%d", topic, questionID, idx)
}

// DisplayItem is an Item with its read state at render time.
type DisplayItem struct {
	Item
	Read bool `json:"read"`
}

// Queue holds follow-up items in insertion order. It implements
// questions.Listener so it can be attached to a Bank.
type Queue struct {
	mu          sync.Mutex
	items       []Item
	readPointer int
}

var _ questions.Listener = (*Queue)(nil)

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Selected appends one item per follow-up topic of q. Items already present
// are skipped.
func (f *Queue) Selected(q questions.Question) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for idx, text := range q.FollowUpTopics {
		key := ItemKey(q.Topic, q.ID, idx)
		if f.indexOf(key) >= 0 {
			continue
		}
		f.items = append(f.items, Item{
			Key:              key,
			Text:             text,
			SourceTopic:      q.Topic,
			SourceQuestionID: q.ID,
			Index:            idx,
		})
	}
}

// Deselected removes every item sourced from q, regardless of index.
func (f *Queue) Deselected(q questions.Question) {
	f.removeWhere(func(it Item) bool {
		return it.SourceQuestionID == q.ID && it.SourceTopic == q.Topic
	})
}

// TopicReplaced removes every item sourced from topic t.
func (f *Queue) TopicReplaced(t questions.Topic) {
	f.removeWhere(func(it Item) bool { return it.SourceTopic == t })
}

// Replaced empties the queue when the bank loads a new candidate.
func (f *Queue) Replaced() {
	f.Reset()
}

// Reset empties the queue and rewinds the read marker.
func (f *Queue) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
	f.readPointer = 0
}

// removeWhere drops matching items and keeps the read pointer within the
// queue length. The pointer only moves back when removal leaves it past the
// end; otherwise it never decreases.
func (f *Queue) removeWhere(match func(Item) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.items[:0]
	for _, it := range f.items {
		if !match(it) {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(f.items); i++ {
		f.items[i] = Item{}
	}
	f.items = kept
	if f.readPointer > len(f.items) {
		f.readPointer = len(f.items)
	}
}

func (f *Queue) indexOf(key string) int {
	for i, it := range f.items {
		if it.Key == key {
			return i
		}
	}
	return -1
}

// Len returns the number of queued items.
func (f *Queue) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Items returns the items in insertion order.
func (f *Queue) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Item(nil), f.items...)
}

// ReadPointer returns the number of items marked read.
func (f *Queue) ReadPointer() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readPointer
}

// Unread returns the number of items added since the last MarkRead.
func (f *Queue) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.items) - f.readPointer; n > 0 {
		return n
	}
	return 0
}

// MarkRead marks every current item as read. Call it when the follow-up
// view is left.
func (f *Queue) MarkRead() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readPointer = len(f.items)
}

// Display returns the items newest first. The item at display position d
// is read when the read pointer is at least len-d.
func (f *Queue) Display() []DisplayItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.items)
	out := make([]DisplayItem, n)
	for d := 0; d < n; d++ {
		out[d] = DisplayItem{
			Item: f.items[n-1-d],
			Read: f.readPointer >= n-d,
		}
	}
	return out
}
