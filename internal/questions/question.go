// Package questions caches suggested interview questions for a candidate.
package questions

import "fmt"

// Topic is a suggested-question category.
type Topic string

const (
	TopicSkills     Topic = "skills"
	TopicEducation  Topic = "education"
	TopicExperience Topic = "experience"
)

// Topics is the fixed, ordered topic set fetched for every candidate.
var Topics = []Topic{TopicSkills, TopicEducation, TopicExperience}

// Endpoint returns the generation endpoint path for the topic.
func (t Topic) Endpoint() string {
	return "/questions/generate-" + string(t)
}

// Valid reports whether t is one of Topics.
func (t Topic) Valid() bool {
	for _, k := range Topics {
		if k == t {
			return true
		}
	}
	return false
}

// ParseTopic converts a string to a Topic.
func ParseTopic(s string) (Topic, error) {
	t := Topic(s)
	if !t.Valid() {
		return "", fmt.Errorf("questions: unknown topic %q", s)
	}
	return t, nil
}

// Difficulty grades a question.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Question is one suggested question. IsSelect is local state and the only
// mutable field.
type Question struct {
	ID             int        `json:"id"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Difficulty     Difficulty `json:"difficulty"`
	FollowUpTopics []string   `json:"followUpTopics"`
	Topic          Topic      `json:"topic"`
	IsSelect       bool       `json:"isSelect"`
}

func (q Question) clone() Question {
	q.FollowUpTopics = append([]string(nil), q.FollowUpTopics...)
	return q
}

// Request is the body of a generation call.
type Request struct {
	Topic             Topic    `json:"topic"`
	CandidateID       string   `json:"candidateId"`
	PreviousQuestions []string `json:"previousQuestions"`
	SelectedQuestions []string `json:"selectedQuestions"`
}

// Response is the body returned by a generation call.
type Response struct {
	Questions           []Question `json:"questions"`
	Topic               Topic      `json:"topic"`
	TotalQuestionsAsked int        `json:"totalQuestionsAsked"`
}
