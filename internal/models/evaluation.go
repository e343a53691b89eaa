package models

import "time"

// Evaluation record statuses.
const (
	EvaluationPending   = "pending"
	EvaluationCompleted = "completed"
	EvaluationFailed    = "failed"
)

// EvaluationRecord stores one answer evaluation requested from a session,
// keyed by the chat message it scored.
type EvaluationRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RoomCode  string `gorm:"size:64;not null;index"`
	MessageID string `gorm:"size:96;not null;index"`
	Question  string `gorm:"type:text"`
	Answer    string `gorm:"type:text;not null"`
	Accuracy  int
	Depth     int
	Attitude  int
	Relevance int
	Status    string `gorm:"size:16;default:pending;index"`
	Error     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Average returns the mean of the four sub-scores.
func (r EvaluationRecord) Average() float64 {
	return float64(r.Accuracy+r.Depth+r.Attitude+r.Relevance) / 4
}
