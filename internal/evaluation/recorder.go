package evaluation

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/models"
)

// Recorder persists the lifecycle of each evaluation request.
type Recorder interface {
	Begin(ctx context.Context, req Request) (uint, error)
	Complete(ctx context.Context, id uint, s chatlog.Scores) error
	Fail(ctx context.Context, id uint, cause error) error
}

// StoreRecorder writes EvaluationRecord rows through gorm.
type StoreRecorder struct {
	db *gorm.DB
}

// NewStoreRecorder creates a StoreRecorder. The evaluation_records table
// must already be migrated.
func NewStoreRecorder(db *gorm.DB) (*StoreRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("evaluation: db is required")
	}
	return &StoreRecorder{db: db}, nil
}

// Begin inserts a pending record and returns its id.
func (r *StoreRecorder) Begin(ctx context.Context, req Request) (uint, error) {
	rec := models.EvaluationRecord{
		RoomCode:  req.RoomCode,
		MessageID: req.MessageID,
		Question:  req.Question,
		Answer:    req.Answer,
		Status:    models.EvaluationPending,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("evaluation: record begin: %w", err)
	}
	return rec.ID, nil
}

// Complete stores the scores and marks the record completed.
func (r *StoreRecorder) Complete(ctx context.Context, id uint, s chatlog.Scores) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status":    models.EvaluationCompleted,
		"accuracy":  s.Accuracy,
		"depth":     s.Depth,
		"attitude":  s.Attitude,
		"relevance": s.Relevance,
		"error":     "",
	})
}

// Fail marks the record failed with the cause text.
func (r *StoreRecorder) Fail(ctx context.Context, id uint, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.finish(ctx, id, map[string]interface{}{
		"status": models.EvaluationFailed,
		"error":  msg,
	})
}

func (r *StoreRecorder) finish(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.EvaluationRecord{}).
		Where("id = ? AND status = ?", id, models.EvaluationPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("evaluation: record %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("evaluation: record %d not found or not pending", id)
	}
	return nil
}

// List returns the records of a room, oldest first. An empty room code
// lists every room.
func List(db *gorm.DB, roomCode string) ([]models.EvaluationRecord, error) {
	q := db.Order("created_at ASC, id ASC")
	if roomCode != "" {
		q = q.Where("room_code = ?", roomCode)
	}
	var out []models.EvaluationRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("evaluation: list: %w", err)
	}
	return out, nil
}
