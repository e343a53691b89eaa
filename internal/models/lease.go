// Package models defines the GORM models for interviewdesk's local state.
package models

import "time"

// Lease statuses.
const (
	LeaseActive   = "active"
	LeaseReleased = "released"
	LeaseExpired  = "expired"
)

// RoomLease marks a room as owned by one local session view. The lease
// system uses this model to prevent two local views from joining the same
// room at once.
type RoomLease struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	RoomCode      string    `gorm:"size:64;not null;index:idx_room_status"`
	Role          string    `gorm:"size:16;not null"` // "hr" or "candidate"
	Holder        string    `gorm:"size:128;not null"`
	Status        string    `gorm:"size:16;default:active;index:idx_room_status"`
	LastHeartbeat time.Time `gorm:"index"`
	CreatedAt     time.Time
	ReleasedAt    *time.Time
}
