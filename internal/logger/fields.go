package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Structured field keys shared by session components.
const (
	FieldRoom      = "room_code"
	FieldRole      = "role"
	FieldMessageID = "message_id"
	FieldTopic     = "topic"
	FieldEvent     = "event"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields, trimming whitespace
// and omitting entries with an empty key or value.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}
		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}
	return result
}

// WithFields attaches fields to l. A nil logger becomes a no-op logger.
func WithFields(l *zap.Logger, fields ...zap.Field) *zap.Logger {
	l = OrNop(l)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// WithSession attaches the room code and role of a session.
func WithSession(l *zap.Logger, roomCode, role string) *zap.Logger {
	return WithFields(l, StringFields(
		StringField{Key: FieldRoom, Value: roomCode},
		StringField{Key: FieldRole, Value: role},
	)...)
}
