package session

import (
	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/room"
)

// HistoryMessages maps a room's stored transcript to log entries with ids
// history-0, history-1, ... in transcript order.
func HistoryMessages(r *room.Room) []chatlog.Message {
	if r == nil {
		return nil
	}
	out := make([]chatlog.Message, 0, len(r.ChatHistory))
	for i, h := range r.ChatHistory {
		out = append(out, chatlog.History(i, h.SenderID, h.Message))
	}
	return out
}
