// Package channel carries an interview room's real-time traffic. Frames on
// the wire are JSON objects {"event": name, "data": {...}}; inbound frames
// are decoded into a single tagged Event type.
package channel

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Client to server event names.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventEndRoom     = "end_room"
)

// Server to client event names.
const (
	EventMessageReceived = "message_received"
	// EventMessageReceivedAlt is the misspelled name some servers still emit.
	EventMessageReceivedAlt = "recive_message"
	EventSystemMessage      = "system_message"
	EventRoomClosed         = "room_closed"
	EventRoomAlreadyClosed  = "room_already_closed"
	EventError              = "error"
)

// Frame is one message on the wire.
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Kind tags an inbound Event.
type Kind int

const (
	KindUnknown Kind = iota
	KindMessage
	KindSystem
	KindRoomClosed
	KindRoomAlreadyClosed
	KindError
	// KindConnected is produced by a transport after it re-establishes a
	// dropped connection.
	KindConnected
	// KindDisconnected is produced by a transport when the connection drops.
	KindDisconnected
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindMessage:           "message",
	KindSystem:            "system",
	KindRoomClosed:        "room_closed",
	KindRoomAlreadyClosed: "room_already_closed",
	KindError:             "error",
	KindConnected:         "connected",
	KindDisconnected:      "disconnected",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is an inbound channel event. Which fields are set depends on Kind.
type Event struct {
	Kind     Kind
	Name     string // wire event name, empty for transport events
	SenderID string // KindMessage
	Username string // KindMessage
	Text     string // KindMessage, KindSystem
	By       string // KindRoomClosed
	Detail   string // KindError
	Err      error  // KindDisconnected
	At       time.Time
}

type messagePayload struct {
	SenderID string `mapstructure:"senderID"`
	Username string `mapstructure:"username"`
	Message  string `mapstructure:"message"`
}

type systemPayload struct {
	Message string `mapstructure:"message"`
}

type closedPayload struct {
	By string `mapstructure:"by"`
}

type errorPayload struct {
	Detail string `mapstructure:"detail"`
}

// Decode converts a wire frame into an Event. Unknown event names decode to
// KindUnknown without error so callers can log and skip them.
func Decode(f Frame) (Event, error) {
	ev := Event{Name: f.Event, At: time.Now()}
	switch f.Event {
	case EventMessageReceived, EventMessageReceivedAlt:
		var p messagePayload
		if err := decodeData(f.Data, &p); err != nil {
			return Event{}, fmt.Errorf("channel: decode %s: %w", f.Event, err)
		}
		ev.Kind = KindMessage
		ev.SenderID, ev.Username, ev.Text = p.SenderID, p.Username, p.Message
	case EventSystemMessage:
		var p systemPayload
		if err := decodeData(f.Data, &p); err != nil {
			return Event{}, fmt.Errorf("channel: decode %s: %w", f.Event, err)
		}
		ev.Kind = KindSystem
		ev.Text = p.Message
	case EventRoomClosed:
		var p closedPayload
		if err := decodeData(f.Data, &p); err != nil {
			return Event{}, fmt.Errorf("channel: decode %s: %w", f.Event, err)
		}
		ev.Kind = KindRoomClosed
		ev.By = p.By
	case EventRoomAlreadyClosed:
		ev.Kind = KindRoomAlreadyClosed
	case EventError:
		var p errorPayload
		if err := decodeData(f.Data, &p); err != nil {
			return Event{}, fmt.Errorf("channel: decode %s: %w", f.Event, err)
		}
		ev.Kind = KindError
		ev.Detail = p.Detail
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}

func decodeData(data map[string]any, out any) error {
	if data == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

// JoinRoom builds the join handshake frame.
func JoinRoom(roomCode string) Frame {
	return Frame{Event: EventJoinRoom, Data: map[string]any{"room_code": roomCode}}
}

// SendMessage builds a chat message frame.
func SendMessage(roomCode, text string) Frame {
	return Frame{Event: EventSendMessage, Data: map[string]any{"room_code": roomCode, "message": text}}
}

// EndRoom builds the frame that closes a room for both participants.
func EndRoom(roomCode string) Frame {
	return Frame{Event: EventEndRoom, Data: map[string]any{"room_code": roomCode}}
}
