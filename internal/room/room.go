// Package room resolves interview rooms and the caller's role in them.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LoginPath is where a session is sent when its room cannot be resolved.
const LoginPath = "/login"

// ErrUnavailable is returned when a room lookup fails or yields no room.
// A session cannot continue without its room.
var ErrUnavailable = errors.New("room unavailable")

// Role is the caller's side of the interview.
type Role string

const (
	RoleHR        Role = "hr"
	RoleCandidate Role = "candidate"
)

// HomePath returns the landing path for the role after a room closes.
func (r Role) HomePath() string {
	if r == RoleHR {
		return "/hr"
	}
	return "/home"
}

// HistoryItem is one stored transcript line.
type HistoryItem struct {
	SenderID string `json:"senderID"`
	Message  string `json:"message"`
}

// Room is the room metadata returned by the directory.
type Room struct {
	ID             string        `json:"_id"`
	RoomCode       string        `json:"room_code"`
	Topic          string        `json:"topic"`
	JobID          string        `json:"jobID"`
	AllowUserEmail []string      `json:"allow_user_email"`
	ChatHistory    []HistoryItem `json:"chat_history"`
	IsEnd          bool          `json:"isEnd"`
	CreatedAt      string        `json:"created_at"`
}

// Lookup is a resolved room plus the caller's role in it.
type Lookup struct {
	Room *Room
	IsHR bool
}

// Role returns the caller's role.
func (l *Lookup) Role() Role {
	if l.IsHR {
		return RoleHR
	}
	return RoleCandidate
}

type lookupResponse struct {
	IsSuccess bool  `json:"isSuccess"`
	IsHR      bool  `json:"isHR"`
	Room      *Room `json:"room"`
}

// Client fetches rooms from the room directory API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL    string       // API root, e.g. https://api.example.com
	Token      string       // optional bearer token
	HTTPClient *http.Client // defaults to a client with a 10s timeout
	Logger     *zap.Logger
}

// NewClient creates a room directory Client.
func NewClient(opts ClientOpts) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("room: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Client{baseURL: base, token: opts.Token, httpClient: hc, logger: l}, nil
}

// Lookup retrieves a room and the caller's role by room code. Any failure,
// including a well-formed response without a room, wraps ErrUnavailable.
func (c *Client) Lookup(ctx context.Context, roomCode string) (*Lookup, error) {
	roomCode = strings.TrimSpace(roomCode)
	if roomCode == "" {
		return nil, fmt.Errorf("room: lookup: empty room code: %w", ErrUnavailable)
	}

	endpoint := c.baseURL + "/room/history/" + url.PathEscape(roomCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("room: lookup %s: %w", roomCode, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("room: lookup %s: %v: %w", roomCode, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("room: lookup %s: bad status %s: %w", roomCode, resp.Status, ErrUnavailable)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("room: lookup %s: decode: %v: %w", roomCode, err, ErrUnavailable)
	}
	if !body.IsSuccess || body.Room == nil {
		return nil, fmt.Errorf("room: lookup %s: token invalid or room not found: %w", roomCode, ErrUnavailable)
	}
	if body.Room.RoomCode == "" {
		body.Room.RoomCode = roomCode
	}

	c.logger.Debug("room resolved",
		zap.String("room_code", body.Room.RoomCode),
		zap.Bool("is_hr", body.IsHR),
		zap.Int("history", len(body.Room.ChatHistory)),
	)
	return &Lookup{Room: body.Room, IsHR: body.IsHR}, nil
}
