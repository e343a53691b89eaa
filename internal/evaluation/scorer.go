// Package evaluation scores a respondent answer against the reviewer prompt
// that preceded it and attaches the result to the message log.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/interviewdesk/internal/chatlog"
)

// DefaultEndpoint is the scoring path under the API root.
const DefaultEndpoint = "/evaluation/answer"

// Request is one (question, answer) pair to score.
type Request struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	MessageID string `json:"messageId"`
	RoomCode  string `json:"roomCode"`
}

// Scorer produces four-axis scores for an answer.
type Scorer interface {
	Score(ctx context.Context, req Request) (chatlog.Scores, error)
}

// HTTPScorer calls the evaluation API.
type HTTPScorer struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPScorerOpts holds parameters for creating an HTTPScorer.
type HTTPScorerOpts struct {
	BaseURL    string
	Endpoint   string // defaults to DefaultEndpoint
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewHTTPScorer creates an HTTPScorer.
func NewHTTPScorer(opts HTTPScorerOpts) (*HTTPScorer, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("evaluation: base url is required")
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	hc := opts.HTTPClient
	if hc == nil {
		// No client timeout: callers bound the request with ctx.
		hc = &http.Client{}
	}
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &HTTPScorer{url: base + endpoint, token: opts.Token, httpClient: hc, logger: l}, nil
}

// Score posts req and decodes the four sub-scores.
func (s *HTTPScorer) Score(ctx context.Context, req Request) (chatlog.Scores, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: score: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: score: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: score %s: %w", req.MessageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return chatlog.Scores{}, fmt.Errorf("evaluation: score %s: bad status %s", req.MessageID, resp.Status)
	}

	var out chatlog.Scores
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: score %s: decode: %w", req.MessageID, err)
	}
	if err := out.Validate(); err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: score %s: %w", req.MessageID, err)
	}
	s.logger.Debug("answer scored",
		zap.String("message_id", req.MessageID),
		zap.Float64("average", out.Average()),
		zap.Duration("took", time.Since(start)),
	)
	return out, nil
}
