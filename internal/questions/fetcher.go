package questions

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
)

// Fetcher generates questions for one topic.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// HTTPFetcher calls the question generation API.
type HTTPFetcher struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPFetcherOpts holds parameters for creating an HTTPFetcher.
type HTTPFetcherOpts struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client // defaults to a client with a 60s timeout
	Logger     *zap.Logger
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPFetcherOpts) (*HTTPFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("questions: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &HTTPFetcher{baseURL: base, token: opts.Token, httpClient: hc, logger: l}, nil
}

// Fetch posts req to the topic's generation endpoint.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if !req.Topic.Valid() {
		return nil, fmt.Errorf("questions: fetch: unknown topic %q", req.Topic)
	}
	if req.PreviousQuestions == nil {
		req.PreviousQuestions = []string{}
	}
	if req.SelectedQuestions == nil {
		req.SelectedQuestions = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("questions: fetch %s: %w", req.Topic, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+req.Topic.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("questions: fetch %s: %w", req.Topic, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("questions: fetch %s: %w", req.Topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("questions: failed to fetch questions for topic: %s: %s", req.Topic, resp.Status)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("questions: fetch %s: decode: %w", req.Topic, err)
	}
	f.logger.Debug("questions fetched",
		zap.String("topic", string(req.Topic)),
		zap.Int("count", len(out.Questions)),
		zap.Int("total_asked", out.TotalQuestionsAsked),
		zap.Duration("took", time.Since(start)),
	)
	return &out, nil
}
