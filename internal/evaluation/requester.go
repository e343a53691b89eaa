package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/logger"
)

var (
	// ErrNotEligible is returned when the target is self-authored, a system
	// notice, or already scored.
	ErrNotEligible = errors.New("evaluation: message not eligible")
	// ErrInFlight is returned when the target already has a request running.
	ErrInFlight = errors.New("evaluation: already in flight")
)

// Sink receives the evaluation state changes of a message. *chatlog.Log
// is the default Sink.
type Sink interface {
	SetEvalState(id string, state chatlog.EvalState, errText string) error
	AttachScores(id string, s chatlog.Scores) error
}

// Requester issues at most one evaluation per message id at a time.
type Requester struct {
	log      *chatlog.Log
	sink     Sink
	scorer   Scorer
	recorder Recorder
	roomCode string
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// RequesterOpts holds parameters for creating a Requester.
type RequesterOpts struct {
	Log      *chatlog.Log
	Scorer   Scorer
	Recorder Recorder // optional
	RoomCode string
	Logger   *zap.Logger
}

// NewRequester creates a Requester.
func NewRequester(opts RequesterOpts) (*Requester, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("evaluation: log is required")
	}
	if opts.Scorer == nil {
		return nil, fmt.Errorf("evaluation: scorer is required")
	}
	return &Requester{
		log:      opts.Log,
		sink:     opts.Log,
		scorer:   opts.Scorer,
		recorder: opts.Recorder,
		roomCode: opts.RoomCode,
		logger:   logger.OrNop(opts.Logger),
		inflight: make(map[string]struct{}),
	}, nil
}

// Resolve returns the request that Trigger would send for messageID: the
// target text is the answer and the nearest earlier self-authored message
// is the question. The question is empty when no such message exists.
func (r *Requester) Resolve(messageID string) (Request, error) {
	target, idx, ok := r.log.Get(messageID)
	if !ok {
		return Request{}, fmt.Errorf("evaluation: %w: %s", chatlog.ErrNotFound, messageID)
	}
	if target.IsSelf || target.IsSystem || target.Scores != nil {
		return Request{}, fmt.Errorf("%w: %s", ErrNotEligible, messageID)
	}
	req := Request{Answer: target.Text, MessageID: target.ID, RoomCode: r.roomCode}
	if q, ok := r.log.PrecedingSelf(idx); ok {
		req.Question = q.Text
	}
	return req, nil
}

// InFlight reports whether messageID has a request running.
func (r *Requester) InFlight(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[messageID]
	return ok
}

// Route sends later state changes to sink instead of the log. A nil sink
// restores the log.
func (r *Requester) Route(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sink == nil {
		sink = r.log
	}
	r.sink = sink
}

// Trigger scores messageID and attaches the result. It blocks until the
// scorer returns. A failure leaves the message in EvalFailed and frees it
// for another trigger.
func (r *Requester) Trigger(ctx context.Context, messageID string) (chatlog.Scores, error) {
	r.mu.Lock()
	if _, busy := r.inflight[messageID]; busy {
		r.mu.Unlock()
		return chatlog.Scores{}, fmt.Errorf("%w: %s", ErrInFlight, messageID)
	}
	req, err := r.Resolve(messageID)
	if err != nil {
		r.mu.Unlock()
		return chatlog.Scores{}, err
	}
	r.inflight[messageID] = struct{}{}
	sink := r.sink
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, messageID)
		r.mu.Unlock()
	}()

	log := logger.WithFields(r.logger, zap.String(logger.FieldMessageID, messageID))
	if req.Question == "" {
		log.Warn("no preceding question; scoring answer alone")
	}
	if err := sink.SetEvalState(messageID, chatlog.EvalPending, ""); err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: trigger: %w", err)
	}

	var recID uint
	if r.recorder != nil {
		if recID, err = r.recorder.Begin(ctx, req); err != nil {
			log.Warn("record evaluation", zap.Error(err))
		}
	}

	scores, err := r.scorer.Score(ctx, req)
	if err == nil {
		err = sink.AttachScores(messageID, scores)
	}
	if err != nil {
		log.Warn("evaluation failed", zap.Error(err))
		if serr := sink.SetEvalState(messageID, chatlog.EvalFailed, err.Error()); serr != nil {
			log.Warn("mark evaluation failed", zap.Error(serr))
		}
		if recID != 0 {
			if rerr := r.recorder.Fail(context.WithoutCancel(ctx), recID, err); rerr != nil {
				log.Warn("record evaluation failure", zap.Error(rerr))
			}
		}
		return chatlog.Scores{}, fmt.Errorf("evaluation: trigger %s: %w", messageID, err)
	}

	if recID != 0 {
		if rerr := r.recorder.Complete(ctx, recID, scores); rerr != nil {
			log.Warn("record evaluation result", zap.Error(rerr))
		}
	}
	log.Info("answer evaluated",
		zap.Float64("average", scores.Average()),
		zap.String("tier", string(TierOf(scores.Average()))),
	)
	return scores, nil
}
