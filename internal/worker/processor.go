package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/metrics"
	"github.com/dharsanguruparan/PlanCheck/internal/model"
	"github.com/dharsanguruparan/PlanCheck/internal/queue"
)

// Validator calls the backend validate endpoint.
type Validator interface {
	Validate(ctx context.Context, fileID string) (*backend.ValidationPayload, error)
}

// ResultSink persists completed validations.
type ResultSink interface {
	SaveResult(ctx context.Context, result model.ValidationResult) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	backend Validator
	sink    ResultSink
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// NewProcessor constructs a worker processor. rec may be nil.
func NewProcessor(b Validator, sink ResultSink, rec *metrics.Recorder, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{backend: b, sink: sink, metrics: rec, logger: logger}
}

// Handler registers the validate job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ValidateDocumentTask, p.handleValidate)
	return mux
}

func (p *Processor) handleValidate(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeValidate(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.logger.With(zap.String("file_id", payload.FileID))

	end := p.metrics.Begin()
	resp, err := p.backend.Validate(ctx, payload.FileID)
	end()
	if err != nil {
		p.metrics.ValidationFinished(nil, err)
		log.Warn("validation failed", zap.Error(err))
		if permanent(err) {
			return fmt.Errorf("validate %s: %v: %w", payload.FileID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("validate %s: %w", payload.FileID, err)
	}
	result := resp.Result(payload.FileID)
	p.metrics.ValidationFinished(&result, nil)
	if err := p.sink.SaveResult(ctx, result); err != nil {
		log.Error("save result", zap.Error(err))
		return err
	}
	log.Info("validation recorded",
		zap.String("status", string(result.Status)),
		zap.Float64("score", result.Score))
	return nil
}

// permanent reports errors a retry cannot fix: the backend rejected the
// request or answered with something unusable.
func permanent(err error) bool {
	if errors.Is(err, backend.ErrMalformedResponse) {
		return true
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError &&
			apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
