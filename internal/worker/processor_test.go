package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/model"
	"github.com/dharsanguruparan/PlanCheck/internal/queue"
)

type fakeValidator struct {
	payload *backend.ValidationPayload
	err     error
	calls   []string
}

func (f *fakeValidator) Validate(_ context.Context, id string) (*backend.ValidationPayload, error) {
	f.calls = append(f.calls, id)
	return f.payload, f.err
}

type memorySink struct {
	results []model.ValidationResult
	err     error
}

func (m *memorySink) SaveResult(_ context.Context, r model.ValidationResult) error {
	if m.err != nil {
		return m.err
	}
	m.results = append(m.results, r)
	return nil
}

func validateTask(t *testing.T, fileID string) *asynq.Task {
	t.Helper()
	task, _, err := queue.NewValidateTask(queue.ValidatePayload{FileID: fileID})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func TestProcessorRecordsResult(t *testing.T) {
	v := &fakeValidator{payload: &backend.ValidationPayload{
		Filename: "plan.pdf", TotalCriteria: 4, PassedCriteria: 4, Score: 1, Status: "passed",
	}}
	sink := &memorySink{}
	p := NewProcessor(v, sink, nil, zaptest.NewLogger(t))

	if err := p.Handler().ProcessTask(context.Background(), validateTask(t, "abc123")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(sink.results) != 1 || sink.results[0].FileID != "abc123" || sink.results[0].Status != model.ResultPassed {
		t.Fatalf("unexpected saved results %+v", sink.results)
	}
}

func TestProcessorRetryPolicy(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"not found", &backend.APIError{StatusCode: http.StatusNotFound, Body: "file not found"}, true},
		{"malformed", backend.ErrMalformedResponse, true},
		{"rate limited", &backend.APIError{StatusCode: http.StatusTooManyRequests}, false},
		{"server error", &backend.APIError{StatusCode: http.StatusBadGateway}, false},
		{"transport", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &memorySink{}
			p := NewProcessor(&fakeValidator{err: tc.err}, sink, nil, zaptest.NewLogger(t))
			err := p.Handler().ProcessTask(context.Background(), validateTask(t, "abc123"))
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, asynq.SkipRetry); got != tc.skipRetry {
				t.Fatalf("SkipRetry = %v, want %v (%v)", got, tc.skipRetry, err)
			}
			if len(sink.results) != 0 {
				t.Fatalf("failed validation must not be saved")
			}
		})
	}
}

func TestProcessorRejectsBadPayload(t *testing.T) {
	v := &fakeValidator{}
	p := NewProcessor(v, &memorySink{}, nil, nil)
	err := p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.ValidateDocumentTask, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if len(v.calls) != 0 {
		t.Fatalf("backend should not be called")
	}
}

func TestProcessorSinkFailureRetries(t *testing.T) {
	v := &fakeValidator{payload: &backend.ValidationPayload{TotalCriteria: 1, PassedCriteria: 0, Status: "failed"}}
	p := NewProcessor(v, &memorySink{err: errors.New("db down")}, nil, zaptest.NewLogger(t))
	err := p.Handler().ProcessTask(context.Background(), validateTask(t, "abc123"))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("sink failure should be retried, got %v", err)
	}
}
