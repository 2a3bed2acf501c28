// Package controller drives tracked files through upload and validation
// against the Backend Validation API:
//
//	uploading -> uploaded -> processing -> completed
//	    |                        |
//	    +--------> failed <------+
//
// failed and completed end an attempt; a new attempt is a new submission.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/metrics"
	"github.com/dharsanguruparan/PlanCheck/internal/model"
	"github.com/dharsanguruparan/PlanCheck/internal/progress"
	"github.com/dharsanguruparan/PlanCheck/internal/storage"
)

var (
	ErrNoFiles = errors.New("no files submitted")
	// ErrNotFound is returned for ids the controller does not track.
	ErrNotFound = storage.ErrNotFound
	// ErrNotValidatable is returned when the record is not in uploaded state.
	// Validation is one-shot per upload.
	ErrNotValidatable = errors.New("file is not ready for validation")

	errSkip = errors.New("skip")
)

// Backend is the subset of the backend client the controller needs.
type Backend interface {
	Upload(ctx context.Context, filename string, body io.Reader) (*backend.UploadResponse, error)
	List(ctx context.Context) ([]model.StoredFile, error)
	Delete(ctx context.Context, fileID string) error
	Validate(ctx context.Context, fileID string) (*backend.ValidationPayload, error)
}

// ResultSink receives every completed validation, e.g. the history store.
type ResultSink interface {
	SaveResult(ctx context.Context, result model.ValidationResult) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithProgress sets the simulated progress parameters.
func WithProgress(sim progress.Simulator) Option {
	return func(c *Controller) { c.sim = sim }
}

// WithClearDelay sets how long the 100% progress entry stays visible.
func WithClearDelay(d time.Duration) Option {
	return func(c *Controller) { c.clearDelay = d }
}

// WithObserver registers a callback run after every state change, in order.
// It must not call back into the controller.
func WithObserver(fn func(model.Snapshot)) Option {
	return func(c *Controller) { c.observer = fn }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Controller) { c.metrics = rec }
}

func WithResultSink(sink ResultSink) Option {
	return func(c *Controller) { c.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithClock replaces time.Now, used for temporary ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the tracked files and validation results. All mutations go
// through the store, which swaps whole collections, so uploads and
// validations resolving in any order never interleave partial updates.
type Controller struct {
	backend    Backend
	store      *storage.MemoryStore
	sim        progress.Simulator
	clearDelay time.Duration
	observer   func(model.Snapshot)
	metrics    *metrics.Recorder
	sink       ResultSink
	logger     *zap.Logger
	now        func() time.Time

	uploads     sync.WaitGroup
	validations sync.WaitGroup
	cleanups    sync.WaitGroup
	closing     chan struct{}
	once        sync.Once
}

// New builds a Controller around the backend.
func New(b Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:    b,
		sim:        progress.New(0, 0, 0),
		clearDelay: 2 * time.Second,
		logger:     zap.NewNop(),
		now:        time.Now,
		closing:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = storage.NewMemoryStore(c.observer)
	return c
}

// SubmitFiles starts tracking files and uploads each one in its own
// goroutine. The records are visible (uploading, progress 0) before any
// request is sent. ctx bounds the uploads, which outlive this call; the
// returned ids are the temporary ones.
func (c *Controller) SubmitFiles(ctx context.Context, files []FileSource) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	now := c.now()
	records := make([]model.FileRecord, 0, len(files))
	for _, f := range files {
		records = append(records, model.FileRecord{
			ID:          tempID(now, f.Name),
			Name:        f.Name,
			Size:        f.Size,
			Status:      model.StatusUploading,
			SubmittedAt: now,
		})
	}
	if err := c.store.Append(records...); err != nil {
		return nil, err
	}
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].ID
		c.uploads.Add(1)
		go c.upload(ctx, records[i].ID, files[i])
	}
	return ids, nil
}

// Validate runs the backend validation for an uploaded file. The record is
// marked processing before the request goes out. A failure marks the record
// failed and produces no result.
func (c *Controller) Validate(ctx context.Context, id string) (*model.ValidationResult, error) {
	if err := c.beginValidation(id); err != nil {
		return nil, err
	}
	return c.finishValidation(ctx, id)
}

// StartValidation checks and marks the record like Validate but runs the
// backend call in the background. Outcomes are observable through the
// record and the results.
func (c *Controller) StartValidation(ctx context.Context, id string) error {
	if err := c.beginValidation(id); err != nil {
		return err
	}
	c.validations.Add(1)
	go func() {
		defer c.validations.Done()
		_, _ = c.finishValidation(ctx, id)
	}()
	return nil
}

func (c *Controller) beginValidation(id string) error {
	_, err := c.store.Update(id, func(rec *model.FileRecord) error {
		if rec.Status != model.StatusUploaded {
			return fmt.Errorf("%w: %s is %s", ErrNotValidatable, id, rec.Status)
		}
		rec.Status = model.StatusProcessing
		rec.Progress = 0
		return nil
	})
	return err
}

func (c *Controller) finishValidation(ctx context.Context, id string) (*model.ValidationResult, error) {
	end := c.metrics.Begin()
	payload, err := c.backend.Validate(ctx, id)
	end()
	if err != nil {
		c.metrics.ValidationFinished(nil, err)
		c.fail(id, err)
		c.logger.Warn("validation failed", zap.String("file_id", id), zap.Error(err))
		return nil, err
	}

	result := payload.Result(id)
	err = c.store.Complete(id, result, func(rec model.FileRecord) error {
		if rec.Status != model.StatusProcessing {
			return errSkip
		}
		return nil
	})
	if err != nil {
		// The record was removed while the request was in flight; a result
		// without its record must not be kept.
		c.logger.Info("dropping result for removed file", zap.String("file_id", id))
		return nil, fmt.Errorf("file %s removed during validation: %w", id, ErrNotFound)
	}
	c.metrics.ValidationFinished(&result, nil)
	c.logger.Info("validation completed",
		zap.String("file_id", id),
		zap.String("status", string(result.Status)),
		zap.Float64("score", result.Score))
	if c.sink != nil {
		if err := c.sink.SaveResult(ctx, result); err != nil {
			c.logger.Error("save result", zap.String("file_id", id), zap.Error(err))
		}
	}
	return &result, nil
}

// RemoveFile stops tracking a file locally and drops its results. It never
// calls the backend and removing an unknown id is a no-op.
func (c *Controller) RemoveFile(id string) bool {
	removed := c.store.Remove(id)
	if removed {
		c.logger.Debug("file removed", zap.String("file_id", id))
	}
	return removed
}

// DeleteStoredFile deletes a file on the server and drops it from the
// stored listing.
func (c *Controller) DeleteStoredFile(ctx context.Context, id string) error {
	if err := c.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	c.store.RemoveStored(id)
	return nil
}

// ListExistingFiles refreshes the display-only listing of files already on
// the server. Tracked files are not affected.
func (c *Controller) ListExistingFiles(ctx context.Context) ([]model.StoredFile, error) {
	files, err := c.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored files: %w", err)
	}
	c.store.ReplaceStored(files)
	return files, nil
}

func (c *Controller) Snapshot() model.Snapshot { return c.store.Snapshot() }

func (c *Controller) Files() []model.FileRecord { return c.store.Snapshot().Files }

func (c *Controller) Results() []model.ValidationResult { return c.store.Snapshot().Results }

func (c *Controller) Stored() []model.StoredFile { return c.store.Snapshot().Stored }

// File returns one tracked record.
func (c *Controller) File(id string) (model.FileRecord, error) { return c.store.Get(id) }

// Wait blocks until every submitted upload and background validation has
// settled.
func (c *Controller) Wait() {
	c.uploads.Wait()
	c.validations.Wait()
}

// Close waits for in-flight work and cancels pending progress cleanups.
func (c *Controller) Close() {
	c.Wait()
	c.once.Do(func() { close(c.closing) })
	c.cleanups.Wait()
}

func (c *Controller) upload(ctx context.Context, id string, src FileSource) {
	defer c.uploads.Done()
	run := c.sim.Start(func(next int) {
		_, _ = c.store.Update(id, func(rec *model.FileRecord) error {
			if rec.Status != model.StatusUploading || next <= rec.Progress {
				return errSkip
			}
			rec.Progress = next
			return nil
		})
	})
	resp, err := c.send(ctx, src)
	run.Stop()
	c.metrics.UploadFinished(err)
	if err != nil {
		c.logger.Warn("upload failed", zap.String("file", src.Name), zap.Error(err))
		c.fail(id, err)
		return
	}

	_, err = c.store.Update(id, func(rec *model.FileRecord) error {
		if rec.Status != model.StatusUploading {
			return errSkip
		}
		rec.ID = resp.FileID
		rec.Status = model.StatusUploaded
		rec.Progress = 100
		rec.UploadTime = resp.UploadTime
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateID):
		c.fail(id, fmt.Errorf("server returned file id %s which is already tracked", resp.FileID))
		return
	case err != nil:
		c.logger.Debug("upload settled for untracked file", zap.String("file", src.Name))
		return
	}
	c.logger.Info("upload completed",
		zap.String("file", src.Name),
		zap.String("file_id", resp.FileID))
	c.scheduleClear(resp.FileID)
}

func (c *Controller) send(ctx context.Context, src FileSource) (*backend.UploadResponse, error) {
	end := c.metrics.Begin()
	defer end()
	body, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer body.Close()
	return c.backend.Upload(ctx, src.Name, body)
}

// scheduleClear hides the 100% progress entry after the clear delay. It is
// cosmetic and never touches the status.
func (c *Controller) scheduleClear(id string) {
	reset := func() {
		_, _ = c.store.Update(id, func(rec *model.FileRecord) error {
			if rec.Progress == 0 {
				return errSkip
			}
			rec.Progress = 0
			return nil
		})
	}
	if c.clearDelay <= 0 {
		reset()
		return
	}
	c.cleanups.Add(1)
	go func() {
		defer c.cleanups.Done()
		timer := time.NewTimer(c.clearDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			reset()
		case <-c.closing:
		}
	}()
}

func (c *Controller) fail(id string, cause error) {
	_, _ = c.store.Update(id, func(rec *model.FileRecord) error {
		if rec.Status.Terminal() {
			return errSkip
		}
		rec.Status = model.StatusFailed
		rec.Error = cause.Error()
		rec.Progress = 0
		return nil
	})
}

// tempID derives a placeholder id from the submission time and filename. The
// random suffix keeps same-named files submitted together distinct.
func tempID(now time.Time, name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return fmt.Sprintf("tmp-%d-%s-%s", now.UnixMilli(), safe, uuid.NewString()[:8])
}
