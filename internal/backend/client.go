// Package backend is the HTTP client for the Backend Validation API. The
// service itself is external; this package only knows its JSON contract.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/model"
)

const (
	uploadPath   = "/api/documents/upload"
	listPath     = "/api/documents/list"
	deletePath   = "/api/documents/delete/"
	validatePath = "/api/documents/validate/"

	// RequestIDHeader is attached to every call so backend logs can be
	// correlated with ours.
	RequestIDHeader = "X-Request-ID"
)

// ErrMalformedResponse marks a success status whose body could not be used.
var ErrMalformedResponse = errors.New("malformed response")

// APIError is a non-2xx answer. Its message is the response body verbatim.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return body
}

// UploadResponse is the confirmation of a stored upload.
type UploadResponse struct {
	FileID     string `json:"file_id"`
	UploadTime string `json:"upload_time"`
}

// ListResponse is the stored-file listing.
type ListResponse struct {
	Files []model.StoredFile `json:"files"`
}

// ValidationPayload is the wire shape of one validation outcome.
type ValidationPayload struct {
	Filename        string           `json:"filename"`
	TotalCriteria   int              `json:"total_criteria"`
	PassedCriteria  int              `json:"passed_criteria"`
	Score           float64          `json:"score"`
	Status          string           `json:"status"`
	ProcessedTime   string           `json:"processed_time"`
	Categories      []model.Category `json:"categories"`
	Issues          []string         `json:"issues"`
	Recommendations []string         `json:"recommendations"`
	Strengths       []string         `json:"strengths"`
}

// ValidateResponse wraps the payload the way the backend sends it.
type ValidateResponse struct {
	ValidationResults *ValidationPayload `json:"validation_results"`
}

// Check rejects payloads that break the result invariants.
func (p ValidationPayload) Check() error {
	switch {
	case p.TotalCriteria < 0 || p.PassedCriteria < 0:
		return fmt.Errorf("%w: negative criteria count", ErrMalformedResponse)
	case p.PassedCriteria > p.TotalCriteria:
		return fmt.Errorf("%w: passed_criteria %d exceeds total_criteria %d", ErrMalformedResponse, p.PassedCriteria, p.TotalCriteria)
	case p.Score < 0 || p.Score > 1:
		return fmt.Errorf("%w: score %v outside [0,1]", ErrMalformedResponse, p.Score)
	}
	switch model.ResultStatus(p.Status) {
	case model.ResultPassed, model.ResultPartial, model.ResultFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, p.Status)
	}
}

// Result converts the payload into the client model for fileID.
func (p ValidationPayload) Result(fileID string) model.ValidationResult {
	return model.ValidationResult{
		FileID:          fileID,
		Filename:        p.Filename,
		Score:           p.Score,
		TotalCriteria:   p.TotalCriteria,
		PassedCriteria:  p.PassedCriteria,
		Status:          model.ResultStatus(p.Status),
		ProcessedTime:   p.ProcessedTime,
		Categories:      nonNilCategories(p.Categories),
		Issues:          nonNil(p.Issues),
		Recommendations: nonNil(p.Recommendations),
		Strengths:       nonNil(p.Strengths),
	}
}

// Client talks to one backend instance.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a Client. timeout zero means no client-side deadline:
// calls wait until the transport or the backend settles them.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// WithHTTPClient swaps the underlying http.Client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Upload streams one file to the backend as the multipart field "file".
func (c *Client) Upload(ctx context.Context, filename string, body io.Reader) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	req, err := c.newRequest(ctx, http.MethodPost, uploadPath, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResponse
	if err := c.do(req, &out); err != nil {
		// Unblock the writer goroutine if the request died mid-stream.
		pr.CloseWithError(err)
		return nil, err
	}
	if out.FileID == "" {
		return nil, fmt.Errorf("upload %s: %w: missing file_id", filename, ErrMalformedResponse)
	}
	return &out, nil
}

// List returns the files the backend already stores.
func (c *Client) List(ctx context.Context) ([]model.StoredFile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, listPath, nil)
	if err != nil {
		return nil, err
	}
	var out ListResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Files == nil {
		out.Files = []model.StoredFile{}
	}
	return out.Files, nil
}

// Delete removes a stored file on the server.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, deletePath+url.PathEscape(fileID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Validate asks the backend to validate a stored file.
func (c *Client) Validate(ctx context.Context, fileID string) (*ValidationPayload, error) {
	req, err := c.newRequest(ctx, http.MethodPost, validatePath+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, err
	}
	var out ValidateResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.ValidationResults == nil {
		return nil, fmt.Errorf("validate %s: %w: missing validation_results", fileID, ErrMalformedResponse)
	}
	if err := out.ValidationResults.Check(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", fileID, err)
	}
	return out.ValidationResults, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

// do sends the request, maps non-2xx answers to *APIError and decodes the
// JSON body into out when out is non-nil.
func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", req.Header.Get(RequestIDHeader)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilCategories(in []model.Category) []model.Category {
	if in == nil {
		return []model.Category{}
	}
	return in
}
