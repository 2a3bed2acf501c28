package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/controller"
	"github.com/dharsanguruparan/PlanCheck/internal/metrics"
	"github.com/dharsanguruparan/PlanCheck/internal/model"
	"github.com/dharsanguruparan/PlanCheck/internal/progress"
	"github.com/dharsanguruparan/PlanCheck/internal/repository"
	"github.com/dharsanguruparan/PlanCheck/internal/stubbackend"
)

type fakeHistory struct{ entries []repository.Entry }

func (f *fakeHistory) List(_ context.Context, limit int) ([]repository.Entry, error) {
	if limit > 0 && limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fakePublisher struct {
	key  string
	data []byte
}

func (f *fakePublisher) Publish(_ context.Context, _ time.Time, ext string, data []byte, _ string) (string, string, error) {
	f.key = "reports/results." + ext
	f.data = data
	return f.key, "https://minio.local/" + f.key + "?X-Amz-Signature=abc", nil
}

type fixture struct {
	ctrl    *controller.Controller
	handler http.Handler
	stub    *stubbackend.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	stub := stubbackend.New(stubbackend.Options{})
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)
	client := backend.NewClient(srv.URL, 0, zaptest.NewLogger(t)).
		WithHTTPClient(&http.Client{Transport: &http.Transport{DisableKeepAlives: true}})
	ctrl := controller.New(client,
		controller.WithProgress(progress.New(time.Millisecond, 10, 90)),
		controller.WithClearDelay(0),
		controller.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(ctrl.Close)

	opts.Controller = ctrl
	opts.Logger = zaptest.NewLogger(t)
	return &fixture{ctrl: ctrl, handler: New(opts).Handler(), stub: stub}
}

func (f *fixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// uploadAll submits files through the API and waits for the uploads.
func (f *fixture) uploadAll(t *testing.T, files map[string]string) []model.FileRecord {
	t.Helper()
	body, ct := multipartBody(t, files)
	rec := f.do(t, http.MethodPost, "/api/files", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		IDs []string `json:"ids"`
	}
	decode(t, rec, &resp)
	if len(resp.IDs) != len(files) {
		t.Fatalf("expected %d ids, got %v", len(files), resp.IDs)
	}
	f.ctrl.Wait()
	return f.ctrl.Files()
}

func TestUploadAndValidateFlow(t *testing.T) {
	f := newFixture(t, Options{})
	files := f.uploadAll(t, map[string]string{"a.txt": "plan a", "b.txt": "plan b"})

	rec := f.do(t, http.MethodGet, "/api/files", nil, "")
	var listed struct {
		Files []model.FileRecord `json:"files"`
	}
	decode(t, rec, &listed)
	if len(listed.Files) != 2 {
		t.Fatalf("expected two files, got %+v", listed.Files)
	}
	for _, file := range listed.Files {
		if file.Status != model.StatusUploaded {
			t.Fatalf("expected uploaded, got %+v", file)
		}
	}

	id := files[0].ID
	if rec := f.do(t, http.MethodPost, "/api/files/"+id+"/validate", nil, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("validate: %d %s", rec.Code, rec.Body.String())
	}
	f.ctrl.Wait()
	if rec := f.do(t, http.MethodPost, "/api/files/"+id+"/validate", nil, ""); rec.Code != http.StatusConflict {
		t.Fatalf("second validate: expected 409, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/files/nope/validate", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown validate: expected 404, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/results", nil, "")
	var results struct {
		Results []model.ValidationResult `json:"results"`
	}
	decode(t, rec, &results)
	if len(results.Results) != 1 || results.Results[0].FileID != id {
		t.Fatalf("unexpected results %+v", results.Results)
	}

	for i := 0; i < 2; i++ {
		if rec := f.do(t, http.MethodDelete, "/api/files/"+id, nil, ""); rec.Code != http.StatusNoContent {
			t.Fatalf("remove #%d: expected 204, got %d", i+1, rec.Code)
		}
	}
	if len(f.ctrl.Results()) != 0 || len(f.ctrl.Files()) != 1 {
		t.Fatalf("remove did not cascade: %+v", f.ctrl.Snapshot())
	}
}

func TestUploadRequiresFiles(t *testing.T) {
	f := newFixture(t, Options{})
	body, ct := multipartBody(t, nil)
	if rec := f.do(t, http.MethodPost, "/api/files", body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/files", bytes.NewBufferString("{}"), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart, got %d", rec.Code)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newFixture(t, Options{MaxFileSize: 4})
	body, ct := multipartBody(t, map[string]string{"big.txt": "too large"})
	rec := f.do(t, http.MethodPost, "/api/files", body, ct)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "exceeds limit") {
		t.Fatalf("expected size rejection, got %d %s", rec.Code, rec.Body.String())
	}
	if len(f.ctrl.Files()) != 0 {
		t.Fatalf("rejected request must not track files")
	}
}

func TestExport(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, Options{Reports: pub})
	files := f.uploadAll(t, map[string]string{"a.txt": "plan a"})
	if _, err := f.ctrl.Validate(context.Background(), files[0].ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/results/export?format=csv", nil, "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv export: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), files[0].ID) {
		t.Fatalf("csv export missing result: %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/api/results/export?format=pdf", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/results/export?format=xlsx&publish=true", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	var published map[string]string
	decode(t, rec, &published)
	if published["key"] != "reports/results.xlsx" || !strings.Contains(published["url"], "X-Amz-Signature") {
		t.Fatalf("unexpected publish response %v", published)
	}
	if len(pub.data) == 0 {
		t.Fatalf("publisher received no data")
	}
}

func TestExportPublishWithoutStorage(t *testing.T) {
	f := newFixture(t, Options{})
	if rec := f.do(t, http.MethodGet, "/api/results/export?publish=true", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Options{})
	if rec := f.do(t, http.MethodGet, "/api/history", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("history disabled: expected 404, got %d", rec.Code)
	}

	h := &fakeHistory{entries: []repository.Entry{
		{ID: "2", ValidationResult: model.ValidationResult{FileID: "b"}},
		{ID: "1", ValidationResult: model.ValidationResult{FileID: "a"}},
	}}
	f = newFixture(t, Options{History: h})
	rec := f.do(t, http.MethodGet, "/api/history?limit=1", nil, "")
	var resp struct {
		Entries []repository.Entry `json:"entries"`
	}
	decode(t, rec, &resp)
	if len(resp.Entries) != 1 || resp.Entries[0].FileID != "b" {
		t.Fatalf("unexpected entries %+v", resp.Entries)
	}
	if rec := f.do(t, http.MethodGet, "/api/history?limit=x", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", rec.Code)
	}
}

func TestStoredFiles(t *testing.T) {
	f := newFixture(t, Options{})
	f.uploadAll(t, map[string]string{"a.txt": "plan a"})

	rec := f.do(t, http.MethodGet, "/api/stored", nil, "")
	var listed struct {
		Files []model.StoredFile `json:"files"`
	}
	decode(t, rec, &listed)
	if len(listed.Files) != 1 {
		t.Fatalf("expected one stored file, got %+v", listed.Files)
	}
	id := listed.Files[0].FileID
	if rec := f.do(t, http.MethodDelete, "/api/stored/"+id, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodDelete, "/api/stored/"+id, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{AllowedOrigins: []string{"http://dashboard.local"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/files", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).UploadFinished(nil)
	f := newFixture(t, Options{Gatherer: reg})
	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "plancheck_uploads_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("panic detail leaked: %s", rec.Body.String())
	}
}
