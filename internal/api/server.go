// Package api serves the dashboard JSON surface over the controller.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/controller"
	"github.com/dharsanguruparan/PlanCheck/internal/export"
	"github.com/dharsanguruparan/PlanCheck/internal/repository"
)

const defaultMaxFileSize = 50 << 20

// History lists persisted validations.
type History interface {
	List(ctx context.Context, limit int) ([]repository.Entry, error)
}

// Publisher stores a rendered report and returns its key and a download link.
type Publisher interface {
	Publish(ctx context.Context, now time.Time, ext string, data []byte, contentType string) (string, string, error)
}

// Options wires the server. Controller is required; History, Reports and
// Gatherer are optional and their routes answer 404 when unset.
type Options struct {
	Controller     *controller.Controller
	History        History
	Reports        Publisher
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
	MaxFileSize    int64
	AllowedOrigins []string
}

// Server exposes HTTP endpoints for uploads, validation and results.
type Server struct {
	ctrl        *controller.Controller
	history     History
	reports     Publisher
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
	maxFileSize int64
	origins     []string
	now         func() time.Time
}

// New constructs a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		ctrl:        opts.Controller,
		history:     opts.History,
		reports:     opts.Reports,
		gatherer:    opts.Gatherer,
		logger:      opts.Logger,
		maxFileSize: opts.MaxFileSize,
		origins:     opts.AllowedOrigins,
		now:         time.Now,
	}
}

// Handler returns the routed API with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(recoveryMiddleware(s.logger))
	r.Use(loggingMiddleware(s.logger))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/files/{id}", s.handleRemoveFile).Methods(http.MethodDelete)
	api.HandleFunc("/files/{id}/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	api.HandleFunc("/results/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/stored", s.handleListStored).Methods(http.MethodGet)
	api.HandleFunc("/stored/{id}", s.handleDeleteStored).Methods(http.MethodDelete)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", backend.RequestIDHeader},
	})
	return c.Handler(r)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("dashboard api listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"files": s.ctrl.Files()})
}

// handleUpload accepts one or more "file" parts. The uploads continue after
// the response is written, so they are detached from the request context.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 8*s.maxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	var files []controller.FileSource
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "read multipart: "+err.Error())
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		src, err := s.readFilePart(part)
		part.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, src)
	}

	ids, err := s.ctrl.SubmitFiles(context.WithoutCancel(r.Context()), files)
	if err != nil {
		if errors.Is(err, controller.ErrNoFiles) {
			respondError(w, http.StatusBadRequest, "missing file part")
			return
		}
		s.logger.Error("submit files", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to submit files")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"ids": ids})
}

func (s *Server) readFilePart(part *multipart.Part) (controller.FileSource, error) {
	name := part.FileName()
	if name == "" {
		return controller.FileSource{}, errors.New("missing filename")
	}
	var data []byte
	buf := make([]byte, 32*1024)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			if int64(len(data)+n) > s.maxFileSize {
				return controller.FileSource{}, fmt.Errorf("%s exceeds limit (%d bytes)", name, s.maxFileSize)
			}
			data = append(data, buf[:n]...)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return controller.FileSource{}, fmt.Errorf("read %s: %w", name, readErr)
		}
	}
	if len(data) == 0 {
		return controller.FileSource{}, fmt.Errorf("%s is empty", name)
	}
	return controller.FromBytes(name, data), nil
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	s.ctrl.RemoveFile(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.ctrl.StartValidation(context.WithoutCancel(r.Context()), id)
	switch {
	case errors.Is(err, controller.ErrNotFound):
		respondError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, controller.ErrNotValidatable):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to start validation")
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "processing"})
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": s.ctrl.Results()})
}

// handleExport renders the current results. With publish=true the report is
// stored in object storage and a presigned link is returned instead.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := export.Render(format, s.ctrl.Results())
	if err != nil {
		s.logger.Error("render export", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	if publish, _ := strconv.ParseBool(r.URL.Query().Get("publish")); publish {
		if s.reports == nil {
			respondError(w, http.StatusNotFound, "report storage not configured")
			return
		}
		key, link, err := s.reports.Publish(r.Context(), s.now(), format.Extension(), data, format.ContentType())
		if err != nil {
			s.logger.Error("publish export", zap.Error(err))
			respondError(w, http.StatusBadGateway, "failed to store report")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"key": key, "url": link})
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "results."+format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "history not configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list history", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleListStored(w http.ResponseWriter, r *http.Request) {
	files, err := s.ctrl.ListExistingFiles(r.Context())
	if err != nil {
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleDeleteStored(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteStoredFile(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondBackendError passes backend 404s through and reports every other
// failure as a bad gateway carrying the backend's message.
func respondBackendError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		respondError(w, http.StatusNotFound, apiErr.Error())
		return
	}
	respondError(w, http.StatusBadGateway, err.Error())
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
