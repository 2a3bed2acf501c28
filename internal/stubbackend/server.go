// Package stubbackend is an in-memory stand-in for the Backend Validation
// API. It speaks the same JSON contract as the real service so the CLI, the
// dashboard and the tests can run without it. Its validator is deliberately
// shallow.
package stubbackend

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/model"
)

const defaultMaxFileSize = 50 << 20

var errNotFound = errors.New("file not found")

// Document is one uploaded file held by the stub.
type Document struct {
	model.StoredFile
	ContentType string
	Data        []byte
}

// ValidateFunc produces the validation payload for a stored document. A
// returned *StatusError controls the HTTP status; any other error becomes 422.
type ValidateFunc func(doc Document) (backend.ValidationPayload, error)

// StatusError lets hooks choose the status code of a rejection.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string { return e.Message }

// Options customize the stub. Zero values fall back to defaults.
type Options struct {
	MaxFileSize int64
	// NewID issues file ids; uuid by default.
	NewID func() string
	// Validate replaces the default validator.
	Validate ValidateFunc
	// BeforeUpload runs before the upload is accepted. It may block (tests
	// use it to hold an upload open) and a non-nil error rejects the file.
	BeforeUpload func(filename string) error
	// BeforeValidate is the equivalent hook for validation requests.
	BeforeValidate func(fileID string) error
	Now            func() time.Time
	Logger         *zap.Logger
}

// Server hosts the stub API.
type Server struct {
	opts Options
	mu   sync.RWMutex
	docs map[string]*Document
}

// New creates a stub server.
func New(opts Options) *Server {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Validate == nil {
		opts.Validate = DefaultValidate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{opts: opts, docs: make(map[string]*Document)}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/documents").Subrouter()
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/list", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/delete/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/validate/{id}", s.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

// Document returns a stored document copy, mostly for tests.
func (s *Server) Document(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer part.Close()
	name := part.FileName()
	if name == "" {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}
	if s.opts.BeforeUpload != nil {
		if err := s.opts.BeforeUpload(name); err != nil {
			respondHookError(w, err, http.StatusBadRequest)
			return
		}
	}
	data, sniff, err := readPart(part, s.opts.MaxFileSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc := &Document{
		StoredFile: model.StoredFile{
			FileID:     s.opts.NewID(),
			Filename:   name,
			Size:       int64(len(data)),
			UploadTime: s.opts.Now().UTC().Format(time.RFC3339),
		},
		ContentType: http.DetectContentType(sniff),
		Data:        data,
	}
	s.mu.Lock()
	s.docs[doc.FileID] = doc
	s.mu.Unlock()
	s.opts.Logger.Info("stub upload stored",
		zap.String("file_id", doc.FileID),
		zap.String("filename", name),
		zap.Int64("size", doc.Size))
	respondJSON(w, http.StatusOK, backend.UploadResponse{
		FileID:     doc.FileID,
		UploadTime: doc.UploadTime,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	files := make([]model.StoredFile, 0, len(s.docs))
	for _, doc := range s.docs {
		files = append(files, doc.StoredFile)
	}
	s.mu.RUnlock()
	sort.Slice(files, func(i, j int) bool {
		if files[i].UploadTime == files[j].UploadTime {
			return files[i].FileID < files[j].FileID
		}
		return files[i].UploadTime < files[j].UploadTime
	})
	respondJSON(w, http.StatusOK, backend.ListResponse{Files: files})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.docs[id]
	delete(s.docs, id)
	s.mu.Unlock()
	if !ok {
		http.Error(w, errNotFound.Error(), http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.opts.BeforeValidate != nil {
		if err := s.opts.BeforeValidate(id); err != nil {
			respondHookError(w, err, http.StatusUnprocessableEntity)
			return
		}
	}
	doc, ok := s.Document(id)
	if !ok {
		http.Error(w, errNotFound.Error(), http.StatusNotFound)
		return
	}
	payload, err := s.opts.Validate(doc)
	if err != nil {
		respondHookError(w, err, http.StatusUnprocessableEntity)
		return
	}
	if payload.ProcessedTime == "" {
		payload.ProcessedTime = s.opts.Now().UTC().Format(time.RFC3339)
	}
	if payload.Filename == "" {
		payload.Filename = doc.Filename
	}
	respondJSON(w, http.StatusOK, backend.ValidateResponse{ValidationResults: &payload})
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// readPart drains a multipart part with a bounded buffer, enforcing the size
// limit and keeping the first 512 bytes for content sniffing.
func readPart(part io.Reader, limit int64) ([]byte, []byte, error) {
	var (
		data  []byte
		sniff []byte
	)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			if int64(len(data)+n) > limit {
				return nil, nil, errors.New("file exceeds limit")
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			data = append(data, buf[:n]...)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, nil, readErr
		}
	}
	if len(data) == 0 {
		return nil, nil, errors.New("empty file")
	}
	return data, sniff, nil
}

func respondHookError(w http.ResponseWriter, err error, fallback int) {
	var se *StatusError
	if errors.As(err, &se) {
		http.Error(w, se.Message, se.Code)
		return
	}
	http.Error(w, err.Error(), fallback)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
