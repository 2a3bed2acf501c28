// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// FileStatus describes the client-side lifecycle of one tracked document. In
// Go a type declared via "type X string" creates a new named type with string
// as the underlying representation, enabling better type safety than using
// plain strings.
type FileStatus string

const (
	StatusUploading  FileStatus = "uploading"
	StatusUploaded   FileStatus = "uploaded"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// Terminal reports whether no further transition can happen for the current
// attempt.
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileRecord holds what the client knows about one submitted document.
type FileRecord struct {
	// ID starts out as a temporary client id and is replaced by the
	// server-issued file id once the upload is confirmed.
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	// Status only moves forward; failed is terminal for the attempt.
	Status FileStatus `json:"status"`
	// Progress is simulated while uploading, 100 on confirmation and 0 once
	// the progress entry has been cleared.
	Progress    int       `json:"progress,omitempty"`
	Error       string    `json:"error,omitempty"`
	UploadTime  string    `json:"uploadTime,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// StoredFile is an entry of the backend's "already stored" listing. It is
// display-only and never takes part in validation state.
type StoredFile struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	UploadTime string `json:"upload_time"`
}
