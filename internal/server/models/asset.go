// Package models holds the archive's persisted entities, the ephemeral upload
// session, and the status state machine shared by the pipeline stages.
package models

import "time"

// Asset is a stored PDF and its metadata. StoredPath always points at the
// current canonical bytes; OriginalPath is the pre-compression input and is
// empty once compression has committed.
type Asset struct {
	ID           string      `json:"id"`
	OriginalName string      `json:"original_name"`
	StoredPath   string      `json:"stored_path"`
	OriginalPath string      `json:"original_path,omitempty"`
	SHA256       string      `json:"sha256"`
	Size         int64       `json:"size"`
	MimeType     string      `json:"mime_type"`
	Status       AssetStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	UploadedBy   string      `json:"uploaded_by,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// CompressionCommitted reports whether the Compress stage has already
// replaced the original input.
func (a *Asset) CompressionCommitted() bool {
	return a.OriginalPath == ""
}
