package models

import "time"

type Language string

const (
	LanguageRussian Language = "ru"
	LanguageKazakh  Language = "kz"
	LanguageOther   Language = "other"
)

func (l Language) Valid() bool {
	switch l {
	case LanguageRussian, LanguageKazakh, LanguageOther:
		return true
	}
	return false
}

// Issue is one catalog entry referencing exactly one Asset. FileSize and
// MimeType mirror the Asset and are refreshed when compression changes it.
type Issue struct {
	ID            string    `json:"id"`
	PublicationID int64     `json:"publication_id"`
	IssueDate     time.Time `json:"issue_date"`
	IssueNumber   string    `json:"issue_number"`
	Language      Language  `json:"language"`
	FileID        string    `json:"file_id"`
	FileSize      int64     `json:"file_size"`
	MimeType      string    `json:"mime_type"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IssueMetadata is the catalog data supplied when an upload completes.
type IssueMetadata struct {
	PublicationID int64     `json:"publication_id"`
	IssueDate     time.Time `json:"issue_date"`
	IssueNumber   string    `json:"issue_number"`
	Language      Language  `json:"language"`
}
