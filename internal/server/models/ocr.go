package models

import "time"

// OcrResult holds the recognised text of an Issue. FullText is only set when
// Status is done; StartedAt/FinishedAt bound the latest attempt.
type OcrResult struct {
	IssueID      string     `json:"issue_id"`
	Status       OcrStatus  `json:"status"`
	FullText     string     `json:"full_text,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
