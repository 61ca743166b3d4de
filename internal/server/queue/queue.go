// Package queue carries pipeline jobs to workers. Jobs are split into two
// lanes so a backlog of slow OCR work never delays compression or thumbnails.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type Stage string

const (
	StageCompress  Stage = "compress"
	StageThumbnail Stage = "thumbnail"
	StageOCR       Stage = "ocr"
	StageReplicate Stage = "replicate"
)

type Lane string

const (
	LaneLight Lane = "light"
	LaneOCR   Lane = "ocr"
)

// Lanes lists every lane a queue must serve.
var Lanes = []Lane{LaneLight, LaneOCR}

func (s Stage) Lane() Lane {
	if s == StageOCR {
		return LaneOCR
	}
	return LaneLight
}

func (s Stage) Valid() bool {
	switch s {
	case StageCompress, StageThumbnail, StageOCR, StageReplicate:
		return true
	}
	return false
}

// Job asks for one stage to run against one asset. IssueID is set for the
// stages that write to the issue (thumbnail, ocr).
type Job struct {
	Stage   Stage  `json:"stage"`
	AssetID string `json:"asset_id"`
	IssueID string `json:"issue_id,omitempty"`
}

func (j Job) String() string {
	return fmt.Sprintf("%s(asset=%s issue=%s)", j.Stage, j.AssetID, j.IssueID)
}

func encodeJob(j Job) ([]byte, error) {
	return json.Marshal(j)
}

func decodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, err
	}
	if !j.Stage.Valid() || j.AssetID == "" {
		return Job{}, fmt.Errorf("malformed job %q", b)
	}
	return j, nil
}

// Handler executes a job. Outcomes are persisted by the handler itself, so
// there is nothing to acknowledge or redeliver.
type Handler func(ctx context.Context, job Job)

type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Queue is an Enqueuer whose workers are driven by Run until ctx is done.
type Queue interface {
	Enqueuer
	Run(ctx context.Context, h Handler) error
}
