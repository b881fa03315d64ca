// Package batch drives the OCR session over many files, one at a time,
// keeping a job table with per-file status, progress and results.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/MeKo-Tech/docflow/internal/ocr"
)

// Status is the lifecycle state of one job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNoResult      = errors.New("job has no result")
	ErrUnknownFormat = errors.New("unknown export format")
)

// File is one document submitted to the coordinator.
type File struct {
	ID     string
	Name   string
	Source ocr.Source
}

// Job tracks the processing of one file.
type Job struct {
	FileID    string      `json:"file_id"`
	Name      string      `json:"name"`
	Status    Status      `json:"status"`
	Progress  float64     `json:"progress"`
	Result    *ocr.Result `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Edited    bool        `json:"edited"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Metrics counts files seen by a coordinator since the last Clear.
type Metrics struct {
	Received  int `json:"received"`
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Processed is the number of files that reached a terminal outcome other
// than cancellation.
func (m Metrics) Processed() int { return m.Completed + m.Failed }

// Recognizer runs recognition for one document. *ocr.Manager implements it.
type Recognizer interface {
	RecognizeDocument(ctx context.Context, src ocr.Source, onProgress ocr.ProgressFunc) (*ocr.Result, error)
}

// JobListener is called with a copy of a job after every change.
type JobListener func(Job)

func (j *Job) clone() Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		r.PageResults = append([]ocr.PageResult(nil), j.Result.PageResults...)
		c.Result = &r
	}
	return c
}
