package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/docflow/internal/metrics"
	"github.com/MeKo-Tech/docflow/internal/ocr"
)

// Coordinator processes files sequentially against one Recognizer. A failing
// file is recorded on its job and never stops the rest of the batch.
type Coordinator struct {
	rec    Recognizer
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	jobs      map[string]*Job
	order     []string
	metrics   Metrics
	cancel    context.CancelFunc
	listeners []JobListener

	// running allows one ProcessAll/ProcessOne loop at a time.
	running sync.Mutex
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(rec Recognizer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		rec:    rec,
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*Job),
	}
}

// OnJobUpdate registers a listener for job changes.
func (c *Coordinator) OnJobUpdate(fn JobListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// ProcessAll registers every file as pending and recognizes them in input
// order. It returns an error wrapping ocr.ErrCancelled when the run was
// cancelled, and ocr.ErrBusy when another run is active. Per-file failures
// are not returned.
func (c *Coordinator) ProcessAll(ctx context.Context, files []File) error {
	if !c.running.TryLock() {
		return ocr.ErrBusy
	}
	defer c.running.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	for _, f := range files {
		c.register(f)
	}
	c.logger.Info("batch started", "files", len(files))

	for i, f := range files {
		if ctx.Err() != nil {
			c.logger.Info("batch cancelled", "remaining", len(files)-i)
			return fmt.Errorf("batch: %w", ocr.ErrCancelled)
		}
		if err := c.process(ctx, f); errors.Is(err, ocr.ErrCancelled) {
			c.logger.Info("batch cancelled", "file_id", f.ID, "remaining", len(files)-i-1)
			return fmt.Errorf("batch: %w", err)
		}
	}

	m := c.Metrics()
	c.logger.Info("batch finished", "completed", m.Completed, "failed", m.Failed)
	return nil
}

// ProcessOne recognizes a single file, replacing any earlier job and result
// for the same id. A manual edit flag is reset.
func (c *Coordinator) ProcessOne(ctx context.Context, f File) (Job, error) {
	if !c.running.TryLock() {
		return Job{}, ocr.ErrBusy
	}
	defer c.running.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.register(f)
	err := c.process(ctx, f)
	job, _ := c.Job(f.ID)
	return job, err
}

// CancelProcessing cancels the active run, if any.
func (c *Coordinator) CancelProcessing() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Clear cancels the active run and drops all jobs, results and counters.
func (c *Coordinator) Clear() {
	c.CancelProcessing()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = make(map[string]*Job)
	c.order = nil
	c.metrics = Metrics{}
}

// EditResult replaces the text of a completed job and marks it edited.
func (c *Coordinator) EditResult(fileID, text string) (Job, error) {
	c.mu.Lock()
	job, ok := c.jobs[fileID]
	if !ok {
		c.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, fileID)
	}
	if job.Result == nil {
		c.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrNoResult, fileID)
	}
	r := *job.Result
	r.Text = text
	job.Result = &r
	job.Edited = true
	job.UpdatedAt = c.now()
	snap := job.clone()
	listeners := c.listeners
	c.mu.Unlock()

	notify(listeners, snap)
	return snap, nil
}

// Job returns a copy of the job for fileID.
func (c *Coordinator) Job(fileID string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[fileID]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// Jobs returns copies of all jobs in submission order.
func (c *Coordinator) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Job, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.jobs[id].clone())
	}
	return out
}

// Results returns the results of all jobs that have one, keyed by file id.
func (c *Coordinator) Results() map[string]ocr.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ocr.Result, len(c.jobs))
	for id, job := range c.jobs {
		if job.Result != nil {
			out[id] = *job.clone().Result
		}
	}
	return out
}

// Metrics returns the current counters.
func (c *Coordinator) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// register adds f as a pending job, replacing an existing job with the same id
// in place so submission order is kept.
func (c *Coordinator) register(f File) {
	c.mu.Lock()
	if _, exists := c.jobs[f.ID]; !exists {
		c.order = append(c.order, f.ID)
	}
	job := &Job{FileID: f.ID, Name: f.Name, Status: StatusPending, UpdatedAt: c.now()}
	if job.Name == "" {
		job.Name = f.ID
	}
	c.jobs[f.ID] = job
	c.metrics.Received++
	snap := job.clone()
	listeners := c.listeners
	c.mu.Unlock()

	metrics.BatchFilesTotal.WithLabelValues("received").Inc()
	notify(listeners, snap)
}

// process runs one file and records its outcome. It returns the
// recognition error, if any.
func (c *Coordinator) process(ctx context.Context, f File) error {
	c.update(f.ID, func(j *Job) {
		j.Status = StatusProcessing
		j.Progress = 0
		j.Result = nil
		j.Error = ""
		j.Edited = false
	})
	c.count("started", func(m *Metrics) { m.Started++ })
	c.logger.Debug("processing file", "file_id", f.ID)

	res, err := c.rec.RecognizeDocument(ctx, f.Source, func(p float64) {
		c.update(f.ID, func(j *Job) {
			if p > j.Progress {
				j.Progress = p
			}
		})
	})

	switch {
	case err == nil:
		c.update(f.ID, func(j *Job) {
			j.Status = StatusCompleted
			j.Progress = 100
			j.Result = res
		})
		c.count("completed", func(m *Metrics) { m.Completed++ })
		c.logger.Info("file processed", "file_id", f.ID, "pages", res.Pages, "confidence", res.Confidence)
	case errors.Is(err, ocr.ErrCancelled):
		// Progress stays where the last page left it.
		c.update(f.ID, func(j *Job) { j.Status = StatusCancelled })
		c.count("cancelled", func(m *Metrics) { m.Cancelled++ })
	default:
		c.update(f.ID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
		})
		c.count("failed", func(m *Metrics) { m.Failed++ })
		c.logger.Error("file failed", "file_id", f.ID, "error", err)
	}
	return err
}

func (c *Coordinator) update(fileID string, fn func(*Job)) {
	c.mu.Lock()
	job, ok := c.jobs[fileID]
	if !ok {
		// Cleared while running.
		c.mu.Unlock()
		return
	}
	before := *job
	fn(job)
	if *job == before {
		c.mu.Unlock()
		return
	}
	job.UpdatedAt = c.now()
	snap := job.clone()
	listeners := c.listeners
	c.mu.Unlock()

	notify(listeners, snap)
}

func (c *Coordinator) count(outcome string, fn func(*Metrics)) {
	c.mu.Lock()
	fn(&c.metrics)
	c.mu.Unlock()
	metrics.BatchFilesTotal.WithLabelValues(outcome).Inc()
}

func notify(listeners []JobListener, job Job) {
	for _, fn := range listeners {
		fn(job)
	}
}
