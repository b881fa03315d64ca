package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
)

// sessionController is the part of the OCR session the host surface drives.
type sessionController interface {
	State() ocr.State
	Err() error
	Reinitialize(ctx context.Context) error
	Cancel()
}

// stageRunner executes pipeline stages.
type stageRunner interface {
	RunCurrent(ctx context.Context) (pipeline.Stage, error)
	RunAll(ctx context.Context) error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	state    *pipeline.RunState
	runner   stageRunner
	coord    *batch.Coordinator
	session  sessionController
	explorer explorer.Client
	hub      *Hub
	limiter  *RateLimiter
	logger   *slog.Logger

	corsOrigin  string
	maxUploadMB int64

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	taskMu     sync.Mutex
	taskName   string
	taskCancel context.CancelFunc

	// sources remembers how to fetch every file submitted for recognition,
	// so a single job can be reprocessed later.
	sourcesMu sync.Mutex
	sources   map[string]batch.File
}

// Config holds server configuration.
type Config struct {
	Host              string
	Port              int
	CORSOrigin        string
	MaxUploadMB       int64
	TimeoutSec        int
	RequestsPerMinute int
}

// Deps are the engine components exposed by the server. State and
// Coordinator are required; the rest answer 503 when missing.
type Deps struct {
	State       *pipeline.RunState
	Runner      stageRunner
	Coordinator *batch.Coordinator
	Session     sessionController
	Explorer    explorer.Client
	Hub         *Hub
	Logger      *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string    `json:"status"`
	Version  string    `json:"version,omitempty"`
	Time     string    `json:"time"`
	OCRState ocr.State `json:"ocr_state,omitempty"`
	OCRError string    `json:"ocr_error,omitempty"`
	Task     string    `json:"task,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// TaskResponse acknowledges a background task.
type TaskResponse struct {
	Task    string   `json:"task"`
	FileIDs []string `json:"file_ids,omitempty"`
}

type JobsResponse struct {
	Jobs    []batch.Job   `json:"jobs"`
	Metrics batch.Metrics `json:"metrics"`
}

// itemRef addresses a file in a library.
type itemRef struct {
	DriveID string `json:"drive_id"`
	ID      string `json:"id"`
}

type itemsRequest struct {
	Items []itemRef `json:"items"`
}

type addStageRequest struct {
	Kind string `json:"kind"`
}

type reorderRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type stagePatchRequest struct {
	Enabled  *bool `json:"enabled,omitempty"`
	Expanded *bool `json:"expanded,omitempty"`
	Current  *bool `json:"current,omitempty"`
}

type editTextRequest struct {
	Text string `json:"text"`
}

// NewServer creates a server around already constructed engine components.
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.State == nil || deps.Coordinator == nil {
		return nil, errors.New("server: run state and coordinator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 50
	}
	corsOrigin := config.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		state:       deps.State,
		runner:      deps.Runner,
		coord:       deps.Coordinator,
		session:     deps.Session,
		explorer:    deps.Explorer,
		hub:         hub,
		logger:      logger,
		corsOrigin:  corsOrigin,
		maxUploadMB: maxUpload,
		baseCtx:     ctx,
		stop:        stop,
		sources:     make(map[string]batch.File),
	}
	if config.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(config.RequestsPerMinute)
	}

	s.state.Subscribe(func(snap pipeline.Snapshot) {
		hub.Broadcast(MessageSnapshot, snap)
	})
	s.coord.OnJobUpdate(func(job batch.Job) {
		hub.Broadcast(MessageJob, job)
	})
	if sl, ok := deps.Session.(interface{ OnStateChange(ocr.StateListener) }); ok {
		sl.OnStateChange(func(state ocr.State, err error) {
			payload := HealthResponse{OCRState: state}
			if err != nil {
				payload.OCRError = err.Error()
			}
			hub.Broadcast(MessageSession, payload)
		})
	}
	return s, nil
}

// Hub returns the websocket broadcaster.
func (s *Server) Hub() *Hub { return s.hub }

// Close cancels running tasks and waits for them to finish.
func (s *Server) Close() error {
	s.stop()
	s.coord.CancelProcessing()
	s.wg.Wait()
	s.hub.Close()
	return nil
}
