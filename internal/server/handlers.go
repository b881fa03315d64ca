package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/MeKo-Tech/docflow/internal/render"
	"github.com/MeKo-Tech/docflow/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// errInvalidRequest marks malformed requests.
var errInvalidRequest = errors.New("invalid request")

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /pipeline", s.corsMiddleware(s.snapshotHandler))
	mux.HandleFunc("POST /pipeline/stages", s.corsMiddleware(s.addStageHandler))
	mux.HandleFunc("DELETE /pipeline/stages/{id}", s.corsMiddleware(s.removeStageHandler))
	mux.HandleFunc("PATCH /pipeline/stages/{id}", s.corsMiddleware(s.patchStageHandler))
	mux.HandleFunc("POST /pipeline/stages/reorder", s.corsMiddleware(s.reorderHandler))
	mux.HandleFunc("PUT /pipeline/stages/{id}/config", s.corsMiddleware(s.stageConfigHandler))
	mux.HandleFunc("POST /pipeline/source", s.corsMiddleware(s.sourceHandler))
	mux.HandleFunc("POST /pipeline/run", s.corsMiddleware(s.rateLimitMiddleware(s.runHandler)))
	mux.HandleFunc("POST /pipeline/force-recognize", s.corsMiddleware(s.forceRecognizeHandler))
	mux.HandleFunc("GET /pipeline/preset", s.corsMiddleware(s.presetExportHandler))
	mux.HandleFunc("PUT /pipeline/preset", s.corsMiddleware(s.presetApplyHandler))

	mux.HandleFunc("POST /ocr/process", s.corsMiddleware(s.rateLimitMiddleware(s.processHandler)))
	mux.HandleFunc("POST /ocr/cancel", s.corsMiddleware(s.cancelHandler))
	mux.HandleFunc("GET /ocr/jobs", s.corsMiddleware(s.jobsHandler))
	mux.HandleFunc("POST /ocr/jobs/{id}/reprocess", s.corsMiddleware(s.rateLimitMiddleware(s.reprocessHandler)))
	mux.HandleFunc("PUT /ocr/jobs/{id}/text", s.corsMiddleware(s.editTextHandler))
	mux.HandleFunc("GET /ocr/export", s.corsMiddleware(s.exportHandler))
	mux.HandleFunc("POST /ocr/reinitialize", s.corsMiddleware(s.reinitializeHandler))

	mux.HandleFunc("GET /explorer/libraries", s.corsMiddleware(s.librariesHandler))
	mux.HandleFunc("GET /explorer/folders", s.corsMiddleware(s.foldersHandler))

	mux.HandleFunc("GET /ws", s.websocketHandler)
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.session != nil {
		response.OCRState = s.session.State()
		if err := s.session.Err(); err != nil {
			response.OCRError = err.Error()
		}
	}
	response.Task = s.runningTask()

	s.writeJSON(w, http.StatusOK, response)
}

// startTask runs fn in the background. Only one task runs at a time; a
// second one is rejected with ocr.ErrBusy.
func (s *Server) startTask(name string, fn func(ctx context.Context) error) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.taskCancel != nil {
		return fmt.Errorf("%w: %s is running", ocr.ErrBusy, s.taskName)
	}
	if err := s.baseCtx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.taskName, s.taskCancel = name, cancel
	s.wg.Add(1)
	s.hub.Broadcast(MessageTask, taskEvent{Task: name, Status: "started"})

	go func() {
		defer s.wg.Done()
		err := fn(ctx)
		cancel()

		s.taskMu.Lock()
		s.taskName, s.taskCancel = "", nil
		s.taskMu.Unlock()

		ev := taskEvent{Task: name, Status: "completed"}
		switch {
		case errors.Is(err, ocr.ErrCancelled) || errors.Is(err, context.Canceled):
			ev.Status = "cancelled"
			s.logger.Info("task cancelled", "task", name)
		case err != nil:
			ev.Status, ev.Error = "failed", err.Error()
			s.logger.Error("task failed", "task", name, "error", err)
		default:
			s.logger.Info("task completed", "task", name)
		}
		s.hub.Broadcast(MessageTask, ev)
	}()
	return nil
}

// cancelTask cancels the running task, if any.
func (s *Server) cancelTask() bool {
	s.taskMu.Lock()
	cancel := s.taskCancel
	s.taskMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

func (s *Server) runningTask() string {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.taskName
}

// writeJSON writes v as a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

// writeError maps err onto a status code and writes it.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorResponse(w, err.Error(), statusForError(err))
}

// statusForError maps engine errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ocr.ErrBusy), errors.Is(err, pipeline.ErrProtectedStage):
		return http.StatusConflict
	case errors.Is(err, ocr.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrStageNotFound),
		errors.Is(err, batch.ErrJobNotFound),
		errors.Is(err, explorer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidStageKind),
		errors.Is(err, pipeline.ErrConfigMismatch),
		errors.Is(err, pipeline.ErrStageDisabled),
		errors.Is(err, pipeline.ErrNothingToRun),
		errors.Is(err, render.ErrInvalidOptions),
		errors.Is(err, batch.ErrUnknownFormat),
		errors.Is(err, batch.ErrNoResult):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a size limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}
