package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
)

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) addStageHandler(w http.ResponseWriter, r *http.Request) {
	var req addStageRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	kind, err := pipeline.ParseStageKind(req.Kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stage, err := s.state.AddStage(kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, stage)
}

func (s *Server) removeStageHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.state.RemoveStage(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) patchStageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req stagePatchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled != nil {
		if err := s.state.SetStageEnabled(id, *req.Enabled); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Expanded != nil {
		if err := s.state.Expand(id, *req.Expanded); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Current != nil && *req.Current {
		if err := s.state.SetCurrent(id); err != nil {
			s.writeError(w, err)
			return
		}
	}
	stage, err := s.state.Stage(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stage)
}

// reorderHandler moves a stage. A refused move (Source involved, unknown
// id) still answers with the unchanged snapshot.
func (s *Server) reorderHandler(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	moved := s.state.ReorderStage(req.From, req.To)
	w.Header().Set("X-Reordered", strconv.FormatBool(moved))
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// stageConfigHandler decodes the body over the stage's current config, so
// partial updates keep the remaining fields.
func (s *Server) stageConfigHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stage, err := s.state.Stage(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var cfg pipeline.StageConfig
	switch current := stage.Config.(type) {
	case pipeline.ConvertConfig:
		if !s.decodeJSON(w, r, &current) {
			return
		}
		if err := current.Validate(); err != nil {
			s.writeError(w, err)
			return
		}
		cfg = current
	case pipeline.PostprocessConfig:
		if !s.decodeJSON(w, r, &current) {
			return
		}
		cfg = current
	default:
		s.writeErrorResponse(w, fmt.Sprintf("%s stage has no settings", stage.Kind), http.StatusBadRequest)
		return
	}

	if err := s.state.SetStageConfig(id, cfg); err != nil {
		s.writeError(w, err)
		return
	}
	stage, _ = s.state.Stage(id)
	s.writeJSON(w, http.StatusOK, stage)
}

// sourceHandler replaces the selection. Items are resolved through the
// explorer when one is configured.
func (s *Server) sourceHandler(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	items, err := s.resolveItems(r.Context(), req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.state.OnSourceOutputChanged(items); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// runHandler runs the current stage, or with ?all=true every remaining
// stage, in the background.
func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.writeErrorResponse(w, "Pipeline runner not configured", http.StatusServiceUnavailable)
		return
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	name := "run_stage"
	run := func(ctx context.Context) error {
		_, err := s.runner.RunCurrent(ctx)
		return err
	}
	if all {
		name = "run_all"
		run = s.runner.RunAll
	}
	if err := s.startTask(name, run); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, TaskResponse{Task: name})
}

func (s *Server) forceRecognizeHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.state.ForceRecognize(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) presetExportHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "current"
	}
	var buf bytes.Buffer
	if err := pipeline.EncodePreset(&buf, s.state.Preset(name)); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) presetApplyHandler(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	preset, err := pipeline.DecodePreset(body)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.state.ApplyPreset(preset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// resolveItems fills in item metadata from the explorer. Without an
// explorer the references are used as they are.
func (s *Server) resolveItems(ctx context.Context, refs []itemRef) ([]explorer.Item, error) {
	items := make([]explorer.Item, 0, len(refs))
	for _, ref := range refs {
		if ref.DriveID == "" || ref.ID == "" {
			return nil, fmt.Errorf("%w: item needs drive_id and id", errInvalidRequest)
		}
		if s.explorer == nil {
			items = append(items, explorer.Item{DriveID: ref.DriveID, ID: ref.ID, Name: ref.ID})
			continue
		}
		item, err := s.explorer.Stat(ctx, ref.DriveID, ref.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
