package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/docflow/internal/batch"
	"github.com/MeKo-Tech/docflow/internal/explorer"
	"github.com/MeKo-Tech/docflow/internal/ocr"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
)

// uploadPrefix is the file id prefix of uploaded documents.
const uploadPrefix = "upload/"

// processHandler starts recognition of uploaded files (multipart field
// "file", repeatable) or of library items ({"items": [...]}).
func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	if s.session != nil && s.session.State() != ocr.StateReady {
		s.writeError(w, fmt.Errorf("%w: session is %s", ocr.ErrEngineNotReady, s.session.State()))
		return
	}

	var files []batch.File
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var ok bool
		if files, ok = s.uploadedFiles(w, r); !ok {
			return
		}
	} else {
		var req itemsRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		items, err := s.resolveItems(r.Context(), req.Items)
		if err != nil {
			s.writeError(w, err)
			return
		}
		files = s.libraryFiles(items)
	}
	if len(files) == 0 {
		s.writeErrorResponse(w, "No files provided", http.StatusBadRequest)
		return
	}

	ids := make([]string, len(files))
	s.sourcesMu.Lock()
	for i, f := range files {
		ids[i] = f.ID
		s.sources[f.ID] = f
	}
	s.sourcesMu.Unlock()

	err := s.startTask("recognize", func(ctx context.Context) error {
		return s.coord.ProcessAll(ctx, files)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, TaskResponse{Task: "recognize", FileIDs: ids})
}

// uploadedFiles reads the multipart upload.
func (s *Server) uploadedFiles(w http.ResponseWriter, r *http.Request) ([]batch.File, bool) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return nil, false
	}

	var files []batch.File
	for _, header := range r.MultipartForm.File["file"] {
		f, err := header.Open()
		if err != nil {
			s.writeErrorResponse(w, "Failed to read upload", http.StatusBadRequest)
			return nil, false
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			s.writeErrorResponse(w, "Failed to read upload", http.StatusBadRequest)
			return nil, false
		}
		files = append(files, batch.File{
			ID:     uploadPrefix + header.Filename,
			Name:   header.Filename,
			Source: ocr.BytesSource(header.Filename, data),
		})
	}
	return files, true
}

// libraryFiles turns items into lazily fetched batch files.
func (s *Server) libraryFiles(items []explorer.Item) []batch.File {
	files := make([]batch.File, 0, len(items))
	for _, item := range items {
		item := item
		files = append(files, batch.File{
			ID:   pipeline.FileID(item),
			Name: item.Name,
			Source: ocr.Source{
				Name:  item.Name,
				Fetch: func(ctx context.Context) ([]byte, error) { return s.fetchItem(ctx, item) },
			},
		})
	}
	return files
}

func (s *Server) fetchItem(ctx context.Context, item explorer.Item) ([]byte, error) {
	if s.explorer == nil {
		return nil, fmt.Errorf("%w: no explorer configured", ocr.ErrSourceUnavailable)
	}
	if f, ok := s.explorer.(interface {
		FetchItem(ctx context.Context, item explorer.Item) ([]byte, error)
	}); ok {
		return f.FetchItem(ctx, item)
	}
	return s.explorer.FetchContent(ctx, item.DriveID, item.ID)
}

// cancelHandler cancels the running task and any in-flight recognition.
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	cancelled := s.cancelTask()
	s.coord.CancelProcessing()
	if s.session != nil {
		s.session.Cancel()
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, JobsResponse{Jobs: s.coord.Jobs(), Metrics: s.coord.Metrics()})
}

// reprocessHandler recognizes one earlier submitted file again.
func (s *Server) reprocessHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.sourcesMu.Lock()
	f, ok := s.sources[id]
	s.sourcesMu.Unlock()
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", batch.ErrJobNotFound, id))
		return
	}

	err := s.startTask("reprocess", func(ctx context.Context) error {
		_, err := s.coord.ProcessOne(ctx, f)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, TaskResponse{Task: "reprocess", FileIDs: []string{id}})
}

func (s *Server) editTextHandler(w http.ResponseWriter, r *http.Request) {
	var req editTextRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	job, err := s.coord.EditResult(r.PathValue("id"), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// exportHandler returns all jobs in the requested encoding.
func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = batch.FormatJSON
	}
	data, err := s.coord.Export(format)
	if err != nil {
		s.writeError(w, err)
		return
	}

	contentType, ext := "application/json", "json"
	switch format {
	case batch.FormatCSV:
		contentType, ext = "text/csv", "csv"
	case batch.FormatText, "txt":
		contentType, ext = "text/plain; charset=utf-8", "txt"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "ocr-results."+ext))
	_, _ = w.Write(data)
}

func (s *Server) reinitializeHandler(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		s.writeErrorResponse(w, "OCR session not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.session.Reinitialize(r.Context()); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Reinitialization failed: %v", err), statusForReinit(err))
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", OCRState: s.session.State()})
}

// statusForReinit keeps busy distinct from a failed engine start.
func statusForReinit(err error) int {
	if status := statusForError(err); status == http.StatusConflict {
		return status
	}
	return http.StatusServiceUnavailable
}

func (s *Server) librariesHandler(w http.ResponseWriter, r *http.Request) {
	if s.explorer == nil {
		s.writeErrorResponse(w, "Explorer not configured", http.StatusServiceUnavailable)
		return
	}
	libs, err := s.explorer.ListLibraries(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, libs)
}

func (s *Server) foldersHandler(w http.ResponseWriter, r *http.Request) {
	if s.explorer == nil {
		s.writeErrorResponse(w, "Explorer not configured", http.StatusServiceUnavailable)
		return
	}
	driveID := r.URL.Query().Get("drive_id")
	if driveID == "" {
		s.writeErrorResponse(w, "drive_id is required", http.StatusBadRequest)
		return
	}
	listing, err := s.explorer.ListFolder(r.Context(), driveID, r.URL.Query().Get("parent_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}
