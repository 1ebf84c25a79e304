package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/jonathan/support-triage/internal/pipeline"
)

// RunRequest is the body accepted by POST /runs and POST /runs/stream.
// Zero values fall back to the server's configured defaults.
type RunRequest struct {
	DryRun     bool `json:"dry_run"`
	FetchLimit int  `json:"fetch_limit"`
	Verbose    bool `json:"verbose"`
}

// runOptions merges a request with the server defaults
func (s *Server) runOptions(req *RunRequest) pipeline.Options {
	opts := s.defaults
	opts.DryRun = req.DryRun
	if req.FetchLimit > 0 {
		opts.FetchLimit = req.FetchLimit
	}
	if req.Verbose {
		opts.Verbose = true
	}
	return opts
}

// handleStartRun launches a pipeline run in the background and returns the
// run id immediately. Progress is observable through GET /runs/{id}.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	// The run outlives this request, so it runs on the server's context,
	// not the request's.
	runID, err := s.orch.Start(context.WithoutCancel(r.Context()), s.runOptions(&req))
	if err != nil {
		s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "pending",
	})
}

// handleRunStream executes a pipeline run synchronously, streaming progress
// events over SSE. Closing the connection cancels the run.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	runID, err := s.reg.Register(req.DryRun)
	if err != nil {
		sse.WriteError(err.Error())
		return
	}

	opts := s.runOptions(&req)
	opts.OnProgress = func(event pipeline.ProgressEvent) {
		if err := sse.WriteEvent("progress", event); err != nil {
			log.Printf("SSE write failed for run %d: %v", runID, err)
		}
	}

	if err := sse.WriteEvent("start", map[string]any{"run_id": runID}); err != nil {
		return
	}

	if err := s.orch.Run(r.Context(), runID, opts); err != nil {
		sse.WriteError(err.Error())
	}

	status := "unknown"
	if run, ok := s.reg.Get(runID); ok {
		status = string(run.Status)
	}
	sse.WriteComplete(strconv.FormatInt(runID, 10), status)
}

// handleListRuns returns all runs held in the registry, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.reg.List()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns a single run, falling back to the database for runs
// the bounded registry has already evicted.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDFromPath(w, r)
	if !ok {
		return
	}

	if run, found := s.reg.Get(runID); found {
		s.jsonResponse(w, http.StatusOK, run)
		return
	}

	if s.db != nil {
		run, err := s.db.GetRun(r.Context(), runID)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Failed to load run")
			return
		}
		if run != nil {
			s.jsonResponse(w, http.StatusOK, run)
			return
		}
	}

	s.errorResponse(w, http.StatusNotFound, "Run not found")
}

// handleStopRun requests cancellation of an active run. The in-flight batch
// drains before the run reports stopped.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDFromPath(w, r)
	if !ok {
		return
	}

	if _, found := s.reg.Get(runID); !found {
		s.errorResponse(w, http.StatusNotFound, "Run not found")
		return
	}
	if err := s.reg.Stop(runID); err != nil {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "stopping",
	})
}

// handleGetPreview returns the dry-run preview for a run
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runIDFromPath(w, r)
	if !ok {
		return
	}

	preview, found := s.reg.GetPreview(runID)
	if !found {
		s.errorResponse(w, http.StatusNotFound, "No preview for this run")
		return
	}
	s.jsonResponse(w, http.StatusOK, preview)
}

// handleListWorkItems returns persisted work items, optionally filtered by
// run via ?run_id=
func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Database not configured")
		return
	}

	var runID int64
	if raw := r.URL.Query().Get("run_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid run_id")
			return
		}
		runID = parsed
	}

	items, err := s.db.ListWorkItems(r.Context(), runID, s.limitParam(r, 100))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load work items")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"work_items": items,
		"count":      len(items),
	})
}

// handleListThemes returns known themes ordered by occurrence count
func (s *Server) handleListThemes(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Database not configured")
		return
	}

	themes, err := s.db.ListThemes(r.Context(), s.limitParam(r, 100))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load themes")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"themes": themes,
		"count":  len(themes),
	})
}

// handleListOrphans returns below-threshold groupings still accumulating evidence
func (s *Server) handleListOrphans(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Database not configured")
		return
	}

	orphans, err := s.db.ListOrphans(r.Context(), s.limitParam(r, 100))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load orphans")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"orphans": orphans,
		"count":   len(orphans),
	})
}

// runIDFromPath parses the {id} path segment. Writes a 400 and returns
// ok=false on malformed ids.
func (s *Server) runIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	runID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || runID <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run id")
		return 0, false
	}
	return runID, true
}

// limitParam parses ?limit= with a default, capped at 1000
func (s *Server) limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}
