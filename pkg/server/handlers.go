package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vincentmin/table-agent/pkg/extract"
	"github.com/vincentmin/table-agent/pkg/runner"
	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/store"
	"github.com/vincentmin/table-agent/pkg/table"
)

// ExtractionRequest is the body of POST /api/extractions.
type ExtractionRequest struct {
	Columns      []table.Column `json:"columns"`
	Rows         [][]any        `json:"rows"`
	Schema       *schema.Schema `json:"schema"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	UserPrompt   string         `json:"user_prompt,omitempty"`
	Model        string         `json:"model,omitempty"`
}

// --- Extractions ---

func (s *Server) handleCreateExtraction(w http.ResponseWriter, r *http.Request) {
	var req ExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Schema == nil {
		s.errorResponse(w, http.StatusBadRequest, errors.New("schema is required"))
		return
	}
	if err := req.Schema.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid schema: %w", err))
		return
	}
	tbl, err := table.New(req.Columns, req.Rows)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid table: %w", err))
		return
	}

	opts := s.base
	opts.RunID = uuid.New().String()
	if req.SystemPrompt != "" {
		opts.SystemPrompt = req.SystemPrompt
	}
	if req.UserPrompt != "" {
		opts.UserPrompt = req.UserPrompt
	}
	if req.Model != "" {
		opts.ModelName = req.Model
	}
	opts.Observers = append(append([]runner.Observer(nil), s.base.Observers...), store.Recorder{Store: s.runs})

	run := &store.Run{
		ID:         opts.RunID,
		Provider:   s.provider,
		Model:      opts.ModelName,
		SchemaName: req.Schema.Name,
		Rows:       tbl.NumRows(),
	}
	if err := s.runs.CreateRun(r.Context(), run); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(tbl, req.Schema, opts)
	}()

	s.jsonResponse(w, http.StatusAccepted, map[string]string{"id": run.ID})
}

func (s *Server) execute(tbl *table.Table, sch *schema.Schema, opts extract.Options) {
	res, err := extract.Extract(s.ctx, tbl, sch, opts)

	var result *store.RunResult
	if err == nil {
		result = &store.RunResult{
			Response: res.Response,
			Script:   res.Script,
			Outputs:  res.Outputs,
			Turns:    res.Turns,
		}
	}
	// The server context may already be cancelled; recording must still happen.
	if cerr := store.Complete(context.WithoutCancel(s.ctx), s.runs, opts.RunID, result, err); cerr != nil {
		slog.Error("Failed to record run outcome", "runID", opts.RunID, "error", cerr)
	}
}

// --- Runs ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := s.runs.GetTurns(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, turns)
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.base.Model == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errors.New("no model provider configured"))
		return
	}
	models, err := s.base.Model.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
