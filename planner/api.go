package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/execution/codec"
	"github.com/animus-labs/stage-retry/internal/platform/auditlog"
	"github.com/animus-labs/stage-retry/internal/platform/auth"
	"github.com/animus-labs/stage-retry/internal/platform/httpserver"
	"github.com/animus-labs/stage-retry/internal/repo"
	repopg "github.com/animus-labs/stage-retry/internal/repo/postgres"
	"github.com/animus-labs/stage-retry/internal/retry"
	"github.com/animus-labs/stage-retry/internal/service/retries"
)

type retryPlanner interface {
	ValidateRetry(ctx context.Context, projectID, pipelineID, planExecutionID string) (retries.RetryValidation, error)
	PlanRetry(ctx context.Context, req retries.Request) (retries.Result, error)
	RetryHistory(ctx context.Context, projectID, rootExecutionID string) (retries.History, error)
	LatestExecution(ctx context.Context, projectID, rootExecutionID string) (retries.LatestExecution, error)
}

type plannerAPI struct {
	logger *slog.Logger

	// plannerFor builds a planner over q, which is the pool or a transaction.
	plannerFor func(q repopg.DB, audit retries.AuditAppender) retryPlanner
	db         repopg.DB
	inTx       func(ctx context.Context, fn func(tx repopg.DB) error) error
}

func newPlannerAPI(logger *slog.Logger, db *sql.DB, archive retries.PlanArchiver, maxAge time.Duration) *plannerAPI {
	return &plannerAPI{
		logger: logger,
		db:     db,
		plannerFor: func(q repopg.DB, audit retries.AuditAppender) retryPlanner {
			return retries.New(retries.Deps{
				Pipelines:       repopg.NewPipelineStore(q),
				Executions:      repopg.NewPlanExecutionStore(q),
				Stages:          repopg.NewStageExecutionStore(q),
				NodeExecutions:  repopg.NewNodeExecutionStore(q),
				Plans:           repopg.NewPlanStore(q),
				Archive:         archive,
				Audit:           audit,
				MaxExecutionAge: maxAge,
			})
		},
		inTx: func(ctx context.Context, fn func(tx repopg.DB) error) error {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback() }()
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		},
	}
}

func (api *plannerAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /projects/{project_id}/pipelines/{pipeline_id}/executions/{execution_id}/retry:validate", api.handleValidateRetry)
	mux.HandleFunc("POST /projects/{project_id}/pipelines/{pipeline_id}/executions/{execution_id}/retry", api.handlePlanRetry)
	mux.HandleFunc("GET /projects/{project_id}/executions/{root_execution_id}/retry-history", api.handleRetryHistory)
	mux.HandleFunc("GET /projects/{project_id}/executions/{root_execution_id}/retry-latest", api.handleRetryLatest)
}

type retryValidationResponse struct {
	Resumable    bool                 `json:"resumable"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Groups       []codec.GroupPayload `json:"groups"`
}

func (api *plannerAPI) handleValidateRetry(w http.ResponseWriter, r *http.Request) {
	validation, err := api.plannerFor(api.db, nil).ValidateRetry(
		r.Context(),
		r.PathValue("project_id"),
		r.PathValue("pipeline_id"),
		r.PathValue("execution_id"),
	)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, retryValidationResponse{
		Resumable:    validation.Resumable,
		ErrorMessage: validation.ErrorMessage,
		Groups:       codec.RetryInfoPayload(domain.RetryInfo{Groups: validation.Groups}),
	})
}

type planRetryRequest struct {
	StageIdentifiers []string        `json:"stage_identifiers"`
	RunAllStages     bool            `json:"run_all_stages"`
	Plan             json.RawMessage `json:"plan,omitempty"`
}

type planRetryResponse struct {
	PlanExecutionID        string          `json:"plan_execution_id"`
	RootExecutionID        string          `json:"root_execution_id"`
	RetriedFromExecutionID string          `json:"retried_from_execution_id"`
	Status                 string          `json:"status"`
	RetriedStages          []string        `json:"retried_stages"`
	SkipIdentifiers        []string        `json:"skip_identifiers"`
	SkipList               []string        `json:"skip_list"`
	ArchiveKey             string          `json:"archive_key,omitempty"`
	Plan                   json.RawMessage `json:"plan"`
}

func (api *plannerAPI) handlePlanRetry(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	var req planRetryRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if len(req.StageIdentifiers) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "stage_identifiers_required", nil)
		return
	}

	var override *domain.Plan
	if len(req.Plan) > 0 && string(req.Plan) != "null" {
		plan, err := codec.UnmarshalPlan(req.Plan)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_plan", map[string]any{"message": err.Error()})
			return
		}
		override = &plan
	}

	requestID := requestIDOf(r)
	retryReq := retries.Request{
		ProjectID:        r.PathValue("project_id"),
		PipelineID:       r.PathValue("pipeline_id"),
		PlanExecutionID:  r.PathValue("execution_id"),
		StageIdentifiers: req.StageIdentifiers,
		RunAllStages:     req.RunAllStages,
		Plan:             override,
		Audit: retries.AuditContext{
			Actor:     identity.Subject,
			RequestID: requestID,
			IP:        requestIP(r.RemoteAddr),
			UserAgent: r.UserAgent(),
			Service:   serviceName,
		},
	}

	var result retries.Result
	err := api.inTx(r.Context(), func(tx repopg.DB) error {
		var err error
		result, err = api.plannerFor(tx, auditlog.Appender{DB: tx}).PlanRetry(r.Context(), retryReq)
		return err
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	planJSON, err := codec.MarshalPlan(result.Plan)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	api.logger.Info("retry planned",
		"request_id", requestID,
		"plan_execution_id", result.Execution.ID,
		"retried_from", result.Execution.RetriedFromExecutionID,
		"retried_stages", len(result.RetriedStages),
		"skipped_nodes", len(result.SkipList),
	)

	w.Header().Set("Location", "/projects/"+result.Execution.ProjectID+"/executions/"+result.Execution.RootExecutionID+"/retry-history")
	httpserver.WriteJSON(w, http.StatusCreated, planRetryResponse{
		PlanExecutionID:        result.Execution.ID,
		RootExecutionID:        result.Execution.RootExecutionID,
		RetriedFromExecutionID: result.Execution.RetriedFromExecutionID,
		Status:                 string(result.Execution.Status),
		RetriedStages:          nonNil(result.RetriedStages),
		SkipIdentifiers:        nonNil(result.SkipIdentifiers),
		SkipList:               nonNil(result.SkipList),
		ArchiveKey:             result.ArchiveKey,
		Plan:                   planJSON,
	})
}

type executionSummary struct {
	PlanExecutionID        string     `json:"plan_execution_id"`
	Status                 string     `json:"status"`
	StartedAt              time.Time  `json:"started_at"`
	EndedAt                *time.Time `json:"ended_at,omitempty"`
	RetriedFromExecutionID string     `json:"retried_from_execution_id,omitempty"`
}

type retryHistoryResponse struct {
	RootExecutionID   string             `json:"root_execution_id"`
	LatestExecutionID string             `json:"latest_execution_id,omitempty"`
	Executions        []executionSummary `json:"executions"`
	ErrorMessage      string             `json:"error_message,omitempty"`
}

func (api *plannerAPI) handleRetryHistory(w http.ResponseWriter, r *http.Request) {
	history, err := api.plannerFor(api.db, nil).RetryHistory(r.Context(), r.PathValue("project_id"), r.PathValue("root_execution_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := retryHistoryResponse{
		RootExecutionID:   history.RootExecutionID,
		LatestExecutionID: history.LatestExecutionID,
		Executions:        make([]executionSummary, 0, len(history.Executions)),
		ErrorMessage:      history.ErrorMessage,
	}
	for _, execution := range history.Executions {
		out.Executions = append(out.Executions, executionSummary{
			PlanExecutionID:        execution.ID,
			Status:                 string(execution.Status),
			StartedAt:              execution.StartedAt,
			EndedAt:                execution.EndedAt,
			RetriedFromExecutionID: execution.RetriedFromExecutionID,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *plannerAPI) handleRetryLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := api.plannerFor(api.db, nil).LatestExecution(r.Context(), r.PathValue("project_id"), r.PathValue("root_execution_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"latest_execution_id": latest.LatestExecutionID,
		"error_message":       latest.ErrorMessage,
	})
}

func (api *plannerAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *retries.RejectionError
	var retryErr *retry.Error
	switch {
	case errors.As(err, &rejection):
		httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "not_resumable", map[string]any{"message": rejection.Message})
	case errors.As(err, &retryErr) && errors.Is(err, retry.ErrInvalidRequest):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_request", map[string]any{
			"message":     retryErr.Message,
			"identifiers": nonNil(retryErr.Identifiers),
		})
	case errors.As(err, &retryErr) && errors.Is(err, retry.ErrMissingHistory):
		httpserver.WriteError(w, r, http.StatusConflict, "missing_history", map[string]any{
			"message":     retryErr.Message,
			"identifiers": nonNil(retryErr.Identifiers),
		})
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "conflict", nil)
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found", nil)
	default:
		api.logger.Error("retry planner request failed", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", nil)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func requestIDOf(r *http.Request) string {
	if id, ok := httpserver.RequestIDFromContext(r.Context()); ok && id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get("X-Request-Id"))
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return net.ParseIP(strings.TrimSpace(remoteAddr))
	}
	return net.ParseIP(host)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
