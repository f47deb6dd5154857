package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/platform/auth"
	"github.com/animus-labs/stage-retry/internal/repo"
	repopg "github.com/animus-labs/stage-retry/internal/repo/postgres"
	"github.com/animus-labs/stage-retry/internal/retry"
	"github.com/animus-labs/stage-retry/internal/service/retries"
)

type stubPlanner struct {
	validation retries.RetryValidation
	result     retries.Result
	history    retries.History
	latest     retries.LatestExecution
	err        error

	gotRequest retries.Request
	gotIDs     []string
	withAudit  bool
}

func (s *stubPlanner) ValidateRetry(ctx context.Context, projectID, pipelineID, planExecutionID string) (retries.RetryValidation, error) {
	s.gotIDs = []string{projectID, pipelineID, planExecutionID}
	return s.validation, s.err
}

func (s *stubPlanner) PlanRetry(ctx context.Context, req retries.Request) (retries.Result, error) {
	s.gotRequest = req
	return s.result, s.err
}

func (s *stubPlanner) RetryHistory(ctx context.Context, projectID, rootExecutionID string) (retries.History, error) {
	s.gotIDs = []string{projectID, rootExecutionID}
	return s.history, s.err
}

func (s *stubPlanner) LatestExecution(ctx context.Context, projectID, rootExecutionID string) (retries.LatestExecution, error) {
	s.gotIDs = []string{projectID, rootExecutionID}
	return s.latest, s.err
}

type testTx struct {
	calls int
	err   error
}

func newTestAPI(planner *stubPlanner, tx *testTx) http.Handler {
	api := &plannerAPI{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		plannerFor: func(q repopg.DB, audit retries.AuditAppender) retryPlanner {
			planner.withAudit = audit != nil
			return planner
		},
		inTx: func(ctx context.Context, fn func(q repopg.DB) error) error {
			tx.calls++
			if err := fn(nil); err != nil {
				return err
			}
			return tx.err
		},
	}
	mux := http.NewServeMux()
	api.register(mux)
	return auth.Middleware{
		Authenticator: auth.NewStaticAuthenticator(auth.Identity{Subject: "alice", Roles: []string{auth.RoleEditor}}),
		Authorize:     auth.MethodRoleAuthorizer(),
	}.Wrap(mux)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://example.test"+path, reader)
	req.RemoteAddr = "192.0.2.10:4444"
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, out
}

const retryPath = "/projects/p1/pipelines/pl-1/executions/exec-1/retry"

func TestValidateRetryHandler(t *testing.T) {
	planner := &stubPlanner{validation: retries.RetryValidation{
		Resumable: true,
		Groups: []domain.Group{
			{ParentID: "parallel1", Stages: []domain.StageExecutionRecord{
				{Identifier: "stage1", ParentID: "parallel1", Status: domain.StatusSuccess},
				{Identifier: "stage2", ParentID: "parallel1", Status: domain.StatusFailed},
			}},
		},
	}}
	h := newTestAPI(planner, &testTx{})

	rec, body := doRequest(t, h, http.MethodGet, retryPath+":validate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if !reflect.DeepEqual(planner.gotIDs, []string{"p1", "pl-1", "exec-1"}) {
		t.Fatalf("ids=%v", planner.gotIDs)
	}
	if body["resumable"] != true {
		t.Fatalf("resumable=%v", body["resumable"])
	}
	groups, _ := body["groups"].([]any)
	if len(groups) != 1 {
		t.Fatalf("groups=%v", body["groups"])
	}
	group := groups[0].(map[string]any)
	if group["kind"] != domain.GroupParallel.String() {
		t.Fatalf("group kind=%v", group["kind"])
	}
	if planner.withAudit {
		t.Fatalf("validation should not audit")
	}
}

func TestValidateRetryHandler_NotResumable(t *testing.T) {
	planner := &stubPlanner{validation: retries.RetryValidation{ErrorMessage: "Execution is more than 30 days old. Cannot retry"}}
	h := newTestAPI(planner, &testTx{})

	rec, body := doRequest(t, h, http.MethodGet, retryPath+":validate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if body["resumable"] != false || body["error_message"] != "Execution is more than 30 days old. Cannot retry" {
		t.Fatalf("body=%v", body)
	}
}

func TestPlanRetryHandler(t *testing.T) {
	planner := &stubPlanner{result: retries.Result{
		Execution: domain.PlanExecution{
			ID:                     "exec-2",
			ProjectID:              "p1",
			RootExecutionID:        "exec-1",
			RetriedFromExecutionID: "exec-1",
			Status:                 domain.StatusQueued,
		},
		Plan: domain.Plan{UUID: "plan-1", Nodes: []domain.PlanNode{
			{UUID: "uuid-stage1", Identifier: "stage1", Kind: domain.NodeKindIdentity, OriginalNodeExecutionID: "ne-1"},
		}},
		RetriedStages:   []string{"stage2"},
		SkipIdentifiers: []string{"stage1"},
		SkipList:        []string{"uuid-stage1"},
		ArchiveKey:      "projects/p1/executions/exec-2/plan.json",
	}}
	tx := &testTx{}
	h := newTestAPI(planner, tx)

	rec, body := doRequest(t, h, http.MethodPost, retryPath, `{"stage_identifiers":["stage2"],"run_all_stages":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if tx.calls != 1 || !planner.withAudit {
		t.Fatalf("tx calls=%d audit=%v", tx.calls, planner.withAudit)
	}

	got := planner.gotRequest
	if got.ProjectID != "p1" || got.PipelineID != "pl-1" || got.PlanExecutionID != "exec-1" || !got.RunAllStages {
		t.Fatalf("request=%+v", got)
	}
	if got.Audit.Actor != "alice" || got.Audit.RequestID != "rid-1" || got.Audit.IP.String() != "192.0.2.10" {
		t.Fatalf("audit context=%+v", got.Audit)
	}
	if got.Plan != nil {
		t.Fatalf("plan override should be nil")
	}

	if body["plan_execution_id"] != "exec-2" || body["status"] != "QUEUED" {
		t.Fatalf("body=%v", body)
	}
	if rec.Header().Get("Location") != "/projects/p1/executions/exec-1/retry-history" {
		t.Fatalf("location=%q", rec.Header().Get("Location"))
	}
	plan := body["plan"].(map[string]any)
	nodes := plan["nodes"].([]any)
	if nodes[0].(map[string]any)["originalNodeExecutionId"] != "ne-1" {
		t.Fatalf("plan=%v", plan)
	}
}

func TestPlanRetryHandler_PlanOverride(t *testing.T) {
	planner := &stubPlanner{}
	h := newTestAPI(planner, &testTx{})

	payload := `{"stage_identifiers":["stage2"],"plan":{"uuid":"plan-1","startingNodeId":"a","nodes":[{"uuid":"a","identifier":"stage1","stepType":{"type":"DEPLOYMENT","category":"stage"},"kind":"PLAN_NODE"}]}}`
	rec, _ := doRequest(t, h, http.MethodPost, retryPath, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if planner.gotRequest.Plan == nil || planner.gotRequest.Plan.Nodes[0].StepType.Category != domain.StepCategoryStage {
		t.Fatalf("plan override=%+v", planner.gotRequest.Plan)
	}
}

func TestPlanRetryHandler_BadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "invalid json", body: `{`, code: "invalid_json"},
		{name: "unknown field", body: `{"stages":["stage1"]}`, code: "invalid_json"},
		{name: "no stages", body: `{"stage_identifiers":[]}`, code: "stage_identifiers_required"},
		{name: "bad plan", body: `{"stage_identifiers":["s"],"plan":{"nodes":[{"uuid":"a","kind":"WEIRD"}]}}`, code: "invalid_plan"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := &testTx{}
			h := newTestAPI(&stubPlanner{}, tx)
			rec, body := doRequest(t, h, http.MethodPost, retryPath, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d", rec.Code)
			}
			if body["error"] != tc.code {
				t.Fatalf("error=%v, want %s", body["error"], tc.code)
			}
			if tx.calls != 0 {
				t.Fatalf("no transaction expected")
			}
		})
	}
}

func TestPlanRetryHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "rejected",
			err:    &retries.RejectionError{Message: "This execution has undergone Pipeline Rollback, and hence cannot be retried."},
			status: http.StatusUnprocessableEntity,
			code:   "not_resumable",
		},
		{
			name:   "invalid request",
			err:    &retry.Error{Kind: retry.ErrInvalidRequest, Message: "stages not found in execution history", Identifiers: []string{"stage42"}},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "missing history",
			err:    &retry.Error{Kind: retry.ErrMissingHistory, Identifiers: []string{"uuid-stage2"}},
			status: http.StatusConflict,
			code:   "missing_history",
		},
		{
			name:   "conflict",
			err:    errors.Join(errors.New("create retry execution"), repo.ErrConflict),
			status: http.StatusConflict,
			code:   "conflict",
		},
		{
			name:   "internal",
			err:    errors.New("connection reset"),
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestAPI(&stubPlanner{err: tc.err}, &testTx{})
			rec, body := doRequest(t, h, http.MethodPost, retryPath, `{"stage_identifiers":["stage2"]}`)
			if rec.Code != tc.status {
				t.Fatalf("status=%d, want %d", rec.Code, tc.status)
			}
			if body["error"] != tc.code {
				t.Fatalf("error=%v, want %s", body["error"], tc.code)
			}
		})
	}
}

func TestPlanRetryHandler_InvalidRequestIdentifiers(t *testing.T) {
	err := &retry.Error{Kind: retry.ErrInvalidRequest, Message: "stages not found in execution history", Identifiers: []string{"stage42"}}
	h := newTestAPI(&stubPlanner{err: err}, &testTx{})
	_, body := doRequest(t, h, http.MethodPost, retryPath, `{"stage_identifiers":["stage42"]}`)
	ids, _ := body["identifiers"].([]any)
	if len(ids) != 1 || ids[0] != "stage42" {
		t.Fatalf("identifiers=%v", body["identifiers"])
	}
}

func TestRetryHistoryHandler(t *testing.T) {
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	planner := &stubPlanner{history: retries.History{
		RootExecutionID:   "exec-1",
		LatestExecutionID: "exec-2",
		Executions: []retries.ExecutionSummary{
			{ID: "exec-2", Status: domain.StatusRunning, StartedAt: started.Add(time.Hour), RetriedFromExecutionID: "exec-1"},
			{ID: "exec-1", Status: domain.StatusFailed, StartedAt: started},
		},
	}}
	h := newTestAPI(planner, &testTx{})

	rec, body := doRequest(t, h, http.MethodGet, "/projects/p1/executions/exec-1/retry-history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !reflect.DeepEqual(planner.gotIDs, []string{"p1", "exec-1"}) {
		t.Fatalf("ids=%v", planner.gotIDs)
	}
	if body["latest_execution_id"] != "exec-2" {
		t.Fatalf("body=%v", body)
	}
	executions := body["executions"].([]any)
	if len(executions) != 2 || executions[0].(map[string]any)["retried_from_execution_id"] != "exec-1" {
		t.Fatalf("executions=%v", executions)
	}
}

func TestRetryLatestHandler(t *testing.T) {
	planner := &stubPlanner{latest: retries.LatestExecution{ErrorMessage: "Retry history is not available for this execution."}}
	h := newTestAPI(planner, &testTx{})

	rec, body := doRequest(t, h, http.MethodGet, "/projects/p1/executions/exec-1/retry-latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if body["error_message"] != "Retry history is not available for this execution." {
		t.Fatalf("body=%v", body)
	}
}

func TestPlannerConfig_Validate(t *testing.T) {
	cfg := plannerConfig{Addr: ":8086", ShutdownTimeout: time.Second, MaxExecutionAge: 720 * time.Hour}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cfg.MaxExecutionAge = time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for sub-day max age")
	}
}
