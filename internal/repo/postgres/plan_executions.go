package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/repo"
)

type PlanExecutionStore struct {
	db DB
}

const planExecutionColumns = `plan_execution_id, project_id, pipeline_id, root_execution_id, retried_from_execution_id,
	status, started_at, ended_at, is_latest_execution, rollback_mode_execution_id, yaml, processed_yaml, stages_execution`

const (
	selectPlanExecutionQuery = `SELECT ` + planExecutionColumns + `
	 FROM plan_executions
	 WHERE project_id = $1 AND plan_execution_id = $2`

	listPlanExecutionsByRootQuery = `SELECT ` + planExecutionColumns + `
	 FROM plan_executions
	 WHERE project_id = $1 AND root_execution_id = $2
	 ORDER BY started_at DESC, plan_execution_id DESC`

	insertRetryExecutionQuery = `INSERT INTO plan_executions (
		plan_execution_id,
		project_id,
		pipeline_id,
		root_execution_id,
		retried_from_execution_id,
		status,
		started_at,
		is_latest_execution,
		yaml,
		processed_yaml,
		stages_execution
	) VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8,$9,$10)
	RETURNING ` + planExecutionColumns

	markSupersededQuery = `UPDATE plan_executions
	 SET is_latest_execution = FALSE
	 WHERE project_id = $1 AND plan_execution_id = $2 AND is_latest_execution = TRUE`
)

func NewPlanExecutionStore(db DB) *PlanExecutionStore {
	if db == nil {
		return nil
	}
	return &PlanExecutionStore{db: db}
}

func (s *PlanExecutionStore) Get(ctx context.Context, projectID, planExecutionID string) (domain.PlanExecution, error) {
	if s == nil || s.db == nil {
		return domain.PlanExecution{}, fmt.Errorf("plan execution store not initialized")
	}
	projectID, planExecutionID, err := requireIDs(projectID, planExecutionID)
	if err != nil {
		return domain.PlanExecution{}, err
	}
	return scanPlanExecution(s.db.QueryRowContext(ctx, selectPlanExecutionQuery, projectID, planExecutionID))
}

func (s *PlanExecutionStore) ListByRoot(ctx context.Context, projectID, rootExecutionID string) ([]domain.PlanExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("plan execution store not initialized")
	}
	projectID, rootExecutionID, err := requireIDs(projectID, rootExecutionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, listPlanExecutionsByRootQuery, projectID, rootExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list plan executions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PlanExecution, 0)
	for rows.Next() {
		execution, err := scanPlanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plan executions: %w", err)
	}
	return out, nil
}

// CreateRetry inserts a retry execution as the latest of its chain. A second
// retry of the same execution fails with repo.ErrConflict.
func (s *PlanExecutionStore) CreateRetry(ctx context.Context, execution domain.PlanExecution) (domain.PlanExecution, error) {
	if s == nil || s.db == nil {
		return domain.PlanExecution{}, fmt.Errorf("plan execution store not initialized")
	}
	projectID := strings.TrimSpace(execution.ProjectID)
	pipelineID := strings.TrimSpace(execution.PipelineID)
	rootID := strings.TrimSpace(execution.RootExecutionID)
	retriedFrom := strings.TrimSpace(execution.RetriedFromExecutionID)
	if projectID == "" {
		return domain.PlanExecution{}, errors.New("project id is required")
	}
	if pipelineID == "" {
		return domain.PlanExecution{}, errors.New("pipeline id is required")
	}
	if rootID == "" {
		return domain.PlanExecution{}, errors.New("root execution id is required")
	}
	if retriedFrom == "" {
		return domain.PlanExecution{}, errors.New("retried from execution id is required")
	}

	id := strings.TrimSpace(execution.ID)
	if id == "" {
		id = uuid.NewString()
	}
	status := execution.Status
	if status == "" {
		status = domain.StatusQueued
	}
	startedAt := execution.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	stagesJSON, err := encodeStagesExecution(execution.StagesExecution)
	if err != nil {
		return domain.PlanExecution{}, err
	}

	created, err := scanPlanExecution(s.db.QueryRowContext(
		ctx,
		insertRetryExecutionQuery,
		id,
		projectID,
		pipelineID,
		rootID,
		retriedFrom,
		string(status),
		startedAt.UTC(),
		execution.YAML,
		execution.ProcessedYAML,
		stagesJSON,
	))
	if err != nil {
		return domain.PlanExecution{}, fmt.Errorf("insert retry execution: %w", handleConflict(err))
	}
	return created, nil
}

// MarkSuperseded clears the latest flag of an execution. It fails with
// repo.ErrNotFound when the execution is missing or no longer the latest.
func (s *PlanExecutionStore) MarkSuperseded(ctx context.Context, projectID, planExecutionID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan execution store not initialized")
	}
	projectID, planExecutionID, err := requireIDs(projectID, planExecutionID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, markSupersededQuery, projectID, planExecutionID)
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanPlanExecution(scanner rowScanner) (domain.PlanExecution, error) {
	var out domain.PlanExecution
	var retriedFrom, rollback sql.NullString
	var endedAt sql.NullTime
	var status string
	var stagesJSON []byte
	if err := scanner.Scan(
		&out.ID,
		&out.ProjectID,
		&out.PipelineID,
		&out.RootExecutionID,
		&retriedFrom,
		&status,
		&out.StartedAt,
		&endedAt,
		&out.IsLatestExecution,
		&rollback,
		&out.YAML,
		&out.ProcessedYAML,
		&stagesJSON,
	); err != nil {
		return domain.PlanExecution{}, handleNotFound(err)
	}
	out.RetriedFromExecutionID = retriedFrom.String
	out.RollbackModeExecutionID = rollback.String
	out.Status = domain.NormalizeExecutionStatus(status)
	out.StartedAt = out.StartedAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		out.EndedAt = &t
	}
	stages, err := decodeStagesExecution(stagesJSON)
	if err != nil {
		return domain.PlanExecution{}, fmt.Errorf("decode stages execution: %w", err)
	}
	out.StagesExecution = stages
	return out, nil
}

type stagesExecutionPayload struct {
	StageIdentifiers []string `json:"stageIdentifiers"`
	FullPipelineYAML string   `json:"fullPipelineYaml"`
}

func encodeStagesExecution(info *domain.StagesExecutionInfo) ([]byte, error) {
	if info == nil {
		return nil, nil
	}
	return json.Marshal(stagesExecutionPayload{
		StageIdentifiers: info.StageIdentifiers,
		FullPipelineYAML: info.FullPipelineYAML,
	})
}

func decodeStagesExecution(raw []byte) (*domain.StagesExecutionInfo, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var payload stagesExecutionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &domain.StagesExecutionInfo{
		StageIdentifiers: payload.StageIdentifiers,
		FullPipelineYAML: payload.FullPipelineYAML,
	}, nil
}
