package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/animus-labs/stage-retry/internal/repo"
)

type PlanStore struct {
	db DB
}

const (
	insertPlanQuery = `INSERT INTO execution_plans (
		plan_id,
		plan_execution_id,
		project_id,
		plan
	) VALUES ($1,$2,$3,$4)
	ON CONFLICT (plan_execution_id) DO NOTHING
	RETURNING plan_id, plan_execution_id, project_id, plan, created_at`

	selectPlanQuery = `SELECT plan_id, plan_execution_id, project_id, plan, created_at
	 FROM execution_plans
	 WHERE project_id = $1 AND plan_execution_id = $2`
)

func NewPlanStore(db DB) *PlanStore {
	if db == nil {
		return nil
	}
	return &PlanStore{db: db}
}

// UpsertPlan stores the plan of an execution once. Repeating the call with the
// same plan returns the stored record; a different plan is a conflict.
func (s *PlanStore) UpsertPlan(ctx context.Context, projectID, planExecutionID string, planJSON []byte) (repo.PlanRecord, error) {
	if s == nil || s.db == nil {
		return repo.PlanRecord{}, fmt.Errorf("plan store not initialized")
	}
	projectID, planExecutionID, err := requireIDs(projectID, planExecutionID)
	if err != nil {
		return repo.PlanRecord{}, err
	}
	if len(planJSON) == 0 {
		return repo.PlanRecord{}, fmt.Errorf("plan is required")
	}

	var record repo.PlanRecord
	err = s.db.QueryRowContext(ctx, insertPlanQuery, uuid.NewString(), planExecutionID, projectID, planJSON).
		Scan(&record.ID, &record.PlanExecutionID, &record.ProjectID, &record.Plan, &record.CreatedAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return repo.PlanRecord{}, fmt.Errorf("insert plan: %w", err)
		}
		existing, err := s.GetPlan(ctx, projectID, planExecutionID)
		if err != nil {
			return repo.PlanRecord{}, err
		}
		if !bytes.Equal(existing.Plan, planJSON) {
			return repo.PlanRecord{}, fmt.Errorf("execution plan already exists for %s: %w", planExecutionID, repo.ErrConflict)
		}
		return existing, nil
	}
	return record, nil
}

func (s *PlanStore) GetPlan(ctx context.Context, projectID, planExecutionID string) (repo.PlanRecord, error) {
	if s == nil || s.db == nil {
		return repo.PlanRecord{}, fmt.Errorf("plan store not initialized")
	}
	projectID, planExecutionID, err := requireIDs(projectID, planExecutionID)
	if err != nil {
		return repo.PlanRecord{}, err
	}
	var record repo.PlanRecord
	row := s.db.QueryRowContext(ctx, selectPlanQuery, projectID, planExecutionID)
	if err := row.Scan(&record.ID, &record.PlanExecutionID, &record.ProjectID, &record.Plan, &record.CreatedAt); err != nil {
		return repo.PlanRecord{}, handleNotFound(err)
	}
	return record, nil
}
