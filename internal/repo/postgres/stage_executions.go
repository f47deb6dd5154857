package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/animus-labs/stage-retry/internal/domain"
)

type StageExecutionStore struct {
	db DB
}

const listStageExecutionsQuery = `SELECT identifier, name, parent_id, next_id, status, created_at
	 FROM stage_executions
	 WHERE project_id = $1 AND plan_execution_id = $2
	 ORDER BY position ASC, created_at ASC`

func NewStageExecutionStore(db DB) *StageExecutionStore {
	if db == nil {
		return nil
	}
	return &StageExecutionStore{db: db}
}

// ListByPlanExecution returns the stage history of one execution in execution order.
func (s *StageExecutionStore) ListByPlanExecution(ctx context.Context, projectID, planExecutionID string) ([]domain.StageExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage execution store not initialized")
	}
	projectID, planExecutionID, err := requireIDs(projectID, planExecutionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, listStageExecutionsQuery, projectID, planExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StageExecutionRecord, 0)
	for rows.Next() {
		record, err := scanStageExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	return records, nil
}

func scanStageExecution(scanner rowScanner) (domain.StageExecutionRecord, error) {
	var record domain.StageExecutionRecord
	var nextID sql.NullString
	var status string
	if err := scanner.Scan(
		&record.Identifier,
		&record.Name,
		&record.ParentID,
		&nextID,
		&status,
		&record.CreatedAt,
	); err != nil {
		return domain.StageExecutionRecord{}, handleNotFound(err)
	}
	record.NextID = nextID.String
	record.Status = domain.NormalizeExecutionStatus(status)
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}
