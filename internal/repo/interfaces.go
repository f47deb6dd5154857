package repo

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
)

var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would duplicate an existing record.
var ErrConflict = errors.New("conflict")

type PlanRecord struct {
	ID              string
	PlanExecutionID string
	ProjectID       string
	Plan            []byte
	CreatedAt       time.Time
}

type PipelineRepository interface {
	Get(ctx context.Context, projectID, pipelineID string) (domain.Pipeline, error)
}

type PlanExecutionRepository interface {
	Get(ctx context.Context, projectID, planExecutionID string) (domain.PlanExecution, error)
	// ListByRoot returns every execution of a retry chain, newest first.
	ListByRoot(ctx context.Context, projectID, rootExecutionID string) ([]domain.PlanExecution, error)
	CreateRetry(ctx context.Context, execution domain.PlanExecution) (domain.PlanExecution, error)
	MarkSuperseded(ctx context.Context, projectID, planExecutionID string) error
}

type StageExecutionRepository interface {
	ListByPlanExecution(ctx context.Context, projectID, planExecutionID string) ([]domain.StageExecutionRecord, error)
}

type NodeExecutionRepository interface {
	// MapUUIDsToNodeExecutions returns node execution ids keyed by plan node uuid,
	// only for nodes that reached a terminal status.
	MapUUIDsToNodeExecutions(ctx context.Context, projectID, planExecutionID string, uuids []string) (map[string]string, error)
	// MapStrategyNodeExecutions returns strategy node execution ids keyed by stage FQN.
	MapStrategyNodeExecutions(ctx context.Context, projectID, planExecutionID string, stageFQNs []string) (map[string]string, error)
}

type PlanRepository interface {
	UpsertPlan(ctx context.Context, projectID, planExecutionID string, planJSON []byte) (PlanRecord, error)
	GetPlan(ctx context.Context, projectID, planExecutionID string) (PlanRecord, error)
}
