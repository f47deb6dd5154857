package retries

import (
	"context"
	"fmt"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
)

const msgNoHistory = "Retry history is not available for this execution."

type ExecutionSummary struct {
	ID                     string
	Status                 domain.ExecutionStatus
	StartedAt              time.Time
	EndedAt                *time.Time
	RetriedFromExecutionID string
}

type History struct {
	RootExecutionID   string
	LatestExecutionID string
	Executions        []ExecutionSummary
	ErrorMessage      string
}

type LatestExecution struct {
	LatestExecutionID string
	ErrorMessage      string
}

// RetryHistory lists every execution of a retry chain, newest first. A chain
// that was never retried has no history and only ErrorMessage is set.
func (s *Service) RetryHistory(ctx context.Context, projectID, rootExecutionID string) (History, error) {
	chain, err := s.chain(ctx, projectID, rootExecutionID)
	if err != nil {
		return History{}, err
	}
	if len(chain) < 2 {
		return History{RootExecutionID: rootExecutionID, ErrorMessage: msgNoHistory}, nil
	}

	out := History{
		RootExecutionID:   rootExecutionID,
		LatestExecutionID: latestOf(chain),
		Executions:        make([]ExecutionSummary, 0, len(chain)),
	}
	for _, execution := range chain {
		out.Executions = append(out.Executions, ExecutionSummary{
			ID:                     execution.ID,
			Status:                 execution.Status,
			StartedAt:              execution.StartedAt,
			EndedAt:                execution.EndedAt,
			RetriedFromExecutionID: execution.RetriedFromExecutionID,
		})
	}
	return out, nil
}

func (s *Service) LatestExecution(ctx context.Context, projectID, rootExecutionID string) (LatestExecution, error) {
	chain, err := s.chain(ctx, projectID, rootExecutionID)
	if err != nil {
		return LatestExecution{}, err
	}
	if len(chain) < 2 {
		return LatestExecution{ErrorMessage: msgNoHistory}, nil
	}
	return LatestExecution{LatestExecutionID: latestOf(chain)}, nil
}

func (s *Service) chain(ctx context.Context, projectID, rootExecutionID string) ([]domain.PlanExecution, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	projectID, err := requireID("project id", projectID)
	if err != nil {
		return nil, err
	}
	rootExecutionID, err = requireID("root execution id", rootExecutionID)
	if err != nil {
		return nil, err
	}
	chain, err := s.executions.ListByRoot(ctx, projectID, rootExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list retry chain: %w", err)
	}
	return chain, nil
}

// latestOf prefers the execution flagged latest and falls back to the newest.
func latestOf(chain []domain.PlanExecution) string {
	for _, execution := range chain {
		if execution.IsLatestExecution {
			return execution.ID
		}
	}
	return chain[0].ID
}
