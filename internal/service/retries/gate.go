package retries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/repo"
	"github.com/animus-labs/stage-retry/internal/retry"
)

// ErrNotResumable is wrapped by every RejectionError.
var ErrNotResumable = errors.New("execution cannot be retried")

// RejectionError carries the operator-facing reason a retry was refused.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return ErrNotResumable }

const (
	msgNotLatest        = "This execution is not the latest of all retried execution. You can only retry the latest execution."
	msgRolledBack       = "This execution has undergone Pipeline Rollback, and hence cannot be retried."
	msgStructureChanged = "Adding, deleting or changing the identifier of a stage is not allowed for retry."
)

func msgNoExecution(planExecutionID string) string {
	return "No Plan Execution exists for id " + planExecutionID
}

func msgNoPipeline(pipelineID string) string {
	return fmt.Sprintf("Pipeline with the given ID: %s does not exist or has been deleted", pipelineID)
}

func msgTooOld(maxAge time.Duration) string {
	return fmt.Sprintf("Execution is more than %d days old. Cannot retry", int(maxAge/(24*time.Hour)))
}

type RetryValidation struct {
	Resumable    bool
	ErrorMessage string
	Groups       []domain.Group
}

// gateResult keeps what the checks loaded so planning does not read it twice.
type gateResult struct {
	validation RetryValidation
	execution  domain.PlanExecution
	pipeline   domain.Pipeline
	history    []domain.StageExecutionRecord
}

// ValidateRetry reports whether planExecutionID can be retried against the
// pipeline's current definition. A refusal is a result, not an error.
func (s *Service) ValidateRetry(ctx context.Context, projectID, pipelineID, planExecutionID string) (RetryValidation, error) {
	res, err := s.gate(ctx, projectID, pipelineID, planExecutionID)
	if err != nil {
		return RetryValidation{}, err
	}
	return res.validation, nil
}

func (s *Service) gate(ctx context.Context, projectID, pipelineID, planExecutionID string) (gateResult, error) {
	if err := s.ready(); err != nil {
		return gateResult{}, err
	}
	projectID, err := requireID("project id", projectID)
	if err != nil {
		return gateResult{}, err
	}
	pipelineID, err = requireID("pipeline id", pipelineID)
	if err != nil {
		return gateResult{}, err
	}
	planExecutionID, err = requireID("plan execution id", planExecutionID)
	if err != nil {
		return gateResult{}, err
	}

	reject := func(message string) (gateResult, error) {
		return gateResult{validation: RetryValidation{ErrorMessage: message}}, nil
	}

	execution, err := s.executions.Get(ctx, projectID, planExecutionID)
	if errors.Is(err, repo.ErrNotFound) {
		return reject(msgNoExecution(planExecutionID))
	}
	if err != nil {
		return gateResult{}, fmt.Errorf("get plan execution: %w", err)
	}
	if strings.TrimSpace(execution.PipelineID) != pipelineID {
		return reject(msgNoExecution(planExecutionID))
	}
	if !execution.IsLatestExecution {
		return reject(msgNotLatest)
	}
	if strings.TrimSpace(execution.RollbackModeExecutionID) != "" {
		return reject(msgRolledBack)
	}

	pipeline, err := s.pipelines.Get(ctx, projectID, pipelineID)
	if errors.Is(err, repo.ErrNotFound) {
		return reject(msgNoPipeline(pipelineID))
	}
	if err != nil {
		return gateResult{}, fmt.Errorf("get pipeline: %w", err)
	}
	if pipeline.Deleted {
		return reject(msgNoPipeline(pipelineID))
	}

	if s.now().Sub(execution.StartedAt) > s.maxAge {
		return reject(msgTooOld(s.maxAge))
	}

	executedYAML := execution.YAML
	if execution.StagesExecution != nil && strings.TrimSpace(execution.StagesExecution.FullPipelineYAML) != "" {
		executedYAML = execution.StagesExecution.FullPipelineYAML
	}
	if strings.TrimSpace(executedYAML) == "" {
		return reject(msgNoExecution(planExecutionID))
	}
	if !retry.ValidateRetryYAML(pipeline.YAML, executedYAML) {
		return reject(msgStructureChanged)
	}

	history, err := s.stages.ListByPlanExecution(ctx, projectID, planExecutionID)
	if err != nil {
		return gateResult{}, fmt.Errorf("list stage executions: %w", err)
	}

	return gateResult{
		validation: RetryValidation{
			Resumable: true,
			Groups:    retry.GroupStages(history).Groups,
		},
		execution: execution,
		pipeline:  pipeline,
		history:   history,
	}, nil
}
