package retries

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/execution/codec"
	"github.com/animus-labs/stage-retry/internal/platform/auditlog"
	"github.com/animus-labs/stage-retry/internal/repo"
	"github.com/animus-labs/stage-retry/internal/retry"
	store "github.com/animus-labs/stage-retry/internal/storage/objectstore"
)

const AuditActionRetryPlanned = "pipeline_execution.retry_planned"

type Request struct {
	ProjectID       string
	PipelineID      string
	PlanExecutionID string

	// StageIdentifiers are the stages the operator asked to retry. Unless
	// RunAllStages is set only the failed ones among them are retried.
	StageIdentifiers []string
	RunAllStages     bool

	// Plan overrides the stored plan of the previous execution.
	Plan *domain.Plan

	Audit AuditContext
}

type Result struct {
	Execution       domain.PlanExecution
	Plan            domain.Plan
	RetriedStages   []string
	SkipIdentifiers []string
	SkipList        []string
	ArchiveKey      string
}

// PlanRetry creates the retry execution for req.PlanExecutionID. A gate
// refusal is returned as a *RejectionError.
func (s *Service) PlanRetry(ctx context.Context, req Request) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	if s.nodes == nil || s.plans == nil {
		return Result{}, errors.New("retry service not configured for planning")
	}

	gate, err := s.gate(ctx, req.ProjectID, req.PipelineID, req.PlanExecutionID)
	if err != nil {
		return Result{}, err
	}
	if !gate.validation.Resumable {
		return Result{}, &RejectionError{Message: gate.validation.ErrorMessage}
	}
	previous := gate.execution
	projectID := previous.ProjectID
	if projectID == "" {
		projectID = strings.TrimSpace(req.ProjectID)
	}

	var selected []string
	if req.RunAllStages {
		selected, err = retry.RequireKnownStages(gate.history, req.StageIdentifiers)
	} else {
		selected, err = retry.FetchOnlyFailedStages(gate.history, req.StageIdentifiers)
	}
	if err != nil {
		return Result{}, err
	}
	if len(selected) == 0 {
		return Result{}, &retry.Error{
			Kind:        retry.ErrInvalidRequest,
			Message:     "none of the requested stages failed",
			Identifiers: req.StageIdentifiers,
		}
	}

	plan, err := s.currentPlan(ctx, projectID, previous.ID, req.Plan)
	if err != nil {
		return Result{}, err
	}

	info := retry.GroupStages(gate.history)
	skipIdentifiers, err := retry.SkipIdentifiers(info, selected)
	if err != nil {
		return Result{}, err
	}
	skipList, err := retry.ComputeSkipList(info, selected, retry.PlanUUIDLookup(plan))
	if err != nil {
		return Result{}, err
	}

	strategyBindings, err := s.strategyBindings(ctx, projectID, previous.ID, plan, selected)
	if err != nil {
		return Result{}, err
	}

	binder := retry.NewBinder(retry.HistoryResolverFunc(func(ctx context.Context, planExecutionID string, uuids []string) (map[string]string, error) {
		return s.nodes.MapUUIDsToNodeExecutions(ctx, projectID, planExecutionID, uuids)
	}))
	rewritten, err := binder.Bind(ctx, plan, skipList, previous.ID, retry.WithStrategyBindings(strategyBindings))
	if err != nil {
		return Result{}, err
	}

	processed := gate.pipeline.YAML
	if strings.TrimSpace(previous.ProcessedYAML) != "" {
		merged, err := retry.MergeProcessedDefinition([]byte(previous.ProcessedYAML), []byte(gate.pipeline.YAML), skipIdentifiers)
		if err != nil {
			return Result{}, fmt.Errorf("merge processed definition: %w", err)
		}
		processed = string(merged)
	}

	rootID := previous.RootExecutionID
	if strings.TrimSpace(rootID) == "" {
		rootID = previous.ID
	}

	if err := s.executions.MarkSuperseded(ctx, projectID, previous.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, &RejectionError{Message: msgNotLatest}
		}
		return Result{}, fmt.Errorf("supersede execution: %w", err)
	}
	created, err := s.executions.CreateRetry(ctx, domain.PlanExecution{
		ProjectID:              projectID,
		PipelineID:             previous.PipelineID,
		RootExecutionID:        rootID,
		Status:                 domain.StatusQueued,
		StartedAt:              s.now().UTC(),
		IsLatestExecution:      true,
		RetriedFromExecutionID: previous.ID,
		YAML:                   gate.pipeline.YAML,
		ProcessedYAML:          processed,
		StagesExecution:        previous.StagesExecution,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create retry execution: %w", err)
	}

	planJSON, err := codec.MarshalPlan(rewritten)
	if err != nil {
		return Result{}, fmt.Errorf("marshal plan: %w", err)
	}
	if _, err := s.plans.UpsertPlan(ctx, projectID, created.ID, planJSON); err != nil {
		return Result{}, fmt.Errorf("store plan: %w", err)
	}

	result := Result{
		Execution:       created,
		Plan:            rewritten,
		RetriedStages:   selected,
		SkipIdentifiers: skipIdentifiers,
		SkipList:        skipList,
	}

	if s.archive != nil {
		key, err := s.archive.Put(ctx, store.ArchivedPlan{
			ProjectID:              projectID,
			PlanExecutionID:        created.ID,
			RetriedFromExecutionID: previous.ID,
			SkipIdentifiers:        skipIdentifiers,
			SkipList:               skipList,
			Plan:                   rewritten,
			CreatedAt:              created.StartedAt,
		})
		if err != nil {
			return Result{}, fmt.Errorf("archive plan: %w", err)
		}
		result.ArchiveKey = key
	}

	if err := s.appendAudit(ctx, req, result, rootID); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Service) currentPlan(ctx context.Context, projectID, previousID string, override *domain.Plan) (domain.Plan, error) {
	if override != nil {
		return override.Clone(), nil
	}
	record, err := s.plans.GetPlan(ctx, projectID, previousID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Plan{}, &retry.Error{
			Kind:        retry.ErrMissingHistory,
			Message:     "no stored plan for execution",
			Identifiers: []string{previousID},
		}
	}
	if err != nil {
		return domain.Plan{}, fmt.Errorf("get plan: %w", err)
	}
	plan, err := codec.UnmarshalPlan(record.Plan)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// strategyBindings maps strategy nodes of the retried stages to the strategy
// node executions of the previous run, keyed by node uuid. Stages after the
// pivot that are not retried expand their strategy afresh.
func (s *Service) strategyBindings(ctx context.Context, projectID, previousID string, plan domain.Plan, selected []string) (map[string]string, error) {
	fqns := make([]string, 0, len(selected))
	for _, identifier := range selected {
		fqns = append(fqns, domain.StageFQN(identifier))
	}
	if len(fqns) == 0 {
		return nil, nil
	}

	byFQN, err := s.nodes.MapStrategyNodeExecutions(ctx, projectID, previousID, fqns)
	if err != nil {
		return nil, fmt.Errorf("resolve strategy node executions: %w", err)
	}
	if len(byFQN) == 0 {
		return nil, nil
	}
	out := make(map[string]string)
	for _, node := range plan.Nodes {
		if node.StepType.Category != domain.StepCategoryStrategy {
			continue
		}
		if executionID, ok := byFQN[node.StageFQN]; ok {
			out[node.UUID] = executionID
		}
	}
	return out, nil
}

func (s *Service) appendAudit(ctx context.Context, req Request, result Result, rootID string) error {
	if s.audit == nil {
		return nil
	}
	actor := strings.TrimSpace(req.Audit.Actor)
	if actor == "" {
		actor = "system"
	}
	err := s.audit.Append(ctx, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       AuditActionRetryPlanned,
		ResourceType: "plan_execution",
		ResourceID:   result.Execution.ID,
		RequestID:    req.Audit.RequestID,
		IP:           req.Audit.IP,
		UserAgent:    req.Audit.UserAgent,
		Payload: map[string]any{
			"service":           strings.TrimSpace(req.Audit.Service),
			"project_id":        result.Execution.ProjectID,
			"pipeline_id":       result.Execution.PipelineID,
			"root_execution_id": rootID,
			"retried_from":      result.Execution.RetriedFromExecutionID,
			"run_all_stages":    req.RunAllStages,
			"retried_stages":    result.RetriedStages,
			"skip_identifiers":  result.SkipIdentifiers,
			"skipped_nodes":     len(result.SkipList),
			"archive_key":       result.ArchiveKey,
		},
	})
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
