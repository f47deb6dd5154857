package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/animus-labs/stage-retry/internal/domain"
)

// HistoryResolver maps plan node uuids to the node executions that ran them
// in a previous plan execution. Entries are returned only for uuids with a
// terminal node execution; absent uuids are not an error.
type HistoryResolver interface {
	MapUUIDsToNodeExecutions(ctx context.Context, planExecutionID string, uuids []string) (map[string]string, error)
}

type HistoryResolverFunc func(ctx context.Context, planExecutionID string, uuids []string) (map[string]string, error)

func (f HistoryResolverFunc) MapUUIDsToNodeExecutions(ctx context.Context, planExecutionID string, uuids []string) (map[string]string, error) {
	return f(ctx, planExecutionID, uuids)
}

type Binder struct {
	history HistoryResolver
}

func NewBinder(history HistoryResolver) *Binder {
	if history == nil {
		return nil
	}
	return &Binder{history: history}
}

// Resolve looks up the previous node executions for uuids.
func (b *Binder) Resolve(ctx context.Context, uuids []string, planExecutionID string) (map[string]string, error) {
	if b == nil || b.history == nil {
		return nil, errors.New("binder not initialized")
	}
	if len(uuids) == 0 {
		return map[string]string{}, nil
	}
	if planExecutionID == "" {
		return nil, invalidRequest("previous plan execution id is required")
	}
	resolved, err := b.history.MapUUIDsToNodeExecutions(ctx, planExecutionID, uuids)
	if err != nil {
		return nil, fmt.Errorf("resolve node executions: %w", err)
	}
	if resolved == nil {
		resolved = map[string]string{}
	}
	return resolved, nil
}

// Bind resolves skipList against planExecutionID and rewrites plan with the result.
func (b *Binder) Bind(ctx context.Context, plan domain.Plan, skipList []string, planExecutionID string, opts ...TransformOption) (domain.Plan, error) {
	bindings, err := b.Resolve(ctx, skipList, planExecutionID)
	if err != nil {
		return domain.Plan{}, err
	}
	return TransformPlan(plan, skipList, bindings, opts...)
}
