package retry

import (
	"slices"

	"github.com/animus-labs/stage-retry/internal/domain"
)

// UUIDLookup resolves a stage identifier to the uuid of its node in the current plan.
type UUIDLookup func(identifier string) (string, bool)

// PlanUUIDLookup indexes the stage nodes of plan by identifier.
func PlanUUIDLookup(plan domain.Plan) UUIDLookup {
	index := make(map[string]string)
	for _, node := range plan.Nodes {
		if node.StepType.Category != domain.StepCategoryStage {
			continue
		}
		if _, ok := index[node.Identifier]; ok {
			continue
		}
		index[node.Identifier] = node.UUID
	}
	return func(identifier string) (string, bool) {
		uuid, ok := index[identifier]
		return uuid, ok
	}
}

// SkipIdentifiers returns the stage identifiers whose previous result is reused
// when retrying selected: every stage of the groups before the pivot group
// (the first group holding a selected stage) and the unselected members of the
// pivot group. Nothing after the pivot group is skipped.
func SkipIdentifiers(info domain.RetryInfo, selected []string) ([]string, error) {
	if len(selected) == 0 {
		return nil, nil
	}
	chosen := toSet(selected)
	pivot := slices.IndexFunc(info.Groups, func(group domain.Group) bool {
		for _, stage := range group.Stages {
			if _, ok := chosen[stage.Identifier]; ok {
				return true
			}
		}
		return false
	})
	if pivot < 0 {
		return nil, invalidRequest("selected stages do not appear in execution history", selected...)
	}

	var out []string
	for _, group := range info.Groups[:pivot] {
		out = append(out, group.Identifiers()...)
	}
	for _, stage := range info.Groups[pivot].Stages {
		if _, ok := chosen[stage.Identifier]; !ok {
			out = append(out, stage.Identifier)
		}
	}
	return out, nil
}

// ComputeSkipList maps SkipIdentifiers onto plan node uuids through lookup,
// keeping group order. A skipped stage absent from the current plan fails the
// call since the plan and history no longer describe the same pipeline.
func ComputeSkipList(info domain.RetryInfo, selected []string, lookup UUIDLookup) ([]string, error) {
	identifiers, err := SkipIdentifiers(info, selected)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(identifiers))
	var unresolved []string
	for _, identifier := range identifiers {
		uuid, ok := lookup(identifier)
		if !ok {
			unresolved = append(unresolved, identifier)
			continue
		}
		out = append(out, uuid)
	}
	if len(unresolved) > 0 {
		return nil, invalidRequest("skipped stages not found in current plan", unresolved...)
	}
	return out, nil
}

type transformOptions struct {
	strategyBindings map[string]string
}

type TransformOption func(*transformOptions)

// WithStrategyBindings binds strategy nodes of retried stages to the previous
// run's strategy node executions, keyed by node uuid. Bound nodes keep their
// adviser obtainments so the runtime re-expands the strategy from the old result.
func WithStrategyBindings(bindings map[string]string) TransformOption {
	return func(o *transformOptions) {
		o.strategyBindings = bindings
	}
}

// TransformPlan returns a copy of plan in which every node whose uuid is in
// skipList becomes an identity node bound to bindings[uuid]. plan is not
// modified. A skip-listed node without a binding fails the call with
// ErrMissingHistory and no plan is returned.
func TransformPlan(plan domain.Plan, skipList []string, bindings map[string]string, opts ...TransformOption) (domain.Plan, error) {
	options := transformOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	skip := toSet(skipList)
	var missing []string
	for _, node := range plan.Nodes {
		if _, ok := skip[node.UUID]; !ok {
			continue
		}
		if _, ok := bindings[node.UUID]; !ok {
			missing = append(missing, node.UUID)
		}
	}
	if len(missing) > 0 {
		return domain.Plan{}, missingHistory("no previous node execution for skipped nodes", missing...)
	}

	out := plan.Clone()
	for i := range out.Nodes {
		node := &out.Nodes[i]
		if _, ok := skip[node.UUID]; ok {
			*node = identityNode(*node, bindings[node.UUID], false)
			continue
		}
		switch node.Kind {
		case domain.NodeKindExecutable, "":
			if node.StepType.Category != domain.StepCategoryStrategy {
				continue
			}
			if executionID, ok := options.strategyBindings[node.UUID]; ok {
				*node = identityNode(*node, executionID, true)
			}
		case domain.NodeKindIdentity:
		}
	}
	return out, nil
}

func identityNode(node domain.PlanNode, nodeExecutionID string, useAdviserObtainments bool) domain.PlanNode {
	out := domain.PlanNode{
		UUID:                    node.UUID,
		Identifier:              node.Identifier,
		Name:                    node.Name,
		StepType:                node.StepType,
		StageFQN:                node.StageFQN,
		Children:                node.Children,
		Kind:                    domain.NodeKindIdentity,
		OriginalNodeExecutionID: nodeExecutionID,
		UseAdviserObtainments:   useAdviserObtainments,
	}
	if useAdviserObtainments {
		out.AdviserObtainments = node.AdviserObtainments
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		out[value] = struct{}{}
	}
	return out
}
