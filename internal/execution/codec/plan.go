package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/stage-retry/internal/domain"
)

// MarshalPlan serializes a plan with stable field names.
func MarshalPlan(plan domain.Plan) ([]byte, error) {
	payload := planPayload{
		UUID:           plan.UUID,
		StartingNodeID: plan.StartingNodeID,
		Nodes:          make([]planNodePayload, 0, len(plan.Nodes)),
	}
	for _, node := range plan.Nodes {
		kind := node.Kind
		if kind == "" {
			kind = domain.NodeKindExecutable
		}
		payload.Nodes = append(payload.Nodes, planNodePayload{
			UUID:                    node.UUID,
			Identifier:              node.Identifier,
			Name:                    node.Name,
			StepType:                stepTypePayload{Type: node.StepType.Type, Category: string(node.StepType.Category)},
			StageFQN:                node.StageFQN,
			AdviserObtainments:      node.AdviserObtainments,
			Children:                node.Children,
			Kind:                    string(kind),
			OriginalNodeExecutionID: node.OriginalNodeExecutionID,
			UseAdviserObtainments:   node.UseAdviserObtainments,
		})
	}
	return json.Marshal(payload)
}

// UnmarshalPlan parses a persisted plan. Identity nodes must name the node
// execution they replay.
func UnmarshalPlan(raw []byte) (domain.Plan, error) {
	var payload planPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Plan{}, err
	}
	nodes := make([]domain.PlanNode, 0, len(payload.Nodes))
	for i, node := range payload.Nodes {
		if strings.TrimSpace(node.UUID) == "" {
			return domain.Plan{}, fmt.Errorf("node[%d] uuid is required", i)
		}
		kind, err := parseNodeKind(node.Kind)
		if err != nil {
			return domain.Plan{}, fmt.Errorf("node %s: %w", node.UUID, err)
		}
		if kind == domain.NodeKindIdentity && strings.TrimSpace(node.OriginalNodeExecutionID) == "" {
			return domain.Plan{}, fmt.Errorf("node %s: identity node requires originalNodeExecutionId", node.UUID)
		}
		nodes = append(nodes, domain.PlanNode{
			UUID:                    node.UUID,
			Identifier:              node.Identifier,
			Name:                    node.Name,
			StepType:                domain.StepType{Type: node.StepType.Type, Category: domain.StepCategory(strings.ToUpper(node.StepType.Category))},
			StageFQN:                node.StageFQN,
			AdviserObtainments:      node.AdviserObtainments,
			Children:                node.Children,
			Kind:                    kind,
			OriginalNodeExecutionID: node.OriginalNodeExecutionID,
			UseAdviserObtainments:   node.UseAdviserObtainments,
		})
	}
	return domain.Plan{
		UUID:           payload.UUID,
		StartingNodeID: payload.StartingNodeID,
		Nodes:          nodes,
	}, nil
}

func parseNodeKind(value string) (domain.NodeKind, error) {
	switch domain.NodeKind(strings.ToUpper(strings.TrimSpace(value))) {
	case "", domain.NodeKindExecutable:
		return domain.NodeKindExecutable, nil
	case domain.NodeKindIdentity:
		return domain.NodeKindIdentity, nil
	default:
		return "", fmt.Errorf("unknown node kind %q", value)
	}
}

type planPayload struct {
	UUID           string            `json:"uuid"`
	StartingNodeID string            `json:"startingNodeId"`
	Nodes          []planNodePayload `json:"nodes"`
}

type planNodePayload struct {
	UUID                    string          `json:"uuid"`
	Identifier              string          `json:"identifier"`
	Name                    string          `json:"name"`
	StepType                stepTypePayload `json:"stepType"`
	StageFQN                string          `json:"stageFqn,omitempty"`
	AdviserObtainments      []string        `json:"adviserObtainments,omitempty"`
	Children                []string        `json:"children,omitempty"`
	Kind                    string          `json:"kind"`
	OriginalNodeExecutionID string          `json:"originalNodeExecutionId,omitempty"`
	UseAdviserObtainments   bool            `json:"useAdviserObtainments,omitempty"`
}

type stepTypePayload struct {
	Type     string `json:"type"`
	Category string `json:"category"`
}
