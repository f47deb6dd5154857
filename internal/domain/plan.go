package domain

type NodeKind string

const (
	NodeKindExecutable NodeKind = "PLAN_NODE"
	NodeKindIdentity   NodeKind = "IDENTITY_PLAN_NODE"
)

type StepCategory string

const (
	StepCategoryPipeline StepCategory = "PIPELINE"
	StepCategoryStages   StepCategory = "STAGES"
	StepCategoryStage    StepCategory = "STAGE"
	StepCategoryStep     StepCategory = "STEP"
	StepCategoryStrategy StepCategory = "STRATEGY"
	StepCategoryFork     StepCategory = "FORK"
)

type StepType struct {
	Type     string
	Category StepCategory
}

// PlanNode is a node of the execution plan handed to the runtime.
// Kind selects the variant: executable nodes run, identity nodes replay
// OriginalNodeExecutionID from a previous run.
type PlanNode struct {
	UUID       string
	Identifier string
	Name       string
	StepType   StepType
	// StageFQN is the fully qualified name of the owning stage, e.g. pipeline.stages.deploy.
	StageFQN           string
	AdviserObtainments []string
	Children           []string

	Kind                    NodeKind
	OriginalNodeExecutionID string
	UseAdviserObtainments   bool
}

func (n PlanNode) IsIdentity() bool {
	return n.Kind == NodeKindIdentity
}

func (n PlanNode) clone() PlanNode {
	out := n
	if n.AdviserObtainments != nil {
		out.AdviserObtainments = append([]string(nil), n.AdviserObtainments...)
	}
	if n.Children != nil {
		out.Children = append([]string(nil), n.Children...)
	}
	return out
}

type Plan struct {
	UUID           string
	StartingNodeID string
	Nodes          []PlanNode
}

// Clone returns a deep copy; rewriting a clone never affects the receiver.
func (p Plan) Clone() Plan {
	out := Plan{UUID: p.UUID, StartingNodeID: p.StartingNodeID}
	if p.Nodes != nil {
		out.Nodes = make([]PlanNode, 0, len(p.Nodes))
		for _, node := range p.Nodes {
			out.Nodes = append(out.Nodes, node.clone())
		}
	}
	return out
}

// StageFQN returns the fully qualified name used for stage nodes.
func StageFQN(identifier string) string {
	return "pipeline.stages." + identifier
}
