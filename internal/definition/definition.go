package definition

import "gopkg.in/yaml.v3"

type NodeKind int

const (
	NodeStage NodeKind = iota
	NodeParallel
)

func (k NodeKind) String() string {
	switch k {
	case NodeStage:
		return "stage"
	case NodeParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Stage is one stage of a workflow definition. Body is the stage's YAML
// mapping and is nil for definitions built in code.
type Stage struct {
	Identifier string
	Name       string
	Body       *yaml.Node
}

// Node is an entry of the root stage sequence: a single stage or a parallel block.
type Node struct {
	Kind     NodeKind
	Stage    Stage
	Parallel []Stage
}

func StageNode(stage Stage) Node {
	return Node{Kind: NodeStage, Stage: stage}
}

func ParallelNode(stages ...Stage) Node {
	return Node{Kind: NodeParallel, Parallel: stages}
}

// Stages returns the stages a node contains in document order.
func (n Node) Stages() []Stage {
	switch n.Kind {
	case NodeStage:
		return []Stage{n.Stage}
	case NodeParallel:
		return n.Parallel
	default:
		return nil
	}
}

type Pipeline struct {
	Identifier string
	Name       string
	Stages     []Node

	doc *yaml.Node
}

func (p *Pipeline) IsEmpty() bool {
	return p == nil || len(p.Stages) == 0
}

func (p *Pipeline) StageIdentifiers() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, node := range p.Stages {
		for _, stage := range node.Stages() {
			out = append(out, stage.Identifier)
		}
	}
	return out
}

func (p *Pipeline) Stage(identifier string) (Stage, bool) {
	if p == nil {
		return Stage{}, false
	}
	for _, node := range p.Stages {
		for _, stage := range node.Stages() {
			if stage.Identifier == identifier {
				return stage, true
			}
		}
	}
	return Stage{}, false
}
