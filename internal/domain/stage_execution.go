package domain

import "time"

// StageExecutionRecord is one stage's entry in a plan execution's history.
// ParentID links parallel siblings; records are never mutated once written.
type StageExecutionRecord struct {
	Identifier string
	Name       string
	ParentID   string
	NextID     string
	Status     ExecutionStatus
	CreatedAt  time.Time
}

type GroupKind int

const (
	GroupSeries GroupKind = iota
	GroupParallel
)

func (k GroupKind) String() string {
	switch k {
	case GroupSeries:
		return "series"
	case GroupParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Group is a contiguous run of stage records sharing one parent.
type Group struct {
	ParentID string
	Stages   []StageExecutionRecord
}

func (g Group) Kind() GroupKind {
	if len(g.Stages) > 1 {
		return GroupParallel
	}
	return GroupSeries
}

func (g Group) Identifiers() []string {
	out := make([]string, 0, len(g.Stages))
	for _, stage := range g.Stages {
		out = append(out, stage.Identifier)
	}
	return out
}

// RetryInfo is the reconstructed series/parallel topology of one execution.
type RetryInfo struct {
	Groups []Group
}

func (r RetryInfo) Stages() []StageExecutionRecord {
	var out []StageExecutionRecord
	for _, group := range r.Groups {
		out = append(out, group.Stages...)
	}
	return out
}
