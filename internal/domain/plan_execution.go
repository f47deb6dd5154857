package domain

import "time"

// PlanExecution summarizes one run of a pipeline. Retries of the same run share RootExecutionID.
type PlanExecution struct {
	ID                      string
	ProjectID               string
	PipelineID              string
	RootExecutionID         string
	Status                  ExecutionStatus
	StartedAt               time.Time
	EndedAt                 *time.Time
	IsLatestExecution       bool
	RollbackModeExecutionID string
	RetriedFromExecutionID  string

	// YAML is the definition as submitted; ProcessedYAML is after template resolution.
	YAML          string
	ProcessedYAML string

	StagesExecution *StagesExecutionInfo
}

// StagesExecutionInfo is set when only selected stages of the pipeline were run.
type StagesExecutionInfo struct {
	StageIdentifiers []string
	FullPipelineYAML string
}

type Pipeline struct {
	ID        string
	ProjectID string
	Name      string
	YAML      string
	Deleted   bool
	UpdatedAt time.Time
}
