package retries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/execution/codec"
	"github.com/animus-labs/stage-retry/internal/platform/auditlog"
	"github.com/animus-labs/stage-retry/internal/repo"
	store "github.com/animus-labs/stage-retry/internal/storage/objectstore"
)

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fakePipelines struct {
	pipelines map[string]domain.Pipeline
}

func (f *fakePipelines) Get(ctx context.Context, projectID, pipelineID string) (domain.Pipeline, error) {
	p, ok := f.pipelines[pipelineID]
	if !ok {
		return domain.Pipeline{}, repo.ErrNotFound
	}
	return p, nil
}

type fakeExecutions struct {
	executions map[string]domain.PlanExecution
	order      []string
	superseded []string
	created    []domain.PlanExecution
	nextID     int
}

func (f *fakeExecutions) add(execution domain.PlanExecution) {
	if f.executions == nil {
		f.executions = map[string]domain.PlanExecution{}
	}
	f.executions[execution.ID] = execution
	f.order = append(f.order, execution.ID)
}

func (f *fakeExecutions) Get(ctx context.Context, projectID, planExecutionID string) (domain.PlanExecution, error) {
	e, ok := f.executions[planExecutionID]
	if !ok {
		return domain.PlanExecution{}, repo.ErrNotFound
	}
	return e, nil
}

func (f *fakeExecutions) ListByRoot(ctx context.Context, projectID, rootExecutionID string) ([]domain.PlanExecution, error) {
	var out []domain.PlanExecution
	for i := len(f.order) - 1; i >= 0; i-- {
		e := f.executions[f.order[i]]
		if e.RootExecutionID == rootExecutionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExecutions) CreateRetry(ctx context.Context, execution domain.PlanExecution) (domain.PlanExecution, error) {
	f.nextID++
	execution.ID = fmt.Sprintf("retry-%d", f.nextID)
	f.created = append(f.created, execution)
	f.add(execution)
	return execution, nil
}

func (f *fakeExecutions) MarkSuperseded(ctx context.Context, projectID, planExecutionID string) error {
	e, ok := f.executions[planExecutionID]
	if !ok || !e.IsLatestExecution {
		return repo.ErrNotFound
	}
	e.IsLatestExecution = false
	f.executions[planExecutionID] = e
	f.superseded = append(f.superseded, planExecutionID)
	return nil
}

type fakeStages struct {
	records map[string][]domain.StageExecutionRecord
}

func (f *fakeStages) ListByPlanExecution(ctx context.Context, projectID, planExecutionID string) ([]domain.StageExecutionRecord, error) {
	return f.records[planExecutionID], nil
}

type fakeNodes struct {
	byUUID     map[string]string
	strategies map[string]string
	uuidCalls  int
}

func (f *fakeNodes) MapUUIDsToNodeExecutions(ctx context.Context, projectID, planExecutionID string, uuids []string) (map[string]string, error) {
	f.uuidCalls++
	out := map[string]string{}
	for _, uuid := range uuids {
		if id, ok := f.byUUID[uuid]; ok {
			out[uuid] = id
		}
	}
	return out, nil
}

func (f *fakeNodes) MapStrategyNodeExecutions(ctx context.Context, projectID, planExecutionID string, stageFQNs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, fqn := range stageFQNs {
		if id, ok := f.strategies[fqn]; ok {
			out[fqn] = id
		}
	}
	return out, nil
}

type fakePlans struct {
	plans map[string][]byte
}

func (f *fakePlans) UpsertPlan(ctx context.Context, projectID, planExecutionID string, planJSON []byte) (repo.PlanRecord, error) {
	f.plans[planExecutionID] = planJSON
	return repo.PlanRecord{ID: "plan-record-" + planExecutionID, PlanExecutionID: planExecutionID, ProjectID: projectID, Plan: planJSON}, nil
}

func (f *fakePlans) GetPlan(ctx context.Context, projectID, planExecutionID string) (repo.PlanRecord, error) {
	raw, ok := f.plans[planExecutionID]
	if !ok {
		return repo.PlanRecord{}, repo.ErrNotFound
	}
	return repo.PlanRecord{PlanExecutionID: planExecutionID, ProjectID: projectID, Plan: raw}, nil
}

type fakeArchive struct {
	plans []store.ArchivedPlan
}

func (f *fakeArchive) Put(ctx context.Context, plan store.ArchivedPlan) (string, error) {
	f.plans = append(f.plans, plan)
	return store.PlanArchiveKey(plan.ProjectID, plan.PlanExecutionID), nil
}

type fakeAudit struct {
	events []auditlog.Event
}

func (f *fakeAudit) Append(ctx context.Context, event auditlog.Event) error {
	f.events = append(f.events, event)
	return nil
}

// threeByThreeYAML declares stage1..stage9 as three parallel blocks of three.
func threeByThreeYAML(names ...string) string {
	var b strings.Builder
	b.WriteString("pipeline:\n  identifier: deploy\n  stages:\n")
	for block := 0; block < 3; block++ {
		b.WriteString("    - parallel:\n")
		for i := 1; i <= 3; i++ {
			n := block*3 + i
			name := fmt.Sprintf("Stage %d", n)
			if len(names) >= n && names[n-1] != "" {
				name = names[n-1]
			}
			fmt.Fprintf(&b, "        - stage:\n            identifier: stage%d\n            name: %s\n", n, name)
		}
	}
	return b.String()
}

func threeByThreeHistory(failed ...string) []domain.StageExecutionRecord {
	failedSet := map[string]bool{}
	for _, id := range failed {
		failedSet[id] = true
	}
	out := make([]domain.StageExecutionRecord, 0, 9)
	for i := 1; i <= 9; i++ {
		id := fmt.Sprintf("stage%d", i)
		status := domain.StatusSuccess
		if failedSet[id] {
			status = domain.StatusFailed
		}
		out = append(out, domain.StageExecutionRecord{
			Identifier: id,
			Name:       id,
			ParentID:   fmt.Sprintf("parallel%d", (i-1)/3+1),
			Status:     status,
		})
	}
	return out
}

func threeByThreePlan() domain.Plan {
	plan := domain.Plan{UUID: "plan-1", StartingNodeID: "uuid-pipeline"}
	plan.Nodes = append(plan.Nodes, domain.PlanNode{
		UUID:       "uuid-pipeline",
		Identifier: "pipeline",
		StepType:   domain.StepType{Type: "PIPELINE_SECTION", Category: domain.StepCategoryPipeline},
		Kind:       domain.NodeKindExecutable,
	})
	for i := 1; i <= 9; i++ {
		id := fmt.Sprintf("stage%d", i)
		plan.Nodes = append(plan.Nodes, domain.PlanNode{
			UUID:       "uuid-" + id,
			Identifier: id,
			StepType:   domain.StepType{Type: "DEPLOYMENT", Category: domain.StepCategoryStage},
			StageFQN:   domain.StageFQN(id),
			Kind:       domain.NodeKindExecutable,
		})
	}
	plan.Nodes = append(plan.Nodes, domain.PlanNode{
		UUID:               "uuid-stage8-strategy",
		Identifier:         "strategy",
		StepType:           domain.StepType{Type: "MATRIX", Category: domain.StepCategoryStrategy},
		StageFQN:           domain.StageFQN("stage8"),
		AdviserObtainments: []string{"next-step"},
		Kind:               domain.NodeKindExecutable,
	})
	return plan
}

type fixture struct {
	svc        *Service
	pipelines  *fakePipelines
	executions *fakeExecutions
	stages     *fakeStages
	nodes      *fakeNodes
	plans      *fakePlans
	archive    *fakeArchive
	audit      *fakeAudit
}

// newFixture seeds execution exec-1 of pipeline pl-1 whose stage7 failed.
func newFixture() *fixture {
	yaml := threeByThreeYAML()
	f := &fixture{
		pipelines: &fakePipelines{pipelines: map[string]domain.Pipeline{
			"pl-1": {ID: "pl-1", ProjectID: "p1", YAML: yaml},
		}},
		executions: &fakeExecutions{},
		stages: &fakeStages{records: map[string][]domain.StageExecutionRecord{
			"exec-1": threeByThreeHistory("stage7"),
		}},
		nodes:   &fakeNodes{byUUID: map[string]string{}, strategies: map[string]string{}},
		plans:   &fakePlans{plans: map[string][]byte{}},
		archive: &fakeArchive{},
		audit:   &fakeAudit{},
	}
	for i := 1; i <= 9; i++ {
		f.nodes.byUUID[fmt.Sprintf("uuid-stage%d", i)] = fmt.Sprintf("nodeexec-stage%d", i)
	}
	f.executions.add(domain.PlanExecution{
		ID:                "exec-1",
		ProjectID:         "p1",
		PipelineID:        "pl-1",
		RootExecutionID:   "exec-1",
		Status:            domain.StatusFailed,
		StartedAt:         fixedNow.Add(-2 * time.Hour),
		IsLatestExecution: true,
		YAML:              yaml,
		ProcessedYAML:     yaml,
	})
	planJSON, err := codec.MarshalPlan(threeByThreePlan())
	if err != nil {
		panic(err)
	}
	f.plans.plans["exec-1"] = planJSON

	f.svc = New(Deps{
		Pipelines:      f.pipelines,
		Executions:     f.executions,
		Stages:         f.stages,
		NodeExecutions: f.nodes,
		Plans:          f.plans,
		Archive:        f.archive,
		Audit:          f.audit,
	})
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) updateExecution(id string, mutate func(*domain.PlanExecution)) {
	e := f.executions.executions[id]
	mutate(&e)
	f.executions.executions[id] = e
}
