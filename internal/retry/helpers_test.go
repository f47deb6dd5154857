package retry

import (
	"fmt"

	"github.com/animus-labs/stage-retry/internal/domain"
)

func stageRecord(identifier, parentID string, status domain.ExecutionStatus) domain.StageExecutionRecord {
	return domain.StageExecutionRecord{
		Identifier: identifier,
		Name:       identifier,
		ParentID:   parentID,
		Status:     status,
	}
}

// threeByThree returns stage1..stage9 in three parallel groups of three.
func threeByThree() []domain.StageExecutionRecord {
	records := make([]domain.StageExecutionRecord, 0, 9)
	for i := 1; i <= 9; i++ {
		parent := fmt.Sprintf("parallel%d", (i-1)/3+1)
		records = append(records, stageRecord(fmt.Sprintf("stage%d", i), parent, domain.StatusSuccess))
	}
	return records
}

func uuidFor(identifier string) string {
	return "uuid-" + identifier
}

func fixtureLookup(identifier string) (string, bool) {
	return uuidFor(identifier), true
}

func uuidsFor(identifiers ...string) []string {
	out := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		out = append(out, uuidFor(identifier))
	}
	return out
}

func stagePlan(identifiers ...string) domain.Plan {
	plan := domain.Plan{UUID: "plan-1", StartingNodeID: "uuid-pipeline"}
	plan.Nodes = append(plan.Nodes, domain.PlanNode{
		UUID:       "uuid-pipeline",
		Identifier: "pipeline",
		Name:       "pipeline",
		StepType:   domain.StepType{Type: "PIPELINE_SECTION", Category: domain.StepCategoryPipeline},
		Kind:       domain.NodeKindExecutable,
	})
	for _, identifier := range identifiers {
		plan.Nodes = append(plan.Nodes, domain.PlanNode{
			UUID:       uuidFor(identifier),
			Identifier: identifier,
			Name:       "Stage " + identifier,
			StepType:   domain.StepType{Type: "DEPLOYMENT", Category: domain.StepCategoryStage},
			StageFQN:   domain.StageFQN(identifier),
			Children:   []string{uuidFor(identifier) + "-steps"},
			Kind:       domain.NodeKindExecutable,
		})
	}
	return plan
}
