package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/repo"
)

func TestQueriesProjectScoped(t *testing.T) {
	queries := map[string]string{
		"select pipeline":       selectPipelineQuery,
		"list stages":           listStageExecutionsQuery,
		"map nodes":             mapNodeExecutionsQuery,
		"map strategy nodes":    mapStrategyNodeExecutionsQuery,
		"select plan execution": selectPlanExecutionQuery,
		"list by root":          listPlanExecutionsByRootQuery,
		"mark superseded":       markSupersededQuery,
		"select plan":           selectPlanQuery,
	}
	for name, query := range queries {
		if !strings.Contains(query, "project_id = $1") {
			t.Fatalf("%s: expected project_id predicate", name)
		}
	}
}

func TestStageExecutionQueryOrdersByPosition(t *testing.T) {
	if !strings.Contains(listStageExecutionsQuery, "ORDER BY position ASC") {
		t.Fatalf("expected execution order in list query")
	}
}

func TestNodeExecutionQueriesFilterHistory(t *testing.T) {
	if !strings.Contains(mapNodeExecutionsQuery, "status = ANY($4)") {
		t.Fatalf("expected terminal status filter")
	}
	if !strings.Contains(mapNodeExecutionsQuery, "DISTINCT ON (plan_node_uuid)") {
		t.Fatalf("expected one execution per node")
	}
	if !strings.Contains(mapStrategyNodeExecutionsQuery, "step_category = 'STRATEGY'") {
		t.Fatalf("expected strategy category filter")
	}
	if !strings.Contains(mapStrategyNodeExecutionsQuery, "status = ANY($4)") {
		t.Fatalf("expected terminal status filter on strategy nodes")
	}
	for name, query := range map[string]string{
		"map nodes":          mapNodeExecutionsQuery,
		"map strategy nodes": mapStrategyNodeExecutionsQuery,
	} {
		if !strings.Contains(query, "created_at DESC") {
			t.Fatalf("%s: expected latest attempt first", name)
		}
		if strings.Contains(query, "created_at ASC") {
			t.Fatalf("%s: earliest attempt must not win", name)
		}
	}
}

func TestPlanExecutionQueries(t *testing.T) {
	if !strings.Contains(listPlanExecutionsByRootQuery, "ORDER BY started_at DESC") {
		t.Fatalf("expected newest-first ordering")
	}
	if !strings.Contains(insertRetryExecutionQuery, "TRUE") {
		t.Fatalf("expected retries inserted as latest")
	}
	if !strings.Contains(markSupersededQuery, "is_latest_execution = TRUE") {
		t.Fatalf("expected superseding to require the latest flag")
	}
	if !strings.Contains(insertPlanQuery, "ON CONFLICT (plan_execution_id) DO NOTHING") {
		t.Fatalf("expected idempotency conflict clause in plan insert")
	}
}

func TestSchemaDefinesTables(t *testing.T) {
	for _, table := range []string{"pipelines", "plan_executions", "stage_executions", "node_executions", "execution_plans", "audit_events"} {
		if !strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("schema missing table %s", table)
		}
	}
}

func TestStoresRequireDB(t *testing.T) {
	if NewPipelineStore(nil) != nil || NewStageExecutionStore(nil) != nil || NewNodeExecutionStore(nil) != nil ||
		NewPlanExecutionStore(nil) != nil || NewPlanStore(nil) != nil {
		t.Fatalf("expected nil stores without db")
	}
	var stages *StageExecutionStore
	if _, err := stages.ListByPlanExecution(context.Background(), "p", "e"); err == nil {
		t.Fatalf("expected error from nil store")
	}
	if err := Migrate(context.Background(), nil); err == nil {
		t.Fatalf("expected error without db")
	}
}

func TestHandleErrors(t *testing.T) {
	if !errors.Is(handleNotFound(sql.ErrNoRows), repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for no rows")
	}
	if !errors.Is(handleConflict(&pgconn.PgError{Code: "23505"}), repo.ErrConflict) {
		t.Fatalf("expected ErrConflict for unique violation")
	}
	other := &pgconn.PgError{Code: "23503"}
	if handleConflict(other) != other {
		t.Fatalf("expected other errors unchanged")
	}
}

func TestStagesExecutionCodec(t *testing.T) {
	raw, err := encodeStagesExecution(&domain.StagesExecutionInfo{StageIdentifiers: []string{"a"}, FullPipelineYAML: "pipeline: {}"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	info, err := decodeStagesExecution(raw)
	if err != nil || info == nil || info.FullPipelineYAML != "pipeline: {}" || len(info.StageIdentifiers) != 1 {
		t.Fatalf("decode: %+v, %v", info, err)
	}
	if info, err := decodeStagesExecution(nil); info != nil || err != nil {
		t.Fatalf("expected nil for empty column, got %+v, %v", info, err)
	}
	if raw, _ := encodeStagesExecution(nil); raw != nil {
		t.Fatalf("expected NULL for full pipeline executions")
	}
}

func TestCleanIDs(t *testing.T) {
	got := cleanIDs([]string{" a ", "", "b", "a"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("cleanIDs()=%v", got)
	}
}
