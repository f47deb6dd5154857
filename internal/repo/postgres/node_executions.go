package postgres

import (
	"context"
	"fmt"

	"github.com/animus-labs/stage-retry/internal/domain"
)

type NodeExecutionStore struct {
	db DB
}

// The latest terminal execution of a node wins; earlier rows are attempts an
// in-run retry of the same node already replaced.
const (
	mapNodeExecutionsQuery = `SELECT DISTINCT ON (plan_node_uuid) plan_node_uuid, node_execution_id
	 FROM node_executions
	 WHERE project_id = $1 AND plan_execution_id = $2 AND plan_node_uuid = ANY($3) AND status = ANY($4)
	 ORDER BY plan_node_uuid, created_at DESC`

	mapStrategyNodeExecutionsQuery = `SELECT DISTINCT ON (stage_fqn) stage_fqn, node_execution_id
	 FROM node_executions
	 WHERE project_id = $1 AND plan_execution_id = $2 AND step_category = 'STRATEGY' AND stage_fqn = ANY($3) AND status = ANY($4)
	 ORDER BY stage_fqn, created_at DESC`
)

func NewNodeExecutionStore(db DB) *NodeExecutionStore {
	if db == nil {
		return nil
	}
	return &NodeExecutionStore{db: db}
}

func (s *NodeExecutionStore) MapUUIDsToNodeExecutions(ctx context.Context, projectID, planExecutionID string, uuids []string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("node execution store not initialized")
	}
	projectID, planExecutionID, err := requireIDs(projectID, planExecutionID)
	if err != nil {
		return nil, err
	}
	uuids = cleanIDs(uuids)
	if len(uuids) == 0 {
		return map[string]string{}, nil
	}
	return s.queryPairs(ctx, "map node executions", mapNodeExecutionsQuery, projectID, planExecutionID, uuids, terminalStatuses())
}

func (s *NodeExecutionStore) MapStrategyNodeExecutions(ctx context.Context, projectID, planExecutionID string, stageFQNs []string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("node execution store not initialized")
	}
	projectID, planExecutionID, err := requireIDs(projectID, planExecutionID)
	if err != nil {
		return nil, err
	}
	stageFQNs = cleanIDs(stageFQNs)
	if len(stageFQNs) == 0 {
		return map[string]string{}, nil
	}
	return s.queryPairs(ctx, "map strategy node executions", mapStrategyNodeExecutionsQuery, projectID, planExecutionID, stageFQNs, terminalStatuses())
}

func terminalStatuses() []string {
	out := make([]string, 0, len(domain.TerminalStatuses()))
	for _, status := range domain.TerminalStatuses() {
		out = append(out, string(status))
	}
	return out
}

func (s *NodeExecutionStore) queryPairs(ctx context.Context, op, query string, args ...any) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
