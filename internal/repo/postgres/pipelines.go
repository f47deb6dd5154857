package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/stage-retry/internal/domain"
)

type PipelineStore struct {
	db DB
}

const selectPipelineQuery = `SELECT pipeline_id, project_id, name, yaml, deleted, updated_at
	 FROM pipelines
	 WHERE project_id = $1 AND pipeline_id = $2 AND deleted = FALSE`

func NewPipelineStore(db DB) *PipelineStore {
	if db == nil {
		return nil
	}
	return &PipelineStore{db: db}
}

// Get returns a live pipeline; deleted pipelines are reported as repo.ErrNotFound.
func (s *PipelineStore) Get(ctx context.Context, projectID, pipelineID string) (domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	pipelineID = strings.TrimSpace(pipelineID)
	if projectID == "" {
		return domain.Pipeline{}, fmt.Errorf("project id is required")
	}
	if pipelineID == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline id is required")
	}

	var p domain.Pipeline
	err := s.db.QueryRowContext(ctx, selectPipelineQuery, projectID, pipelineID).Scan(
		&p.ID,
		&p.ProjectID,
		&p.Name,
		&p.YAML,
		&p.Deleted,
		&p.UpdatedAt,
	)
	if err != nil {
		return domain.Pipeline{}, handleNotFound(err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
