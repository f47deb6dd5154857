package retries

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/platform/auditlog"
	"github.com/animus-labs/stage-retry/internal/repo"
	store "github.com/animus-labs/stage-retry/internal/storage/objectstore"
)

const DefaultMaxExecutionAge = 30 * 24 * time.Hour

// AuditAppender records planning events, usually inside the caller's transaction.
type AuditAppender interface {
	Append(ctx context.Context, event auditlog.Event) error
}

// PlanArchiver keeps an out-of-database copy of every planned retry.
type PlanArchiver interface {
	Put(ctx context.Context, plan store.ArchivedPlan) (string, error)
}

// AuditContext captures request identity details for audit logging.
type AuditContext struct {
	Actor     string
	RequestID string
	IP        net.IP
	UserAgent string
	Service   string
}

type Deps struct {
	Pipelines      repo.PipelineRepository
	Executions     repo.PlanExecutionRepository
	Stages         repo.StageExecutionRepository
	NodeExecutions repo.NodeExecutionRepository
	Plans          repo.PlanRepository

	// Archive and Audit are optional.
	Archive PlanArchiver
	Audit   AuditAppender

	MaxExecutionAge time.Duration
}

type Service struct {
	pipelines  repo.PipelineRepository
	executions repo.PlanExecutionRepository
	stages     repo.StageExecutionRepository
	nodes      repo.NodeExecutionRepository
	plans      repo.PlanRepository
	archive    PlanArchiver
	audit      AuditAppender
	maxAge     time.Duration
	now        func() time.Time
}

func New(deps Deps) *Service {
	if deps.Pipelines == nil || deps.Executions == nil || deps.Stages == nil {
		return nil
	}
	maxAge := deps.MaxExecutionAge
	if maxAge <= 0 {
		maxAge = DefaultMaxExecutionAge
	}
	return &Service{
		pipelines:  deps.Pipelines,
		executions: deps.Executions,
		stages:     deps.Stages,
		nodes:      deps.NodeExecutions,
		plans:      deps.Plans,
		archive:    deps.Archive,
		audit:      deps.Audit,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

func (s *Service) ready() error {
	if s == nil || s.pipelines == nil || s.executions == nil || s.stages == nil {
		return errors.New("retry service not initialized")
	}
	return nil
}

func requireID(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New(name + " is required")
	}
	return value, nil
}
