package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/execution/codec"
)

const planArchiveContentType = "application/json"

// ArchivedPlan is the object written for every planned retry.
type ArchivedPlan struct {
	ProjectID              string
	PlanExecutionID        string
	RetriedFromExecutionID string
	SkipIdentifiers        []string
	SkipList               []string
	Plan                   domain.Plan
	CreatedAt              time.Time
}

// PlanArchive keeps a copy of rewritten retry plans in object storage.
type PlanArchive struct {
	store  Store
	bucket string
}

func NewPlanArchive(store Store, bucket string) *PlanArchive {
	if store == nil || strings.TrimSpace(bucket) == "" {
		return nil
	}
	return &PlanArchive{store: store, bucket: strings.TrimSpace(bucket)}
}

func PlanArchiveKey(projectID, planExecutionID string) string {
	return "projects/" + strings.TrimSpace(projectID) + "/executions/" + strings.TrimSpace(planExecutionID) + "/plan.json"
}

func (a *PlanArchive) Put(ctx context.Context, plan ArchivedPlan) (string, error) {
	if a == nil || a.store == nil {
		return "", errors.New("plan archive not initialized")
	}
	if strings.TrimSpace(plan.ProjectID) == "" || strings.TrimSpace(plan.PlanExecutionID) == "" {
		return "", errors.New("project id and plan execution id are required")
	}

	planJSON, err := codec.MarshalPlan(plan.Plan)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	createdAt := plan.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	blob, err := json.Marshal(archivePayload{
		ProjectID:              plan.ProjectID,
		PlanExecutionID:        plan.PlanExecutionID,
		RetriedFromExecutionID: plan.RetriedFromExecutionID,
		SkipIdentifiers:        nonNil(plan.SkipIdentifiers),
		SkipList:               nonNil(plan.SkipList),
		Plan:                   planJSON,
		CreatedAt:              createdAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	key := PlanArchiveKey(plan.ProjectID, plan.PlanExecutionID)
	if err := a.store.Put(ctx, a.bucket, key, bytes.NewReader(blob), int64(len(blob)), planArchiveContentType); err != nil {
		return "", err
	}
	return key, nil
}

func (a *PlanArchive) Get(ctx context.Context, projectID, planExecutionID string) (ArchivedPlan, error) {
	if a == nil || a.store == nil {
		return ArchivedPlan{}, errors.New("plan archive not initialized")
	}
	body, _, err := a.store.Get(ctx, a.bucket, PlanArchiveKey(projectID, planExecutionID))
	if err != nil {
		return ArchivedPlan{}, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return ArchivedPlan{}, fmt.Errorf("read archive: %w", err)
	}
	var payload archivePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ArchivedPlan{}, fmt.Errorf("decode archive: %w", err)
	}
	plan, err := codec.UnmarshalPlan(payload.Plan)
	if err != nil {
		return ArchivedPlan{}, fmt.Errorf("decode archived plan: %w", err)
	}
	return ArchivedPlan{
		ProjectID:              payload.ProjectID,
		PlanExecutionID:        payload.PlanExecutionID,
		RetriedFromExecutionID: payload.RetriedFromExecutionID,
		SkipIdentifiers:        payload.SkipIdentifiers,
		SkipList:               payload.SkipList,
		Plan:                   plan,
		CreatedAt:              payload.CreatedAt,
	}, nil
}

type archivePayload struct {
	ProjectID              string          `json:"projectId"`
	PlanExecutionID        string          `json:"planExecutionId"`
	RetriedFromExecutionID string          `json:"retriedFromExecutionId"`
	SkipIdentifiers        []string        `json:"skipIdentifiers"`
	SkipList               []string        `json:"skipList"`
	Plan                   json.RawMessage `json:"plan"`
	CreatedAt              time.Time       `json:"createdAt"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
