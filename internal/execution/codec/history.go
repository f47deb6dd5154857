package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/domain"
)

// UnmarshalStageExecutions parses an execution-ordered list of stage records.
func UnmarshalStageExecutions(raw []byte) ([]domain.StageExecutionRecord, error) {
	var payload []stageExecutionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.StageExecutionRecord, 0, len(payload))
	for i, item := range payload {
		identifier := strings.TrimSpace(item.Identifier)
		if identifier == "" {
			return nil, fmt.Errorf("stage[%d] identifier is required", i)
		}
		out = append(out, domain.StageExecutionRecord{
			Identifier: identifier,
			Name:       item.Name,
			ParentID:   item.ParentID,
			NextID:     item.NextID,
			Status:     domain.NormalizeExecutionStatus(item.Status),
			CreatedAt:  item.CreatedAt,
		})
	}
	return out, nil
}

func MarshalStageExecutions(records []domain.StageExecutionRecord) ([]byte, error) {
	return json.Marshal(stagePayloads(records))
}

// MarshalRetryInfo serializes grouped history for API responses.
func MarshalRetryInfo(info domain.RetryInfo) ([]byte, error) {
	return json.Marshal(RetryInfoPayload(info))
}

func RetryInfoPayload(info domain.RetryInfo) []GroupPayload {
	out := make([]GroupPayload, 0, len(info.Groups))
	for _, group := range info.Groups {
		out = append(out, GroupPayload{
			ParentID: group.ParentID,
			Kind:     group.Kind().String(),
			Stages:   stagePayloads(group.Stages),
		})
	}
	return out
}

func stagePayloads(records []domain.StageExecutionRecord) []stageExecutionPayload {
	out := make([]stageExecutionPayload, 0, len(records))
	for _, record := range records {
		out = append(out, stageExecutionPayload{
			Identifier: record.Identifier,
			Name:       record.Name,
			ParentID:   record.ParentID,
			NextID:     record.NextID,
			Status:     string(record.Status),
			CreatedAt:  record.CreatedAt,
		})
	}
	return out
}

type GroupPayload struct {
	ParentID string                  `json:"parentId"`
	Kind     string                  `json:"kind"`
	Stages   []stageExecutionPayload `json:"stages"`
}

type stageExecutionPayload struct {
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	ParentID   string    `json:"parentId"`
	NextID     string    `json:"nextId,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}
