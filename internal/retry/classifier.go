package retry

import "github.com/animus-labs/stage-retry/internal/domain"

// IsFailedStatus reports whether a stage in this status may be retried.
func IsFailedStatus(status domain.ExecutionStatus) bool {
	switch status {
	case domain.StatusFailed,
		domain.StatusAborted,
		domain.StatusExpired,
		domain.StatusApprovalRejected,
		domain.StatusApprovalRejectedLegacy:
		return true
	default:
		return false
	}
}

// FetchOnlyFailedStages keeps the requested identifiers whose last recorded
// status is a failure, in request order. Any identifier missing from records
// fails the whole call.
func FetchOnlyFailedStages(records []domain.StageExecutionRecord, requested []string) ([]string, error) {
	statuses, err := requireKnownStages(records, requested)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(requested))
	for _, identifier := range dedupe(requested) {
		if IsFailedStatus(statuses[identifier]) {
			out = append(out, identifier)
		}
	}
	return out, nil
}

// RequireKnownStages checks that every requested identifier appears in records
// and returns the requested identifiers deduplicated, in request order.
func RequireKnownStages(records []domain.StageExecutionRecord, requested []string) ([]string, error) {
	if _, err := requireKnownStages(records, requested); err != nil {
		return nil, err
	}
	return dedupe(requested), nil
}

func requireKnownStages(records []domain.StageExecutionRecord, requested []string) (map[string]domain.ExecutionStatus, error) {
	if len(records) == 0 {
		return nil, invalidRequest("no stage history for execution")
	}
	if len(requested) == 0 {
		return nil, invalidRequest("no stages selected for retry")
	}
	statuses := make(map[string]domain.ExecutionStatus, len(records))
	for _, record := range records {
		statuses[record.Identifier] = record.Status
	}
	var missing []string
	for _, identifier := range dedupe(requested) {
		if _, ok := statuses[identifier]; !ok {
			missing = append(missing, identifier)
		}
	}
	if len(missing) > 0 {
		return nil, invalidRequest("stages not found in execution history", missing...)
	}
	return statuses, nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
