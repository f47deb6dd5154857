package domain

import "strings"

// ExecutionStatus is the terminal status recorded for a stage or node execution.
type ExecutionStatus string

const (
	StatusRunning                ExecutionStatus = "RUNNING"
	StatusQueued                 ExecutionStatus = "QUEUED"
	StatusWaiting                ExecutionStatus = "WAITING"
	StatusSuccess                ExecutionStatus = "SUCCESS"
	StatusFailed                 ExecutionStatus = "FAILED"
	StatusErrored                ExecutionStatus = "ERRORED"
	StatusAborted                ExecutionStatus = "ABORTED"
	StatusExpired                ExecutionStatus = "EXPIRED"
	StatusSkipped                ExecutionStatus = "SKIPPED"
	StatusApprovalRejected       ExecutionStatus = "APPROVAL_REJECTED"
	StatusApprovalRejectedLegacy ExecutionStatus = "APPROVALREJECTED"
	StatusIgnoreFailed           ExecutionStatus = "IGNORE_FAILED"
	StatusIgnoreFailedLegacy     ExecutionStatus = "IGNOREFAILED"
)

// NormalizeExecutionStatus maps free-form status text onto the canonical set.
// Unknown values are returned upper-cased so they still compare predictably.
func NormalizeExecutionStatus(value string) ExecutionStatus {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch ExecutionStatus(normalized) {
	case StatusRunning, StatusQueued, StatusWaiting,
		StatusSuccess, StatusFailed, StatusErrored, StatusAborted, StatusExpired, StatusSkipped,
		StatusApprovalRejected, StatusApprovalRejectedLegacy,
		StatusIgnoreFailed, StatusIgnoreFailedLegacy:
		return ExecutionStatus(normalized)
	case "SUCCEEDED":
		return StatusSuccess
	case "":
		return ""
	default:
		return ExecutionStatus(normalized)
	}
}

// IsTerminal reports whether an execution in this status has finished.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusErrored, StatusAborted, StatusExpired, StatusSkipped,
		StatusApprovalRejected, StatusApprovalRejectedLegacy,
		StatusIgnoreFailed, StatusIgnoreFailedLegacy:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists every status IsTerminal accepts.
func TerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{
		StatusSuccess,
		StatusFailed,
		StatusErrored,
		StatusAborted,
		StatusExpired,
		StatusSkipped,
		StatusApprovalRejected,
		StatusApprovalRejectedLegacy,
		StatusIgnoreFailed,
		StatusIgnoreFailedLegacy,
	}
}
