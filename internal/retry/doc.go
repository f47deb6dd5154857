// Package retry plans the re-execution of a failed pipeline run.
//
// The planner works on data the caller loads:
//   - GroupStages rebuilds the series/parallel topology from the flat stage history.
//   - FetchOnlyFailedStages narrows an operator selection to stages that failed.
//   - ValidateRetry checks that an edited definition keeps the executed stage skeleton.
//   - ComputeSkipList picks the plan nodes whose previous result is reused.
//   - TransformPlan rewrites those nodes as identity nodes bound to the previous run.
//
// Every function is pure over its inputs. The only collaborator, HistoryResolver,
// is invoked by Binder once per call and never retained across calls.
//
// Errors:
//   - ErrInvalidRequest for selections that are empty, unknown, or disjoint from history.
//   - ErrMissingHistory when a skipped node has no previous node execution.
package retry
