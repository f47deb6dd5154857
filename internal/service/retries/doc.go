// Package retries decides whether a finished plan execution may be retried and
// plans the retry: it selects the stages to run again, rewrites the stored
// plan so earlier results are reused, and records the new execution.
package retries
