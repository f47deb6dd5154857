package retry

import (
	"fmt"

	"github.com/animus-labs/stage-retry/internal/definition"
)

// MergeProcessedDefinition rebuilds the processed definition of a retry: each
// stage named in skipIdentifiers takes its body from previous, the definition
// the earlier run actually executed, and every other stage keeps the body from
// current. Inputs are not modified.
func MergeProcessedDefinition(previous, current []byte, skipIdentifiers []string) ([]byte, error) {
	cur, err := definition.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("parse current definition: %w", err)
	}
	if len(skipIdentifiers) == 0 {
		return cur.Marshal()
	}
	prev, err := definition.Parse(previous)
	if err != nil {
		return nil, fmt.Errorf("parse previous definition: %w", err)
	}

	var missing []string
	for _, identifier := range dedupe(skipIdentifiers) {
		stage, ok := prev.Stage(identifier)
		if !ok || stage.Body == nil {
			missing = append(missing, identifier)
			continue
		}
		if err := cur.ReplaceStageBody(identifier, stage.Body); err != nil {
			return nil, invalidRequest(err.Error(), identifier)
		}
	}
	if len(missing) > 0 {
		return nil, missingHistory("skipped stages absent from previous definition", missing...)
	}
	return cur.Marshal()
}
