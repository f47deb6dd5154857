package retry

import (
	"slices"

	"github.com/animus-labs/stage-retry/internal/definition"
)

// ValidateRetry reports whether updated keeps the stage skeleton of original:
// the same ordered groups, with parallel members compared in order. Names and
// stage bodies are ignored. Absent or empty definitions never match.
func ValidateRetry(updated, original *definition.Pipeline) bool {
	if updated.IsEmpty() || original.IsEmpty() {
		return false
	}
	a := Skeleton(updated)
	b := Skeleton(original)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameKind(updated.Stages[i], original.Stages[i]) {
			return false
		}
		if !slices.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// ValidateRetryYAML parses both documents and applies ValidateRetry.
// A document that fails to parse never matches.
func ValidateRetryYAML(updated, original string) bool {
	u, err := definition.Parse([]byte(updated))
	if err != nil {
		return false
	}
	o, err := definition.Parse([]byte(original))
	if err != nil {
		return false
	}
	return ValidateRetry(u, o)
}

// Skeleton returns the ordered identifier groups of a definition.
func Skeleton(p *definition.Pipeline) [][]string {
	if p == nil {
		return nil
	}
	out := make([][]string, 0, len(p.Stages))
	for _, node := range p.Stages {
		stages := node.Stages()
		group := make([]string, 0, len(stages))
		for _, stage := range stages {
			group = append(group, stage.Identifier)
		}
		out = append(out, group)
	}
	return out
}

// A one-member parallel block and a bare stage list the same identifiers;
// moving a stage into or out of a parallel block still changes structure.
func sameKind(a, b definition.Node) bool {
	return a.Kind == b.Kind
}
