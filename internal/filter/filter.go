// Package filter decides per-entity inclusion for the active criteria. The
// evaluation is pure: the same entity and criteria always produce the same
// answer, and evaluation never mutates either side.
package filter

import (
	"strings"

	"sigmap/internal/entity"
)

// Criteria is the active filter: a free-text needle matched against the
// entity's full serialized attribute set, and a set of category keys matched
// against the entity type. Both predicates are conjunctive. Empty text means
// no text restriction; an empty type set means no category restriction.
type Criteria struct {
	Text  string   `json:"text"`
	Types []string `json:"types"`
}

// Normalized returns a copy with the text trimmed/lower-cased and the type
// keys lower-cased with empties removed.
func (c Criteria) Normalized() Criteria {
	out := Criteria{Text: strings.ToLower(strings.TrimSpace(c.Text))}
	for _, t := range c.Types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out.Types = append(out.Types, t)
		}
	}
	return out
}

// Empty reports whether the criteria restrict nothing.
func (c Criteria) Empty() bool {
	return strings.TrimSpace(c.Text) == "" && len(c.Types) == 0
}

// Passes reports whether e satisfies c. The category predicate is an OR
// across selected keys (substring match on the lower-cased type); the text
// predicate is a substring match over the lower-cased attribute blob.
func Passes(e entity.Entity, c Criteria) bool {
	c = c.Normalized()

	if len(c.Types) > 0 {
		entityType := strings.ToLower(e.Type())
		matched := false
		for _, want := range c.Types {
			if strings.Contains(entityType, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.Text == "" {
		return true
	}
	return strings.Contains(e.Blob(), c.Text)
}

// Apply returns the entities that pass c, preserving input order.
func Apply(items []entity.Entity, c Criteria) []entity.Entity {
	c = c.Normalized()
	out := make([]entity.Entity, 0, len(items))
	for _, e := range items {
		if Passes(e, c) {
			out = append(out, e)
		}
	}
	return out
}
