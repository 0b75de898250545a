package common

import (
	"errors"
	"fmt"
	"math"
)

// EntityKind classifies an extracted entity.
type EntityKind string

const (
	KindConcept EntityKind = "concept"
	KindTheme   EntityKind = "theme"
	KindPerson  EntityKind = "person"
	KindEmotion EntityKind = "emotion"
)

// Kinds lists every entity kind in rendering order.
var Kinds = []EntityKind{KindConcept, KindTheme, KindPerson, KindEmotion}

// Valid reports whether k is one of the known kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindConcept, KindTheme, KindPerson, KindEmotion:
		return true
	}
	return false
}

// Plural returns the folder style plural of the kind.
func (k EntityKind) Plural() string {
	if k == KindPerson {
		return "people"
	}
	return string(k) + "s"
}

// ErrInvalidResult marks an extraction result that violates the entity schema.
var ErrInvalidResult = errors.New("invalid extraction result")

// Entity is a single concept, theme, person or emotion found in a highlight.
//
// NormalizedName is the case-folded, whitespace-collapsed form of Name and,
// together with Kind, forms the identity of the entity across the corpus.
type Entity struct {
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Importance     float64    `json:"importance"`
	Kind           EntityKind `json:"kind"`
}

// NewEntity builds a normalized entity from a raw name and score.
func NewEntity(name string, importance float64, kind EntityKind) Entity {
	return Entity{
		Name:           CollapseWhitespace(name),
		NormalizedName: NormalizeName(name),
		Importance:     ClampImportance(importance),
		Kind:           kind,
	}
}

// Validate checks the entity against the schema invariants.
func (e Entity) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidResult, e.Kind)
	}
	if e.NormalizedName == "" {
		return fmt.Errorf("%w: empty %s name", ErrInvalidResult, e.Kind)
	}
	if e.NormalizedName != NormalizeName(e.NormalizedName) {
		return fmt.Errorf("%w: %s name %q is not normalized", ErrInvalidResult, e.Kind, e.NormalizedName)
	}
	if math.IsNaN(e.Importance) || e.Importance < 0 || e.Importance > 1 {
		return fmt.Errorf("%w: %s %q importance %v out of range", ErrInvalidResult, e.Kind, e.Name, e.Importance)
	}
	return nil
}

// ExtractionResult holds the entities extracted from exactly one highlight.
// Once cached a result is never mutated.
type ExtractionResult struct {
	Concepts []Entity `json:"concepts"`
	Themes   []Entity `json:"themes"`
	People   []Entity `json:"people"`
	Emotions []Entity `json:"emotions"`
	Summary  string   `json:"summary,omitempty"`
}

// All returns every entity of the result in kind order.
func (r ExtractionResult) All() []Entity {
	out := make([]Entity, 0, len(r.Concepts)+len(r.Themes)+len(r.People)+len(r.Emotions))
	out = append(out, r.Concepts...)
	out = append(out, r.Themes...)
	out = append(out, r.People...)
	out = append(out, r.Emotions...)
	return out
}

// Len returns the total number of entities.
func (r ExtractionResult) Len() int {
	return len(r.Concepts) + len(r.Themes) + len(r.People) + len(r.Emotions)
}

// Validate checks every entity and that each list only holds its own kind.
func (r ExtractionResult) Validate() error {
	lists := []struct {
		kind     EntityKind
		entities []Entity
	}{
		{KindConcept, r.Concepts},
		{KindTheme, r.Themes},
		{KindPerson, r.People},
		{KindEmotion, r.Emotions},
	}
	for _, l := range lists {
		for _, e := range l.entities {
			if e.Kind != l.kind {
				return fmt.Errorf("%w: %s %q listed under %s", ErrInvalidResult, e.Kind, e.Name, l.kind.Plural())
			}
			if err := e.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone returns a deep copy so callers can never alias cached slices.
func (r ExtractionResult) Clone() ExtractionResult {
	return ExtractionResult{
		Concepts: cloneEntities(r.Concepts),
		Themes:   cloneEntities(r.Themes),
		People:   cloneEntities(r.People),
		Emotions: cloneEntities(r.Emotions),
		Summary:  r.Summary,
	}
}

func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	copy(out, in)
	return out
}

// ClampImportance forces a score into [0,1]; NaN becomes 0.
func ClampImportance(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
