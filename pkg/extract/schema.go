package extract

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/wafkaw/book-digger/pkg/common"
)

const defaultImportance = 0.5

// extractedEntity is one entity as the service returns it.
type extractedEntity struct {
	Name       string   `json:"name" jsonschema:"description=Short noun phrase naming the entity"`
	Importance *float64 `json:"importance" jsonschema:"description=Centrality to the highlight between 0 and 1"`
}

// extractedItem holds the entities of one highlight, addressed by its index
// in the request.
type extractedItem struct {
	Index    int               `json:"index" jsonschema:"description=Index of the highlight as given in the prompt"`
	Concepts []extractedEntity `json:"concepts"`
	Themes   []extractedEntity `json:"themes"`
	People   []extractedEntity `json:"people"`
	Emotions []extractedEntity `json:"emotions"`
	Summary  string            `json:"summary"`
}

// extractionResponse is the structured output requested from the service.
type extractionResponse struct {
	Items []extractedItem `json:"items"`
}

// normalizer turns raw service items into validated results.
type normalizer struct {
	opts Options
}

// item validates and normalizes one raw item. It fails when the item is
// structurally broken; decorative noise and generic terms are dropped
// silently.
func (n normalizer) item(it extractedItem) (common.ExtractionResult, error) {
	for _, list := range [][]extractedEntity{it.Concepts, it.Themes, it.People, it.Emotions} {
		for _, e := range list {
			if cleanName(e.Name) == "" {
				return common.ExtractionResult{}, fmt.Errorf("%w: empty entity name", common.ErrInvalidResult)
			}
			if e.Importance != nil && (math.IsNaN(*e.Importance) || math.IsInf(*e.Importance, 0)) {
				return common.ExtractionResult{}, fmt.Errorf("%w: non-finite importance for %q", common.ErrInvalidResult, e.Name)
			}
		}
	}

	result := common.ExtractionResult{
		Concepts: n.list(it.Concepts, common.KindConcept, n.opts.MaxConceptsPerHighlight),
		Themes:   n.list(it.Themes, common.KindTheme, n.opts.MaxThemesPerHighlight),
		People:   n.list(it.People, common.KindPerson, n.opts.MaxPeoplePerHighlight),
		Emotions: n.list(it.Emotions, common.KindEmotion, n.opts.MaxEmotionsPerHighlight),
		Summary:  common.CollapseWhitespace(it.Summary),
	}
	if err := result.Validate(); err != nil {
		return common.ExtractionResult{}, err
	}
	return result, nil
}

func (n normalizer) list(raw []extractedEntity, kind common.EntityKind, limit int) []common.Entity {
	out := make([]common.Entity, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for _, r := range raw {
		importance := defaultImportance
		if r.Importance != nil {
			importance = *r.Importance
		}
		e := common.NewEntity(cleanName(r.Name), importance, kind)
		if !keepTerm(e.NormalizedName, kind, n.opts.MinConceptLength) {
			continue
		}
		if i, dup := seen[e.NormalizedName]; dup {
			out[i].Importance = max(out[i].Importance, e.Importance)
			continue
		}
		seen[e.NormalizedName] = len(out)
		out = append(out, e)
	}
	return capByImportance(out, limit)
}

// conform reapplies the term filter and per-kind caps to a stored result that
// may have been produced under other limits. It only narrows.
func (n normalizer) conform(r common.ExtractionResult) common.ExtractionResult {
	keep := func(list []common.Entity, kind common.EntityKind, limit int) []common.Entity {
		out := make([]common.Entity, 0, len(list))
		for _, e := range list {
			if keepTerm(e.NormalizedName, kind, n.opts.MinConceptLength) {
				out = append(out, e)
			}
		}
		return capByImportance(out, limit)
	}
	return common.ExtractionResult{
		Concepts: keep(r.Concepts, common.KindConcept, n.opts.MaxConceptsPerHighlight),
		Themes:   keep(r.Themes, common.KindTheme, n.opts.MaxThemesPerHighlight),
		People:   keep(r.People, common.KindPerson, n.opts.MaxPeoplePerHighlight),
		Emotions: keep(r.Emotions, common.KindEmotion, n.opts.MaxEmotionsPerHighlight),
		Summary:  r.Summary,
	}
}

// capByImportance keeps the limit most important entities, ties broken by
// original position.
func capByImportance(entities []common.Entity, limit int) []common.Entity {
	slices.SortStableFunc(entities, func(a, b common.Entity) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}
	return entities
}

// resolve maps response items onto request slots. Items with an out of
// range or repeated index are ignored, as are items that fail validation.
// The returned slice has one entry per request slot; nil means unresolved.
func (n normalizer) resolve(resp extractionResponse, size int) ([]*common.ExtractionResult, []error) {
	out := make([]*common.ExtractionResult, size)
	var problems []error
	for _, it := range resp.Items {
		if it.Index < 0 || it.Index >= size {
			problems = append(problems, fmt.Errorf("%w: index %d out of range", common.ErrInvalidResult, it.Index))
			continue
		}
		if out[it.Index] != nil {
			problems = append(problems, fmt.Errorf("%w: duplicate index %d", common.ErrInvalidResult, it.Index))
			continue
		}
		result, err := n.item(it)
		if err != nil {
			problems = append(problems, fmt.Errorf("item %d: %w", it.Index, err))
			continue
		}
		out[it.Index] = &result
	}
	return out, problems
}
