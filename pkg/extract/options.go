package extract

// Options are the per-highlight extraction limits.
//
// ImportanceThreshold is carried along for the graph quality filter; entity
// scores are never filtered here because a node's importance is only known
// after every sighting has been merged.
type Options struct {
	MaxConceptsPerHighlight int     `json:"max_concepts_per_highlight"`
	MaxThemesPerHighlight   int     `json:"max_themes_per_highlight"`
	MaxPeoplePerHighlight   int     `json:"max_people_per_highlight"`
	MaxEmotionsPerHighlight int     `json:"max_emotions_per_highlight"`
	MinConceptLength        int     `json:"min_concept_length"`
	ImportanceThreshold     float64 `json:"importance_threshold"`
	BatchSize               int     `json:"batch_size"`
}

// DefaultOptions mirrors the limits readers of the vault are used to.
func DefaultOptions() Options {
	return Options{
		MaxConceptsPerHighlight: 5,
		MaxThemesPerHighlight:   3,
		MaxPeoplePerHighlight:   5,
		MaxEmotionsPerHighlight: 3,
		MinConceptLength:        3,
		ImportanceThreshold:     0.3,
		BatchSize:               5,
	}
}

// withDefaults fills every non-positive limit from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConceptsPerHighlight <= 0 {
		o.MaxConceptsPerHighlight = d.MaxConceptsPerHighlight
	}
	if o.MaxThemesPerHighlight <= 0 {
		o.MaxThemesPerHighlight = d.MaxThemesPerHighlight
	}
	if o.MaxPeoplePerHighlight <= 0 {
		o.MaxPeoplePerHighlight = d.MaxPeoplePerHighlight
	}
	if o.MaxEmotionsPerHighlight <= 0 {
		o.MaxEmotionsPerHighlight = d.MaxEmotionsPerHighlight
	}
	if o.MinConceptLength <= 0 {
		o.MinConceptLength = d.MinConceptLength
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	return o
}
