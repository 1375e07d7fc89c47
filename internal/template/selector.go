package template

import (
	"sort"

	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/entity"
)

// SelectorConfig holds the selection thresholds. Tie epsilon is the required
// coverage gap under which two templates count as equally plausible.
type SelectorConfig struct {
	ConfidenceThreshold float64
	CoverageThreshold   float64
	TieEpsilon          float64
}

// Scored is one template with its fit against the extracted entities.
type Scored struct {
	Template         *Template `json:"-"`
	TemplateID       string    `json:"templateId"`
	Version          int       `json:"version"`
	RequiredCoverage float64   `json:"requiredCoverage"`
	OptionalCoverage float64   `json:"optionalCoverage"`
	Missing          []string  `json:"missing,omitempty"`
}

// Selection is the selector outcome. Ranked holds the runners-up that landed
// within the tie epsilon of the winner; a non-empty list means the pick is
// ambiguous and the reviewer should see the alternatives.
type Selection struct {
	Best      *Scored   `json:"best"`
	Ranked    []*Scored `json:"ranked,omitempty"`
	Ambiguous bool      `json:"ambiguous"`
}

type Selector struct {
	config SelectorConfig
	logger logger.Logger
}

func NewSelector(config SelectorConfig, log logger.Logger) *Selector {
	return &Selector{
		config: config,
		logger: log.With(map[string]interface{}{
			"stage": "select",
		}),
	}
}

// Select scores the snapshot's templates against the extracted entities and
// picks the best fit. Candidates come from the intent's category; an empty or
// unknown category falls back to the whole catalog. Required coverage decides,
// optional coverage then priority break ties.
func (s *Selector) Select(snap *Snapshot, category string, ents *entity.Result) (*Selection, error) {
	candidates := snap.ByCategory(category)
	if len(candidates) == 0 {
		candidates = snap.All()
	}

	scored := make([]*Scored, 0, len(candidates))
	for _, t := range candidates {
		scored = append(scored, s.score(t, ents))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RequiredCoverage != scored[j].RequiredCoverage {
			return scored[i].RequiredCoverage > scored[j].RequiredCoverage
		}
		if scored[i].OptionalCoverage != scored[j].OptionalCoverage {
			return scored[i].OptionalCoverage > scored[j].OptionalCoverage
		}
		if scored[i].Template.Priority != scored[j].Template.Priority {
			return scored[i].Template.Priority > scored[j].Template.Priority
		}
		return scored[i].Template.Key() < scored[j].Template.Key()
	})

	best := scored[0]
	if best.RequiredCoverage < s.config.CoverageThreshold {
		s.logger.Warn("no template reaches coverage threshold", map[string]interface{}{
			"category":  category,
			"bestId":    best.TemplateID,
			"coverage":  best.RequiredCoverage,
			"threshold": s.config.CoverageThreshold,
		})
		return nil, errors.NewNoMatchingTemplateError(best.Missing)
	}

	selection := &Selection{Best: best}
	for _, sc := range scored[1:] {
		if best.RequiredCoverage-sc.RequiredCoverage <= s.config.TieEpsilon {
			selection.Ranked = append(selection.Ranked, sc)
		}
	}
	selection.Ambiguous = len(selection.Ranked) > 0

	s.logger.Info("template selected", map[string]interface{}{
		"templateId":       best.TemplateID,
		"version":          best.Version,
		"requiredCoverage": best.RequiredCoverage,
		"ambiguous":        selection.Ambiguous,
	})
	return selection, nil
}

// score counts fields the extractor resolved above the confidence threshold.
// A low-confidence value covers nothing; the reviewer fills it in later.
func (s *Selector) score(t *Template, ents *entity.Result) *Scored {
	sc := &Scored{
		Template:   t,
		TemplateID: t.ID,
		Version:    t.Version,
	}

	requiredHit := 0
	for _, f := range t.Required {
		if _, ok := ents.ResolvedAbove(f, s.config.ConfidenceThreshold); ok {
			requiredHit++
		} else {
			sc.Missing = append(sc.Missing, f)
		}
	}
	if len(t.Required) > 0 {
		sc.RequiredCoverage = float64(requiredHit) / float64(len(t.Required))
	} else {
		sc.RequiredCoverage = 1
	}

	optionalHit := 0
	for _, f := range t.Optional {
		if _, ok := ents.ResolvedAbove(f, s.config.ConfidenceThreshold); ok {
			optionalHit++
		}
	}
	if len(t.Optional) > 0 {
		sc.OptionalCoverage = float64(optionalHit) / float64(len(t.Optional))
	}

	return sc
}
