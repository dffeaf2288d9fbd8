package classify

import (
	"go.uber.org/zap"

	"verdict/api/schemas"
)

// Factor weights for the confidence blend. Score separation dominates,
// evidence completeness and cross-source agreement carry the middle, and
// selector certainty plus git history round it out.
const (
	weightSeparation        = 0.30
	weightCompleteness      = 0.25
	weightConsistency       = 0.20
	weightSelectorCertainty = 0.15
	weightHistory           = 0.10
)

// HistorySignal captures what the git history said relative to the verdict.
// The evidence builder sets these from the timeline comparison.
type HistorySignal struct {
	// Supports is true when the history actively backs the verdict, for
	// example a removed element behind an AUTOMATION_BUG call.
	Supports bool
	// Contradicts is true when the history argues against the verdict.
	Contradicts bool
	// RecentChange is true when the selector's element changed inside the
	// recency window, regardless of which verdict it favors.
	RecentChange bool
}

// Calculator blends five weighted evidence factors into one bounded
// confidence with a coarse level and per-factor warnings. It never errors;
// absent evidence lowers the result instead of failing it.
type Calculator struct {
	log *zap.Logger
}

// NewCalculator returns a Calculator logging under classify.confidence.
func NewCalculator(log *zap.Logger) *Calculator {
	return &Calculator{log: log.Named("classify.confidence")}
}

// Assess computes the confidence breakdown for one classified failure.
func (c *Calculator) Assess(
	scores schemas.ClassificationScores,
	completeness schemas.EvidenceCompleteness,
	consistency schemas.SourceConsistency,
	selector schemas.SelectorEvidence,
	history HistorySignal,
) schemas.ConfidenceBreakdown {
	b := schemas.ConfidenceBreakdown{
		Separation:        separationFactor(scores),
		Completeness:      completeness.Score(),
		Consistency:       Agreement(consistency),
		SelectorCertainty: selectorCertainty(selector),
		History:           historyFactor(history),
	}

	final := weightSeparation*b.Separation +
		weightCompleteness*b.Completeness +
		weightConsistency*b.Consistency +
		weightSelectorCertainty*b.SelectorCertainty +
		weightHistory*b.History
	b.Final = clamp(final, 0.10, 0.95)
	b.Level = LevelFor(b.Final)
	b.Warnings = confidenceWarnings(b)

	c.log.Debug("confidence assessed",
		zap.Float64("separation", b.Separation),
		zap.Float64("completeness", b.Completeness),
		zap.Float64("consistency", b.Consistency),
		zap.Float64("selector_certainty", b.SelectorCertainty),
		zap.Float64("history", b.History),
		zap.Float64("final", b.Final),
	)
	return b
}

// separationFactor rewards a decisive score gap: anything past 0.5 earns a
// 10% boost, capped at 1.0.
func separationFactor(scores schemas.ClassificationScores) float64 {
	sep := scores.Separation()
	if sep > 0.5 {
		sep = min(sep*1.10, 1.0)
	}
	return sep
}

// Agreement returns the fraction of non-nil per-source suggestions that
// agree with the majority suggestion. With fewer than two sources speaking
// there is nothing to agree about, so it returns a neutral 0.5.
func Agreement(s schemas.SourceConsistency) float64 {
	suggestions := s.Suggestions()
	if len(suggestions) < 2 {
		return 0.5
	}
	counts := make(map[schemas.Classification]int, 3)
	for _, c := range suggestions {
		counts[c]++
	}
	most := 0
	for _, n := range counts {
		if n > most {
			most = n
		}
	}
	return float64(most) / float64(len(suggestions))
}

func selectorCertainty(sel schemas.SelectorEvidence) float64 {
	switch {
	case sel.Found == nil:
		// No lookup ran, so the selector tells us nothing either way.
		return 0.3
	case !*sel.Found:
		// A confirmed absence is strong evidence, almost as strong as a
		// confirmed recent change.
		return 0.8
	case sel.RecentlyChanged == nil:
		// Present, but the history could not be dated.
		return 0.7
	case *sel.RecentlyChanged:
		return 0.9
	default:
		return 0.85
	}
}

func historyFactor(h HistorySignal) float64 {
	score := 0.5
	if h.Supports {
		score += 0.3
	}
	if h.Contradicts {
		score -= 0.2
	}
	if h.RecentChange {
		score += 0.2
	}
	return clamp(score, 0, 1)
}

// LevelFor buckets a numeric confidence into the coarse triage label.
func LevelFor(confidence float64) schemas.ConfidenceLevel {
	switch {
	case confidence >= 0.75:
		return schemas.ConfidenceHigh
	case confidence >= 0.50:
		return schemas.ConfidenceMedium
	case confidence >= 0.30:
		return schemas.ConfidenceLow
	default:
		return schemas.ConfidenceVeryLow
	}
}

func confidenceWarnings(b schemas.ConfidenceBreakdown) []string {
	var warnings []string
	if b.Separation < 0.3 {
		warnings = append(warnings, "verdict weights are close together; the classification is not decisive")
	}
	if b.Completeness < 0.4 {
		warnings = append(warnings, "most evidence streams were unavailable for this failure")
	}
	if b.Consistency < 0.5 {
		warnings = append(warnings, "independent evidence sources disagree about the verdict")
	}
	if b.SelectorCertainty < 0.4 {
		warnings = append(warnings, "selector history could not be established")
	}
	if b.Final < 0.5 {
		warnings = append(warnings, "overall confidence is low; treat the verdict as a starting point")
	}
	return warnings
}
