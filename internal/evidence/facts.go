package evidence

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"verdict/api/schemas"
	"verdict/internal/classify"
)

// environmentEvidence carries the collected cluster facts into the package
// verbatim; the pipeline never second-guesses the collector.
func environmentEvidence(env schemas.EnvironmentFacts) schemas.EnvironmentEvidence {
	return schemas.EnvironmentEvidence{
		Healthy:           env.Healthy,
		ClusterAccessible: env.ClusterAccessible,
		UnhealthyNodes:    env.UnhealthyNodes,
		DegradedOperators: env.DegradedOperators,
		Notes:             env.Notes,
	}
}

var status4xx5xx = regexp.MustCompile(`\b[45][0-9]{2}\b`)

// scanConsole sweeps the captured console and network log lines for error
// markers. Detection is boolean per marker; up to sampleLimit matching lines
// are kept as proof.
func scanConsole(lines []string, sampleLimit int) schemas.ConsoleEvidence {
	var ev schemas.ConsoleEvidence
	for _, line := range lines {
		lower := strings.ToLower(line)
		matched := false

		if status5xx.MatchString(lower) || strings.Contains(lower, "internal server error") {
			ev.Has500Errors = true
			matched = true
		}
		if strings.Contains(lower, "connection refused") || strings.Contains(lower, "econnrefused") {
			ev.HasConnectionRefused = true
			matched = true
		}
		if containsAny(lower, "network error", "net::err", "failed to fetch", "econnreset", "socket hang up", "getaddrinfo") {
			ev.HasNetworkErrors = true
			matched = true
		}
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
			ev.HasTimeoutErrors = true
			matched = true
		}
		if strings.Contains(lower, "/api/") &&
			(containsAny(lower, "error", "fail") || status4xx5xx.MatchString(lower)) {
			ev.HasAPIErrors = true
			matched = true
		}

		if matched && len(ev.SampledLines) < sampleLimit {
			ev.SampledLines = append(ev.SampledLines, strings.TrimSpace(line))
		}
	}
	return ev
}

// selectorFromLookup converts a caller-precomputed lookup into selector
// evidence. A supplied RecentlyChanged wins; otherwise it is derived from
// LastModified against the recency window.
func selectorFromLookup(lookup schemas.SelectorLookup, recencyDays int, now time.Time) schemas.SelectorEvidence {
	ev := schemas.SelectorEvidence{
		Selector:        lookup.Selector,
		Found:           boolRef(lookup.Found),
		RecentlyChanged: lookup.RecentlyChanged,
		LastModified:    lookup.LastModified,
		NeverExisted:    lookup.NeverExisted,
		History:         lookup.History,
	}
	if ev.RecentlyChanged == nil && lookup.LastModified != nil {
		ev.RecentlyChanged = boolRef(withinDays(*lookup.LastModified, recencyDays, now))
	}
	if lookup.LastModified != nil {
		ev.DaysAgo = intRef(daysSince(*lookup.LastModified, now))
	}
	return ev
}

// selectorFromTimeline converts a git timeline comparison into selector
// evidence. "Found" means the element exists in the product source at HEAD,
// which is the question the decision matrix asks.
func selectorFromTimeline(selector string, cmp *schemas.TimelineComparison, recencyDays int, now time.Time) schemas.SelectorEvidence {
	ev := schemas.SelectorEvidence{Selector: selector}
	if cmp == nil {
		return ev
	}
	ev.NeverExisted = cmp.ElementNeverExisted

	console := cmp.Console
	if console == nil {
		return ev
	}
	ev.Found = boolRef(console.ExistsAtHead)
	if console.CommitDate != nil {
		ev.LastModified = console.CommitDate
		ev.DaysAgo = intRef(daysSince(*console.CommitDate, now))
		ev.RecentlyChanged = boolRef(withinDays(*console.CommitDate, recencyDays, now))
	}
	switch {
	case console.CommitSHA != "" && console.Message != "":
		ev.History = fmt.Sprintf("%s %s", console.CommitSHA, firstLine(console.Message))
	case len(cmp.Notes) > 0:
		ev.History = cmp.Notes[0]
	}
	return ev
}

// categorySuggestions maps each failure category onto the verdict a reader
// of the CI log alone would reach. Unknown deliberately has no entry.
var categorySuggestions = map[schemas.FailureCategory]schemas.Classification{
	schemas.CategoryTimeout:         schemas.ClassificationAutomationBug,
	schemas.CategoryElementNotFound: schemas.ClassificationAutomationBug,
	schemas.CategoryDOMDetached:     schemas.ClassificationAutomationBug,
	schemas.CategoryAssertion:       schemas.ClassificationProductBug,
	schemas.CategoryScriptError:     schemas.ClassificationProductBug,
	schemas.CategoryServerError:     schemas.ClassificationProductBug,
	schemas.CategoryNotFound:        schemas.ClassificationProductBug,
	schemas.CategoryNetwork:         schemas.ClassificationInfrastructure,
	schemas.CategoryAuthError:       schemas.ClassificationInfrastructure,
	schemas.CategoryRateLimited:     schemas.ClassificationInfrastructure,
}

// sourceConsistency records what each evidence source would conclude on its
// own. A source with nothing affirmative to say stays nil: in particular a
// merely missing selector suggests nothing, only a dated recent change does.
func sourceConsistency(
	category schemas.FailureCategory,
	env schemas.EnvironmentEvidence,
	sel schemas.SelectorEvidence,
	console schemas.ConsoleEvidence,
) schemas.SourceConsistency {
	var s schemas.SourceConsistency

	if c, ok := categorySuggestions[category]; ok {
		s.Jenkins = &c
	}
	if (env.Healthy != nil && !*env.Healthy) || (env.ClusterAccessible != nil && !*env.ClusterAccessible) {
		c := schemas.ClassificationInfrastructure
		s.Environment = &c
	}
	if sel.RecentlyChanged != nil && *sel.RecentlyChanged {
		c := schemas.ClassificationAutomationBug
		s.Repository = &c
	}
	switch {
	case console.Has500Errors || console.HasAPIErrors:
		c := schemas.ClassificationProductBug
		s.Console = &c
	case console.HasConnectionRefused || console.HasNetworkErrors:
		c := schemas.ClassificationInfrastructure
		s.Console = &c
	}

	s.AgreementScore = classify.Agreement(s)
	if len(s.Suggestions()) >= 2 && s.AgreementScore < 1.0 {
		s.Note = "independent evidence sources point at different verdicts"
	}
	return s
}

// deriveFactors lists the matrix adjustment factors the evidence supports,
// in the order the adjustment table documents them.
func deriveFactors(console schemas.ConsoleEvidence, sel schemas.SelectorEvidence, flaky bool) []classify.Factor {
	var factors []classify.Factor
	if console.Has500Errors {
		factors = append(factors, classify.FactorConsole500)
	}
	if console.HasAPIErrors {
		factors = append(factors, classify.FactorConsoleAPIError)
	}
	if console.HasConnectionRefused {
		factors = append(factors, classify.FactorConnectionRefused)
	}
	if sel.RecentlyChanged != nil && *sel.RecentlyChanged {
		factors = append(factors, classify.FactorSelectorRecentlyChanged)
	}
	if sel.NeverExisted {
		factors = append(factors, classify.FactorSelectorNeverExisted)
	}
	if flaky {
		factors = append(factors, classify.FactorFlakyHistory)
	}
	return factors
}

// historySignal reads the timeline comparison relative to the matrix
// verdict. A stale-test signal backs an automation verdict and undercuts a
// product one; an infrastructure verdict takes nothing from git history.
func historySignal(verdict schemas.Classification, sel schemas.SelectorEvidence, cmp *schemas.TimelineComparison) classify.HistorySignal {
	sig := classify.HistorySignal{
		RecentChange: sel.RecentlyChanged != nil && *sel.RecentlyChanged,
	}
	if cmp == nil {
		return sig
	}
	stale := cmp.StaleTestSignal || cmp.ElementRemovedFromConsole || cmp.ElementNeverExisted
	sig.Supports = stale && verdict == schemas.ClassificationAutomationBug
	sig.Contradicts = stale && verdict == schemas.ClassificationProductBug
	return sig
}

func withinDays(t time.Time, days int, now time.Time) bool {
	return now.Sub(t) <= time.Duration(days)*24*time.Hour
}

func daysSince(t time.Time, now time.Time) int {
	d := int(now.Sub(t).Hours() / 24)
	if d < 0 {
		d = 0
	}
	return d
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func boolRef(b bool) *bool { return &b }

func intRef(i int) *int { return &i }
