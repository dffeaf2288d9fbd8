// Package classify turns categorized failure evidence into a verdict.
//
// The decision core is declarative: a base weight table keyed by failure
// category, environment health, and selector presence, plus an additive
// adjustment table for evidence-derived factors. The cross-reference
// validator then audits the verdict against evidence the matrix never saw.
package classify

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"verdict/api/schemas"
)

// Factor names an evidence-derived adjustment the matrix understands.
// The evidence builder derives these from console, selector, and history
// facts; unknown factor names are ignored.
type Factor string

// Adjustment factors, in the order the builder derives them.
const (
	FactorConsole500              Factor = "console_500_error"
	FactorConsoleAPIError         Factor = "console_api_error"
	FactorConnectionRefused       Factor = "console_connection_refused"
	FactorSelectorRecentlyChanged Factor = "selector_recently_changed"
	FactorSelectorNeverExisted    Factor = "selector_never_existed"
	FactorFlakyHistory            Factor = "flaky_test_history"
)

// weights orders verdict mass as (product, automation, infrastructure).
type weights [3]float64

type matrixKey struct {
	category      schemas.FailureCategory
	envHealthy    bool
	selectorFound bool
}

// baseWeights carries one row per (category, env, selector) combination.
// Every row sums to 1.0; the table test enforces both completeness and the
// sum so a hand edit cannot silently skew a category.
var baseWeights = map[matrixKey]weights{
	// Timeouts against a healthy product are usually the automation waiting
	// on something that moved; against an unhealthy cluster they are noise.
	{schemas.CategoryTimeout, true, true}:   {0.20, 0.70, 0.10},
	{schemas.CategoryTimeout, true, false}:  {0.35, 0.50, 0.15},
	{schemas.CategoryTimeout, false, true}:  {0.10, 0.25, 0.65},
	{schemas.CategoryTimeout, false, false}: {0.15, 0.20, 0.65},

	{schemas.CategoryElementNotFound, true, true}:   {0.30, 0.55, 0.15},
	{schemas.CategoryElementNotFound, true, false}:  {0.40, 0.45, 0.15},
	{schemas.CategoryElementNotFound, false, true}:  {0.15, 0.30, 0.55},
	{schemas.CategoryElementNotFound, false, false}: {0.20, 0.25, 0.55},

	{schemas.CategoryDOMDetached, true, true}:   {0.25, 0.65, 0.10},
	{schemas.CategoryDOMDetached, true, false}:  {0.30, 0.55, 0.15},
	{schemas.CategoryDOMDetached, false, true}:  {0.10, 0.35, 0.55},
	{schemas.CategoryDOMDetached, false, false}: {0.15, 0.30, 0.55},

	{schemas.CategoryAssertion, true, true}:   {0.55, 0.35, 0.10},
	{schemas.CategoryAssertion, true, false}:  {0.50, 0.40, 0.10},
	{schemas.CategoryAssertion, false, true}:  {0.30, 0.25, 0.45},
	{schemas.CategoryAssertion, false, false}: {0.30, 0.25, 0.45},

	{schemas.CategoryScriptError, true, true}:   {0.70, 0.20, 0.10},
	{schemas.CategoryScriptError, true, false}:  {0.65, 0.20, 0.15},
	{schemas.CategoryScriptError, false, true}:  {0.40, 0.15, 0.45},
	{schemas.CategoryScriptError, false, false}: {0.35, 0.15, 0.50},

	// Network failures in an unhealthy environment are infrastructure until
	// the cluster recovers.
	{schemas.CategoryNetwork, true, true}:   {0.45, 0.20, 0.35},
	{schemas.CategoryNetwork, true, false}:  {0.40, 0.20, 0.40},
	{schemas.CategoryNetwork, false, true}:  {0.10, 0.05, 0.85},
	{schemas.CategoryNetwork, false, false}: {0.10, 0.05, 0.85},

	{schemas.CategoryServerError, true, true}:   {0.90, 0.05, 0.05},
	{schemas.CategoryServerError, true, false}:  {0.85, 0.05, 0.10},
	{schemas.CategoryServerError, false, true}:  {0.60, 0.05, 0.35},
	{schemas.CategoryServerError, false, false}: {0.55, 0.05, 0.40},

	{schemas.CategoryAuthError, true, true}:   {0.55, 0.25, 0.20},
	{schemas.CategoryAuthError, true, false}:  {0.50, 0.25, 0.25},
	{schemas.CategoryAuthError, false, true}:  {0.20, 0.10, 0.70},
	{schemas.CategoryAuthError, false, false}: {0.20, 0.10, 0.70},

	{schemas.CategoryNotFound, true, true}:   {0.65, 0.20, 0.15},
	{schemas.CategoryNotFound, true, false}:  {0.60, 0.25, 0.15},
	{schemas.CategoryNotFound, false, true}:  {0.25, 0.10, 0.65},
	{schemas.CategoryNotFound, false, false}: {0.25, 0.10, 0.65},

	{schemas.CategoryRateLimited, true, true}:   {0.30, 0.30, 0.40},
	{schemas.CategoryRateLimited, true, false}:  {0.30, 0.25, 0.45},
	{schemas.CategoryRateLimited, false, true}:  {0.10, 0.10, 0.80},
	{schemas.CategoryRateLimited, false, false}: {0.10, 0.10, 0.80},

	{schemas.CategoryUnknown, true, true}:   {0.40, 0.40, 0.20},
	{schemas.CategoryUnknown, true, false}:  {0.35, 0.40, 0.25},
	{schemas.CategoryUnknown, false, true}:  {0.20, 0.20, 0.60},
	{schemas.CategoryUnknown, false, false}: {0.20, 0.20, 0.60},
}

// factorDeltas shifts verdict mass when independent evidence fired. The
// deltas are additive against the base row; the result is re-normalized.
var factorDeltas = map[Factor]weights{
	FactorConsole500:              {+0.20, -0.10, -0.10},
	FactorConsoleAPIError:         {+0.10, -0.05, -0.05},
	FactorConnectionRefused:       {-0.10, -0.05, +0.15},
	FactorSelectorRecentlyChanged: {-0.05, +0.15, -0.10},
	FactorSelectorNeverExisted:    {0.00, +0.10, -0.05},
	FactorFlakyHistory:            {-0.10, +0.20, -0.10},
}

// Matrix resolves a failure category plus environment and selector facts
// into weighted verdict scores. It is pure data plus arithmetic and never
// returns an error: unknown categories fall back to the unknown row and,
// failing that, to a flat distribution.
type Matrix struct {
	log *zap.Logger
}

// NewMatrix returns a Matrix logging under classify.matrix.
func NewMatrix(log *zap.Logger) *Matrix {
	return &Matrix{log: log.Named("classify.matrix")}
}

// Classify looks up the base weights for the failure, applies any supplied
// adjustment factors, and returns the normalized scores with the winning
// verdict, a bounded confidence, and composed reasoning.
func (m *Matrix) Classify(category schemas.FailureCategory, envHealthy, selectorFound bool, factors []Factor) schemas.ClassificationResult {
	base, ok := baseWeights[matrixKey{category, envHealthy, selectorFound}]
	if !ok {
		base, ok = baseWeights[matrixKey{schemas.CategoryUnknown, envHealthy, selectorFound}]
	}
	if !ok {
		base = weights{0.33, 0.34, 0.33}
	}

	w := base
	applied := make([]string, 0, len(factors))
	for _, f := range factors {
		delta, known := factorDeltas[f]
		if !known {
			m.log.Debug("ignoring unknown adjustment factor", zap.String("factor", string(f)))
			continue
		}
		for i := range w {
			w[i] += delta[i]
		}
		applied = append(applied, string(f))
	}

	scores := schemas.NewClassificationScores(w[0], w[1], w[2])
	verdict := scores.Primary()

	confidence := 0.5 + 0.4*scores.Separation()
	if verdict != schemas.ClassificationInfrastructure && !envHealthy {
		confidence *= 0.85
	}
	if verdict == schemas.ClassificationAutomationBug && !selectorFound {
		confidence *= 0.90
	}
	confidence = clamp(confidence, 0.30, 0.95)

	return schemas.ClassificationResult{
		Scores:         scores,
		Classification: verdict,
		Confidence:     confidence,
		Reasoning:      buildReasoning(verdict, category, envHealthy, selectorFound, scores, applied),
		FactorsApplied: applied,
	}
}

type reasonKey struct {
	class    schemas.Classification
	category schemas.FailureCategory
}

// reasonLeads carries hand-written lead sentences for the pairings that
// come up constantly in triage; everything else composes a lead from the
// category and verdict phrases below.
var reasonLeads = map[reasonKey]string{
	{schemas.ClassificationAutomationBug, schemas.CategoryTimeout}:      "The test timed out while the product and environment look intact, which usually means the automation is waiting on something that changed.",
	{schemas.ClassificationAutomationBug, schemas.CategoryDOMDetached}:  "The element detached mid-interaction, the signature of automation racing a re-render rather than a product fault.",
	{schemas.ClassificationProductBug, schemas.CategoryServerError}:     "Server-side 5xx responses point at the product regardless of what the automation was doing.",
	{schemas.ClassificationProductBug, schemas.CategoryScriptError}:     "An uncaught application exception is product code failing on its own, not the automation misreading it.",
	{schemas.ClassificationProductBug, schemas.CategoryAssertion}:       "An assertion about product behavior failed while the test machinery itself ran cleanly.",
	{schemas.ClassificationInfrastructure, schemas.CategoryNetwork}:     "Network failures against an unhealthy environment are an infrastructure problem until the cluster recovers.",
	{schemas.ClassificationInfrastructure, schemas.CategoryRateLimited}: "Request throttling is an environment capacity signal, not a defect in the product or the test.",
}

var categoryPhrases = map[schemas.FailureCategory]string{
	schemas.CategoryTimeout:         "the test timed out waiting on the UI",
	schemas.CategoryElementNotFound: "the expected element never appeared",
	schemas.CategoryDOMDetached:     "the element detached from the DOM mid-interaction",
	schemas.CategoryAssertion:       "an assertion about product behavior failed",
	schemas.CategoryScriptError:     "the application threw an uncaught script error",
	schemas.CategoryNetwork:         "a network request failed",
	schemas.CategoryServerError:     "the server answered with a 5xx error",
	schemas.CategoryAuthError:       "a request was rejected as unauthorized",
	schemas.CategoryNotFound:        "the server answered 404 for a required resource",
	schemas.CategoryRateLimited:     "the server throttled requests",
	schemas.CategoryUnknown:         "the failure did not match any known pattern",
}

var verdictPhrases = map[schemas.Classification]string{
	schemas.ClassificationProductBug:     "the weight of evidence points at a product regression",
	schemas.ClassificationAutomationBug:  "the weight of evidence points at stale or broken automation",
	schemas.ClassificationInfrastructure: "the weight of evidence points at the environment rather than the code",
}

func buildReasoning(verdict schemas.Classification, category schemas.FailureCategory, envHealthy, selectorFound bool, scores schemas.ClassificationScores, applied []string) string {
	parts := make([]string, 0, 5)

	if lead, ok := reasonLeads[reasonKey{verdict, category}]; ok {
		parts = append(parts, lead)
	} else {
		phrase, ok := categoryPhrases[category]
		if !ok {
			phrase = categoryPhrases[schemas.CategoryUnknown]
		}
		parts = append(parts, fmt.Sprintf("Categorized as %s: %s; %s.", category, phrase, verdictPhrases[verdict]))
	}

	if envHealthy {
		parts = append(parts, "Environment checks were clean at failure time.")
	} else {
		parts = append(parts, "Environment checks reported problems at failure time.")
	}
	if selectorFound {
		parts = append(parts, "The failing selector exists in the product source.")
	} else {
		parts = append(parts, "The failing selector was not found in the product source at HEAD.")
	}

	if len(applied) > 0 {
		parts = append(parts, fmt.Sprintf("Adjustments applied: %s.", strings.Join(applied, ", ")))
	}
	parts = append(parts, fmt.Sprintf("Final weights: product %.2f, automation %.2f, infrastructure %.2f.",
		scores.ProductBug, scores.AutomationBug, scores.Infrastructure))

	return strings.Join(parts, " ")
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
