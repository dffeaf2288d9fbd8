package schemas

// -- Classification Schemas --

// Classification is the verdict assigned to a failed test. The values are
// uppercase to match the triage vocabulary used in build reports and dashboards.
type Classification string

// Constants defining the three possible verdicts for a failure.
const (
	ClassificationProductBug     Classification = "PRODUCT_BUG"    // The product under test regressed.
	ClassificationAutomationBug  Classification = "AUTOMATION_BUG" // The test automation is stale, racy, or wrong.
	ClassificationInfrastructure Classification = "INFRASTRUCTURE" // The cluster, network, or CI environment failed.
)

// FailureCategory is the mechanical shape of a failure, derived from the error
// message and stack trace before any classification happens.
type FailureCategory string

// Constants for the recognized failure categories. The categorizer emits these;
// the decision matrix carries a weight row for every one of them.
const (
	CategoryTimeout         FailureCategory = "timeout"
	CategoryElementNotFound FailureCategory = "element_not_found"
	CategoryDOMDetached     FailureCategory = "dom_detached"
	CategoryAssertion       FailureCategory = "assertion"
	CategoryScriptError     FailureCategory = "script_error"
	CategoryNetwork         FailureCategory = "network"
	CategoryServerError     FailureCategory = "server_error"
	CategoryAuthError       FailureCategory = "auth_error"
	CategoryNotFound        FailureCategory = "not_found"
	CategoryRateLimited     FailureCategory = "rate_limited"
	CategoryUnknown         FailureCategory = "unknown"
)

// AllFailureCategories lists every category the decision matrix must cover.
// Kept in one place so table-completeness checks and the categorizer agree.
var AllFailureCategories = []FailureCategory{
	CategoryTimeout,
	CategoryElementNotFound,
	CategoryDOMDetached,
	CategoryAssertion,
	CategoryScriptError,
	CategoryNetwork,
	CategoryServerError,
	CategoryAuthError,
	CategoryNotFound,
	CategoryRateLimited,
	CategoryUnknown,
}

// ConfidenceLevel buckets a numeric confidence into a coarse label for
// reviewers who do not want to reason about floats.
type ConfidenceLevel string

// Constants for the confidence buckets, highest to lowest.
const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceVeryLow ConfidenceLevel = "VERY_LOW"
)

// CommitKind describes the intent of a product commit, inferred from its
// message. Used when deciding whether a UI change was deliberate.
type CommitKind string

// Constants for commit intent, matched from Conventional-Commits style prefixes.
const (
	CommitFixOrRevert       CommitKind = "fix_or_revert"      // fix, revert, hotfix, bugfix
	CommitIntentionalChange CommitKind = "intentional_change" // feat, refactor, chore, and friends
	CommitAmbiguous         CommitKind = "ambiguous"          // No recognizable prefix.
)

// ClassificationScores holds the relative weight of each verdict. A freshly
// built instance is normalized so the three weights sum to 1.0; an all-zero
// instance stays zero rather than being forced into a distribution.
type ClassificationScores struct {
	ProductBug     float64 `json:"product_bug"`
	AutomationBug  float64 `json:"automation_bug"`
	Infrastructure float64 `json:"infrastructure"`
}

// NewClassificationScores clamps negative weights to zero and normalizes the
// triple to sum to 1.0. An all-zero input is returned unchanged.
func NewClassificationScores(productBug, automationBug, infrastructure float64) ClassificationScores {
	s := ClassificationScores{
		ProductBug:     max(productBug, 0),
		AutomationBug:  max(automationBug, 0),
		Infrastructure: max(infrastructure, 0),
	}
	s.normalize()
	return s
}

func (s *ClassificationScores) normalize() {
	total := s.ProductBug + s.AutomationBug + s.Infrastructure
	if total <= 0 {
		return
	}
	s.ProductBug /= total
	s.AutomationBug /= total
	s.Infrastructure /= total
}

// Primary returns the verdict with the highest weight. Ties resolve in favor
// of PRODUCT_BUG, then AUTOMATION_BUG, so equal evidence errs toward the
// verdict a human would want to look at first.
func (s ClassificationScores) Primary() Classification {
	if s.ProductBug >= s.AutomationBug && s.ProductBug >= s.Infrastructure {
		return ClassificationProductBug
	}
	if s.AutomationBug >= s.Infrastructure {
		return ClassificationAutomationBug
	}
	return ClassificationInfrastructure
}

// Score returns the weight currently assigned to the given verdict.
func (s ClassificationScores) Score(c Classification) float64 {
	switch c {
	case ClassificationProductBug:
		return s.ProductBug
	case ClassificationAutomationBug:
		return s.AutomationBug
	case ClassificationInfrastructure:
		return s.Infrastructure
	}
	return 0
}

// Separation measures how decisively the top verdict beats the runner-up,
// as (top - second) / top. It is 0 for a dead heat and approaches 1 when a
// single verdict dominates. An all-zero score set has no separation.
func (s ClassificationScores) Separation() float64 {
	top, second := 0.0, 0.0
	for _, v := range [3]float64{s.ProductBug, s.AutomationBug, s.Infrastructure} {
		switch {
		case v > top:
			second = top
			top = v
		case v > second:
			second = v
		}
	}
	if top <= 0 {
		return 0
	}
	return (top - second) / top
}

// ClassificationResult is the decision matrix output for one failure: the
// normalized scores, the winning verdict, a bounded confidence, and a
// human-readable explanation of how the weights were arrived at.
type ClassificationResult struct {
	Scores         ClassificationScores `json:"scores"`
	Classification Classification       `json:"classification"`
	Confidence     float64              `json:"confidence"`
	Reasoning      string               `json:"reasoning"`

	// FactorsApplied lists the adjustment-table factors that contributed,
	// in the order they were applied.
	FactorsApplied []string `json:"factors_applied,omitempty"`
}
