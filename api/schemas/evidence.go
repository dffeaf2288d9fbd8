package schemas

import "time"

// -- Evidence Schemas --

// EnvironmentEvidence is what the pipeline knows about the target cluster at
// the time of the failure. Nil booleans mean the health data never arrived,
// which is itself a fact the confidence calculation uses.
type EnvironmentEvidence struct {
	Healthy           *bool    `json:"healthy,omitempty"`
	ClusterAccessible *bool    `json:"cluster_accessible,omitempty"`
	UnhealthyNodes    []string `json:"unhealthy_nodes,omitempty"`
	DegradedOperators []string `json:"degraded_operators,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// IsHealthy treats missing health data as healthy, the optimistic default
// the decision matrix expects; callers that care about the distinction read
// the pointer directly.
func (e EnvironmentEvidence) IsHealthy() bool {
	return e.Healthy == nil || *e.Healthy
}

// IsAccessible is the same optimistic read for cluster reachability.
func (e EnvironmentEvidence) IsAccessible() bool {
	return e.ClusterAccessible == nil || *e.ClusterAccessible
}

// SelectorEvidence summarizes what the repositories say about the failing
// selector. Found is nil when no selector was extracted, so no lookup ran.
type SelectorEvidence struct {
	Selector string `json:"selector,omitempty"`
	// Found reports whether the selector (or its element) exists in the
	// product source at HEAD.
	Found *bool `json:"found,omitempty"`
	// RecentlyChanged reports whether the selector's last modification falls
	// inside the recency window (30 days by default). Nil when no dated
	// history was available.
	RecentlyChanged *bool      `json:"recently_changed,omitempty"`
	LastModified    *time.Time `json:"last_modified,omitempty"`
	DaysAgo         *int       `json:"days_ago,omitempty"`
	NeverExisted    bool       `json:"never_existed"`
	History         string     `json:"history,omitempty"` // One-line summary of the relevant commit.
}

// ConsoleEvidence holds the error markers scanned out of browser console and
// network logs. Booleans, not counts: one 500 is as loud as fifty.
type ConsoleEvidence struct {
	Has500Errors         bool `json:"has_500_errors"`
	HasAPIErrors         bool `json:"has_api_errors"`
	HasNetworkErrors     bool `json:"has_network_errors"`
	HasTimeoutErrors     bool `json:"has_timeout_errors"`
	HasConnectionRefused bool `json:"has_connection_refused"`

	// SampledLines keeps a few matching lines as proof; never the whole log.
	SampledLines []string `json:"sampled_lines,omitempty"`
}

// HasAny reports whether any marker fired at all.
func (c ConsoleEvidence) HasAny() bool {
	return c.Has500Errors || c.HasAPIErrors || c.HasNetworkErrors ||
		c.HasTimeoutErrors || c.HasConnectionRefused
}

// EvidenceCompleteness tracks which evidence streams were actually present
// for a test. The fraction of set flags feeds the confidence calculation:
// a verdict built on two of nine streams should not score like one built
// on nine.
type EvidenceCompleteness struct {
	HasStackTrace         bool `json:"has_stack_trace"`
	HasParsedFrames       bool `json:"has_parsed_frames"`
	HasRootCauseFile      bool `json:"has_root_cause_file"`
	HasEnvironmentStatus  bool `json:"has_environment_status"`
	HasRepositoryAnalysis bool `json:"has_repository_analysis"`
	HasSelectorLookup     bool `json:"has_selector_lookup"`
	HasGitHistory         bool `json:"has_git_history"`
	HasConsoleErrors      bool `json:"has_console_errors"`
	HasTestFileContent    bool `json:"has_test_file_content"`
}

// Score returns the fraction of evidence streams present, in [0, 1].
func (e EvidenceCompleteness) Score() float64 {
	flags := [9]bool{
		e.HasStackTrace,
		e.HasParsedFrames,
		e.HasRootCauseFile,
		e.HasEnvironmentStatus,
		e.HasRepositoryAnalysis,
		e.HasSelectorLookup,
		e.HasGitHistory,
		e.HasConsoleErrors,
		e.HasTestFileContent,
	}
	set := 0
	for _, f := range flags {
		if f {
			set++
		}
	}
	return float64(set) / float64(len(flags))
}

// SourceConsistency records what each independent evidence source would
// suggest on its own. Nil means the source had no opinion. Agreement among
// the non-nil suggestions feeds the confidence calculation.
type SourceConsistency struct {
	Jenkins     *Classification `json:"jenkins,omitempty"`
	Environment *Classification `json:"environment,omitempty"`
	Repository  *Classification `json:"repository,omitempty"`
	Console     *Classification `json:"console,omitempty"`

	// AgreementScore is the fraction of non-nil sources that agree with the
	// majority suggestion; 0.5 when fewer than two sources spoke.
	AgreementScore float64 `json:"agreement_score"`
	Note           string  `json:"note,omitempty"`
}

// Suggestions returns the non-nil per-source suggestions in a fixed order.
func (s SourceConsistency) Suggestions() []Classification {
	out := make([]Classification, 0, 4)
	for _, c := range []*Classification{s.Jenkins, s.Environment, s.Repository, s.Console} {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// ConfidenceBreakdown shows how the final confidence was assembled from the
// five weighted factors, so a reviewer can see which leg was weak.
type ConfidenceBreakdown struct {
	Separation        float64 `json:"separation"`
	Completeness      float64 `json:"completeness"`
	Consistency       float64 `json:"consistency"`
	SelectorCertainty float64 `json:"selector_certainty"`
	History           float64 `json:"history"`

	Final    float64         `json:"final"`
	Level    ConfidenceLevel `json:"level"`
	Warnings []string        `json:"warnings,omitempty"`
}

// ValidationAction is what a cross-reference rule decided to do with the
// classification it was handed.
type ValidationAction string

// Constants for the validator's possible actions.
const (
	ActionCorrect    ValidationAction = "CORRECT"     // Override the classification.
	ActionFlagReview ValidationAction = "FLAG_REVIEW" // Keep it, but a human should look.
	ActionBoost      ValidationAction = "BOOST"       // Independent evidence agrees; raise confidence.
	ActionReduce     ValidationAction = "REDUCE"      // Independent evidence disagrees mildly; lower confidence.
	ActionNote       ValidationAction = "NOTE"        // Informational only, no adjustment.
)

// ValidationResult is one rule's verdict on the classification.
type ValidationResult struct {
	Rule                 string           `json:"rule"`
	Action               ValidationAction `json:"action"`
	OriginalClass        Classification   `json:"original_classification"`
	SuggestedClass       *Classification  `json:"suggested_classification,omitempty"`
	ConfidenceAdjustment float64          `json:"confidence_adjustment"`
	Reason               string           `json:"reason"`
	Note                 string           `json:"note,omitempty"`
}

// CrossValidationReport aggregates every rule that fired. The strongest
// correction wins the final classification; every adjustment, winning or
// not, is summed into the final confidence.
type CrossValidationReport struct {
	Results             []ValidationResult `json:"results,omitempty"`
	FinalClassification Classification     `json:"final_classification"`
	FinalConfidence     float64            `json:"final_confidence"`
	WasCorrected        bool               `json:"was_corrected"`
	NeedsReview         bool               `json:"needs_review"`
	Summary             string             `json:"summary,omitempty"`
}

// TestFailureEvidencePackage is the complete, self-contained triage record
// for one failed test: every piece of gathered evidence, each intermediate
// judgment, and the final verdict with its confidence.
type TestFailureEvidencePackage struct {
	TestName        string          `json:"test_name"`
	ClassName       string          `json:"class_name,omitempty"`
	FailureCategory FailureCategory `json:"failure_category"`

	StackTrace  *ParsedStackTrace    `json:"stack_trace,omitempty"`
	Selector    SelectorEvidence     `json:"selector_evidence"`
	Environment EnvironmentEvidence  `json:"environment_evidence"`
	Console     ConsoleEvidence      `json:"console_evidence"`
	Timeline    *TimelineComparison  `json:"timeline,omitempty"`
	Components  []ExtractedComponent `json:"components,omitempty"`

	MatrixResult ClassificationResult  `json:"matrix_result"`
	Completeness EvidenceCompleteness  `json:"completeness"`
	Consistency  SourceConsistency     `json:"consistency"`
	Confidence   ConfidenceBreakdown   `json:"confidence_breakdown"`
	Validation   CrossValidationReport `json:"validation"`

	// The fields below repeat the validator's final word at the top level so
	// consumers do not have to dig.
	Classification  Classification  `json:"classification"`
	FinalConfidence float64         `json:"final_confidence"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	Reasoning       string          `json:"reasoning"`
	NeedsReview     bool            `json:"needs_review"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// EvidencePackage is the build-level output: one entry per failed test plus
// the aggregate verdict for the build.
type EvidencePackage struct {
	RunID       string    `json:"run_id"`
	JenkinsURL  string    `json:"jenkins_url,omitempty"`
	Build       BuildInfo `json:"build"`
	GeneratedAt time.Time `json:"generated_at"`

	Tests []*TestFailureEvidencePackage `json:"tests"`

	// Totals counts tests per final classification.
	Totals map[Classification]int `json:"totals"`

	// OverallClassification is the most common per-test verdict;
	// OverallConfidence averages confidence over the tests that share it.
	// Both stay empty when the build had no failed tests to classify.
	OverallClassification Classification `json:"overall_classification,omitempty"`
	OverallConfidence     float64        `json:"overall_confidence,omitempty"`

	Impact         *ImpactAnalysis `json:"impact,omitempty"`
	TimeoutPattern *TimeoutPattern `json:"timeout_pattern,omitempty"`
	// NeedsReview lists the test names whose verdicts want human eyes.
	NeedsReview []string `json:"needs_review,omitempty"`
}
