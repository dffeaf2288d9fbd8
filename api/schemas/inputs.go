package schemas

import "time"

// -- Analysis Input Schemas --

// BuildInfo identifies the CI build whose failures are being triaged.
type BuildInfo struct {
	JobName     string    `json:"job_name"`
	BuildNumber int       `json:"build_number"`
	Result      string    `json:"result,omitempty"` // Raw CI result string, e.g. "FAILURE".
	Timestamp   time.Time `json:"timestamp"`
	URL         string    `json:"url,omitempty"`
}

// FailedTest is one failing test as reported by the CI system, before any
// analysis. Only Name is required; everything else degrades gracefully.
type FailedTest struct {
	Name         string `json:"name"`
	ClassName    string `json:"class_name,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	StackTrace   string `json:"stack_trace,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`

	// TestFile and TestFileContent let the caller hand over the spec source
	// when it has it; content presence feeds evidence completeness.
	TestFile        string `json:"test_file,omitempty"`
	TestFileContent string `json:"test_file_content,omitempty"`
}

// EnvironmentFacts is the collected cluster-health snapshot. The collector
// that produces it is out of scope here; absent fields stay nil.
type EnvironmentFacts struct {
	Healthy           *bool    `json:"healthy,omitempty"`
	ClusterAccessible *bool    `json:"cluster_accessible,omitempty"`
	UnhealthyNodes    []string `json:"unhealthy_nodes,omitempty"`
	DegradedOperators []string `json:"degraded_operators,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// SelectorLookup is a precomputed repository answer for one selector, for
// callers that already ran their own scans. When present it short-circuits
// the git timeline lookup.
type SelectorLookup struct {
	Selector        string     `json:"selector"`
	Found           bool       `json:"found"`
	LastModified    *time.Time `json:"last_modified,omitempty"`
	RecentlyChanged *bool      `json:"recently_changed,omitempty"`
	NeverExisted    bool       `json:"never_existed,omitempty"`
	History         string     `json:"history,omitempty"`
}

// RepositoryFacts points the pipeline at the two repositories it may mine
// for selector history, and optionally carries precomputed lookups.
type RepositoryFacts struct {
	AutomationRepoPath string `json:"automation_repo_path,omitempty"`
	ConsoleRepoPath    string `json:"console_repo_path,omitempty"`

	// ConsoleURL and ConsoleVersion support cloning the product repo when
	// no local path is given; the version picks the release branch.
	ConsoleURL     string `json:"console_url,omitempty"`
	ConsoleVersion string `json:"console_version,omitempty"`

	SelectorLookups []SelectorLookup `json:"selector_lookups,omitempty"`
}

// Lookup returns the precomputed answer for a selector, if the caller
// supplied one.
func (r RepositoryFacts) Lookup(selector string) *SelectorLookup {
	for i := range r.SelectorLookups {
		if r.SelectorLookups[i].Selector == selector {
			return &r.SelectorLookups[i]
		}
	}
	return nil
}

// ConsoleFacts carries the browser console / network log lines captured
// during the failed run, either inline or as a file reference.
type ConsoleFacts struct {
	LogLines []string `json:"log_lines,omitempty"`
	LogFile  string   `json:"log_file,omitempty"`
}

// AnalysisInput is the complete input contract: everything the pipeline
// consumes arrives in this one document.
type AnalysisInput struct {
	JenkinsURL  string           `json:"jenkins_url,omitempty"`
	Build       BuildInfo        `json:"build_info"`
	FailedTests []FailedTest     `json:"failed_tests"`
	Environment EnvironmentFacts `json:"environment"`
	Repository  RepositoryFacts  `json:"repository"`
	Console     ConsoleFacts     `json:"console"`
}
