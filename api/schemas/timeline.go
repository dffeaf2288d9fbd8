package schemas

import "time"

// -- Timeline Schemas --

// SelectorTimeline records when the automation repository last touched a
// selector. Zero-value fields mean the lookup produced nothing, not that
// the lookup failed.
type SelectorTimeline struct {
	Selector     string     `json:"selector"`
	Found        bool       `json:"found"`
	CommitSHA    string     `json:"commit_sha,omitempty"`
	CommitDate   *time.Time `json:"commit_date,omitempty"`
	Author       string     `json:"author,omitempty"`
	Message      string     `json:"message,omitempty"`
	CommitKind   CommitKind `json:"commit_kind,omitempty"`
	MatchedFiles []string   `json:"matched_files,omitempty"`
}

// ElementTimeline records what the product (console) repository knows about
// the DOM element a selector points at: whether it exists today, when it
// last changed, and whether it was removed or never existed at all.
type ElementTimeline struct {
	ElementID      string     `json:"element_id"`
	ExistsAtHead   bool       `json:"exists_at_head"`
	MatchedPattern string     `json:"matched_pattern,omitempty"` // Attribute pattern that located the element.
	CommitSHA      string     `json:"commit_sha,omitempty"`
	CommitDate     *time.Time `json:"commit_date,omitempty"`
	Author         string     `json:"author,omitempty"`
	Message        string     `json:"message,omitempty"`
	CommitKind     CommitKind `json:"commit_kind,omitempty"`

	// Removed means the element existed once and the dated commit took it
	// out. NeverExisted means history holds no trace of it under any of the
	// probed attribute patterns. The two are mutually exclusive.
	Removed      bool `json:"removed"`
	NeverExisted bool `json:"never_existed"`
}

// TimelineComparison lines up the automation-side and product-side history
// of one selector. It states facts only; classification is the decision
// matrix's job.
type TimelineComparison struct {
	Selector   string            `json:"selector"`
	ElementID  string            `json:"element_id"`
	Automation *SelectorTimeline `json:"automation_timeline,omitempty"`
	Console    *ElementTimeline  `json:"console_timeline,omitempty"`

	// DaysDifference is console commit date minus automation commit date in
	// whole days; nil when either side has no dated commit.
	DaysDifference *int `json:"days_difference,omitempty"`
	// ConsoleChangedAfterAutomation is nil under the same conditions.
	ConsoleChangedAfterAutomation *bool `json:"console_changed_after_automation,omitempty"`

	ElementRemovedFromConsole bool       `json:"element_removed_from_console"`
	ElementNeverExisted       bool       `json:"element_never_existed"`
	ProductCommitKind         CommitKind `json:"product_commit_kind,omitempty"`

	// StaleTestSignal is set when the product side moved after the test
	// side, or removed the element outright: the test is probably chasing
	// an old UI.
	StaleTestSignal bool     `json:"stale_test_signal"`
	Notes           []string `json:"notes,omitempty"`
}

// TimeoutPattern summarizes how much of a build's failure set is timeouts.
// Thresholds: two or more timeouts is a repeated pattern, and half or more
// of all failures being timeouts is a majority pattern.
type TimeoutPattern struct {
	TimeoutCount     int    `json:"timeout_count"`
	TotalFailures    int    `json:"total_failures"`
	MultipleTimeouts bool   `json:"multiple_timeouts"`
	MajorityTimeouts bool   `json:"majority_timeouts"`
	EnvHealthy       *bool  `json:"env_healthy,omitempty"`
	Note             string `json:"note,omitempty"`
}
