package schemas

import "strconv"

// -- Stack Trace Schemas --

// StackFrame is one parsed frame from a JavaScript or Cypress stack trace.
// Paths are normalized (webpack prefixes stripped, forward slashes) so the
// same source location always produces the same frame.
type StackFrame struct {
	Function string `json:"function,omitempty"` // Function name, empty for anonymous frames.
	File     string `json:"file"`               // Normalized, repo-relative path.
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Raw      string `json:"raw"` // The original trace line, for display.

	// IsTestFile marks spec files (cypress/e2e, *.spec.*, *.cy.*).
	IsTestFile bool `json:"is_test_file"`
	// IsSupportFile marks shared helpers and page objects (cypress/support,
	// cypress/views, page objects). These are the usual root cause of
	// selector breakage.
	IsSupportFile bool `json:"is_support_file"`
	// IsFrameworkFile marks runner and vendor frames (node_modules,
	// cypress_runner) that are never the root cause.
	IsFrameworkFile bool `json:"is_framework_file"`
}

// Location renders the frame as file:line for logs and dedup keys.
func (f StackFrame) Location() string {
	if f.File == "" {
		return ""
	}
	return f.File + ":" + strconv.Itoa(f.Line)
}

// ParsedStackTrace is the structured form of one failure's stack trace.
type ParsedStackTrace struct {
	ErrorType    string       `json:"error_type"`    // e.g. "AssertionError"; "Unknown" when unparseable.
	ErrorMessage string       `json:"error_message"` // First line of the error, without the type prefix.
	Frames       []StackFrame `json:"frames"`

	// RootCause is the frame most likely to contain the defect: the first
	// support-file frame when one exists, otherwise the first application
	// frame, otherwise the first frame. Nil when no frames parsed.
	RootCause *StackFrame `json:"root_cause,omitempty"`
	// TestFileFrame is the first frame inside a spec file, if any.
	TestFileFrame *StackFrame `json:"test_file_frame,omitempty"`
	// SupportFileFrame is the first frame inside a support or page-object
	// file, if any.
	SupportFileFrame *StackFrame `json:"support_file_frame,omitempty"`

	// FailingSelector is the CSS selector the failure complains about,
	// empty when none could be extracted.
	FailingSelector string `json:"failing_selector,omitempty"`
}

// HasFrames reports whether any frame survived parsing and dedup.
func (p *ParsedStackTrace) HasFrames() bool {
	return p != nil && len(p.Frames) > 0
}
