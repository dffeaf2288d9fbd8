package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"verdict/api/schemas"
)

// TestStructJSONTags uses reflection to verify that the `json` tags on struct
// fields are correct. Downstream dashboards key on these names, so this is
// critical for ensuring contract stability.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "ClassificationScores",
			structRef: schemas.ClassificationScores{},
			expectedTags: map[string]string{
				"ProductBug":     "product_bug",
				"AutomationBug":  "automation_bug",
				"Infrastructure": "infrastructure",
			},
		},
		{
			name:      "StackFrame",
			structRef: schemas.StackFrame{},
			expectedTags: map[string]string{
				"Function":        "function,omitempty",
				"File":            "file",
				"Line":            "line",
				"Column":          "column,omitempty",
				"Raw":             "raw",
				"IsTestFile":      "is_test_file",
				"IsSupportFile":   "is_support_file",
				"IsFrameworkFile": "is_framework_file",
			},
		},
		{
			name:      "EvidenceCompleteness",
			structRef: schemas.EvidenceCompleteness{},
			expectedTags: map[string]string{
				"HasStackTrace":         "has_stack_trace",
				"HasParsedFrames":       "has_parsed_frames",
				"HasRootCauseFile":      "has_root_cause_file",
				"HasEnvironmentStatus":  "has_environment_status",
				"HasRepositoryAnalysis": "has_repository_analysis",
				"HasSelectorLookup":     "has_selector_lookup",
				"HasGitHistory":         "has_git_history",
				"HasConsoleErrors":      "has_console_errors",
				"HasTestFileContent":    "has_test_file_content",
			},
		},
		{
			name:      "ValidationResult",
			structRef: schemas.ValidationResult{},
			expectedTags: map[string]string{
				"Rule":                 "rule",
				"Action":               "action",
				"OriginalClass":        "original_classification",
				"SuggestedClass":       "suggested_classification,omitempty",
				"ConfidenceAdjustment": "confidence_adjustment",
				"Reason":               "reason",
				"Note":                 "note,omitempty",
			},
		},
		{
			name:      "CrossValidationReport",
			structRef: schemas.CrossValidationReport{},
			expectedTags: map[string]string{
				"Results":             "results,omitempty",
				"FinalClassification": "final_classification",
				"FinalConfidence":     "final_confidence",
				"WasCorrected":        "was_corrected",
				"NeedsReview":         "needs_review",
				"Summary":             "summary,omitempty",
			},
		},
		{
			name:      "BuildInfo",
			structRef: schemas.BuildInfo{},
			expectedTags: map[string]string{
				"JobName":     "job_name",
				"BuildNumber": "build_number",
				"Result":      "result,omitempty",
				"Timestamp":   "timestamp",
				"URL":         "url,omitempty",
			},
		},
		{
			name:      "FailedTest",
			structRef: schemas.FailedTest{},
			expectedTags: map[string]string{
				"Name":            "name",
				"ClassName":       "class_name,omitempty",
				"ErrorMessage":    "error_message,omitempty",
				"StackTrace":      "stack_trace,omitempty",
				"DurationMS":      "duration_ms,omitempty",
				"TestFile":        "test_file,omitempty",
				"TestFileContent": "test_file_content,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			actualTags := make(map[string]string)

			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				jsonTag := field.Tag.Get("json")
				if jsonTag != "" {
					actualTags[field.Name] = jsonTag
				}
			}

			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}
