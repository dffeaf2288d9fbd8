package schemas_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"verdict/api/schemas"
)

// -- Test Helpers --

// getTestTime provides a fixed, reproducible timestamp for consistent test results.
func getTestTime(t *testing.T) time.Time {
	// UTC with no sub-second noise keeps DeepEqual comparisons stable after a
	// JSON round trip.
	ts, err := time.Parse(time.RFC3339, "2026-08-11T10:00:00Z")
	require.NoError(t, err, "Test setup failed: unable to parse fixed timestamp")
	return ts
}

func boolPtr(b bool) *bool { return &b }

func classPtr(c schemas.Classification) *schemas.Classification { return &c }
