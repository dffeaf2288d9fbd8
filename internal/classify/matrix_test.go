package classify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"verdict/api/schemas"
)

func newTestMatrix(t *testing.T) *Matrix {
	t.Helper()
	return NewMatrix(zaptest.NewLogger(t))
}

func TestBaseTableCoversEveryCategory(t *testing.T) {
	t.Parallel()
	for _, category := range schemas.AllFailureCategories {
		for _, envHealthy := range []bool{true, false} {
			for _, selectorFound := range []bool{true, false} {
				key := matrixKey{category, envHealthy, selectorFound}
				row, ok := baseWeights[key]
				require.True(t, ok, "missing row for %+v", key)

				sum := row[0] + row[1] + row[2]
				assert.InDelta(t, 1.0, sum, 1e-9, "row %+v sums to %v", key, sum)
				for _, w := range row {
					assert.GreaterOrEqual(t, w, 0.0, "row %+v has a negative weight", key)
				}
			}
		}
	}
	assert.Len(t, baseWeights, len(schemas.AllFailureCategories)*4)
}

func TestClassifyTimeoutHealthyEnvironment(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	got := m.Classify(schemas.CategoryTimeout, true, true, nil)

	assert.Equal(t, schemas.ClassificationAutomationBug, got.Classification)
	assert.InDelta(t, 0.20, got.Scores.ProductBug, 1e-9)
	assert.InDelta(t, 0.70, got.Scores.AutomationBug, 1e-9)
	assert.InDelta(t, 0.10, got.Scores.Infrastructure, 1e-9)

	// separation (0.70-0.20)/0.70 lifts confidence to 0.5 + 0.4*0.714.
	assert.InDelta(t, 0.786, got.Confidence, 1e-3)
	assert.Contains(t, got.Reasoning, "timed out")
	assert.Contains(t, got.Reasoning, "Final weights")
	assert.Empty(t, got.FactorsApplied)
}

func TestClassifyServerErrorIsProductBug(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	got := m.Classify(schemas.CategoryServerError, true, true, nil)

	assert.Equal(t, schemas.ClassificationProductBug, got.Classification)
	assert.InDelta(t, 0.90, got.Scores.ProductBug, 1e-9)
	assert.InDelta(t, 0.878, got.Confidence, 1e-3)
	assert.Contains(t, got.Reasoning, "5xx")
}

func TestClassifyNetworkUnhealthyEnvironment(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	got := m.Classify(schemas.CategoryNetwork, false, true, nil)

	assert.Equal(t, schemas.ClassificationInfrastructure, got.Classification)
	assert.InDelta(t, 0.85, got.Scores.Infrastructure, 1e-9)
	// No unhealthy-environment penalty applies when the verdict itself is
	// infrastructure.
	assert.InDelta(t, 0.853, got.Confidence, 1e-3)
	assert.Contains(t, got.Reasoning, "Environment checks reported problems")
}

func TestClassifyConsole500FlipsElementNotFound(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	plain := m.Classify(schemas.CategoryElementNotFound, true, true, nil)
	require.Equal(t, schemas.ClassificationAutomationBug, plain.Classification)

	flipped := m.Classify(schemas.CategoryElementNotFound, true, true, []Factor{FactorConsole500})

	assert.Equal(t, schemas.ClassificationProductBug, flipped.Classification)
	assert.Equal(t, []string{"console_500_error"}, flipped.FactorsApplied)
	assert.Contains(t, flipped.Reasoning, "console_500_error")
}

func TestClassifyClampsNegativeWeights(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	// network/(unhealthy,found) starts at 0.10 product; the two automation
	// factors drive it below zero before the clamp.
	got := m.Classify(schemas.CategoryNetwork, false, true, []Factor{
		FactorSelectorRecentlyChanged,
		FactorFlakyHistory,
	})

	assert.Zero(t, got.Scores.ProductBug)
	sum := got.Scores.ProductBug + got.Scores.AutomationBug + got.Scores.Infrastructure
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, schemas.ClassificationInfrastructure, got.Classification)
}

func TestClassifyIgnoresUnknownFactor(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	got := m.Classify(schemas.CategoryTimeout, true, true, []Factor{"phase_of_the_moon"})

	assert.Empty(t, got.FactorsApplied)
	assert.InDelta(t, 0.70, got.Scores.AutomationBug, 1e-9)
}

func TestClassifyUnknownCategoryFallsBack(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	got := m.Classify(schemas.FailureCategory("martian"), true, true, nil)

	// Falls back to the unknown row, where the product/automation tie
	// resolves toward PRODUCT_BUG.
	assert.Equal(t, schemas.ClassificationProductBug, got.Classification)
	assert.InDelta(t, 0.40, got.Scores.ProductBug, 1e-9)
	assert.NotEmpty(t, got.Reasoning)
}

func TestClassifyConfidencePenalties(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	t.Run("automation verdict without selector", func(t *testing.T) {
		t.Parallel()
		got := m.Classify(schemas.CategoryElementNotFound, true, false, nil)
		require.Equal(t, schemas.ClassificationAutomationBug, got.Classification)
		// (0.5 + 0.4*separation) * 0.90 for the missing selector.
		assert.InDelta(t, 0.49, got.Confidence, 1e-2)
	})

	t.Run("product verdict in unhealthy environment", func(t *testing.T) {
		t.Parallel()
		got := m.Classify(schemas.CategoryServerError, false, true, nil)
		require.Equal(t, schemas.ClassificationProductBug, got.Classification)
		// (0.5 + 0.4*separation) * 0.85 for the unhealthy environment.
		assert.InDelta(t, 0.567, got.Confidence, 1e-3)
	})
}

func TestClassifyConfidenceStaysBounded(t *testing.T) {
	t.Parallel()
	m := newTestMatrix(t)

	factorSets := [][]Factor{
		nil,
		{FactorConsole500},
		{FactorFlakyHistory},
		{FactorConsole500, FactorConsoleAPIError, FactorConnectionRefused,
			FactorSelectorRecentlyChanged, FactorSelectorNeverExisted, FactorFlakyHistory},
	}

	for _, category := range schemas.AllFailureCategories {
		for _, envHealthy := range []bool{true, false} {
			for _, selectorFound := range []bool{true, false} {
				for _, factors := range factorSets {
					got := m.Classify(category, envHealthy, selectorFound, factors)
					assert.GreaterOrEqual(t, got.Confidence, 0.30)
					assert.LessOrEqual(t, got.Confidence, 0.95)
					assert.False(t, math.IsNaN(got.Confidence))
					assert.NotEmpty(t, got.Reasoning)
				}
			}
		}
	}
}
