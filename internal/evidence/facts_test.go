package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdict/api/schemas"
	"verdict/internal/classify"
)

var factsNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return factsNow.AddDate(0, 0, -n) }

func TestScanConsole(t *testing.T) {
	lines := []string{
		"GET /api/v1/search 500 Internal Server Error",
		"WebSocket connection failed: connection refused",
		"net::ERR_CONNECTION_RESET while loading dashboard",
		"request to /api/v1/nodes timed out",
		"everything fine here",
	}

	ev := scanConsole(lines, 5)
	assert.True(t, ev.Has500Errors)
	assert.True(t, ev.HasAPIErrors)
	assert.True(t, ev.HasConnectionRefused)
	assert.True(t, ev.HasNetworkErrors)
	assert.True(t, ev.HasTimeoutErrors)
	assert.True(t, ev.HasAny())
	assert.Len(t, ev.SampledLines, 4, "the clean line must not be sampled")
}

func TestScanConsoleSampleLimit(t *testing.T) {
	lines := []string{
		"error 500 one",
		"error 500 two",
		"error 500 three",
	}
	ev := scanConsole(lines, 2)
	assert.True(t, ev.Has500Errors)
	assert.Equal(t, []string{"error 500 one", "error 500 two"}, ev.SampledLines)
}

func TestScanConsoleEmpty(t *testing.T) {
	ev := scanConsole(nil, 5)
	assert.False(t, ev.HasAny())
	assert.Empty(t, ev.SampledLines)
}

func TestSelectorFromLookup(t *testing.T) {
	t.Run("derives recency from the modification date", func(t *testing.T) {
		mod := daysAgo(10)
		ev := selectorFromLookup(schemas.SelectorLookup{
			Selector:     "#submit-btn",
			Found:        true,
			LastModified: &mod,
		}, 30, factsNow)

		require.NotNil(t, ev.Found)
		assert.True(t, *ev.Found)
		require.NotNil(t, ev.RecentlyChanged)
		assert.True(t, *ev.RecentlyChanged)
		require.NotNil(t, ev.DaysAgo)
		assert.Equal(t, 10, *ev.DaysAgo)
	})

	t.Run("old changes fall outside the window", func(t *testing.T) {
		mod := daysAgo(45)
		ev := selectorFromLookup(schemas.SelectorLookup{Selector: ".nav", Found: true, LastModified: &mod}, 30, factsNow)
		require.NotNil(t, ev.RecentlyChanged)
		assert.False(t, *ev.RecentlyChanged)
	})

	t.Run("a supplied recency flag wins over the derived one", func(t *testing.T) {
		mod := daysAgo(45)
		supplied := true
		ev := selectorFromLookup(schemas.SelectorLookup{
			Selector:        ".nav",
			Found:           true,
			LastModified:    &mod,
			RecentlyChanged: &supplied,
		}, 30, factsNow)
		require.NotNil(t, ev.RecentlyChanged)
		assert.True(t, *ev.RecentlyChanged)
	})

	t.Run("no date means no recency claim", func(t *testing.T) {
		ev := selectorFromLookup(schemas.SelectorLookup{Selector: ".nav", Found: false}, 30, factsNow)
		assert.Nil(t, ev.RecentlyChanged)
		assert.Nil(t, ev.DaysAgo)
		require.NotNil(t, ev.Found)
		assert.False(t, *ev.Found)
	})
}

func TestSelectorFromTimeline(t *testing.T) {
	t.Run("element present with dated history", func(t *testing.T) {
		date := daysAgo(7)
		cmp := &schemas.TimelineComparison{
			Selector: "[data-testid=\"create-cluster\"]",
			Console: &schemas.ElementTimeline{
				ExistsAtHead: true,
				CommitSHA:    "abc1234",
				CommitDate:   &date,
				Message:      "feat: rework cluster creation flow\n\nlong body",
			},
		}
		ev := selectorFromTimeline(cmp.Selector, cmp, 30, factsNow)

		require.NotNil(t, ev.Found)
		assert.True(t, *ev.Found)
		require.NotNil(t, ev.RecentlyChanged)
		assert.True(t, *ev.RecentlyChanged)
		require.NotNil(t, ev.DaysAgo)
		assert.Equal(t, 7, *ev.DaysAgo)
		assert.Equal(t, "abc1234 feat: rework cluster creation flow", ev.History)
	})

	t.Run("element that never existed", func(t *testing.T) {
		cmp := &schemas.TimelineComparison{
			Selector:            "#ghost",
			Console:             &schemas.ElementTimeline{ExistsAtHead: false, NeverExisted: true},
			ElementNeverExisted: true,
			Notes:               []string{"no trace of ghost under any probed attribute"},
		}
		ev := selectorFromTimeline("#ghost", cmp, 30, factsNow)

		require.NotNil(t, ev.Found)
		assert.False(t, *ev.Found)
		assert.True(t, ev.NeverExisted)
		assert.Nil(t, ev.RecentlyChanged)
		assert.Equal(t, "no trace of ghost under any probed attribute", ev.History)
	})

	t.Run("nil comparison yields bare evidence", func(t *testing.T) {
		ev := selectorFromTimeline("#x", nil, 30, factsNow)
		assert.Equal(t, "#x", ev.Selector)
		assert.Nil(t, ev.Found)
	})
}

func TestSourceConsistency(t *testing.T) {
	healthy := true
	unhealthy := false
	changed := true

	t.Run("all sources agree on product", func(t *testing.T) {
		s := sourceConsistency(
			schemas.CategoryServerError,
			schemas.EnvironmentEvidence{Healthy: &healthy},
			schemas.SelectorEvidence{},
			schemas.ConsoleEvidence{Has500Errors: true},
		)
		require.NotNil(t, s.Jenkins)
		assert.Equal(t, schemas.ClassificationProductBug, *s.Jenkins)
		assert.Nil(t, s.Environment, "a healthy environment has no opinion")
		require.NotNil(t, s.Console)
		assert.Equal(t, schemas.ClassificationProductBug, *s.Console)
		assert.InDelta(t, 1.0, s.AgreementScore, 1e-9)
		assert.Empty(t, s.Note)
	})

	t.Run("sources disagree", func(t *testing.T) {
		s := sourceConsistency(
			schemas.CategoryTimeout,
			schemas.EnvironmentEvidence{Healthy: &unhealthy},
			schemas.SelectorEvidence{RecentlyChanged: &changed},
			schemas.ConsoleEvidence{HasNetworkErrors: true},
		)
		assert.Equal(t, schemas.ClassificationAutomationBug, *s.Jenkins)
		assert.Equal(t, schemas.ClassificationInfrastructure, *s.Environment)
		assert.Equal(t, schemas.ClassificationAutomationBug, *s.Repository)
		assert.Equal(t, schemas.ClassificationInfrastructure, *s.Console)
		assert.InDelta(t, 0.5, s.AgreementScore, 1e-9)
		assert.NotEmpty(t, s.Note)
	})

	t.Run("a missing selector suggests nothing", func(t *testing.T) {
		found := false
		s := sourceConsistency(
			schemas.CategoryElementNotFound,
			schemas.EnvironmentEvidence{},
			schemas.SelectorEvidence{Found: &found, NeverExisted: true},
			schemas.ConsoleEvidence{},
		)
		assert.Nil(t, s.Repository)
	})

	t.Run("unknown category has no jenkins opinion", func(t *testing.T) {
		s := sourceConsistency(schemas.CategoryUnknown, schemas.EnvironmentEvidence{}, schemas.SelectorEvidence{}, schemas.ConsoleEvidence{})
		assert.Nil(t, s.Jenkins)
		assert.InDelta(t, 0.5, s.AgreementScore, 1e-9, "fewer than two sources is neutral")
	})

	t.Run("500s outrank network markers in the console reading", func(t *testing.T) {
		s := sourceConsistency(
			schemas.CategoryUnknown,
			schemas.EnvironmentEvidence{},
			schemas.SelectorEvidence{},
			schemas.ConsoleEvidence{Has500Errors: true, HasNetworkErrors: true},
		)
		require.NotNil(t, s.Console)
		assert.Equal(t, schemas.ClassificationProductBug, *s.Console)
	})
}

func TestDeriveFactors(t *testing.T) {
	changed := true
	factors := deriveFactors(
		schemas.ConsoleEvidence{Has500Errors: true, HasAPIErrors: true, HasConnectionRefused: true},
		schemas.SelectorEvidence{RecentlyChanged: &changed, NeverExisted: true},
		true,
	)
	assert.Equal(t, []classify.Factor{
		classify.FactorConsole500,
		classify.FactorConsoleAPIError,
		classify.FactorConnectionRefused,
		classify.FactorSelectorRecentlyChanged,
		classify.FactorSelectorNeverExisted,
		classify.FactorFlakyHistory,
	}, factors)

	assert.Empty(t, deriveFactors(schemas.ConsoleEvidence{}, schemas.SelectorEvidence{}, false))
}

func TestHistorySignal(t *testing.T) {
	changed := true

	t.Run("stale signal backs an automation verdict", func(t *testing.T) {
		cmp := &schemas.TimelineComparison{StaleTestSignal: true}
		sig := historySignal(schemas.ClassificationAutomationBug, schemas.SelectorEvidence{}, cmp)
		assert.True(t, sig.Supports)
		assert.False(t, sig.Contradicts)
	})

	t.Run("removed element undercuts a product verdict", func(t *testing.T) {
		cmp := &schemas.TimelineComparison{ElementRemovedFromConsole: true}
		sig := historySignal(schemas.ClassificationProductBug, schemas.SelectorEvidence{}, cmp)
		assert.False(t, sig.Supports)
		assert.True(t, sig.Contradicts)
	})

	t.Run("infrastructure verdicts take nothing from git history", func(t *testing.T) {
		cmp := &schemas.TimelineComparison{StaleTestSignal: true}
		sig := historySignal(schemas.ClassificationInfrastructure, schemas.SelectorEvidence{}, cmp)
		assert.False(t, sig.Supports)
		assert.False(t, sig.Contradicts)
	})

	t.Run("recent change carries without a comparison", func(t *testing.T) {
		sig := historySignal(schemas.ClassificationAutomationBug, schemas.SelectorEvidence{RecentlyChanged: &changed}, nil)
		assert.True(t, sig.RecentChange)
		assert.False(t, sig.Supports)
	})
}
