package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"verdict/internal/config"
)

func TestCandidateBranches(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		version       string
		defaultBranch string
		want          []string
	}{
		{
			"full semver",
			"2.9.0", "main",
			[]string{"2.9.0", "release-2.9", "main", "master"},
		},
		{
			"two segment version",
			"2.9", "main",
			[]string{"2.9", "release-2.9", "main", "master"},
		},
		{
			"no version",
			"", "main",
			[]string{"main", "master"},
		},
		{
			"unparseable version tried verbatim",
			"release-2.9", "main",
			[]string{"release-2.9", "main", "master"},
		},
		{
			"master as default keeps order",
			"2.9.0", "master",
			[]string{"2.9.0", "release-2.9", "master", "main"},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, candidateBranches(tt.version, tt.defaultBranch))
		})
	}
}

// These tests swap the package-level clone function, so they must not run
// in parallel with each other.

func TestCloneConsoleFallsBackThroughBranches(t *testing.T) {
	orig := plainCloneContext
	defer func() { plainCloneContext = orig }()

	var attempts []string
	plainCloneContext = func(_ context.Context, _ string, isBare bool, o *git.CloneOptions) (*git.Repository, error) {
		assert.False(t, isBare)
		assert.True(t, o.SingleBranch)
		attempts = append(attempts, o.ReferenceName.Short())
		if len(attempts) < 3 {
			return nil, errors.New("couldn't find remote ref")
		}
		return nil, nil
	}

	cfg := config.GitConfig{CloneTimeout: time.Minute, DefaultBranch: "main"}
	branch, err := CloneConsole(context.Background(), zaptest.NewLogger(t), cfg,
		"https://example.com/console.git", "2.9.0", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.Equal(t, []string{"2.9.0", "release-2.9", "main"}, attempts)
}

func TestCloneConsoleReportsLastErrorWhenAllFail(t *testing.T) {
	orig := plainCloneContext
	defer func() { plainCloneContext = orig }()

	attempts := 0
	plainCloneContext = func(_ context.Context, _ string, _ bool, _ *git.CloneOptions) (*git.Repository, error) {
		attempts++
		return nil, errors.New("couldn't find remote ref")
	}

	cfg := config.GitConfig{CloneTimeout: time.Minute, DefaultBranch: "main"}
	_, err := CloneConsole(context.Background(), zaptest.NewLogger(t), cfg,
		"https://example.com/console.git", "2.9.0", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://example.com/console.git")
	assert.Contains(t, err.Error(), "couldn't find remote ref")
	assert.Equal(t, 4, attempts)
}
