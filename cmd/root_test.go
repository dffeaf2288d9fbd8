package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"verdict/internal/config"
	"verdict/internal/observability"
)

// newTestRootCmd builds a fresh root command against clean global state.
// Cobra commands are already per-call, but viper and the logger are process
// globals; every test resets both and routes log output into the returned
// buffer so assertions can inspect it.
func newTestRootCmd(t *testing.T) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	viper.Reset()
	cfgFile = ""
	observability.ResetForTest()

	logs := &bytes.Buffer{}
	observability.Initialize(
		config.LoggerConfig{Level: "debug", Format: "console"},
		zapcore.Lock(zapcore.AddSync(logs)),
	)
	t.Cleanup(func() {
		viper.Reset()
		observability.ResetForTest()
	})

	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	return root, out, logs
}

func TestRootCmdVersionFlag(t *testing.T) {
	root, out, _ := newTestRootCmd(t)
	root.SetArgs([]string{"--version"})

	err := root.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out.String())
}

func TestVersionCommand(t *testing.T) {
	root, out, _ := newTestRootCmd(t)
	root.SetArgs([]string{"version"})

	err := root.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out.String())
}

func TestRootCmdHelpListsSubcommands(t *testing.T) {
	root, out, _ := newTestRootCmd(t)
	root.SetArgs([]string{"--help"})

	err := root.ExecuteContext(context.Background())

	require.NoError(t, err)
	output := out.String()
	assert.Contains(t, output, "evidence package")
	assert.Contains(t, output, "analyze")
	assert.Contains(t, output, "version")
}

func TestRootCmdUnknownCommand(t *testing.T) {
	root, _, _ := newTestRootCmd(t)
	root.SetArgs([]string{"triage"})

	err := root.ExecuteContext(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRootCmdReadsConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "verdict.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("analysis:\n  concurrency: 2\n"), 0o644))

	root, _, _ := newTestRootCmd(t)
	root.SetArgs([]string{"--config", cfgPath, "version"})

	err := root.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, viper.GetInt("analysis.concurrency"))
}

func TestRootCmdRejectsMalformedConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "verdict.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("analysis: [not: a map\n"), 0o644))

	root, _, _ := newTestRootCmd(t)
	root.SetArgs([]string{"--config", cfgPath, "version"})

	err := root.ExecuteContext(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestRootCmdEnvOverride(t *testing.T) {
	t.Setenv("VERDICT_ANALYSIS_CONCURRENCY", "7")

	root, _, _ := newTestRootCmd(t)
	root.SetArgs([]string{"version"})

	err := root.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 7, viper.GetInt("analysis.concurrency"))
}
