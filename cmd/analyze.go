package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"verdict/api/schemas"
	"verdict/internal/config"
	"verdict/internal/evidence"
	"verdict/internal/history"
	"verdict/internal/ingest"
	"verdict/internal/knowledge"
	"verdict/internal/observability"
	"verdict/internal/timeline"
)

// newAnalyzeCmd creates and configures the `analyze` command.
func newAnalyzeCmd() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a build's failed tests into an evidence package",
		Long: `Reads the failed tests of one CI build (an analysis JSON document, a
JUnit XML report, or both), runs the full triage pipeline over each failure,
and writes the resulting evidence package as JSON.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("analysis.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("knowledge_graph.type", cmd.Flags().Lookup("kg")); err != nil {
				return err
			}
			if err := viper.BindPFlag("knowledge_graph.dsn", cmd.Flags().Lookup("kg-dsn")); err != nil {
				return err
			}
			if err := viper.BindPFlag("knowledge_graph.file", cmd.Flags().Lookup("kg-file")); err != nil {
				return err
			}
			if err := viper.BindPFlag("history.path", cmd.Flags().Lookup("history-db")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config now that PreRunE bound the flag overrides.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			in, err := loadInput(logger)
			if err != nil {
				return err
			}
			logger.Info("Starting analysis",
				zap.String("job", in.Build.JobName),
				zap.Int("build", in.Build.BuildNumber),
				zap.Int("failed_tests", len(in.FailedTests)),
				zap.Int("concurrency", cfg.Analysis.Concurrency),
			)

			components, err := initializeAnalysisComponents(ctx, cfg, in, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize analysis components: %w", err)
			}
			defer components.Shutdown()

			builder := evidence.NewBuilder(logger, cfg.Analysis, components.Collaborators)
			pkg, err := builder.BuildPackage(ctx, in)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Analysis aborted", zap.String("job", in.Build.JobName))
				}
				return err
			}

			components.RecordOutcomes(ctx, pkg)

			outPath := viper.GetString("out")
			if err := writePackage(cmd, pkg, outPath); err != nil {
				return err
			}

			logger.Info("Analysis complete",
				zap.String("run_id", pkg.RunID),
				zap.String("overall", string(pkg.OverallClassification)),
				zap.Float64("confidence", pkg.OverallConfidence),
				zap.Int("needs_review", len(pkg.NeedsReview)),
			)
			if outPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nAnalysis complete. Run ID: %s\n", pkg.RunID)
				fmt.Fprintf(cmd.OutOrStdout(), "Overall: %s (%.2f confidence), package written to %s\n",
					pkg.OverallClassification, pkg.OverallConfidence, outPath)
			}
			return nil
		},
	}

	// Input flags.
	analyzeCmd.Flags().StringP("input", "i", "", "Analysis input JSON (build info, failed tests, environment, repository facts).")
	analyzeCmd.Flags().String("junit", "", "JUnit XML report to merge failed tests from.")

	// Repository flags; override whatever the input document carries.
	analyzeCmd.Flags().String("console-repo", "", "Local clone of the product console repository.")
	analyzeCmd.Flags().String("automation-repo", "", "Local clone of the test automation repository.")

	// Output and collaborator flags.
	analyzeCmd.Flags().StringP("out", "o", "", "Output file for the evidence package. If unset, JSON goes to stdout.")
	analyzeCmd.Flags().String("history-db", "", "SQLite database of past triage outcomes. (Overrides config/env)")
	analyzeCmd.Flags().String("kg", "", "Knowledge-graph backend: none, postgres, or static. (Overrides config/env)")
	analyzeCmd.Flags().String("kg-dsn", "", "Postgres DSN for the knowledge graph. Prefer VERDICT_KG_DSN.")
	analyzeCmd.Flags().String("kg-file", "", "YAML dependency fixture for the static knowledge graph.")
	analyzeCmd.Flags().IntP("concurrency", "j", 0, "Number of tests analyzed concurrently. (Overrides config/env)")

	return analyzeCmd
}

// loadInput assembles the AnalysisInput from --input and/or --junit, applies
// repository flag overrides, and resolves console log lines.
func loadInput(logger *zap.Logger) (*schemas.AnalysisInput, error) {
	inputPath := viper.GetString("input")
	junitPath := viper.GetString("junit")
	if inputPath == "" && junitPath == "" {
		return nil, errors.New("at least one of --input or --junit is required")
	}

	in := &schemas.AnalysisInput{}
	if inputPath != "" {
		loaded, err := ingest.LoadAnalysisInput(inputPath)
		if err != nil {
			return nil, err
		}
		in = loaded
	}
	if junitPath != "" {
		fromJUnit, err := ingest.ParseJUnitFile(junitPath)
		if err != nil {
			return nil, err
		}
		in.FailedTests = ingest.MergeFailedTests(in.FailedTests, fromJUnit)
	}

	if p := viper.GetString("console-repo"); p != "" {
		in.Repository.ConsoleRepoPath = p
	}
	if p := viper.GetString("automation-repo"); p != "" {
		in.Repository.AutomationRepoPath = p
	}

	lines, err := ingest.ResolveConsoleLines(in.Console)
	if err != nil {
		// Missing console logs weaken the evidence; they never stop the run.
		logger.Warn("Console log unavailable", zap.Error(err))
	} else {
		in.Console.LogLines = lines
	}
	return in, nil
}

// analysisComponents holds the initialized collaborators and what they need
// released at the end of the run.
type analysisComponents struct {
	Collaborators evidence.Collaborators
	History       *history.Store
	DBPool        *pgxpool.Pool
	log           *zap.Logger

	// cloneDir is the temporary console checkout, removed on shutdown.
	cloneDir string
}

// Shutdown releases everything the run held open.
func (c *analysisComponents) Shutdown() {
	if c.History != nil {
		if err := c.History.Close(); err != nil {
			c.log.Warn("Error closing history store", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
	if c.cloneDir != "" {
		if err := os.RemoveAll(c.cloneDir); err != nil {
			c.log.Warn("Error removing console checkout", zap.Error(err))
		}
	}
}

// RecordOutcomes persists this run's verdicts so future runs can weigh them
// as history. Best effort; a full disk should not fail the analysis.
func (c *analysisComponents) RecordOutcomes(ctx context.Context, pkg *schemas.EvidencePackage) {
	if c.History == nil {
		return
	}
	for _, t := range pkg.Tests {
		err := c.History.Record(ctx, history.Outcome{
			TestName:       t.TestName,
			JobName:        pkg.Build.JobName,
			BuildNumber:    pkg.Build.BuildNumber,
			Category:       t.FailureCategory,
			Classification: t.Classification,
			Confidence:     t.FinalConfidence,
		})
		if err != nil {
			c.log.Warn("Failed to record outcome",
				zap.String("test", t.TestName), zap.Error(err))
		}
	}
}

// initializeAnalysisComponents handles dependency injection: the timeline
// service when repositories are available (cloning the console repo when
// only a URL was given), the configured knowledge-graph backend, and the
// history store.
func initializeAnalysisComponents(ctx context.Context, cfg *config.Config, in *schemas.AnalysisInput, logger *zap.Logger) (*analysisComponents, error) {
	components := &analysisComponents{log: logger}

	// 1. Console checkout. A local path wins; otherwise clone from the URL,
	// picking the branch that matches the product version.
	consolePath := in.Repository.ConsoleRepoPath
	if consolePath == "" && in.Repository.ConsoleURL != "" {
		dir, err := os.MkdirTemp("", "verdict-console-*")
		if err != nil {
			return components, fmt.Errorf("create clone directory: %w", err)
		}
		components.cloneDir = dir
		branch, err := timeline.CloneConsole(ctx, logger, cfg.Git, in.Repository.ConsoleURL, in.Repository.ConsoleVersion, dir)
		if err != nil {
			// Selector history degrades to absent evidence without a checkout.
			logger.Warn("Console clone failed; continuing without product git history", zap.Error(err))
		} else {
			logger.Info("Using cloned console repository",
				zap.String("branch", branch), zap.String("dir", dir))
			consolePath = dir
		}
	}

	// 2. Timeline service. The comparison needs both sides of the history.
	automationPath := in.Repository.AutomationRepoPath
	if automationPath != "" && consolePath != "" {
		svc, err := timeline.NewService(logger, cfg.Git, automationPath, consolePath)
		if err != nil {
			return components, fmt.Errorf("initialize timeline service: %w", err)
		}
		components.Collaborators.Timelines = svc
	} else if automationPath != "" || consolePath != "" {
		logger.Info("Timeline comparison disabled; it needs both the automation and console repositories")
	}

	// 3. Knowledge graph. The client is always wired; with no backend it
	// degrades every impact query to empty rather than failing.
	var querier knowledge.DependencyGraphQuerier
	switch cfg.Knowledge.Type {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Knowledge.DSN)
		if err != nil {
			return components, fmt.Errorf("connect to knowledge graph database: %w", err)
		}
		components.DBPool = pool
		graph, err := knowledge.NewPostgresGraph(ctx, pool, logger)
		if err != nil {
			return components, fmt.Errorf("initialize knowledge graph: %w", err)
		}
		querier = graph
	case "static":
		graph, err := knowledge.NewStaticGraph(cfg.Knowledge.File)
		if err != nil {
			return components, fmt.Errorf("load static knowledge graph: %w", err)
		}
		querier = graph
	}
	client, err := knowledge.NewClient(logger, querier, cfg.Knowledge.CacheSize)
	if err != nil {
		return components, fmt.Errorf("initialize knowledge client: %w", err)
	}
	components.Collaborators.Impact = client

	// 4. History store.
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History, logger)
		if err != nil {
			return components, fmt.Errorf("open history database: %w", err)
		}
		components.History = store
		components.Collaborators.History = store
	}

	return components, nil
}

// writePackage serializes the evidence package to the output file, or to
// stdout when no file was requested.
func writePackage(cmd *cobra.Command, pkg *schemas.EvidencePackage, outPath string) error {
	if outPath == "" {
		return ingest.WritePackage(cmd.OutOrStdout(), pkg)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := ingest.WritePackage(f, pkg); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
