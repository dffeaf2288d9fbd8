// Package evidence runs the per-test triage pipeline and assembles its
// output into evidence packages: parse, categorize, gather, classify,
// score, cross-validate. It owns the composition; the judgment itself
// lives in the classify package and the gathering in its collaborators.
package evidence

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verdict/api/schemas"
	"verdict/internal/classify"
	"verdict/internal/components"
	"verdict/internal/config"
	"verdict/internal/stacktrace"
	"verdict/internal/timeline"
)

// TimelineComparer resolves a selector's git history on both the automation
// and the product side. Satisfied by timeline.Service.
type TimelineComparer interface {
	CompareTimelines(ctx context.Context, selector string) (*schemas.TimelineComparison, error)
}

// ImpactAnalyzer maps extracted components onto the dependency graph.
// Satisfied by knowledge.Client.
type ImpactAnalyzer interface {
	AnalyzeFailureImpact(ctx context.Context, extracted []schemas.ExtractedComponent) *schemas.ImpactAnalysis
}

// FlakyChecker reports whether recorded history marks a test as flaky.
// Satisfied by history.Store.
type FlakyChecker interface {
	FlakySignal(ctx context.Context, testName string) (bool, string, error)
}

// Collaborators carries the optional evidence sources. Every field may be
// nil; the builder degrades to whatever evidence it can still gather.
type Collaborators struct {
	Timelines TimelineComparer
	Impact    ImpactAnalyzer
	History   FlakyChecker
}

// Builder assembles evidence packages. One instance serves a whole build;
// per-test analyses share it concurrently, which is safe because the parser
// and extractor are read-only after construction and the collaborators
// guard their own caches.
type Builder struct {
	log    *zap.Logger
	cfg    config.AnalysisConfig
	collab Collaborators

	parser     *stacktrace.Parser
	extractor  *components.Extractor
	matrix     *classify.Matrix
	confidence *classify.Calculator
	validator  *classify.Validator
}

// NewBuilder wires the pipeline stages around the given collaborators.
func NewBuilder(log *zap.Logger, cfg config.AnalysisConfig, collab Collaborators) *Builder {
	return &Builder{
		log:        log.Named("evidence"),
		cfg:        cfg,
		collab:     collab,
		parser:     stacktrace.NewParser(),
		extractor:  components.NewExtractor(),
		matrix:     classify.NewMatrix(log),
		confidence: classify.NewCalculator(log),
		validator:  classify.NewValidator(log),
	}
}

// BuildTestPackage runs the full triage pipeline for one failed test. It
// never returns an error: missing or malformed evidence lowers confidence
// and collaborator failures are logged and treated as absent evidence.
func (b *Builder) BuildTestPackage(
	ctx context.Context,
	test schemas.FailedTest,
	env schemas.EnvironmentFacts,
	repo schemas.RepositoryFacts,
	consoleLines []string,
) *schemas.TestFailureEvidencePackage {
	parsed := b.parser.Parse(test.StackTrace)
	category := CategorizeFailure(test.ErrorMessage, parsed)

	selector := parsed.FailingSelector
	if selector == "" {
		selector = b.parser.ExtractFailingSelector(test.ErrorMessage)
	}

	envEv := environmentEvidence(env)
	consoleEv := scanConsole(consoleLines, b.cfg.ConsoleSampleLines)
	selEv, cmp := b.selectorEvidence(ctx, selector, repo)
	extracted := b.extractor.AllFromTestFailure(test.ErrorMessage, parsed, consoleLines)
	flaky, flakyNote := b.flakySignal(ctx, test.Name)

	factors := deriveFactors(consoleEv, selEv, flaky)
	matrixRes := b.matrix.Classify(category, envEv.IsHealthy(), selEv.Found != nil && *selEv.Found, factors)

	comp := schemas.EvidenceCompleteness{
		HasStackTrace:         strings.TrimSpace(test.StackTrace) != "",
		HasParsedFrames:       parsed.HasFrames(),
		HasRootCauseFile:      parsed.RootCause != nil,
		HasEnvironmentStatus:  env.Healthy != nil || env.ClusterAccessible != nil,
		HasRepositoryAnalysis: hasRepositoryFacts(repo) || b.collab.Timelines != nil,
		HasSelectorLookup:     selEv.Found != nil,
		HasGitHistory:         selEv.LastModified != nil || (cmp != nil && cmp.Automation != nil && cmp.Automation.CommitDate != nil),
		HasConsoleErrors:      len(consoleLines) > 0,
		HasTestFileContent:    test.TestFileContent != "",
	}
	consistency := sourceConsistency(category, envEv, selEv, consoleEv)
	breakdown := b.confidence.Assess(matrixRes.Scores, comp, consistency, selEv,
		historySignal(matrixRes.Classification, selEv, cmp))

	validation := b.validator.Validate(classify.ValidationInput{
		Classification: matrixRes.Classification,
		Confidence:     matrixRes.Confidence,
		Category:       category,
		Environment:    envEv,
		Selector:       selEv,
		Console:        consoleEv,
	})

	reasoning := matrixRes.Reasoning
	if len(validation.Results) > 0 {
		reasoning += " " + validation.Summary
	}
	warnings := append([]string(nil), breakdown.Warnings...)
	if flaky && flakyNote != "" {
		warnings = append(warnings, "recorded history: "+flakyNote)
	}

	pkg := &schemas.TestFailureEvidencePackage{
		TestName:        test.Name,
		ClassName:       test.ClassName,
		FailureCategory: category,
		StackTrace:      parsed,
		Selector:        selEv,
		Environment:     envEv,
		Console:         consoleEv,
		Timeline:        cmp,
		Components:      extracted,
		MatrixResult:    matrixRes,
		Completeness:    comp,
		Consistency:     consistency,
		Confidence:      breakdown,
		Validation:      validation,
		Classification:  validation.FinalClassification,
		FinalConfidence: validation.FinalConfidence,
		ConfidenceLevel: classify.LevelFor(validation.FinalConfidence),
		Reasoning:       reasoning,
		NeedsReview:     validation.NeedsReview,
		Warnings:        warnings,
	}

	b.log.Info("test classified",
		zap.String("test", test.Name),
		zap.String("category", string(category)),
		zap.String("classification", string(pkg.Classification)),
		zap.Float64("confidence", pkg.FinalConfidence),
		zap.Bool("corrected", validation.WasCorrected),
		zap.Bool("needs_review", pkg.NeedsReview),
	)
	return pkg
}

// BuildPackage analyzes every failed test in the input concurrently and
// aggregates the per-test verdicts into the build-level package. The only
// error it can return is context cancellation.
func (b *Builder) BuildPackage(ctx context.Context, in *schemas.AnalysisInput) (*schemas.EvidencePackage, error) {
	pkg := &schemas.EvidencePackage{
		RunID:       uuid.NewString(),
		JenkinsURL:  in.JenkinsURL,
		Build:       in.Build,
		GeneratedAt: time.Now().UTC(),
		Tests:       make([]*schemas.TestFailureEvidencePackage, len(in.FailedTests)),
		Totals:      make(map[schemas.Classification]int, 3),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.cfg.Concurrency, 1))
	for i, test := range in.FailedTests {
		i, test := i, test
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pkg.Tests[i] = b.BuildTestPackage(gctx, test, in.Environment, in.Repository, in.Console.LogLines)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var implicated []schemas.ExtractedComponent
	seen := make(map[string]struct{})
	for _, t := range pkg.Tests {
		pkg.Totals[t.Classification]++
		if t.NeedsReview {
			pkg.NeedsReview = append(pkg.NeedsReview, t.TestName)
		}
		for _, c := range t.Components {
			if _, dup := seen[c.Name]; dup {
				continue
			}
			seen[c.Name] = struct{}{}
			implicated = append(implicated, c)
		}
	}

	if len(pkg.Tests) > 0 {
		pkg.OverallClassification = overallClassification(pkg.Totals)
		pkg.OverallConfidence = overallConfidence(pkg.Tests, pkg.OverallClassification)
		// The pattern scan reads the raw failure text, not the resolved
		// categories: a timeout wrapped around a missing element still
		// counts toward a build-wide slowdown.
		texts := make([]string, len(in.FailedTests))
		for i, test := range in.FailedTests {
			texts[i] = test.ErrorMessage + "\n" + test.StackTrace
		}
		if tp := timeline.AnalyzeTimeoutPattern(texts, in.Environment.Healthy); tp.TimeoutCount > 0 {
			pkg.TimeoutPattern = &tp
		}
	}
	if b.collab.Impact != nil && len(implicated) > 0 {
		pkg.Impact = b.collab.Impact.AnalyzeFailureImpact(ctx, implicated)
	}

	b.log.Info("build analyzed",
		zap.String("run_id", pkg.RunID),
		zap.String("job", in.Build.JobName),
		zap.Int("build", in.Build.BuildNumber),
		zap.Int("tests", len(pkg.Tests)),
		zap.String("overall", string(pkg.OverallClassification)),
		zap.Float64("confidence", pkg.OverallConfidence),
		zap.Int("needs_review", len(pkg.NeedsReview)),
	)
	return pkg, nil
}

// selectorEvidence resolves what the repositories know about the failing
// selector. A caller-supplied lookup short-circuits the git probe.
func (b *Builder) selectorEvidence(ctx context.Context, selector string, repo schemas.RepositoryFacts) (schemas.SelectorEvidence, *schemas.TimelineComparison) {
	if selector == "" {
		return schemas.SelectorEvidence{}, nil
	}
	now := time.Now()
	if lookup := repo.Lookup(selector); lookup != nil {
		return selectorFromLookup(*lookup, b.cfg.SelectorRecencyDays, now), nil
	}
	if b.collab.Timelines == nil {
		return schemas.SelectorEvidence{Selector: selector}, nil
	}
	cmp, err := b.collab.Timelines.CompareTimelines(ctx, selector)
	if err != nil {
		b.log.Warn("timeline comparison failed",
			zap.String("selector", selector), zap.Error(err))
		return schemas.SelectorEvidence{Selector: selector}, nil
	}
	return selectorFromTimeline(selector, cmp, b.cfg.SelectorRecencyDays, now), cmp
}

func (b *Builder) flakySignal(ctx context.Context, testName string) (bool, string) {
	if b.collab.History == nil {
		return false, ""
	}
	flaky, note, err := b.collab.History.FlakySignal(ctx, testName)
	if err != nil {
		b.log.Warn("history lookup failed",
			zap.String("test", testName), zap.Error(err))
		return false, ""
	}
	return flaky, note
}

func hasRepositoryFacts(repo schemas.RepositoryFacts) bool {
	return repo.AutomationRepoPath != "" || repo.ConsoleRepoPath != "" ||
		repo.ConsoleURL != "" || len(repo.SelectorLookups) > 0
}

// classificationPrecedence breaks count ties: equal evidence goes to the
// verdict a triager should look at first.
var classificationPrecedence = []schemas.Classification{
	schemas.ClassificationProductBug,
	schemas.ClassificationAutomationBug,
	schemas.ClassificationInfrastructure,
}

func overallClassification(totals map[schemas.Classification]int) schemas.Classification {
	best := classificationPrecedence[0]
	for _, c := range classificationPrecedence[1:] {
		if totals[c] > totals[best] {
			best = c
		}
	}
	return best
}

// overallConfidence averages final confidence over the tests that share the
// winning verdict. Tests classified differently say nothing about how sure
// the build-level verdict is.
func overallConfidence(tests []*schemas.TestFailureEvidencePackage, overall schemas.Classification) float64 {
	sum, n := 0.0, 0
	for _, t := range tests {
		if t.Classification == overall {
			sum += t.FinalConfidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
