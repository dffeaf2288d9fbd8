// Package timeline reconstructs the history of a failing selector on both
// sides of the product boundary: when the test automation last touched it,
// and when the product source last changed or removed the element it points
// at. Lining the two up answers the question the raw failure cannot: did
// the product move out from under the test?
package timeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"verdict/api/schemas"
	"verdict/internal/config"
)

// comparisonCacheSize bounds the per-run selector cache. Builds repeat
// selectors across failed tests constantly; the git queries are the
// expensive part.
const comparisonCacheSize = 256

// attributePatterns lists the source forms an element id can take in
// product code, most common first. Existence checks probe all of them;
// the history pickaxe probes only the first GitConfig.MaxHistoryPatterns.
func attributePatterns(elementID string) []string {
	return []string{
		fmt.Sprintf(`data-testid="%s"`, elementID),
		fmt.Sprintf(`data-testid='%s'`, elementID),
		fmt.Sprintf(`data-test-id="%s"`, elementID),
		fmt.Sprintf(`data-test-id='%s'`, elementID),
		fmt.Sprintf(`testId="%s"`, elementID),
		fmt.Sprintf(`testId='%s'`, elementID),
		fmt.Sprintf(`id="%s"`, elementID),
		fmt.Sprintf(`id='%s'`, elementID),
	}
}

// Service runs timeline comparisons against two local clones: the test
// automation repository and the product (console) repository. Results are
// cached per selector; the cache and the underlying queries are safe for
// concurrent use.
type Service struct {
	log           *zap.Logger
	git           config.GitConfig
	automationDir string
	consoleDir    string
	searcher      gitSearcher
	cache         *lru.Cache[string, *schemas.TimelineComparison]
}

// NewService wires a Service against local clones of the automation and
// console repositories.
func NewService(log *zap.Logger, gitCfg config.GitConfig, automationDir, consoleDir string) (*Service, error) {
	cache, err := lru.New[string, *schemas.TimelineComparison](comparisonCacheSize)
	if err != nil {
		return nil, fmt.Errorf("timeline cache: %w", err)
	}
	return &Service{
		log:           log.Named("timeline"),
		git:           gitCfg,
		automationDir: automationDir,
		consoleDir:    consoleDir,
		searcher:      &execSearcher{cfg: gitCfg},
		cache:         cache,
	}, nil
}

// CompareTimelines produces the full two-sided history for one selector.
// Git-level failures surface as errors; empty history does not.
func (s *Service) CompareTimelines(ctx context.Context, selector string) (*schemas.TimelineComparison, error) {
	if cached, ok := s.cache.Get(selector); ok {
		return cached, nil
	}

	elementID := ExtractElementID(selector)
	cmp := &schemas.TimelineComparison{Selector: selector, ElementID: elementID}
	if elementID == "" {
		cmp.Notes = append(cmp.Notes, "selector yields no element id to search for")
		s.cache.Add(selector, cmp)
		return cmp, nil
	}

	auto, err := s.GetSelectorLastModified(ctx, selector)
	if err != nil {
		return nil, err
	}
	cmp.Automation = auto

	found, pattern, _, err := s.ElementExistsInConsole(ctx, elementID)
	if err != nil {
		return nil, err
	}

	var console *schemas.ElementTimeline
	if found {
		console, err = s.dateExistingElement(ctx, elementID, pattern)
	} else {
		console, err = s.GetElementLastModified(ctx, elementID)
	}
	if err != nil {
		return nil, err
	}
	cmp.Console = console
	cmp.ElementRemovedFromConsole = console.Removed
	cmp.ElementNeverExisted = console.NeverExisted
	cmp.ProductCommitKind = console.CommitKind

	if auto.CommitDate != nil && console.CommitDate != nil {
		days := int(console.CommitDate.Sub(*auto.CommitDate).Hours() / 24)
		cmp.DaysDifference = &days
		after := console.CommitDate.After(*auto.CommitDate)
		cmp.ConsoleChangedAfterAutomation = &after
	}

	// A removal out from under a still-referencing test, or any product
	// change landing after the test's last touch, means the test is
	// probably chasing an old UI. The commit's intent does not gate the
	// signal; a product-side "fix" can move an element just as far as a
	// redesign does.
	cmp.StaleTestSignal = (console.Removed && auto.Found) ||
		(cmp.ConsoleChangedAfterAutomation != nil && *cmp.ConsoleChangedAfterAutomation)

	s.annotate(cmp)
	s.cache.Add(selector, cmp)

	s.log.Debug("compared timelines",
		zap.String("selector", selector),
		zap.Bool("stale_test_signal", cmp.StaleTestSignal),
		zap.Bool("element_removed", cmp.ElementRemovedFromConsole),
		zap.Bool("element_never_existed", cmp.ElementNeverExisted),
	)
	return cmp, nil
}

// GetSelectorLastModified reports where the automation repository uses the
// selector and which commit last touched it.
func (s *Service) GetSelectorLastModified(ctx context.Context, selector string) (*schemas.SelectorTimeline, error) {
	tl := &schemas.SelectorTimeline{Selector: selector}

	files, err := s.searcher.grepFiles(ctx, s.automationDir, selector)
	if err != nil {
		return nil, err
	}
	tl.MatchedFiles = files
	tl.Found = len(files) > 0

	sha, err := s.searcher.pickaxeLast(ctx, s.automationDir, selector)
	if err != nil {
		return nil, err
	}
	if sha == "" {
		return tl, nil
	}
	meta, err := s.searcher.commitAt(ctx, s.automationDir, sha)
	if err != nil {
		return nil, err
	}
	tl.CommitSHA = meta.SHA
	when := meta.When
	tl.CommitDate = &when
	tl.Author = meta.Author
	tl.Message = meta.Subject
	tl.CommitKind = ClassifyCommitKind(meta.Subject)
	return tl, nil
}

// consoleSourceDir is where the console keeps its product source; probes
// stay inside it so docs and test fixtures cannot fake an element's
// existence.
const consoleSourceDir = "src"

// consoleSearchScope limits console probes to the product source tree.
// Checkouts without a src/ directory fall back to the whole work tree.
func (s *Service) consoleSearchScope() []string {
	if info, err := os.Stat(filepath.Join(s.consoleDir, consoleSourceDir)); err == nil && info.IsDir() {
		return []string{consoleSourceDir}
	}
	return nil
}

// ElementExistsInConsole probes every attribute pattern for the element id
// against the console clone's HEAD. Returns the pattern that hit and the
// files containing it.
func (s *Service) ElementExistsInConsole(ctx context.Context, elementID string) (bool, string, []string, error) {
	scope := s.consoleSearchScope()
	for _, pat := range attributePatterns(elementID) {
		files, err := s.searcher.grepFiles(ctx, s.consoleDir, pat, scope...)
		if err != nil {
			return false, "", nil, err
		}
		if len(files) > 0 {
			return true, pat, files, nil
		}
	}
	return false, "", nil, nil
}

// GetElementLastModified dates an element that is absent at HEAD. A pickaxe
// hit means some commit removed it; no hit under any probed pattern means
// the element never existed in this branch's history.
func (s *Service) GetElementLastModified(ctx context.Context, elementID string) (*schemas.ElementTimeline, error) {
	tl := &schemas.ElementTimeline{ElementID: elementID}

	patterns := attributePatterns(elementID)
	if limit := s.git.MaxHistoryPatterns; limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	for _, pat := range patterns {
		sha, err := s.searcher.pickaxeLast(ctx, s.consoleDir, pat)
		if err != nil {
			return nil, err
		}
		if sha == "" {
			continue
		}
		meta, err := s.searcher.commitAt(ctx, s.consoleDir, sha)
		if err != nil {
			return nil, err
		}
		s.fillCommit(tl, pat, meta)
		tl.Removed = true
		return tl, nil
	}
	tl.NeverExisted = true
	return tl, nil
}

// dateExistingElement dates the last change to an element that is present
// at HEAD, using the pattern that located it.
func (s *Service) dateExistingElement(ctx context.Context, elementID, pattern string) (*schemas.ElementTimeline, error) {
	tl := &schemas.ElementTimeline{ElementID: elementID, ExistsAtHead: true}

	sha, err := s.searcher.pickaxeLast(ctx, s.consoleDir, pattern)
	if err != nil {
		return nil, err
	}
	if sha == "" {
		// Present at HEAD but invisible to the pickaxe happens on shallow
		// or grafted history; report existence without a date.
		tl.MatchedPattern = pattern
		return tl, nil
	}
	meta, err := s.searcher.commitAt(ctx, s.consoleDir, sha)
	if err != nil {
		return nil, err
	}
	s.fillCommit(tl, pattern, meta)
	return tl, nil
}

func (s *Service) fillCommit(tl *schemas.ElementTimeline, pattern string, meta commitMeta) {
	tl.MatchedPattern = pattern
	tl.CommitSHA = meta.SHA
	when := meta.When
	tl.CommitDate = &when
	tl.Author = meta.Author
	tl.Message = meta.Subject
	tl.CommitKind = ClassifyCommitKind(meta.Subject)
}

// annotate turns the comparison's findings into reviewer-facing notes.
func (s *Service) annotate(cmp *schemas.TimelineComparison) {
	console := cmp.Console
	auto := cmp.Automation

	if console != nil && console.Removed && console.CommitDate != nil {
		cmp.Notes = append(cmp.Notes, fmt.Sprintf(
			"element %q was removed from the product by %s (%s, %s)",
			cmp.ElementID, shortSHA(console.CommitSHA),
			console.CommitDate.Format("2006-01-02"), console.CommitKind,
		))
	}
	if console != nil && console.NeverExisted {
		cmp.Notes = append(cmp.Notes, fmt.Sprintf(
			"no product commit ever introduced %q under the probed attributes", cmp.ElementID))
	}
	if cmp.ConsoleChangedAfterAutomation != nil && *cmp.ConsoleChangedAfterAutomation && cmp.DaysDifference != nil {
		cmp.Notes = append(cmp.Notes, fmt.Sprintf(
			"product changed the element %d day(s) after the test last touched the selector", *cmp.DaysDifference))
	}
	if auto != nil && !auto.Found {
		cmp.Notes = append(cmp.Notes, "selector is not present in the automation repository at HEAD")
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

var attrValueRe = regexp.MustCompile(`\[[^\]=]+=\s*['"]?([^'"\]]+)['"]?\]`)

// ExtractElementID reduces a CSS selector to the bare id the product source
// would carry: #policy-status becomes policy-status, [data-testid="row"]
// becomes row. Unrecognized shapes are stripped of selector punctuation.
func ExtractElementID(selector string) string {
	s := strings.TrimSpace(selector)
	if s == "" {
		return ""
	}
	if m := attrValueRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "#") || strings.HasPrefix(s, ".") {
		s = s[1:]
	}
	return strings.Trim(s, `#.[]'" `)
}

var (
	fixPrefixes         = []string{"fix", "revert", "hotfix", "bugfix"}
	intentionalPrefixes = []string{
		"feat", "feature", "refactor", "chore", "style", "perf", "build", "ci", "docs", "test",
	}
)

// ClassifyCommitKind infers commit intent from the subject line prefix,
// Conventional-Commits style. Fix-like prefixes are checked first so that
// "fix" never falls through to a weaker bucket.
func ClassifyCommitKind(message string) schemas.CommitKind {
	subject, _, _ := strings.Cut(message, "\n")
	lower := strings.ToLower(strings.TrimSpace(subject))
	if lower == "" {
		return schemas.CommitAmbiguous
	}
	for _, p := range fixPrefixes {
		if strings.HasPrefix(lower, p) {
			return schemas.CommitFixOrRevert
		}
	}
	for _, p := range intentionalPrefixes {
		if strings.HasPrefix(lower, p) {
			return schemas.CommitIntentionalChange
		}
	}
	return schemas.CommitAmbiguous
}

// hasTimeoutLanguage reports whether a failure's raw text mentions a
// timeout anywhere. Categorization is stricter: Cypress wraps missing
// elements in "Timed out retrying", and those land in element_not_found.
// For build-wide pattern spotting the wording itself is the evidence.
func hasTimeoutLanguage(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out")
}

// AnalyzeTimeoutPattern summarizes how timeout-heavy a build's failure set
// is, scanning each failure's message and stack text. Two or more timeouts
// is a repeated pattern; half or more is a majority and, with an unhealthy
// environment, points away from the individual tests entirely.
func AnalyzeTimeoutPattern(failureTexts []string, envHealthy *bool) schemas.TimeoutPattern {
	p := schemas.TimeoutPattern{TotalFailures: len(failureTexts), EnvHealthy: envHealthy}
	for _, text := range failureTexts {
		if hasTimeoutLanguage(text) {
			p.TimeoutCount++
		}
	}
	p.MultipleTimeouts = p.TimeoutCount >= 2
	p.MajorityTimeouts = p.TotalFailures > 0 && p.TimeoutCount*2 >= p.TotalFailures

	switch {
	case p.MajorityTimeouts && envHealthy != nil && !*envHealthy:
		p.Note = "most failures are timeouts and the environment is unhealthy; suspect infrastructure before individual tests"
	case p.MajorityTimeouts && p.MultipleTimeouts:
		p.Note = "most failures are timeouts; check for a shared slow dependency"
	case p.MultipleTimeouts:
		p.Note = "several timeouts in one build"
	}
	return p
}
