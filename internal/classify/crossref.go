package classify

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"verdict/api/schemas"
)

// ValidationInput bundles a matrix verdict with the evidence the
// cross-reference rules inspect.
type ValidationInput struct {
	Classification schemas.Classification
	Confidence     float64
	Category       schemas.FailureCategory
	Environment    schemas.EnvironmentEvidence
	Selector       schemas.SelectorEvidence
	Console        schemas.ConsoleEvidence
}

// Validator audits a classification against evidence streams the decision
// matrix weighs only indirectly. Every rule runs every time; a rule that
// does not apply returns nil. The strongest correction wins the final
// classification, any review flag marks the package for human eyes, and
// every adjustment is summed into the final confidence.
type Validator struct {
	log *zap.Logger
}

// NewValidator returns a Validator logging under classify.crossref.
func NewValidator(log *zap.Logger) *Validator {
	return &Validator{log: log.Named("classify.crossref")}
}

type rule func(ValidationInput) *schemas.ValidationResult

// rules run in a fixed order so reports read the same way every time.
var rules = []rule{
	ruleConsole500,
	ruleClusterHealth,
	ruleSelectorChange,
	ruleInfraVersusHealthyEnv,
	ruleNetworkConflict,
	ruleAPISupport,
	ruleElementNotFoundCaution,
	ruleTimeoutVersusHealthyEnv,
}

// Validate runs every rule and aggregates their actions into one report.
// It never errors; an input with no applicable rules passes through with
// its classification and confidence untouched.
func (v *Validator) Validate(in ValidationInput) schemas.CrossValidationReport {
	report := schemas.CrossValidationReport{
		FinalClassification: in.Classification,
		FinalConfidence:     in.Confidence,
	}

	var corrections []schemas.ValidationResult
	adjustment := 0.0
	for _, r := range rules {
		res := r(in)
		if res == nil {
			continue
		}
		report.Results = append(report.Results, *res)
		adjustment += res.ConfidenceAdjustment
		switch res.Action {
		case schemas.ActionCorrect:
			corrections = append(corrections, *res)
		case schemas.ActionFlagReview:
			report.NeedsReview = true
		}
		v.log.Debug("cross-reference rule fired",
			zap.String("rule", res.Rule),
			zap.String("action", string(res.Action)),
			zap.Float64("adjustment", res.ConfidenceAdjustment),
		)
	}

	winner := ""
	if len(corrections) > 0 {
		sort.SliceStable(corrections, func(i, j int) bool {
			return corrections[i].ConfidenceAdjustment > corrections[j].ConfidenceAdjustment
		})
		report.FinalClassification = *corrections[0].SuggestedClass
		report.WasCorrected = true
		winner = corrections[0].Rule
	}
	report.FinalConfidence = clamp(in.Confidence+adjustment, 0.10, 0.95)
	report.Summary = validationSummary(in.Classification, report, winner)
	return report
}

func validationSummary(original schemas.Classification, report schemas.CrossValidationReport, winner string) string {
	if len(report.Results) == 0 {
		return "No cross-reference rule fired; the matrix verdict stands."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d cross-reference rule(s) fired.", len(report.Results))
	if report.WasCorrected {
		fmt.Fprintf(&b, " Classification corrected from %s to %s by %s.",
			original, report.FinalClassification, winner)
	}
	if report.NeedsReview {
		b.WriteString(" Flagged for human review.")
	}
	return b.String()
}

func suggest(c schemas.Classification) *schemas.Classification { return &c }

// explicitlyHealthy requires affirmative health data. Review-style rules
// use this instead of the optimistic IsHealthy read so that missing health
// data never flags a verdict on its own.
func explicitlyHealthy(env schemas.EnvironmentEvidence) bool {
	return env.Healthy != nil && *env.Healthy
}

func ruleConsole500(in ValidationInput) *schemas.ValidationResult {
	if !in.Console.Has500Errors {
		return nil
	}
	switch in.Classification {
	case schemas.ClassificationAutomationBug:
		return &schemas.ValidationResult{
			Rule:                 "console_500",
			Action:               schemas.ActionCorrect,
			OriginalClass:        in.Classification,
			SuggestedClass:       suggest(schemas.ClassificationProductBug),
			ConfidenceAdjustment: 0.10,
			Reason:               "console logged 5xx responses while the verdict blamed automation",
		}
	case schemas.ClassificationProductBug:
		return &schemas.ValidationResult{
			Rule:                 "console_500",
			Action:               schemas.ActionBoost,
			OriginalClass:        in.Classification,
			ConfidenceAdjustment: 0.10,
			Reason:               "console 5xx responses corroborate a product fault",
		}
	}
	return nil
}

func ruleClusterHealth(in ValidationInput) *schemas.ValidationResult {
	switch {
	case in.Classification == schemas.ClassificationAutomationBug && !in.Environment.IsHealthy():
		return &schemas.ValidationResult{
			Rule:                 "cluster_health",
			Action:               schemas.ActionCorrect,
			OriginalClass:        in.Classification,
			SuggestedClass:       suggest(schemas.ClassificationInfrastructure),
			ConfidenceAdjustment: 0.15,
			Reason:               "the cluster reported unhealthy while the verdict blamed automation",
		}
	case in.Classification == schemas.ClassificationInfrastructure && !in.Environment.IsAccessible():
		return &schemas.ValidationResult{
			Rule:                 "cluster_health",
			Action:               schemas.ActionBoost,
			OriginalClass:        in.Classification,
			ConfidenceAdjustment: 0.15,
			Reason:               "an unreachable cluster corroborates the infrastructure verdict",
		}
	}
	return nil
}

func ruleSelectorChange(in ValidationInput) *schemas.ValidationResult {
	recentlyChanged := in.Selector.RecentlyChanged != nil && *in.Selector.RecentlyChanged
	if !recentlyChanged {
		return nil
	}
	switch in.Classification {
	case schemas.ClassificationProductBug:
		// Deliberately flag instead of correct: a fresh UI change can break
		// the product and the selector at the same time.
		return &schemas.ValidationResult{
			Rule:                 "selector_change",
			Action:               schemas.ActionFlagReview,
			OriginalClass:        in.Classification,
			SuggestedClass:       suggest(schemas.ClassificationAutomationBug),
			ConfidenceAdjustment: -0.10,
			Reason:               "the failing selector changed recently, which favors a stale-automation reading",
		}
	case schemas.ClassificationAutomationBug:
		return &schemas.ValidationResult{
			Rule:                 "selector_change",
			Action:               schemas.ActionBoost,
			OriginalClass:        in.Classification,
			ConfidenceAdjustment: 0.10,
			Reason:               "a recent selector change corroborates the automation verdict",
		}
	}
	return nil
}

func ruleInfraVersusHealthyEnv(in ValidationInput) *schemas.ValidationResult {
	if in.Classification != schemas.ClassificationInfrastructure {
		return nil
	}
	if !explicitlyHealthy(in.Environment) || !in.Environment.IsAccessible() {
		return nil
	}
	return &schemas.ValidationResult{
		Rule:                 "infrastructure_vs_healthy_env",
		Action:               schemas.ActionFlagReview,
		OriginalClass:        in.Classification,
		ConfidenceAdjustment: -0.15,
		Reason:               "the verdict blames infrastructure but the cluster checks out healthy and reachable",
	}
}

func ruleNetworkConflict(in ValidationInput) *schemas.ValidationResult {
	if in.Classification != schemas.ClassificationAutomationBug || !in.Console.HasNetworkErrors {
		return nil
	}
	return &schemas.ValidationResult{
		Rule:                 "network_conflict",
		Action:               schemas.ActionFlagReview,
		OriginalClass:        in.Classification,
		SuggestedClass:       suggest(schemas.ClassificationInfrastructure),
		ConfidenceAdjustment: -0.10,
		Reason:               "console network errors sit oddly under an automation verdict",
	}
}

func ruleAPISupport(in ValidationInput) *schemas.ValidationResult {
	if in.Classification != schemas.ClassificationProductBug || !in.Console.HasAPIErrors {
		return nil
	}
	return &schemas.ValidationResult{
		Rule:                 "api_support",
		Action:               schemas.ActionBoost,
		OriginalClass:        in.Classification,
		ConfidenceAdjustment: 0.05,
		Reason:               "console API errors corroborate a product fault",
	}
}

func ruleElementNotFoundCaution(in ValidationInput) *schemas.ValidationResult {
	if in.Category != schemas.CategoryElementNotFound {
		return nil
	}
	if in.Selector.Found == nil || *in.Selector.Found {
		return nil
	}
	note := "the timeline comparison is authoritative for missing elements"
	if in.Classification == schemas.ClassificationAutomationBug {
		return &schemas.ValidationResult{
			Rule:                 "element_not_found_caution",
			Action:               schemas.ActionBoost,
			OriginalClass:        in.Classification,
			ConfidenceAdjustment: 0.05,
			Reason:               "the element is genuinely absent from the product source",
			Note:                 note,
		}
	}
	return &schemas.ValidationResult{
		Rule:                 "element_not_found_caution",
		Action:               schemas.ActionFlagReview,
		OriginalClass:        in.Classification,
		SuggestedClass:       suggest(schemas.ClassificationAutomationBug),
		ConfidenceAdjustment: -0.05,
		Reason:               "the element is absent from the product source, which usually means stale automation",
		Note:                 note,
	}
}

func ruleTimeoutVersusHealthyEnv(in ValidationInput) *schemas.ValidationResult {
	if in.Category != schemas.CategoryTimeout || !explicitlyHealthy(in.Environment) {
		return nil
	}
	switch in.Classification {
	case schemas.ClassificationAutomationBug:
		return &schemas.ValidationResult{
			Rule:                 "timeout_vs_healthy_env",
			Action:               schemas.ActionBoost,
			OriginalClass:        in.Classification,
			ConfidenceAdjustment: 0.10,
			Reason:               "a timeout against a verified-healthy cluster corroborates the automation verdict",
		}
	case schemas.ClassificationInfrastructure:
		return &schemas.ValidationResult{
			Rule:                 "timeout_vs_healthy_env",
			Action:               schemas.ActionFlagReview,
			OriginalClass:        in.Classification,
			SuggestedClass:       suggest(schemas.ClassificationAutomationBug),
			ConfidenceAdjustment: -0.10,
			Reason:               "a timeout alone is weak evidence of infrastructure trouble when the cluster is healthy",
		}
	}
	return nil
}
