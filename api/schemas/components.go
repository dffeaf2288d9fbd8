package schemas

// -- Component Schemas --

// ComponentSource identifies which evidence stream a component mention came
// from. Extraction order is error message, then stack trace, then console
// log, and the first source to mention a component owns it.
type ComponentSource string

const (
	SourceErrorMessage ComponentSource = "error_message"
	SourceStackTrace   ComponentSource = "stack_trace"
	SourceConsoleLog   ComponentSource = "console_log"
)

// ExtractedComponent is one product component mentioned somewhere in the
// failure evidence, resolved against the controlled vocabulary.
type ExtractedComponent struct {
	Name      string          `json:"name"`
	Subsystem string          `json:"subsystem,omitempty"`
	Source    ComponentSource `json:"source"`
	// Context is a short snippet around the mention, for reviewers.
	Context string `json:"context,omitempty"`
}

// ImpactAnalysis is the knowledge-graph view of a failure: which components
// were implicated, what they share, and how far the blast radius reaches.
// All fields degrade to empty when no graph backend is configured.
type ImpactAnalysis struct {
	Components []string `json:"components,omitempty"`
	Subsystems []string `json:"subsystems,omitempty"`

	// SharedDependency names a component that everything implicated depends
	// on; when several components fail together it is the first place to look.
	SharedDependency string `json:"shared_dependency,omitempty"`

	// DownstreamCount is the largest transitive-dependent count among the
	// implicated components.
	DownstreamCount int `json:"downstream_count"`

	// CrossCutting is set when the implicated components span more than two
	// subsystems, which usually points at infrastructure rather than any
	// single component.
	CrossCutting bool `json:"cross_cutting"`

	Recommendation string   `json:"recommendation,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}
