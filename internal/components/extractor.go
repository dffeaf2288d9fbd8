// Package components resolves free-form failure text against a controlled
// vocabulary of platform component names. The vocabulary is embedded at
// build time and grouped by subsystem, so downstream consumers can reason
// about blast radius without re-parsing log text.
package components

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"verdict/api/schemas"
)

//go:embed components.yaml
var registryYAML []byte

type registryData struct {
	Subsystems map[string][]string `yaml:"subsystems"`
}

// contextRadius is how many bytes around a mention are kept as reviewer
// context.
const contextRadius = 40

// Extractor recognizes known component names in failure text. It is
// immutable after construction and safe for concurrent use.
type Extractor struct {
	re        *regexp.Regexp
	canonical map[string]string
	subsystem map[string]string
}

// NewExtractor compiles the embedded component registry into a single
// matcher. The registry ships inside the binary, so a failure to load it
// is a build defect and panics.
func NewExtractor() *Extractor {
	var reg registryData
	if err := yaml.Unmarshal(registryYAML, &reg); err != nil {
		panic(fmt.Sprintf("load components.yaml: %v", err))
	}

	canonical := make(map[string]string)
	subsystem := make(map[string]string)
	names := make([]string, 0, 64)
	for sub, list := range reg.Subsystems {
		for _, name := range list {
			lower := strings.ToLower(name)
			if _, dup := canonical[lower]; dup {
				panic(fmt.Sprintf("components.yaml: duplicate component %q", name))
			}
			canonical[lower] = name
			subsystem[lower] = sub
			names = append(names, lower)
		}
	}

	// Longer names first so cluster-manager-webhook wins over
	// cluster-manager when both start at the same offset.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}

	return &Extractor{
		re:        regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
		canonical: canonical,
		subsystem: subsystem,
	}
}

// FromError scans a failure message.
func (e *Extractor) FromError(message string) []schemas.ExtractedComponent {
	return e.scan(message, schemas.SourceErrorMessage)
}

// FromStackTrace scans the parsed trace, both its error message and the raw
// frame lines. File paths in console repositories are often named after the
// component they render.
func (e *Extractor) FromStackTrace(parsed *schemas.ParsedStackTrace) []schemas.ExtractedComponent {
	if parsed == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString(parsed.ErrorMessage)
	for _, frame := range parsed.Frames {
		b.WriteByte('\n')
		b.WriteString(frame.Raw)
	}
	return e.scan(b.String(), schemas.SourceStackTrace)
}

// FromConsoleLog scans browser console lines. Mentions are deduplicated
// across lines; the first line to name a component owns it.
func (e *Extractor) FromConsoleLog(lines []string) []schemas.ExtractedComponent {
	var out []schemas.ExtractedComponent
	seen := make(map[string]struct{})
	for _, line := range lines {
		for _, c := range e.scan(line, schemas.SourceConsoleLog) {
			if _, dup := seen[c.Name]; dup {
				continue
			}
			seen[c.Name] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// AllFromTestFailure runs all three scans in evidence order and returns one
// entry per component. A component named by both the error message and the
// console log is reported once, attributed to the error message.
func (e *Extractor) AllFromTestFailure(errorMessage string, parsed *schemas.ParsedStackTrace, consoleLines []string) []schemas.ExtractedComponent {
	var out []schemas.ExtractedComponent
	seen := make(map[string]struct{})
	add := func(batch []schemas.ExtractedComponent) {
		for _, c := range batch {
			if _, dup := seen[c.Name]; dup {
				continue
			}
			seen[c.Name] = struct{}{}
			out = append(out, c)
		}
	}
	add(e.FromError(errorMessage))
	add(e.FromStackTrace(parsed))
	add(e.FromConsoleLog(consoleLines))
	return out
}

// Subsystem returns the subsystem a component belongs to, or the empty
// string for names outside the registry.
func (e *Extractor) Subsystem(component string) string {
	return e.subsystem[strings.ToLower(component)]
}

// scan finds every registry mention in text, first occurrence per component.
func (e *Extractor) scan(text string, source schemas.ComponentSource) []schemas.ExtractedComponent {
	if text == "" {
		return nil
	}
	var out []schemas.ExtractedComponent
	seen := make(map[string]struct{})
	for _, loc := range e.re.FindAllStringIndex(text, -1) {
		lower := strings.ToLower(text[loc[0]:loc[1]])
		name := e.canonical[lower]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, schemas.ExtractedComponent{
			Name:      name,
			Subsystem: e.subsystem[lower],
			Source:    source,
			Context:   contextAround(text, loc[0], loc[1]),
		})
	}
	return out
}

// contextAround clips the text surrounding a mention and collapses runs of
// whitespace so multi-line snippets stay readable in reports.
func contextAround(text string, start, end int) string {
	from := start - contextRadius
	if from < 0 {
		from = 0
	}
	to := end + contextRadius
	if to > len(text) {
		to = len(text)
	}
	return strings.Join(strings.Fields(text[from:to]), " ")
}
