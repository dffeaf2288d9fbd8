// Package stacktrace parses JavaScript and Cypress stack traces into
// structured frames and pulls the failing CSS selector out of error text.
// Parsing never fails; garbage in produces an empty result, not an error.
package stacktrace

import (
	"regexp"
	"strconv"
	"strings"

	"verdict/api/schemas"
)

// framePattern couples a compiled regex with the submatch index of each
// field it captures. A zero index means the pattern does not capture that
// field.
type framePattern struct {
	name string
	re   *regexp.Regexp
	fn   int
	file int
	line int
	col  int
}

// Parser turns raw stack trace text into schemas.ParsedStackTrace. It is
// stateless and safe for concurrent use; construct once and share.
type Parser struct {
	framePatterns []framePattern

	reTypedError   *regexp.Regexp
	reChaiExpected *regexp.Regexp
	reIdentifier   *regexp.Regexp

	selectorPatterns []*regexp.Regexp
}

// NewParser compiles the frame and selector patterns.
func NewParser() *Parser {
	return &Parser{
		// Ordered most-specific first; the first pattern to match a line
		// wins and the rest are not consulted.
		framePatterns: []framePattern{
			{
				name: "webpack_function",
				re:   regexp.MustCompile(`^\s*at\s+(\S+)\s+\(webpack://[^/)\s]*/(.+?):(\d+):(\d+)\)`),
				fn:   1, file: 2, line: 3, col: 4,
			},
			{
				name: "function_parens",
				re:   regexp.MustCompile(`^\s*at\s+(\S+)\s+\((.+?):(\d+):(\d+)\)`),
				fn:   1, file: 2, line: 3, col: 4,
			},
			{
				name: "anonymous_parens",
				re:   regexp.MustCompile(`^\s*at\s+\((.+?):(\d+):(\d+)\)`),
				file: 1, line: 2, col: 3,
			},
			{
				name: "async_function",
				re:   regexp.MustCompile(`^\s*at\s+async\s+(\S+)\s+\((.+?):(\d+):(\d+)\)`),
				fn:   1, file: 2, line: 3, col: 4,
			},
			{
				name: "bare_location",
				re:   regexp.MustCompile(`^\s*at\s+([^()\s]+):(\d+):(\d+)\s*$`),
				file: 1, line: 2, col: 3,
			},
			{
				name: "spec_code_heading",
				re:   regexp.MustCompile(`(?i)^\s*From Your Spec Code:?\s+(?:at\s+)?\(?([^\s():]+):(\d+)(?::(\d+))?\)?\s*$`),
				file: 1, line: 2, col: 3,
			},
			{
				name: "cypress_parens",
				re:   regexp.MustCompile(`\((cypress/[^():\s]+):(\d+)(?::(\d+))?\)`),
				file: 1, line: 2, col: 3,
			},
		},

		reTypedError:   regexp.MustCompile(`(?m)^\s*([A-Za-z]\w*Error):\s*(.+)$`),
		reChaiExpected: regexp.MustCompile(`(?im)^.*\bexpected\b.*\bto\b.*$`),
		reIdentifier:   regexp.MustCompile(`^[A-Za-z_$][\w$.]*$`),

		selectorPatterns: []*regexp.Regexp{
			// Cypress: Expected to find element: `#submit-btn`, but never found it.
			// One alternative per quote style so selectors may contain the
			// other quote characters.
			regexp.MustCompile("(?i)expected to find (?:element|content):\\s*(?:`([^`]+)`|'([^']+)'|\"([^\"]+)\")"),
			// cy.get('...') / .find('...') arguments.
			regexp.MustCompile(`(?:\bcy\s*\.\s*(?:get|find)|\.(?:get|find))\(\s*['"]([^'"]+)['"]`),
			// "Element not found: #foo" / "selector: .bar" phrasings.
			regexp.MustCompile("(?i)\\b(?:element|selector)\\b[^:\r\n]{0,40}:\\s*[`'\"]?([#.\\[][^\\s`'\",)]+)"),
			// Any quoted token that looks like a selector.
			regexp.MustCompile("[`'\"]\\s*([#.\\[][^`'\"]{1,100}|[^`'\"]{0,40}data-[^`'\"]{1,60})\\s*[`'\"]"),
		},
	}
}

// Parse extracts the error type, message, and deduplicated frames from raw
// stack trace text. Empty or unrecognizable input yields an "Unknown" error
// type with no frames.
func (p *Parser) Parse(raw string) *schemas.ParsedStackTrace {
	out := &schemas.ParsedStackTrace{ErrorType: "Unknown"}
	if strings.TrimSpace(raw) == "" {
		return out
	}

	out.ErrorType, out.ErrorMessage = p.extractError(raw)

	seen := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		frame, ok := p.parseLine(line)
		if !ok {
			continue
		}
		frame.File = normalizePath(frame.File)
		if frame.File == "" || frame.Line <= 0 {
			continue
		}
		// The same source location often shows up in both the webpack and the
		// plain rendering of a trace; the earliest occurrence wins.
		key := frame.File + ":" + strconv.Itoa(frame.Line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		classifyFrame(&frame)
		out.Frames = append(out.Frames, frame)
	}

	p.selectKeyFrames(out)
	out.FailingSelector = p.ExtractFailingSelector(raw)
	return out
}

// parseLine runs the ordered frame patterns over one line.
func (p *Parser) parseLine(line string) (schemas.StackFrame, bool) {
	for _, pat := range p.framePatterns {
		m := pat.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		frame := schemas.StackFrame{Raw: strings.TrimRight(line, "\r")}
		if pat.fn > 0 {
			frame.Function = m[pat.fn]
		}
		frame.File = m[pat.file]
		frame.Line = atoi(m[pat.line])
		if pat.col > 0 && pat.col < len(m) {
			frame.Column = atoi(m[pat.col])
		}
		return frame, true
	}
	return schemas.StackFrame{}, false
}

// extractError finds the error type and first-line message.
func (p *Parser) extractError(raw string) (errType, message string) {
	if m := p.reTypedError.FindStringSubmatch(raw); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}
	// Chai-style assertions ("expected '#x' to be visible") carry no Error
	// prefix but are assertions all the same.
	if m := p.reChaiExpected.FindString(raw); m != "" {
		return "AssertionError", strings.TrimSpace(m)
	}

	firstLine := ""
	for _, line := range strings.Split(raw, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			firstLine = s
			break
		}
	}
	if head, rest, found := strings.Cut(firstLine, ":"); found && p.reIdentifier.MatchString(strings.TrimSpace(head)) {
		return strings.TrimSpace(head), strings.TrimSpace(rest)
	}
	return "Unknown", firstLine
}

// selectKeyFrames picks the root-cause, test-file, and support-file frames.
// Support files (page objects, shared commands) outrank spec files as root
// cause because that is where selector definitions actually live.
func (p *Parser) selectKeyFrames(out *schemas.ParsedStackTrace) {
	if len(out.Frames) == 0 {
		return
	}
	for i := range out.Frames {
		f := &out.Frames[i]
		if out.TestFileFrame == nil && f.IsTestFile {
			out.TestFileFrame = f
		}
		if out.SupportFileFrame == nil && f.IsSupportFile {
			out.SupportFileFrame = f
		}
		if out.RootCause == nil && f.IsSupportFile && !f.IsFrameworkFile {
			out.RootCause = f
		}
	}
	if out.RootCause == nil {
		for i := range out.Frames {
			if !out.Frames[i].IsFrameworkFile {
				out.RootCause = &out.Frames[i]
				break
			}
		}
	}
	if out.RootCause == nil {
		out.RootCause = &out.Frames[0]
	}
}

// ExtractFailingSelector pulls the CSS selector a failure complains about
// out of error text. Returns the empty string when nothing selector-shaped
// is found.
func (p *Parser) ExtractFailingSelector(text string) string {
	if text == "" {
		return ""
	}
	for _, re := range p.selectorPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		candidate := ""
		for _, group := range m[1:] {
			if group != "" {
				candidate = strings.TrimSpace(group)
				break
			}
		}
		if isSelectorLike(candidate) {
			return candidate
		}
	}
	return ""
}

// isSelectorLike accepts candidates that start like a CSS selector or carry
// a data- attribute. Plain words ("button", "submit") are rejected; they are
// more often test prose than selectors.
func isSelectorLike(s string) bool {
	if s == "" || len(s) > 200 {
		return false
	}
	switch s[0] {
	case '#', '.', '[':
		return true
	}
	return strings.Contains(s, "data-")
}

// normalizePath canonicalizes a frame path: webpack prefixes and query
// strings go away, separators become forward slashes, and leading ./ or /
// are trimmed so paths are repo-relative.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if rest, ok := strings.CutPrefix(path, "webpack://"); ok {
		// The first element after the scheme is the webpack package name,
		// not part of the source path.
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[i+1:]
		} else {
			rest = ""
		}
		path = rest
	}
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	path = strings.TrimPrefix(path, "/")
	return strings.TrimSpace(path)
}

// classifyFrame sets the derived booleans used for root-cause selection.
func classifyFrame(f *schemas.StackFrame) {
	lower := strings.ToLower(f.File)

	f.IsTestFile = strings.Contains(lower, "cypress/e2e/") ||
		strings.Contains(lower, "cypress/integration/") ||
		strings.Contains(lower, ".spec.") ||
		strings.Contains(lower, ".cy.")

	f.IsSupportFile = strings.Contains(lower, "cypress/support/") ||
		strings.Contains(lower, "cypress/views/") ||
		strings.Contains(lower, "cypress/pages/") ||
		strings.Contains(lower, "pageobject")

	f.IsFrameworkFile = strings.Contains(lower, "node_modules/") ||
		strings.Contains(lower, "__cypress/") ||
		strings.Contains(lower, "cypress_runner") ||
		strings.Contains(lower, "webpack/bootstrap")
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
