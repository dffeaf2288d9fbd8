// Package ingest reads the pipeline's inputs: the analysis document (JSON),
// optional JUnit XML result files, and referenced console log files. It also
// writes the finished evidence package back out. All functions here deal in
// files and bytes; interpretation of the data belongs to the evidence
// builder.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/json-iterator/go"

	"verdict/api/schemas"
)

// jsonAPI matches encoding/json semantics; the speed matters on multi
// megabyte evidence packages.
var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// LoadAnalysisInput parses the analysis input document at path.
func LoadAnalysisInput(path string) (*schemas.AnalysisInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analysis input: %w", err)
	}
	var in schemas.AnalysisInput
	if err := jsonAPI.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse analysis input %s: %w", path, err)
	}
	return &in, nil
}

// ResolveConsoleLines returns the console log lines for a run, reading the
// referenced log file when no inline lines were supplied. Inline lines win
// when both are present.
func ResolveConsoleLines(facts schemas.ConsoleFacts) ([]string, error) {
	if len(facts.LogLines) > 0 || facts.LogFile == "" {
		return facts.LogLines, nil
	}
	f, err := os.Open(facts.LogFile)
	if err != nil {
		return nil, fmt.Errorf("open console log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	// Browser console dumps carry long data-URL lines; give the scanner room.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read console log %s: %w", facts.LogFile, err)
	}
	return lines, nil
}

// MergeFailedTests combines two failed-test lists, deduplicating by test
// name. The base list wins conflicts: a JSON record is richer than the same
// failure re-read from JUnit XML.
func MergeFailedTests(base, extra []schemas.FailedTest) []schemas.FailedTest {
	out := make([]schemas.FailedTest, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base))
	for _, t := range base {
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t)
	}
	for _, t := range extra {
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t)
	}
	return out
}

// WritePackage serializes the evidence package as indented JSON to w.
func WritePackage(w io.Writer, pkg *schemas.EvidencePackage) error {
	data, err := jsonAPI.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal evidence package: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write evidence package: %w", err)
	}
	return nil
}
