package knowledge

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StaticGraph serves a dependency graph parsed once from a YAML fixture:
//
//	dependencies:
//	  search-api: [search-postgres, redisgraph]
//	  search-indexer: [search-postgres]
//
// Useful for air-gapped runs and for pinning graph answers in CI. Immutable
// after construction, so safe for concurrent use.
type StaticGraph struct {
	dependsOn  map[string][]string
	dependents map[string][]string
}

var _ DependencyGraphQuerier = (*StaticGraph)(nil)

type staticGraphFile struct {
	Dependencies map[string][]string `yaml:"dependencies"`
}

// NewStaticGraph loads the fixture at path.
func NewStaticGraph(path string) (*StaticGraph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dependency graph fixture: %w", err)
	}
	return newStaticGraph(raw)
}

func newStaticGraph(raw []byte) (*StaticGraph, error) {
	var file staticGraphFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse dependency graph fixture: %w", err)
	}

	g := &StaticGraph{
		dependsOn:  make(map[string][]string, len(file.Dependencies)),
		dependents: make(map[string][]string),
	}
	for from, tos := range file.Dependencies {
		for _, to := range tos {
			g.dependsOn[from] = append(g.dependsOn[from], to)
			g.dependents[to] = append(g.dependents[to], from)
		}
	}
	for _, m := range []map[string][]string{g.dependsOn, g.dependents} {
		for k := range m {
			sort.Strings(m[k])
		}
	}
	return g, nil
}

// Dependencies lists what the component directly depends on.
func (g *StaticGraph) Dependencies(_ context.Context, component string) ([]string, error) {
	return append([]string(nil), g.dependsOn[component]...), nil
}

// Dependents lists what directly depends on the component.
func (g *StaticGraph) Dependents(_ context.Context, component string) ([]string, error) {
	return append([]string(nil), g.dependents[component]...), nil
}

// Ping always succeeds; the fixture was validated at load time.
func (g *StaticGraph) Ping(_ context.Context) error { return nil }
