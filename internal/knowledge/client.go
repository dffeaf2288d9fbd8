// Package knowledge answers blast-radius questions about product components:
// what a component depends on, what depends on it, and what a set of failing
// components has in common. The graph backend is pluggable and optional; with
// no backend configured every query degrades to empty answers so the rest of
// the analysis keeps working.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"verdict/api/schemas"
)

// maxTraversalDepth caps the dependent walk. Past a few hops the graph stops
// saying anything specific about the failure at hand.
const maxTraversalDepth = 4

// wideImpactThreshold is the transitive-dependent count above which a
// component is flagged as having wide impact.
const wideImpactThreshold = 5

// defaultCacheSize is used when the configured cache size is missing.
const defaultCacheSize = 256

// DependencyGraphQuerier is the backend seam. Implementations answer direct
// dependency queries; traversal and aggregation live in the Client.
type DependencyGraphQuerier interface {
	// Dependencies lists what the component depends on, directly.
	Dependencies(ctx context.Context, component string) ([]string, error)
	// Dependents lists what depends on the component, directly.
	Dependents(ctx context.Context, component string) ([]string, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// Client wraps an optional graph backend with caching and the aggregate
// queries the evidence builder asks. Safe for concurrent use.
type Client struct {
	log        *zap.Logger
	querier    DependencyGraphQuerier
	deps       *lru.Cache[string, []string]
	dependents *lru.Cache[string, []string]
	noteOnce   sync.Once
}

// NewClient builds a Client over the given backend. A nil querier is valid
// and means every graph query answers empty.
func NewClient(log *zap.Logger, querier DependencyGraphQuerier, cacheSize int) (*Client, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	deps, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dependency cache: %w", err)
	}
	dependents, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dependent cache: %w", err)
	}
	return &Client{
		log:        log.Named("knowledge"),
		querier:    querier,
		deps:       deps,
		dependents: dependents,
	}, nil
}

// Available reports whether a graph backend is configured.
func (c *Client) Available() bool { return c.querier != nil }

// Ping verifies backend connectivity; trivially succeeds with no backend.
func (c *Client) Ping(ctx context.Context) error {
	if c.querier == nil {
		return nil
	}
	return c.querier.Ping(ctx)
}

// Dependencies returns the sorted direct dependencies of a component.
func (c *Client) Dependencies(ctx context.Context, component string) ([]string, error) {
	if c.querier == nil {
		c.noteUnavailable()
		return nil, nil
	}
	if cached, ok := c.deps.Get(component); ok {
		return cached, nil
	}
	deps, err := c.querier.Dependencies(ctx, component)
	if err != nil {
		return nil, fmt.Errorf("dependencies of %s: %w", component, err)
	}
	sort.Strings(deps)
	c.deps.Add(component, deps)
	return deps, nil
}

// Dependents returns the sorted direct dependents of a component.
func (c *Client) Dependents(ctx context.Context, component string) ([]string, error) {
	if c.querier == nil {
		c.noteUnavailable()
		return nil, nil
	}
	if cached, ok := c.dependents.Get(component); ok {
		return cached, nil
	}
	deps, err := c.querier.Dependents(ctx, component)
	if err != nil {
		return nil, fmt.Errorf("dependents of %s: %w", component, err)
	}
	sort.Strings(deps)
	c.dependents.Add(component, deps)
	return deps, nil
}

// TransitiveDependents walks the dependent edges breadth-first up to
// maxTraversalDepth hops and returns everything reachable, sorted, excluding
// the component itself. Cycles terminate naturally through the seen set.
func (c *Client) TransitiveDependents(ctx context.Context, component string) ([]string, error) {
	if c.querier == nil {
		c.noteUnavailable()
		return nil, nil
	}
	seen := map[string]struct{}{component: {}}
	frontier := []string{component}
	var out []string
	for depth := 0; depth < maxTraversalDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			direct, err := c.Dependents(ctx, cur)
			if err != nil {
				return nil, err
			}
			for _, d := range direct {
				if _, dup := seen[d]; dup {
					continue
				}
				seen[d] = struct{}{}
				out = append(out, d)
				next = append(next, d)
			}
		}
		frontier = next
	}
	sort.Strings(out)
	return out, nil
}

// CommonDependency finds a direct dependency shared by every listed
// component. With several candidates the lexicographically first wins, so
// repeated runs agree. Empty when fewer than two components are given or
// nothing is shared.
func (c *Client) CommonDependency(ctx context.Context, components []string) (string, error) {
	if c.querier == nil || len(components) < 2 {
		return "", nil
	}
	counts := make(map[string]int)
	for _, comp := range components {
		deps, err := c.Dependencies(ctx, comp)
		if err != nil {
			return "", err
		}
		seen := make(map[string]struct{}, len(deps))
		for _, d := range deps {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			counts[d]++
		}
	}
	var shared []string
	for dep, n := range counts {
		if n == len(components) {
			shared = append(shared, dep)
		}
	}
	if len(shared) == 0 {
		return "", nil
	}
	sort.Strings(shared)
	return shared[0], nil
}

// AnalyzeFailureImpact aggregates the graph's view of a failure's extracted
// components. It never fails: backend errors degrade to a partial analysis
// with a warning in the log, and with no backend the analysis carries the
// extraction-side facts alone.
func (c *Client) AnalyzeFailureImpact(ctx context.Context, extracted []schemas.ExtractedComponent) *schemas.ImpactAnalysis {
	impact := &schemas.ImpactAnalysis{}
	if len(extracted) == 0 {
		return impact
	}

	seenNames := make(map[string]struct{})
	seenSubs := make(map[string]struct{})
	for _, comp := range extracted {
		if _, dup := seenNames[comp.Name]; !dup {
			seenNames[comp.Name] = struct{}{}
			impact.Components = append(impact.Components, comp.Name)
		}
		if comp.Subsystem == "" {
			continue
		}
		if _, dup := seenSubs[comp.Subsystem]; !dup {
			seenSubs[comp.Subsystem] = struct{}{}
			impact.Subsystems = append(impact.Subsystems, comp.Subsystem)
		}
	}

	impact.CrossCutting = len(impact.Subsystems) > 2
	if impact.CrossCutting {
		impact.Warnings = append(impact.Warnings, fmt.Sprintf(
			"implicated components span %d subsystems; the pattern looks cross-cutting rather than a single component",
			len(impact.Subsystems)))
	}

	if c.querier == nil {
		c.noteUnavailable()
		return impact
	}

	if len(impact.Components) >= 2 {
		shared, err := c.CommonDependency(ctx, impact.Components)
		if err != nil {
			c.log.Warn("dependency graph query failed; impact analysis is partial", zap.Error(err))
			return impact
		}
		if shared != "" {
			impact.SharedDependency = shared
			impact.Recommendation = fmt.Sprintf(
				"investigate %s first; %d implicated components depend on it",
				shared, len(impact.Components))
		}
	}

	var busiest string
	for _, name := range impact.Components {
		downstream, err := c.TransitiveDependents(ctx, name)
		if err != nil {
			c.log.Warn("dependency graph query failed; impact analysis is partial", zap.Error(err))
			return impact
		}
		if len(downstream) > impact.DownstreamCount {
			impact.DownstreamCount = len(downstream)
			busiest = name
		}
	}
	if impact.DownstreamCount > wideImpactThreshold {
		impact.Warnings = append(impact.Warnings, fmt.Sprintf(
			"%s has %d transitive dependents; a real regression there has wide impact",
			busiest, impact.DownstreamCount))
	}
	return impact
}

func (c *Client) noteUnavailable() {
	c.noteOnce.Do(func() {
		c.log.Debug("no dependency graph backend configured; impact analysis uses extraction data only")
	})
}
