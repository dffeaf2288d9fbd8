package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DBPool abstracts the pgxpool.Pool methods the graph needs, so tests can
// substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresGraph reads the component dependency graph from a Postgres table:
//
//	component_edges(from_component TEXT, to_component TEXT)
//
// where a row means from_component depends on to_component. The table is
// maintained by the platform team's tooling; this side only reads.
type PostgresGraph struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresGraph verifies connectivity and returns the graph backend.
func NewPostgresGraph(ctx context.Context, pool DBPool, log *zap.Logger) (*PostgresGraph, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping dependency graph database: %w", err)
	}
	return &PostgresGraph{
		pool: pool,
		log:  log.Named("knowledge.postgres"),
	}, nil
}

var _ DependencyGraphQuerier = (*PostgresGraph)(nil)

// Dependencies lists what the component directly depends on.
func (p *PostgresGraph) Dependencies(ctx context.Context, component string) ([]string, error) {
	return p.queryColumn(ctx, `
		SELECT to_component FROM component_edges
		WHERE from_component = $1
		ORDER BY to_component;
	`, component)
}

// Dependents lists what directly depends on the component.
func (p *PostgresGraph) Dependents(ctx context.Context, component string) ([]string, error) {
	return p.queryColumn(ctx, `
		SELECT from_component FROM component_edges
		WHERE to_component = $1
		ORDER BY from_component;
	`, component)
}

// Ping verifies the backend is reachable.
func (p *PostgresGraph) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresGraph) queryColumn(ctx context.Context, sql, component string) ([]string, error) {
	rows, err := p.pool.Query(ctx, sql, component)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
