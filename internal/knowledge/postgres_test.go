package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockGraph(t *testing.T) (*PostgresGraph, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing().WillReturnError(nil)
	g, err := NewPostgresGraph(context.Background(), mock, zaptest.NewLogger(t))
	require.NoError(t, err)
	return g, mock
}

func TestNewPostgresGraphPingFailure(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	pingErr := errors.New("connection refused")
	mock.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgresGraph(context.Background(), mock, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGraphDependencies(t *testing.T) {
	t.Parallel()
	g, mock := newMockGraph(t)

	mock.ExpectQuery("SELECT to_component FROM component_edges").
		WithArgs("search-api").
		WillReturnRows(pgxmock.NewRows([]string{"to_component"}).
			AddRow("redisgraph").
			AddRow("search-postgres"))

	deps, err := g.Dependencies(context.Background(), "search-api")
	require.NoError(t, err)
	assert.Equal(t, []string{"redisgraph", "search-postgres"}, deps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGraphDependents(t *testing.T) {
	t.Parallel()
	g, mock := newMockGraph(t)

	mock.ExpectQuery("SELECT from_component FROM component_edges").
		WithArgs("search-postgres").
		WillReturnRows(pgxmock.NewRows([]string{"from_component"}).
			AddRow("search-api").
			AddRow("search-indexer"))

	dependents, err := g.Dependents(context.Background(), "search-postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"search-api", "search-indexer"}, dependents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGraphNoEdges(t *testing.T) {
	t.Parallel()
	g, mock := newMockGraph(t)

	mock.ExpectQuery("SELECT to_component FROM component_edges").
		WithArgs("orphan").
		WillReturnRows(pgxmock.NewRows([]string{"to_component"}))

	deps, err := g.Dependencies(context.Background(), "orphan")
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGraphQueryFailure(t *testing.T) {
	t.Parallel()
	g, mock := newMockGraph(t)

	mock.ExpectQuery("SELECT to_component FROM component_edges").
		WithArgs("search-api").
		WillReturnError(errors.New("relation does not exist"))

	_, err := g.Dependencies(context.Background(), "search-api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}
