package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/switchboard/model"
)

// Querier is the minimal database surface the database strategy needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
	Tables(ctx context.Context) ([]string, error)
	Version(ctx context.Context) (string, error)
	Close()
}

// DBOpener opens a Querier for a database connector.
type DBOpener func(ctx context.Context, cfg *model.DatabaseConfig) (Querier, error)

// OpenPostgres opens a pgx pool for the connector. Connections are made
// lazily on first use.
func OpenPostgres(ctx context.Context, cfg *model.DatabaseConfig) (Querier, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("connection_string is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return &pgQuerier{pool: pool}, nil
}

// pgQuerier implements Querier over a pgx pool.
type pgQuerier struct {
	pool *pgxpool.Pool
}

func (q *pgQuerier) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (q *pgQuerier) Tables(ctx context.Context) ([]string, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT table_schema || '.' || table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (q *pgQuerier) Version(ctx context.Context) (string, error) {
	var v string
	err := q.pool.QueryRow(ctx, "SELECT version()").Scan(&v)
	return v, err
}

func (q *pgQuerier) Close() {
	q.pool.Close()
}

type pooled struct {
	dsn string
	q   Querier
}

// databaseStrategy runs queries through one Querier per connector, opened on
// first use and reopened when the connection string changes.
type databaseStrategy struct {
	open  DBOpener
	mu    sync.Mutex
	pools map[string]pooled
}

func newDatabaseStrategy(open DBOpener) *databaseStrategy {
	if open == nil {
		open = OpenPostgres
	}
	return &databaseStrategy{open: open, pools: make(map[string]pooled)}
}

func (s *databaseStrategy) execute(ctx context.Context, conn model.Connector, cfg *model.DatabaseConfig, c call) model.Response {
	if c.action != "query" && c.action != "schema" {
		return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("database connector %s does not support action %q", conn.ID, c.action))
	}

	q, err := s.querier(ctx, conn.ID, cfg)
	if err != nil {
		if resp, done := contextFailure(ctx, "database "+conn.ID); done {
			return resp
		}
		return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("database connector %s: %v", conn.ID, err))
	}

	switch c.action {
	case "query":
		sql := stringParam(c.params, "query")
		if sql == "" {
			sql = stringParam(c.params, "sql")
		}
		if sql == "" {
			return model.Fail(model.ErrBadRequest, "query is required")
		}
		var args []any
		if a, ok := c.params["args"].([]any); ok {
			args = a
		}
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return s.failure(ctx, conn.ID, err)
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		return model.OK(map[string]any{
			"rows":     rows,
			"rowCount": len(rows),
			"query":    sql,
		})

	default:
		tables, err := q.Tables(ctx)
		if err != nil {
			return s.failure(ctx, conn.ID, err)
		}
		version, err := q.Version(ctx)
		if err != nil {
			return s.failure(ctx, conn.ID, err)
		}
		if tables == nil {
			tables = []string{}
		}
		return model.OK(map[string]any{
			"tables":  tables,
			"version": version,
		})
	}
}

func (s *databaseStrategy) failure(ctx context.Context, connectorID string, err error) model.Response {
	if resp, done := contextFailure(ctx, "database "+connectorID); done {
		return resp
	}
	return model.Fail(model.ErrDispatchFailure, err.Error())
}

func (s *databaseStrategy) querier(ctx context.Context, connectorID string, cfg *model.DatabaseConfig) (Querier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pools[connectorID]; ok {
		if p.dsn == cfg.ConnectionString {
			return p.q, nil
		}
		p.q.Close()
		delete(s.pools, connectorID)
	}

	q, err := s.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.pools[connectorID] = pooled{dsn: cfg.ConnectionString, q: q}
	return q, nil
}

// close releases every open Querier.
func (s *databaseStrategy) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pools {
		p.q.Close()
		delete(s.pools, id)
	}
}
