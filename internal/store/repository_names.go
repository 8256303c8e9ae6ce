package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ensureNamedID resolves a name to its row id in one of the registry
// tables, inserting the name on first sight.
func ensureNamedID(ctx context.Context, q querier, table, name string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO `+table+` (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure %s id: %w", table, err)
	}
	return id, nil
}

// GametypeID resolves a gametype name to its registry id, registering
// unknown gametypes.
func (s *Store) GametypeID(ctx context.Context, name string) (int64, error) {
	return ensureNamedID(ctx, s.pool, "gametypes", name)
}

// MapID resolves a map name to its registry id, registering unknown maps.
func (s *Store) MapID(ctx context.Context, name string) (int64, error) {
	return ensureNamedID(ctx, s.pool, "map_names", name)
}
