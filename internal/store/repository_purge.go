package store

import (
	"context"
	"fmt"
)

// AddPurgeObligation records that a client session left the given server
// mid-match. The session must be kept, marked purgable, until the server
// reports the match or logs out.
func (s *Store) AddPurgeObligation(ctx context.Context, sessionID, identityID, serverSessionID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO purge_obligations (session_id, identity_id, server_session_id)
		VALUES ($1, $2, $3)`,
		sessionID, identityID, serverSessionID)
	if err != nil {
		return fmt.Errorf("add purge obligation: %w", err)
	}
	return nil
}

// HasPurgeObligation reports whether any server still holds the given
// client session for an unreported match.
func (s *Store) HasPurgeObligation(ctx context.Context, sessionID, identityID int64) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM purge_obligations WHERE session_id = $1 AND identity_id = $2
		)`, sessionID, identityID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("has purge obligation: %w", err)
	}
	return found, nil
}

// ResolvePurgeObligations drops all obligations held by a server session
// and deletes the purgable client sessions nothing else holds anymore.
func (s *Store) ResolvePurgeObligations(ctx context.Context, serverSessionID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("resolve purge obligations: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		DELETE FROM purge_obligations WHERE server_session_id = $1
		RETURNING session_id`, serverSessionID)
	if err != nil {
		return fmt.Errorf("resolve purge obligations: %w", err)
	}
	seen := map[int64]struct{}{}
	for rows.Next() {
		var sid int64
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return fmt.Errorf("resolve purge obligations: %w", err)
		}
		seen[sid] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("resolve purge obligations: %w", err)
	}

	for sid := range seen {
		_, err := tx.Exec(ctx, `
			DELETE FROM client_sessions
			WHERE id = $1 AND purgable
			  AND NOT EXISTS (SELECT 1 FROM purge_obligations WHERE session_id = $1)`, sid)
		if err != nil {
			return fmt.Errorf("resolve purge obligations: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("resolve purge obligations: %w", err)
	}
	return nil
}
