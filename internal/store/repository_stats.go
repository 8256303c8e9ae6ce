package store

import (
	"context"
	"fmt"
	"time"
)

// StatsByIdentities loads the stats rows of the given player identities
// for one gametype, with each player's last rated match time filled in.
// Identities with no stats row yet are absent from the result.
func (s *Store) StatsByIdentities(ctx context.Context, identityIDs []int64, gametypeID int64) (map[int64]PlayerStats, error) {
	out := make(map[int64]PlayerStats, len(identityIDs))
	if len(identityIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT identity_id, gametype_id, wins, losses, quits, rating, deviation, updated_at
		FROM player_stats
		WHERE gametype_id = $2 AND identity_id = ANY($1)`,
		identityIDs, gametypeID)
	if err != nil {
		return nil, fmt.Errorf("stats by identities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ps PlayerStats
		if err := rows.Scan(&ps.IdentityID, &ps.GametypeID, &ps.Wins, &ps.Losses, &ps.Quits, &ps.Rating, &ps.Deviation, &ps.LastGameAt); err != nil {
			return nil, fmt.Errorf("stats by identities: %w", err)
		}
		out[ps.IdentityID] = ps
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats by identities: %w", err)
	}

	last, err := s.lastMatchTimes(ctx, identityIDs, gametypeID)
	if err != nil {
		return nil, err
	}
	for id, t := range last {
		if ps, ok := out[id]; ok {
			ps.LastGameAt = t
			out[id] = ps
		}
	}
	return out, nil
}

// lastMatchTimes returns, per identity, the UTC time of the most recent
// match of the given gametype the player appeared in.
func (s *Store) lastMatchTimes(ctx context.Context, identityIDs []int64, gametypeID int64) (map[int64]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mp.identity_id, MAX(mr.utc_time)
		FROM match_players mp
		JOIN match_results mr ON mr.id = mp.match_id
		WHERE mr.gametype_id = $2 AND mp.identity_id = ANY($1)
		GROUP BY mp.identity_id`,
		identityIDs, gametypeID)
	if err != nil {
		return nil, fmt.Errorf("last match times: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]time.Time, len(identityIDs))
	for rows.Next() {
		var id int64
		var t time.Time
		if err := rows.Scan(&id, &t); err != nil {
			return nil, fmt.Errorf("last match times: %w", err)
		}
		out[id] = t
	}
	return out, rows.Err()
}

// RatingsByIdentity returns a player's rating in every gametype they have
// stats for, named by gametype.
func (s *Store) RatingsByIdentity(ctx context.Context, identityID int64) ([]GametypeRating, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT gt.name, ps.rating, ps.deviation
		FROM player_stats ps
		JOIN gametypes gt ON gt.id = ps.gametype_id
		WHERE ps.identity_id = $1
		ORDER BY gt.name`, identityID)
	if err != nil {
		return nil, fmt.Errorf("ratings by identity: %w", err)
	}
	defer rows.Close()
	var out []GametypeRating
	for rows.Next() {
		var gr GametypeRating
		if err := rows.Scan(&gr.Gametype, &gr.Rating, &gr.Deviation); err != nil {
			return nil, fmt.Errorf("ratings by identity: %w", err)
		}
		out = append(out, gr)
	}
	return out, rows.Err()
}
