package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GenerateMatchKey mints a fresh match key for the server session and
// stores it as the session's expected next report key.
func (s *Store) GenerateMatchKey(ctx context.Context, serverSessionID int64) (string, error) {
	key := uuid.NewString()
	tag, err := s.pool.Exec(ctx, `
		UPDATE server_sessions SET updated_at = now(), next_match_key = $2 WHERE id = $1`,
		serverSessionID, key)
	if err != nil {
		return "", fmt.Errorf("generate match key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return key, nil
}

// MatchKeyExists reports whether a match with the given key was already
// recorded.
func (s *Store) MatchKeyExists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM match_results WHERE match_key = $1)`, key).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("match key exists: %w", err)
	}
	return found, nil
}

// SaveMatch writes a finished match and all its detail rows in one
// transaction: result, teams, players, weapons, awards, frag log and the
// stats updates carried by the players.
func (s *Store) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	defer tx.Rollback(ctx)

	var matchID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO match_results (server_identity_id, match_key, gametype_id, map_id, instagib, teamgame,
			timelimit, scorelimit, gamedir, matchtime, utc_time, demo_filename)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		rec.ServerIdentityID, rec.Key, rec.GametypeID, rec.MapID, rec.Instagib, rec.TeamGame,
		rec.TimeLimit, rec.ScoreLimit, rec.GameDir, rec.MatchTime, rec.UTCTime, rec.DemoFilename).Scan(&matchID)
	if err != nil {
		return fmt.Errorf("save match: insert result: %w", err)
	}

	teamRows := make(map[int]int64, len(rec.Teams))
	var winnerTeamRow int64
	for _, t := range rec.Teams {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO match_teams (match_id, name, score) VALUES ($1, $2, $3) RETURNING id`,
			matchID, t.Name, t.Score).Scan(&id)
		if err != nil {
			return fmt.Errorf("save match: insert team: %w", err)
		}
		teamRows[t.Index] = id
		if rec.TeamGame && t.Index == rec.WinnerTeamIndex {
			winnerTeamRow = id
		}
	}

	playerRows := make(map[int64]int64, len(rec.Players))
	var winnerPlayerRow int64
	for i := range rec.Players {
		p := &rec.Players[i]
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO match_players (match_id, identity_id, team_id, name, score, frags, deaths, teamfrags,
				suicides, numrounds, ga_taken, ya_taken, ra_taken, mh_taken, uh_taken, quads_taken,
				shells_taken, bombs_planted, bombs_defused, flags_capped, matchtime, time_alive,
				old_rating, new_rating)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
			RETURNING id`,
			matchID, p.IdentityID, teamRows[p.TeamIndex], p.Name, p.Score, p.Frags, p.Deaths, p.TeamFrags,
			p.Suicides, p.NumRounds, p.GATaken, p.YATaken, p.RATaken, p.MHTaken, p.UHTaken, p.QuadsTaken,
			p.ShellsTaken, p.BombsPlanted, p.BombsDefused, p.FlagsCapped, p.TimePlayed, p.TimeAlive,
			p.OldRating, p.NewRating).Scan(&id)
		if err != nil {
			return fmt.Errorf("save match: insert player: %w", err)
		}
		if p.SessionID > 0 {
			playerRows[p.SessionID] = id
		}
		if !rec.TeamGame && p.Winner && winnerPlayerRow == 0 {
			winnerPlayerRow = id
		}
	}

	weaponIDs := map[string]int64{}
	awardIDs := map[string]int64{}
	for i := range rec.Players {
		p := &rec.Players[i]
		rowID := playerRows[p.SessionID]
		if rowID == 0 || p.IdentityID == 0 {
			continue
		}
		for _, w := range p.Weapons {
			wid, err := cachedNamedID(ctx, tx, "weapons", w.Name, weaponIDs)
			if err != nil {
				return fmt.Errorf("save match: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO match_weapons (match_id, player_id, weapon_id,
					strong_shots, strong_hits, strong_dmg, strong_frags, strong_acc,
					weak_shots, weak_hits, weak_dmg, weak_frags, weak_acc)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				matchID, rowID, wid,
				w.StrongShots, w.StrongHits, w.StrongDmg, w.StrongFrags, w.StrongAcc,
				w.WeakShots, w.WeakHits, w.WeakDmg, w.WeakFrags, w.WeakAcc)
			if err != nil {
				return fmt.Errorf("save match: insert weapon: %w", err)
			}
		}
		for _, a := range p.Awards {
			aid, err := cachedNamedID(ctx, tx, "awards", a.Name, awardIDs)
			if err != nil {
				return fmt.Errorf("save match: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO match_awards (match_id, player_id, award_id, count)
				VALUES ($1, $2, $3, $4)`, matchID, rowID, aid, a.Count)
			if err != nil {
				return fmt.Errorf("save match: insert award: %w", err)
			}
		}
		for _, f := range p.FragLog {
			wid, err := cachedNamedID(ctx, tx, "weapons", f.Weapon, weaponIDs)
			if err != nil {
				return fmt.Errorf("save match: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO frag_log (match_id, attacker_id, victim_id, weapon_id, frag_time)
				VALUES ($1, $2, $3, $4, $5)`,
				matchID, rowID, playerRows[f.VictimSessionID], wid, f.TimeSec)
			if err != nil {
				return fmt.Errorf("save match: insert frag: %w", err)
			}
		}
	}

	if winnerTeamRow != 0 || winnerPlayerRow != 0 {
		_, err := tx.Exec(ctx, `
			UPDATE match_results SET winner_team = $2, winner_player = $3 WHERE id = $1`,
			matchID, winnerTeamRow, winnerPlayerRow)
		if err != nil {
			return fmt.Errorf("save match: set winner: %w", err)
		}
	}

	for i := range rec.Players {
		p := &rec.Players[i]
		if p.Stats == nil || p.IdentityID == 0 {
			continue
		}
		st := p.Stats
		_, err := tx.Exec(ctx, `
			INSERT INTO player_stats (identity_id, gametype_id, wins, losses, quits, rating, deviation)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (identity_id, gametype_id) DO UPDATE
			SET updated_at = now(), wins = $3, losses = $4, quits = $5, rating = $6, deviation = $7`,
			st.IdentityID, st.GametypeID, st.Wins, st.Losses, st.Quits, st.Rating, st.Deviation)
		if err != nil {
			return fmt.Errorf("save match: upsert stats: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	return nil
}

func cachedNamedID(ctx context.Context, tx pgx.Tx, table, name string, cache map[string]int64) (int64, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}
	id, err := ensureNamedID(ctx, tx, table, name)
	if err != nil {
		return 0, err
	}
	cache[name] = id
	return id, nil
}
