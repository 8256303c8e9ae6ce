package store

import (
	"context"
	"fmt"
)

// SaveRaceRuns writes a batch of completed race runs with their sector
// times. All runs of one report share a transaction.
func (s *Store) SaveRaceRuns(ctx context.Context, runs []RaceRunRecord) error {
	if len(runs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save race runs: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, run := range runs {
		var runID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO race_runs (server_identity_id, identity_id, map_id, utc_time)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			run.ServerIdentityID, run.IdentityID, run.MapID, run.UTCTime).Scan(&runID)
		if err != nil {
			return fmt.Errorf("save race runs: insert run: %w", err)
		}
		// Sector -1 is the full-run time, stored last in SectorTimes.
		for i, ms := range run.SectorTimes {
			sector := i
			if i == len(run.SectorTimes)-1 {
				sector = -1
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO race_sectors (run_id, sector, time_ms)
				VALUES ($1, $2, $3)`, runID, sector, ms)
			if err != nil {
				return fmt.Errorf("save race runs: insert sector: %w", err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save race runs: %w", err)
	}
	return nil
}
