package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"matchbroker/internal/skill"
	"matchbroker/internal/store"
)

// maxKeyRetries bounds how often a duplicate match key is re-minted
// before the report is refused.
const maxKeyRetries = 10

// Gateway is the persistence surface the ingest pipeline needs.
// *store.Store implements it.
type Gateway interface {
	TranslateSessionIdentities(ctx context.Context, sessionIDs []int64) (map[int64]int64, error)
	GametypeID(ctx context.Context, name string) (int64, error)
	MapID(ctx context.Context, name string) (int64, error)
	StatsByIdentities(ctx context.Context, identityIDs []int64, gametypeID int64) (map[int64]store.PlayerStats, error)
	MatchKeyExists(ctx context.Context, key string) (bool, error)
	GenerateMatchKey(ctx context.Context, serverSessionID int64) (string, error)
	SaveMatch(ctx context.Context, rec *store.MatchRecord) error
	SaveRaceRuns(ctx context.Context, runs []store.RaceRunRecord) error
	ResolvePurgeObligations(ctx context.Context, serverSessionID int64) error
}

// Service turns submitted match reports into persisted matches, race
// runs and updated player stats.
type Service struct {
	gw        Gateway
	reportDir string
	now       func() time.Time
}

// NewService builds the ingest pipeline. reportDir may be empty to
// disable raw report archiving.
func NewService(gw Gateway, reportDir string) *Service {
	return &Service{
		gw:        gw,
		reportDir: reportDir,
		now:       time.Now,
	}
}

// RatingChange is one player's new rating, reported back to the server.
type RatingChange struct {
	SessionID int64
	Rating    float64
}

// Result is the server-visible outcome of a report submission.
type Result struct {
	Gametype string
	Ratings  []RatingChange
}

// AddReport ingests one encoded match report from the given server
// session. key is the session's expected next match key; duplicates are
// re-keyed up to the retry budget so a replayed report cannot collide
// with a stored match. Purge obligations held by the server are resolved
// on success.
func (s *Service) AddReport(ctx context.Context, serverIdentityID, serverSessionID int64, payload, key string) (*Result, error) {
	data, err := DecodeReportPayload(payload)
	if err != nil {
		return nil, err
	}
	s.archiveReport(serverSessionID, data)

	rep, err := ParseReport(data)
	if err != nil {
		return nil, err
	}

	key, err = s.ensureFreshKey(ctx, serverSessionID, key)
	if err != nil {
		return nil, err
	}

	if rep.RaceGame || len(rep.Runs) > 0 {
		if err := s.saveRace(ctx, serverIdentityID, rep); err != nil {
			return nil, err
		}
		if err := s.gw.ResolvePurgeObligations(ctx, serverSessionID); err != nil {
			return nil, err
		}
		return &Result{Gametype: rep.Gametype}, nil
	}

	gametypeID, err := s.gw.GametypeID(ctx, rep.Gametype)
	if err != nil {
		return nil, err
	}
	mapID, err := s.gw.MapID(ctx, rep.MapName)
	if err != nil {
		return nil, err
	}

	stats, err := s.resolvePlayers(ctx, rep, gametypeID)
	if err != nil {
		return nil, err
	}
	if err := determineWinners(rep); err != nil {
		return nil, err
	}
	if err := s.rate(rep, stats, gametypeID); err != nil {
		return nil, err
	}

	rec := buildRecord(serverIdentityID, key, gametypeID, mapID, rep, stats, s.now())
	if err := s.gw.SaveMatch(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.gw.ResolvePurgeObligations(ctx, serverSessionID); err != nil {
		return nil, err
	}

	res := &Result{Gametype: rep.Gametype}
	for _, p := range rep.Players {
		if p.SessionID > 0 {
			res.Ratings = append(res.Ratings, RatingChange{SessionID: p.SessionID, Rating: p.NewRating})
		}
	}
	log.Info().
		Str("gametype", rep.Gametype).
		Str("map", rep.MapName).
		Int("players", len(rep.Players)).
		Str("key", key).
		Msg("match report saved")
	return res, nil
}

// ensureFreshKey guarantees the report gets a key no stored match holds.
// An empty key (server never asked for one) is minted immediately.
func (s *Service) ensureFreshKey(ctx context.Context, serverSessionID int64, key string) (string, error) {
	for attempt := 0; attempt <= maxKeyRetries; attempt++ {
		if key != "" {
			exists, err := s.gw.MatchKeyExists(ctx, key)
			if err != nil {
				return "", err
			}
			if !exists {
				return key, nil
			}
			log.Warn().Str("key", key).Msg("duplicate match key, reminting")
		}
		fresh, err := s.gw.GenerateMatchKey(ctx, serverSessionID)
		if err != nil {
			return "", err
		}
		key = fresh
	}
	return "", ErrKeyExhausted
}

// resolvePlayers maps session ids to identities and loads their stats,
// defaulting unknown and anonymous players.
func (s *Service) resolvePlayers(ctx context.Context, rep *Report, gametypeID int64) (map[int64]store.PlayerStats, error) {
	var sids []int64
	for _, p := range rep.Players {
		if p.SessionID > 0 {
			sids = append(sids, p.SessionID)
		}
	}
	identities, err := s.gw.TranslateSessionIdentities(ctx, sids)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, id := range identities {
		ids = append(ids, id)
	}
	stats, err := s.gw.StatsByIdentities(ctx, ids, gametypeID)
	if err != nil {
		return nil, err
	}
	for _, p := range rep.Players {
		p.IdentityID = identities[p.SessionID]
	}
	return stats, nil
}

// determineWinners flips the winning side's outcomes. In a team game the
// highest scoring team wins; otherwise the highest scoring player who
// did not quit.
func determineWinners(rep *Report) error {
	if rep.TeamGame {
		// A strict comparison keeps the first team on equal scores.
		best := -1 << 31
		winner := -1
		for idx, t := range rep.Teams {
			if t.Score > best {
				best = t.Score
				winner = idx
			}
		}
		if winner < 0 {
			return ErrNoWinner
		}
		rep.WinnerTeamIndex = winner
		for _, p := range rep.Players {
			if p.Team == winner {
				p.Outcome = -p.Outcome
			}
		}
		return nil
	}

	best := -1 << 31
	var winner *Player
	for _, p := range rep.Players {
		if p.Outcome != 0 && p.Score > best {
			best = p.Score
			winner = p
		}
	}
	if winner == nil {
		return ErrNoWinner
	}
	winner.Outcome = -winner.Outcome
	return nil
}

// rate runs the skill engine over the roster and writes the results back
// into players and their stats.
func (s *Service) rate(rep *Report, stats map[int64]store.PlayerStats, gametypeID int64) error {
	now := s.now().UTC()
	parts := make([]*skill.Participant, len(rep.Players))
	for i, p := range rep.Players {
		part := &skill.Participant{
			Score:      p.Score,
			TimePlayed: p.TimePlayed,
			Rating:     skill.DefaultRating,
			Deviation:  skill.DefaultDeviation,
		}
		if st, ok := stats[p.IdentityID]; ok && p.IdentityID != 0 {
			part.Rating = st.Rating
			part.Deviation = st.Deviation
			part.LastGameAt = st.LastGameAt
		}
		p.OldRating = part.Rating
		parts[i] = part
	}
	if err := skill.Rate(parts, now); err != nil {
		return fmt.Errorf("%w: %v", ErrTooFewPlayers, err)
	}
	for i, p := range rep.Players {
		p.NewRating = parts[i].NewRating
		p.NewDeviation = parts[i].NewDeviation
		if p.IdentityID == 0 {
			continue
		}
		st, ok := stats[p.IdentityID]
		if !ok {
			st = store.PlayerStats{
				IdentityID: p.IdentityID,
				GametypeID: gametypeID,
				Rating:     skill.DefaultRating,
				Deviation:  skill.DefaultDeviation,
			}
		}
		st.Rating = p.NewRating
		st.Deviation = p.NewDeviation
		switch {
		case p.Outcome > 0:
			st.Wins++
		case p.Outcome < 0:
			st.Losses++
		default:
			st.Quits++
		}
		stats[p.IdentityID] = st
	}
	return nil
}

// saveRace persists the race runs of a race report. Runs by anonymous
// players are dropped.
func (s *Service) saveRace(ctx context.Context, serverIdentityID int64, rep *Report) error {
	var sids []int64
	for _, r := range rep.Runs {
		if r.SessionID > 0 {
			sids = append(sids, r.SessionID)
		}
	}
	identities, err := s.gw.TranslateSessionIdentities(ctx, sids)
	if err != nil {
		return err
	}
	mapID, err := s.gw.MapID(ctx, rep.MapName)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	var recs []store.RaceRunRecord
	for _, r := range rep.Runs {
		r.IdentityID = identities[r.SessionID]
		if r.IdentityID == 0 {
			continue
		}
		// Place the run on the wall clock by its age within the match.
		offset := time.Duration(rep.Timestamp-r.Timestamp) * time.Second
		recs = append(recs, store.RaceRunRecord{
			ServerIdentityID: serverIdentityID,
			IdentityID:       r.IdentityID,
			MapID:            mapID,
			UTCTime:          now.Add(-offset),
			SectorTimes:      r.Times,
		})
	}
	if err := s.gw.SaveRaceRuns(ctx, recs); err != nil {
		return err
	}
	log.Info().Int("runs", len(recs)).Str("map", rep.MapName).Msg("race report saved")
	return nil
}

// buildRecord assembles the persistence record for a rated match.
func buildRecord(serverIdentityID int64, key string, gametypeID, mapID int64, rep *Report, stats map[int64]store.PlayerStats, now time.Time) *store.MatchRecord {
	rec := &store.MatchRecord{
		ServerIdentityID: serverIdentityID,
		Key:              key,
		GametypeID:       gametypeID,
		MapID:            mapID,
		Instagib:         rep.Instagib,
		TeamGame:         rep.TeamGame,
		TimeLimit:        rep.TimeLimit,
		ScoreLimit:       rep.ScoreLimit,
		GameDir:          rep.GameDir,
		MatchTime:        rep.TimePlayed,
		UTCTime:          now.UTC(),
		DemoFilename:     rep.DemoFilename,
		WinnerTeamIndex:  rep.WinnerTeamIndex,
	}
	for _, t := range rep.Teams {
		rec.Teams = append(rec.Teams, store.MatchTeamRecord{Index: t.Index, Name: t.Name, Score: t.Score})
	}
	for _, p := range rep.Players {
		mpr := store.MatchPlayerRecord{
			IdentityID:   p.IdentityID,
			SessionID:    p.SessionID,
			TeamIndex:    p.Team,
			Name:         p.Name,
			Score:        p.Score,
			Frags:        p.Frags,
			Deaths:       p.Deaths,
			TeamFrags:    p.TeamFrags,
			Suicides:     p.Suicides,
			NumRounds:    p.NumRounds,
			GATaken:      p.GATaken,
			YATaken:      p.YATaken,
			RATaken:      p.RATaken,
			MHTaken:      p.MHTaken,
			UHTaken:      p.UHTaken,
			QuadsTaken:   p.QuadsTaken,
			ShellsTaken:  p.ShellsTaken,
			BombsPlanted: p.BombsPlanted,
			BombsDefused: p.BombsDefused,
			FlagsCapped:  p.FlagsCapped,
			TimePlayed:   p.TimePlayed,
			OldRating:    p.OldRating,
			NewRating:    p.NewRating,
			Winner:       p.Outcome > 0,
		}
		for _, w := range p.Weapons {
			mpr.Weapons = append(mpr.Weapons, store.MatchWeaponRecord{
				Name:        w.Name,
				StrongShots: w.StrongShots,
				StrongHits:  w.StrongHits,
				StrongDmg:   w.StrongDmg,
				StrongFrags: w.StrongFrags,
				StrongAcc:   w.StrongAcc,
				WeakShots:   w.WeakShots,
				WeakHits:    w.WeakHits,
				WeakDmg:     w.WeakDmg,
				WeakFrags:   w.WeakFrags,
				WeakAcc:     w.WeakAcc,
			})
		}
		for _, a := range p.Awards {
			mpr.Awards = append(mpr.Awards, store.MatchAwardRecord{Name: a.Name, Count: a.Count})
		}
		for _, f := range p.FragLog {
			mpr.FragLog = append(mpr.FragLog, store.FragRecord{
				VictimSessionID: f.VictimSessionID,
				Weapon:          f.Weapon,
				TimeSec:         f.TimeSec,
			})
		}
		if p.IdentityID != 0 {
			if st, ok := stats[p.IdentityID]; ok {
				cp := st
				mpr.Stats = &cp
			}
		}
		rec.Players = append(rec.Players, mpr)
	}
	return rec
}

// archiveReport writes the decoded report to the archive directory when
// one is configured. Failures only log; archiving never blocks ingest.
func (s *Service) archiveReport(serverSessionID int64, data []byte) {
	if s.reportDir == "" {
		return
	}
	name := fmt.Sprintf("report_%d_%d.json", serverSessionID, s.now().UnixNano())
	path := filepath.Join(s.reportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("archive report")
	}
}
