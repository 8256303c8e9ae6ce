package ingest

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxReportSize caps the decompressed report to keep hostile payloads in
// check.
const maxReportSize = 8 << 20

// Frag log entries carry weapon indexes; names repeat for the instagib
// weapon row.
var weaponNames = []string{
	"gb", "mg", "rg", "gl", "rl", "pg", "lg", "eb", "ig",
	"gb", "mg", "rg", "gl", "rl", "pg", "lg", "eb", "ig",
}

func weaponName(idx int) string {
	if idx < 0 || idx >= len(weaponNames) {
		return ""
	}
	return weaponNames[idx]
}

// flexInt tolerates the report's loose typing: numbers, numeric strings
// and booleans all parse, anything else counts as zero.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch s {
	case "null", "":
		*f = 0
		return nil
	case "true":
		*f = 1
		return nil
	case "false":
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(int64(x))
		return nil
	}
	*f = 0
	return nil
}

func (f flexInt) Int() int { return int(f) }

func (f flexInt) Bool() bool { return f != 0 }

// Report is a fully parsed match report.
type Report struct {
	Gametype     string
	MapName      string
	HostName     string
	TimePlayed   int
	TimeLimit    int
	ScoreLimit   int
	Instagib     bool
	TeamGame     bool
	RaceGame     bool
	Timestamp    int64
	GameDir      string
	DemoFilename string

	Teams   map[int]*Team
	Players []*Player
	Runs    []*RaceRun

	// Winner bookkeeping, filled by the ingest service.
	WinnerTeamIndex int
}

// Team is one team's final line, keyed by its report-side index.
type Team struct {
	Index int
	Name  string
	Score int
}

// Player is one player's final line. Outcome is -1 loss, 0 quit, 1 win.
type Player struct {
	Name       string
	SessionID  int64
	Score      int
	TimePlayed int
	Final      bool
	Outcome    int
	Team       int

	Frags     int
	Deaths    int
	Suicides  int
	NumRounds int
	TeamFrags int

	DmgGiven    int
	DmgTaken    int
	HealthTaken int
	ArmorTaken  int

	GATaken      int
	YATaken      int
	RATaken      int
	MHTaken      int
	UHTaken      int
	QuadsTaken   int
	ShellsTaken  int
	BombsPlanted int
	BombsDefused int
	FlagsCapped  int

	Weapons []Weapon
	Awards  []Award
	FragLog []Frag

	// Filled by the ingest service.
	IdentityID   int64
	OldRating    float64
	NewRating    float64
	NewDeviation float64
}

// Weapon is one player's usage line for one weapon. Accuracies are
// derived from hits and shots, never trusted from the report.
type Weapon struct {
	Name        string
	StrongHits  int
	StrongShots int
	StrongAcc   int
	StrongDmg   int
	StrongFrags int
	WeakHits    int
	WeakShots   int
	WeakAcc     int
	WeakDmg     int
	WeakFrags   int
}

// calculateAccuracies fills the accuracy percentages. Full accuracy is
// only reported as 100 when hits reach shots; partials round half up and
// cap at 99.
func (w *Weapon) calculateAccuracies() {
	w.StrongAcc = accuracy(w.StrongHits, w.StrongShots)
	w.WeakAcc = accuracy(w.WeakHits, w.WeakShots)
}

func accuracy(hits, shots int) int {
	if hits <= 0 {
		return 0
	}
	if hits >= shots {
		return 100
	}
	acc := int(math.Floor(100.0*float64(hits)/float64(shots) + 0.5))
	if acc > 99 {
		acc = 99
	}
	return acc
}

// Award is one award earned by a player.
type Award struct {
	Name  string
	Count int
}

// Frag is one frag log entry.
type Frag struct {
	VictimSessionID int64
	Weapon          string
	TimeSec         int
}

// RaceRun is one completed race run. Times holds sector times in
// milliseconds with the full-run time last.
type RaceRun struct {
	SessionID  int64
	Timestamp  int64
	Times      []int64
	IdentityID int64
}

type rawWeapon struct {
	StrongAcc   flexInt `json:"strong_acc"`
	StrongDmg   flexInt `json:"strong_dmg"`
	StrongFrags flexInt `json:"strong_frags"`
	StrongHits  flexInt `json:"strong_hits"`
	StrongShots flexInt `json:"strong_shots"`
	WeakAcc     flexInt `json:"weak_acc"`
	WeakDmg     flexInt `json:"weak_dmg"`
	WeakFrags   flexInt `json:"weak_frags"`
	WeakHits    flexInt `json:"weak_hits"`
	WeakShots   flexInt `json:"weak_shots"`
}

type rawAward struct {
	Name  *string `json:"name"`
	Count flexInt `json:"count"`
}

type rawFrag struct {
	Victim flexInt `json:"victim"`
	Weapon flexInt `json:"weapon"`
	Time   flexInt `json:"time"`
}

type rawPlayer struct {
	Name         *string              `json:"name"`
	SessionID    flexInt              `json:"sessionid"`
	Team         flexInt              `json:"team"`
	Score        flexInt              `json:"score"`
	TimePlayed   flexInt              `json:"timeplayed"`
	Final        flexInt              `json:"final"`
	Frags        flexInt              `json:"frags"`
	Deaths       flexInt              `json:"deaths"`
	Suicides     flexInt              `json:"suicides"`
	TeamFrags    flexInt              `json:"teamfrags"`
	NumRounds    flexInt              `json:"numrounds"`
	DmgGiven     flexInt              `json:"dmg_given"`
	DmgTaken     flexInt              `json:"dmg_taken"`
	HealthTaken  flexInt              `json:"health_taken"`
	ArmorTaken   flexInt              `json:"armor_taken"`
	GATaken      flexInt              `json:"ga_taken"`
	YATaken      flexInt              `json:"ya_taken"`
	RATaken      flexInt              `json:"ra_taken"`
	MHTaken      flexInt              `json:"mh_taken"`
	UHTaken      flexInt              `json:"uh_taken"`
	QuadsTaken   flexInt              `json:"quads_taken"`
	ShellsTaken  flexInt              `json:"shells_taken"`
	BombsPlanted flexInt              `json:"bombs_planted"`
	BombsDefused flexInt              `json:"bombs_defused"`
	FlagsCapped  flexInt              `json:"flags_capped"`
	Weapons      map[string]rawWeapon `json:"weapons"`
	Awards       []rawAward           `json:"awards"`
	LogFrags     []rawFrag            `json:"log_frags"`
}

type rawTeam struct {
	Name  *string `json:"name"`
	Score flexInt `json:"score"`
	Index flexInt `json:"index"`
}

type rawRun struct {
	SessionID flexInt `json:"session_id"`
	Timestamp flexInt `json:"timestamp"`
	Times     []int64 `json:"times"`
}

type rawMatch struct {
	Gametype     *string `json:"gametype"`
	Map          *string `json:"map"`
	Hostname     *string `json:"hostname"`
	TimePlayed   flexInt `json:"timeplayed"`
	TimeLimit    flexInt `json:"timelimit"`
	ScoreLimit   flexInt `json:"scorelimit"`
	Instagib     flexInt `json:"instagib"`
	TeamGame     flexInt `json:"teamgame"`
	RaceGame     flexInt `json:"racegame"`
	Timestamp    flexInt `json:"timestamp"`
	GameDir      *string `json:"gamedir"`
	DemoFilename *string `json:"demo_filename"`
}

type rawReport struct {
	Match   *rawMatch   `json:"match"`
	Teams   []rawTeam   `json:"teams"`
	Players []rawPlayer `json:"players"`
	Runs    []rawRun    `json:"runs"`
}

// DecodeReportPayload unwraps the wire form of a report: URL-safe base64
// around a zlib-compressed JSON document.
func DecodeReportPayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyReport
	}
	compressed, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		// Tolerate reports sent without padding.
		compressed, err = base64.RawURLEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrBadPayload, err)
		}
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrBadPayload, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, maxReportSize))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrBadPayload, err)
	}
	return data, nil
}

// EncodeReportPayload is the inverse of DecodeReportPayload. Game servers
// do this on their side; it exists for tests and tooling.
func EncodeReportPayload(data []byte) string {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return base64.URLEncoding.EncodeToString(buf.Bytes())
}

// ParseReport parses and validates a decoded report document. Players
// with under one second of play time are dropped. The single validation
// pass reports the first missing field by name.
func ParseReport(data []byte) (*Report, error) {
	if len(data) == 0 {
		return nil, ErrEmptyReport
	}
	var raw rawReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrBadPayload, err)
	}
	if raw.Match == nil {
		return nil, missingField("match")
	}
	m := raw.Match
	teamGame := m.TeamGame.Bool()
	if teamGame && raw.Teams == nil {
		return nil, missingField("teams")
	}
	if raw.Players == nil && raw.Runs == nil {
		return nil, missingField("players")
	}
	if m.TimePlayed.Int() <= 66 {
		return nil, ErrMatchTooShort
	}
	if m.Map == nil {
		return nil, missingField("match.map")
	}
	if m.Hostname == nil {
		return nil, missingField("match.hostname")
	}
	if m.GameDir == nil {
		return nil, missingField("match.gamedir")
	}

	rep := &Report{
		MapName:         *m.Map,
		HostName:        *m.Hostname,
		TimePlayed:      m.TimePlayed.Int(),
		TimeLimit:       m.TimeLimit.Int(),
		ScoreLimit:      m.ScoreLimit.Int(),
		Instagib:        m.Instagib.Bool(),
		TeamGame:        teamGame,
		RaceGame:        m.RaceGame.Bool(),
		Timestamp:       int64(m.Timestamp),
		GameDir:         *m.GameDir,
		Teams:           map[int]*Team{},
		WinnerTeamIndex: -1,
	}
	if m.Gametype != nil {
		rep.Gametype = *m.Gametype
	}
	if m.DemoFilename != nil {
		rep.DemoFilename = *m.DemoFilename
	}

	for _, t := range raw.Teams {
		if t.Name == nil {
			return nil, missingField("team.name")
		}
		team := &Team{Index: t.Index.Int(), Name: *t.Name, Score: t.Score.Int()}
		rep.Teams[team.Index] = team
	}

	for _, p := range raw.Players {
		if p.Name == nil {
			return nil, missingField("player.name")
		}
		if p.TimePlayed.Int() < 1 {
			log.Debug().Int("session", p.SessionID.Int()).Msg("dropping player with no play time")
			continue
		}
		pl := &Player{
			Name:         *p.Name,
			SessionID:    int64(p.SessionID),
			Score:        p.Score.Int(),
			TimePlayed:   p.TimePlayed.Int(),
			Final:        p.Final.Bool(),
			Frags:        p.Frags.Int(),
			Deaths:       p.Deaths.Int(),
			Suicides:     p.Suicides.Int(),
			NumRounds:    p.NumRounds.Int(),
			TeamFrags:    p.TeamFrags.Int(),
			DmgGiven:     p.DmgGiven.Int(),
			DmgTaken:     p.DmgTaken.Int(),
			HealthTaken:  p.HealthTaken.Int(),
			ArmorTaken:   p.ArmorTaken.Int(),
			GATaken:      p.GATaken.Int(),
			YATaken:      p.YATaken.Int(),
			RATaken:      p.RATaken.Int(),
			MHTaken:      p.MHTaken.Int(),
			UHTaken:      p.UHTaken.Int(),
			QuadsTaken:   p.QuadsTaken.Int(),
			ShellsTaken:  p.ShellsTaken.Int(),
			BombsPlanted: p.BombsPlanted.Int(),
			BombsDefused: p.BombsDefused.Int(),
			FlagsCapped:  p.FlagsCapped.Int(),
		}
		if teamGame {
			pl.Team = p.Team.Int()
		} else {
			pl.Team = -1
		}
		// Quitters keep outcome 0; finishers start as losses until the
		// winner pass flips them.
		if pl.Final {
			pl.Outcome = -1
		}

		// Weapon, award and frag detail only matters for registered
		// players.
		if pl.SessionID > 0 {
			for name, w := range p.Weapons {
				weap := Weapon{
					Name:        name,
					StrongHits:  w.StrongHits.Int(),
					StrongShots: w.StrongShots.Int(),
					StrongDmg:   w.StrongDmg.Int(),
					StrongFrags: w.StrongFrags.Int(),
					WeakHits:    w.WeakHits.Int(),
					WeakShots:   w.WeakShots.Int(),
					WeakDmg:     w.WeakDmg.Int(),
					WeakFrags:   w.WeakFrags.Int(),
				}
				weap.calculateAccuracies()
				pl.Weapons = append(pl.Weapons, weap)
			}
			for _, a := range p.Awards {
				if a.Name == nil {
					return nil, missingField("award.name")
				}
				pl.Awards = append(pl.Awards, Award{Name: *a.Name, Count: a.Count.Int()})
			}
			for _, fr := range p.LogFrags {
				pl.FragLog = append(pl.FragLog, Frag{
					VictimSessionID: int64(fr.Victim),
					Weapon:          weaponName(fr.Weapon.Int()),
					TimeSec:         fr.Time.Int(),
				})
			}
		}
		rep.Players = append(rep.Players, pl)
	}

	for _, r := range raw.Runs {
		if r.Times == nil {
			return nil, missingField("racerun.times")
		}
		rep.Runs = append(rep.Runs, &RaceRun{
			SessionID: int64(r.SessionID),
			Timestamp: int64(r.Timestamp),
			Times:     r.Times,
		})
	}
	return rep, nil
}
