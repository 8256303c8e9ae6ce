package store

import (
	"time"

	"matchbroker/internal/netaddr"
)

// ServerIdentity is a registered game server account. Servers authenticate
// with an offline-issued authkey and are pinned to the address they
// registered from.
type ServerIdentity struct {
	ID           int64
	AuthKey      string
	RegAddr      netaddr.Pair
	Addr         netaddr.Pair
	Hostname     string
	Location     string
	Banned       bool
	DemosBaseURL string
}

// PlayerIdentity is a persistent player account keyed by login name.
type PlayerIdentity struct {
	ID       int64
	Login    string
	Nickname string
	Addr     netaddr.Pair
	Location string
	Banned   bool
}

// ServerSession is a live game server connection.
type ServerSession struct {
	ID           int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IdentityID   int64
	Addr         netaddr.Pair
	Digest       string
	Port         int
	NextMatchKey string
}

// ClientSession is a live player connection. The ticket fields hold the
// pending connection handshake; ServerSessionID is set once a server
// confirms the client joined.
type ClientSession struct {
	ID              int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IdentityID      int64
	Addr            netaddr.Pair
	Digest          string
	TicketID        int64
	TicketServerID  int64
	TicketIssuedAt  time.Time
	ServerSessionID int64
	Purgable        bool
}

// PendingLogin is a two-phase client login awaiting the external
// authentication callback. Handle is the row id handed to the client for
// polling.
type PendingLogin struct {
	Handle        int64
	CreatedAt     time.Time
	Login         string
	Secret        string
	Ready         bool
	Valid         bool
	ProfileURL    string
	ProfileURLRML string
}

// PlayerStats is a player's accumulated record for one gametype.
type PlayerStats struct {
	IdentityID int64
	GametypeID int64
	Wins       int
	Losses     int
	Quits      int
	Rating     float64
	Deviation  float64
	LastGameAt time.Time
}

// GametypeRating is a (gametype, rating) pair reported back to clients at
// login and connect time.
type GametypeRating struct {
	Gametype  string
	Rating    float64
	Deviation float64
}

// MatchRecord is one finished match ready for persistence, with its teams,
// players and per-player detail rows. Stats updates ride along so the whole
// write is one transaction.
type MatchRecord struct {
	ServerIdentityID int64
	Key              string
	GametypeID       int64
	MapID            int64
	Instagib         bool
	TeamGame         bool
	TimeLimit        int
	ScoreLimit       int
	GameDir          string
	MatchTime        int
	UTCTime          time.Time
	DemoFilename     string
	WinnerTeamIndex  int
	Teams            []MatchTeamRecord
	Players          []MatchPlayerRecord
}

// MatchTeamRecord is one team's final line. Index is the report-side team
// index referenced by MatchPlayerRecord.TeamIndex.
type MatchTeamRecord struct {
	Index int
	Name  string
	Score int
}

// MatchPlayerRecord is one player's final line. SessionID links frag log
// entries between players of the same match; IdentityID is zero for
// anonymous players. Stats is nil when no stats row should be written.
type MatchPlayerRecord struct {
	IdentityID   int64
	SessionID    int64
	TeamIndex    int
	Name         string
	Score        int
	Frags        int
	Deaths       int
	TeamFrags    int
	Suicides     int
	NumRounds    int
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
	TimePlayed   int
	TimeAlive    int
	OldRating    float64
	NewRating    float64
	Winner       bool
	Weapons      []MatchWeaponRecord
	Awards       []MatchAwardRecord
	FragLog      []FragRecord
	Stats        *PlayerStats
}

// MatchWeaponRecord is one player's usage line for one weapon.
type MatchWeaponRecord struct {
	Name        string
	StrongShots int
	StrongHits  int
	StrongDmg   int
	StrongFrags int
	StrongAcc   int
	WeakShots   int
	WeakHits    int
	WeakDmg     int
	WeakFrags   int
	WeakAcc     int
}

// MatchAwardRecord is one award earned by a player, with repeat count.
type MatchAwardRecord struct {
	Name  string
	Count int
}

// FragRecord is one frag log entry. VictimSessionID refers to the match's
// session ids and may be zero for unknown victims.
type FragRecord struct {
	VictimSessionID int64
	Weapon          string
	TimeSec         int
}

// RaceRunRecord is one completed race run with per-sector times in
// milliseconds. The last entry of SectorTimes is the full-run time.
type RaceRunRecord struct {
	ServerIdentityID int64
	IdentityID       int64
	MapID            int64
	UTCTime          time.Time
	SectorTimes      []int64
}
