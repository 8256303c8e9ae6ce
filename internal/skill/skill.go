// Package skill turns a finished match roster into updated rating and
// deviation values. It is pure: no I/O, no clock other than the caller's.
package skill

import (
	"errors"
	"math"
	"sort"
	"time"
)

const (
	DefaultRating    = 0.0
	DefaultDeviation = 1.0

	MaxDeviation = 1.0
	MinDeviation = 0.1

	// deviationScale sets the grow/shrink threshold of 0.5 on |gain|.
	deviationScale = 0.1

	// DefaultT normalizes rating differences in the win-probability curve.
	DefaultT = 400.0

	// logisticScale makes the logistic CDF track the normal CDF closely.
	logisticScale = 1.6666666666666667

	// periodHours caps how much inactivity widens deviation.
	periodHours = 24.0 * 30.0
)

// Beta bounds the rating swing of a single match.
var Beta = DefaultT / math.Sqrt2

var ErrTooFewParticipants = errors.New("too few participants")

// Participant carries one player's pre-match state in and post-match state
// out. Score and TimePlayed come from the report; TimePlayed must be >= 1.
type Participant struct {
	Score      int
	TimePlayed int
	Rating     float64
	Deviation  float64
	LastGameAt time.Time

	// Written by Rate.
	Rank         int
	NewRating    float64
	NewDeviation float64
}

// Rate computes ranks, expected scores and new rating/deviation for every
// participant. The roster is mutated in place.
func Rate(players []*Participant, now time.Time) error {
	if len(players) < 2 {
		return ErrTooFewParticipants
	}

	decayDeviations(players, now)
	rankPlayers(players)
	points := pointsPerRank(players)
	expected := expectedScores(players)

	for i, p := range players {
		gain := points[p.Rank] - expected[i]
		p.NewRating = p.Rating + gain*p.Deviation*Beta

		d := p.Deviation * ((1 - deviationScale) + deviationScale*2.0*math.Abs(gain))
		p.NewDeviation = clampDeviation(d)
	}
	return nil
}

// WinProbability is the chance that a player rated a beats one rated b.
func WinProbability(a, b float64) float64 {
	return logisticCDF((a - b) / DefaultT)
}

func logisticCDF(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x*logisticScale))
}

// decayDeviations widens each deviation toward MaxDeviation in proportion
// to the hours since the player's last game, capped at one full period.
func decayDeviations(players []*Participant, now time.Time) {
	for _, p := range players {
		hours := now.Sub(p.LastGameAt).Hours()
		if hours > periodHours {
			hours = periodHours
		}
		p.Deviation *= math.Pow(MaxDeviation/MinDeviation, hours/periodHours)
		p.Deviation = clampDeviation(p.Deviation)
	}
}

// rankPlayers orders by score per second played, descending. Equal ratios
// share a rank and the next distinct ratio takes the next rank (dense
// ranking, no gaps).
func rankPlayers(players []*Participant) {
	sorted := make([]*Participant, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ratio(sorted[i]) > ratio(sorted[j])
	})

	rank := 0
	last := ratio(sorted[0])
	for _, p := range sorted {
		r := ratio(p)
		if r != last {
			last = r
			rank++
		}
		p.Rank = rank
	}
}

// pointsPerRank assigns each rank a value in [0,1]: last place 0, first
// place 1, linear in between. A rank shared by k players gets the mean of
// the k raw position values it spans.
func pointsPerRank(players []*Participant) []float64 {
	n := len(players)

	sorted := make([]*Participant, n)
	copy(sorted, players)
	// Worst rank first, so raw value i/(n-1) grows toward the winner.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rank > sorted[j].Rank
	})

	points := make([]float64, n)
	tied := make([]int, n)
	for i, p := range sorted {
		points[p.Rank] += float64(i) / float64(n-1)
		tied[p.Rank]++
	}
	for r := range points {
		if tied[r] > 1 {
			points[r] /= float64(tied[r])
		}
	}
	return points
}

// expectedScores averages each player's pairwise win probability against
// every other player.
func expectedScores(players []*Participant) []float64 {
	n := len(players)
	probs := make([]float64, n*n)
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			e := WinProbability(players[i].Rating, players[j].Rating)
			probs[i*n+j] = e
			probs[j*n+i] = 1.0 - e
		}
	}

	expected := make([]float64, n)
	scale := 1.0 / float64(n-1)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sum += probs[i*n+j]
		}
		expected[i] = sum * scale
	}
	return expected
}

func ratio(p *Participant) float64 {
	return float64(p.Score) / float64(p.TimePlayed)
}

func clampDeviation(d float64) float64 {
	return math.Min(MaxDeviation, math.Max(MinDeviation, d))
}
