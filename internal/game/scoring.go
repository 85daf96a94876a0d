package game

import (
	"cmp"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
)

// GuessScore is the score of the correct guess with 0-indexed rank.
func GuessScore(rank int) int {
	return max(100-10*rank, 10)
}

// DrawerScore rewards the drawer for each correct guess plus the average star
// rating. A round nobody guessed earns nothing.
func DrawerScore(correct int, avgRating float64) int {
	if correct <= 0 {
		return 0
	}
	return correct*10 + int(math.Round(avgRating*6))
}

// AverageRating returns the mean star rating, or 0 without ratings.
func AverageRating(ratings []models.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	total := 0
	for _, r := range ratings {
		total += r.Stars
	}
	return float64(total) / float64(len(ratings))
}

// Ranking is one leaderboard entry. Rank starts at 1.
type Ranking struct {
	UserID uuid.UUID
	Name   string
	Score  int
	Rank   int
}

// Rankings orders participants by score, earlier joiners first on a tie.
func Rankings(parts []models.Participant) []Ranking {
	sorted := slices.Clone(parts)
	slices.SortStableFunc(sorted, func(a, b models.Participant) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	out := make([]Ranking, len(sorted))
	for i, p := range sorted {
		out[i] = Ranking{UserID: p.UserID, Name: p.Name, Score: p.Score, Rank: i + 1}
	}
	return out
}

func countCorrect(guesses []models.Guess) int {
	n := 0
	for _, g := range guesses {
		if g.IsCorrect {
			n++
		}
	}
	return n
}

func drawerScoreKey(roundID string) string { return "drawer:" + roundID }
func guessScoreKey(guessID string) string  { return "guess:" + guessID }
