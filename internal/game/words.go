package game

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// pickOptions draws up to n distinct words at random from words[offset:],
// skipping any already used this game.
func pickOptions(rng *rand.Rand, words []string, offset int, used map[string]struct{}, n int) []string {
	if offset < 0 || offset >= len(words) || n <= 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var pool []string
	for _, w := range words[offset:] {
		key := normalizeWord(w)
		if key == "" {
			continue
		}
		if _, ok := used[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pool = append(pool, strings.TrimSpace(w))
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

// isCorrectGuess compares case-insensitively under Unicode folding.
func isCorrectGuess(guess, word string) bool {
	return strings.EqualFold(strings.TrimSpace(guess), strings.TrimSpace(word))
}

func newRoomCode(rng *rand.Rand) string {
	return fmt.Sprintf("%06d", rng.IntN(1_000_000))
}
