package game

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickOptions(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	words := []string{"cat", "dog", "sun", "tree", "boat"}

	opts := pickOptions(rng, words, 0, nil, 3)
	assert.Len(t, opts, 3)
	assert.Subset(t, words, opts)

	opts = pickOptions(rng, words, 2, map[string]struct{}{"tree": {}}, 3)
	assert.ElementsMatch(t, []string{"sun", "boat"}, opts, "sliced from the current round and unused only")

	assert.Empty(t, pickOptions(rng, words, 5, nil, 3))
	assert.Empty(t, pickOptions(rng, words, 9, nil, 3))
	assert.Empty(t, pickOptions(rng, []string{"Cat", "cat ", " "}, 0, map[string]struct{}{"cat": {}}, 3))
}

func TestIsCorrectGuess(t *testing.T) {
	assert.True(t, isCorrectGuess("  Apple ", "apple"))
	assert.True(t, isCorrectGuess("STRASSE", "strasse"))
	assert.True(t, isCorrectGuess("Ωμέγα", "ωμέγα"))
	assert.False(t, isCorrectGuess("apples", "apple"))
}

func TestNewRoomCode(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 50; i++ {
		code := newRoomCode(rng)
		assert.Len(t, code, 6)
		assert.Regexp(t, `^[0-9]{6}$`, code)
	}
}
