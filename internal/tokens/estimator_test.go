package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateEmpty(t *testing.T) {
	e := New("gpt-4o", nil)
	assert.Equal(t, 0, e.Estimate(""))
}

func TestEstimateGrowsWithText(t *testing.T) {
	// Unknown model falls back to cl100k_base or the character
	// heuristic; either way counts must be positive and monotonic.
	e := New("definitely-not-a-model", nil)

	short := e.Estimate("hello")
	long := e.Estimate("hello world, this is a much longer prompt with many more words in it")

	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestEstimateAll(t *testing.T) {
	e := New("definitely-not-a-model", nil)

	a := e.Estimate("first piece")
	b := e.Estimate("second piece")
	assert.Equal(t, a+b, e.EstimateAll("first piece", "second piece"))
	assert.Equal(t, 0, e.EstimateAll())
}
