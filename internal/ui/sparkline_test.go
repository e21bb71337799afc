package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparklineEmpty(t *testing.T) {
	s := NewSparkline(10)
	assert.Equal(t, strings.Repeat("▁", 10), s.Render())
}

func TestSparklineScalesToMax(t *testing.T) {
	s := NewSparkline(4)
	s.Add(0)
	s.Add(5)
	s.Add(10)

	out := []rune(s.Render())
	assert.Len(t, out, 4)
	// Highest sample renders the tallest block.
	assert.Equal(t, '█', out[2])
	assert.Equal(t, '▁', out[0])
}

func TestSparklineWrapsOldestFirst(t *testing.T) {
	s := NewSparkline(3)
	for _, v := range []float64{1, 2, 3, 4} {
		s.Add(v)
	}

	// Buffer now holds 2,3,4 with 4 as the newest (rightmost).
	out := []rune(s.Render())
	assert.Equal(t, '█', out[2])
}

func TestSparklineClampsNegative(t *testing.T) {
	s := NewSparkline(2)
	s.Add(-5)
	s.Add(3)
	out := []rune(s.Render())
	assert.Equal(t, '▁', out[0])
}

func TestSparklineReset(t *testing.T) {
	s := NewSparkline(5)
	s.Add(9)
	s.Reset()
	assert.Equal(t, strings.Repeat("▁", 5), s.Render())
}

func TestSparklineDefaultWidth(t *testing.T) {
	s := NewSparkline(0)
	assert.Len(t, []rune(s.Render()), 60)
}
