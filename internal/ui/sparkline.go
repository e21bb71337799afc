package ui

import "strings"

// sparkChars are the block characters for sparkline rendering, lowest
// to highest.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-width ring buffer of samples rendered as block
// characters. The monitor uses it for event throughput.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline of the given width. Width defaults
// to 60 samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add appends one sample, evicting the oldest when full.
func (s *Sparkline) Add(value float64) {
	if value < 0 {
		value = 0
	}
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Render returns the sparkline, oldest sample first.
func (s *Sparkline) Render() string {
	width := len(s.samples)
	if s.count == 0 {
		return strings.Repeat(string(sparkChars[0]), width)
	}

	max := 0.0
	for _, v := range s.samples {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		max = 1
	}

	start := 0
	if s.count >= width {
		start = s.head
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := 0; i < width; i++ {
		v := s.samples[(start+i)%width]
		idx := int(v / max * float64(len(sparkChars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}

// Reset clears all samples.
func (s *Sparkline) Reset() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
}
