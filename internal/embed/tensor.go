package embed

import (
	"fmt"
	"math"
)

// Tensor is a late-interaction embedding: T rows of dimension D, one row
// per text token or image patch. Rows are L2-normalized before scoring
// and storage; the representative row feeds the ANN index and the full
// sequence feeds MaxSim reranking.
type Tensor struct {
	rows [][]float32
}

// NewTensor wraps a row-major sequence after validating it: at least one
// row, uniform dimension, every value finite.
func NewTensor(rows [][]float32) (Tensor, error) {
	if len(rows) == 0 {
		return Tensor{}, fmt.Errorf("tensor must have at least one row")
	}

	d := len(rows[0])
	if d == 0 {
		return Tensor{}, fmt.Errorf("tensor rows must be non-empty")
	}

	for i, row := range rows {
		if len(row) != d {
			return Tensor{}, fmt.Errorf("row %d has dimension %d, want %d", i, len(row), d)
		}
		for j, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return Tensor{}, fmt.Errorf("row %d column %d is not finite", i, j)
			}
		}
	}

	return Tensor{rows: rows}, nil
}

// ZeroTensor returns a t x d tensor of zeros. Empty text inputs embed to
// a single-row zero tensor rather than an error.
func ZeroTensor(t, d int) Tensor {
	rows := make([][]float32, t)
	for i := range rows {
		rows[i] = make([]float32, d)
	}
	return Tensor{rows: rows}
}

// Len returns T, the number of rows.
func (t Tensor) Len() int {
	return len(t.rows)
}

// Dim returns D, the row dimension. Zero for the zero-value Tensor.
func (t Tensor) Dim() int {
	if len(t.rows) == 0 {
		return 0
	}
	return len(t.rows[0])
}

// Row returns row i without copying.
func (t Tensor) Row(i int) []float32 {
	return t.rows[i]
}

// Rows returns the underlying row-major data without copying.
func (t Tensor) Rows() [][]float32 {
	return t.rows
}

// Repr returns the representative row used for ANN recall. Indexes past
// the last row clamp to it so short sequences still resolve.
func (t Tensor) Repr(idx int) []float32 {
	if len(t.rows) == 0 {
		return nil
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.rows) {
		idx = len(t.rows) - 1
	}
	return t.rows[idx]
}

// NormalizeRows returns a copy with each row scaled to unit length.
// Zero rows are kept as-is.
func (t Tensor) NormalizeRows() Tensor {
	rows := make([][]float32, len(t.rows))
	for i, row := range t.rows {
		rows[i] = normalizeVector(row)
	}
	return Tensor{rows: rows}
}

// IsZero reports whether every value in the tensor is zero.
func (t Tensor) IsZero() bool {
	for _, row := range t.rows {
		for _, v := range row {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

// normalizeVector scales a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
