package store

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrel-search/petrel/internal/embed"
)

// testLogger returns a logger that swallows output so test runs stay quiet.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mustTensor builds a tensor from raw rows, failing the test on invalid
// input.
func mustTensor(tb testing.TB, rows [][]float32) embed.Tensor {
	tb.Helper()
	tensor, err := embed.NewTensor(rows)
	require.NoError(tb, err)
	return tensor
}

// axisTensor builds a three-row tensor whose first row points along the
// given axis. Row zero doubles as the representative vector, the remaining
// rows carry small distinct values so the full tensor differs from it.
func axisTensor(tb testing.TB, dims, axis int) embed.Tensor {
	tb.Helper()
	rows := make([][]float32, 3)
	for i := range rows {
		rows[i] = make([]float32, dims)
	}
	rows[0][axis] = 1
	rows[1][axis] = 0.5
	rows[1][(axis+1)%dims] = 0.5
	rows[2][(axis+1)%dims] = 0.25
	return mustTensor(tb, rows)
}

// rampTensor builds a deterministic rows x dims tensor seeded by base.
func rampTensor(tb testing.TB, rows, dims int, base float32) embed.Tensor {
	tb.Helper()
	out := make([][]float32, rows)
	for i := range out {
		row := make([]float32, dims)
		for j := range row {
			row[j] = base + float32(i)*0.01 + float32(j)*0.001
		}
		out[i] = row
	}
	return mustTensor(tb, out)
}
