package embed

// MaxSim scores a query tensor against a document tensor: for each query
// row take the best dot product over all document rows, then sum. Rows
// must be L2-normalized. A query row with no positively aligned document
// row contributes zero, which keeps the score non-negative.
func MaxSim(query, doc Tensor) float64 {
	if query.Len() == 0 || doc.Len() == 0 {
		return 0
	}

	var total float64
	for _, q := range query.rows {
		var best float64
		for _, d := range doc.rows {
			if s := dot(q, d); s > best {
				best = s
			}
		}
		total += best
	}
	return total
}

// dot computes the dot product over the shorter of the two vectors.
func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
