package embed

import (
	"context"
	"math"
	"strings"
	"sync"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// fakeProvider is a scriptable Provider for wrapper tests. Each text maps
// to a deterministic one-hot tensor so cache equality checks are exact.
type fakeProvider struct {
	mu         sync.Mutex
	dims       int
	model      string
	textCalls  int
	imageCalls int
	textsSeen  [][]string
	textErr    error
	errBudget  int // return textErr for this many calls, then succeed
	precision  string
	closed     bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{dims: 8, model: "fake"}
}

func (f *fakeProvider) EmbedTexts(_ context.Context, texts []string) ([]Tensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.textCalls++
	f.textsSeen = append(f.textsSeen, append([]string(nil), texts...))

	if f.errBudget > 0 && f.textErr != nil {
		f.errBudget--
		return nil, f.textErr
	}

	out := make([]Tensor, len(texts))
	for i, s := range texts {
		out[i] = f.tensorFor(s)
	}
	return out, nil
}

func (f *fakeProvider) EmbedImages(_ context.Context, images [][]byte) ([]Tensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.imageCalls++
	out := make([]Tensor, len(images))
	for i, img := range images {
		out[i] = f.tensorFor(string(img))
	}
	return out, nil
}

func (f *fakeProvider) tensorFor(s string) Tensor {
	if strings.TrimSpace(s) == "" {
		return ZeroTensor(1, f.dims)
	}
	row := make([]float32, f.dims)
	row[hashToIndex(s, f.dims)] = 1
	return Tensor{rows: [][]float32{row}}
}

func (f *fakeProvider) SetPrecision(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.precision = p
}

func (f *fakeProvider) Dimensions() int { return f.dims }

func (f *fakeProvider) ModelName() string { return f.model }

func (f *fakeProvider) Available(_ context.Context) bool { return true }

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeProvider) calls() (texts, images int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls, f.imageCalls
}
