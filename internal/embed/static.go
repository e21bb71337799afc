package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticProvider generates multi-vector embeddings using a hash-based
// approach. Works without external dependencies (no network, no model
// download). Deterministic, fast, reduced semantic quality. Used in tests
// and as the fallback when no inference service is configured.
type StaticProvider struct {
	mu     sync.RWMutex
	closed bool
}

// proseStopWords contains common English function words filtered before
// token rows are generated. They carry no retrieval signal and would
// otherwise dominate the aggregate row of every document.
var proseStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"it": true, "its": true, "this": true, "that": true, "for": true,
	"with": true, "as": true, "by": true, "from": true, "not": true,
}

// Weights for aggregate row generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3

	// maxTokenRows caps the token rows of a text tensor. Overflow tokens
	// still contribute to the aggregate row.
	maxTokenRows = 63

	// imagePatchRows is the fixed row count for image tensors.
	imagePatchRows = 16
)

// tokenRegex matches alphanumeric sequences
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticProvider creates a new static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// Verify interface implementation at compile time
var _ Provider = (*StaticProvider)(nil)

// EmbedTexts generates one tensor per input text. Row 0 aggregates the
// whole text (the CLS-like representative); rows 1..T cover individual
// tokens. Empty input produces a single-row zero tensor.
func (p *StaticProvider) EmbedTexts(ctx context.Context, texts []string) ([]Tensor, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	results := make([]Tensor, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			results[i] = ZeroTensor(1, StaticDimensions)
			continue
		}
		results[i] = p.textTensor(trimmed)
	}

	return results, nil
}

// textTensor builds the token-row tensor for a non-empty text.
func (p *StaticProvider) textTensor(text string) Tensor {
	tokens := filterStopWords(tokenize(text))

	rows := make([][]float32, 0, len(tokens)+1)
	rows = append(rows, normalizeVector(p.aggregateVector(text, tokens)))

	for i, token := range tokens {
		if i >= maxTokenRows {
			break
		}
		rows = append(rows, normalizeVector(p.tokenVector(token)))
	}

	return Tensor{rows: rows}
}

// aggregateVector hashes all tokens and character n-grams of the text
// into one vector. This is the representative row.
func (p *StaticProvider) aggregateVector(text string, tokens []string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokens {
		index := hashToIndex(token, StaticDimensions)
		vector[index] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		index := hashToIndex(ngram, StaticDimensions)
		vector[index] += ngramWeight
	}

	return vector
}

// tokenVector hashes one token and its n-grams into a vector.
func (p *StaticProvider) tokenVector(token string) []float32 {
	vector := make([]float32, StaticDimensions)

	vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	for _, ngram := range extractNgrams(token, ngramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// EmbedImages generates one tensor per image by expanding the SHA-256 of
// the image bytes into a fixed number of pseudo-patch rows. Purely a
// fingerprint: identical bytes match exactly, similar images do not.
func (p *StaticProvider) EmbedImages(ctx context.Context, images [][]byte) ([]Tensor, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	results := make([]Tensor, len(images))
	for i, img := range images {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if len(img) == 0 {
			return nil, fmt.Errorf("image %d is empty", i)
		}

		digest := sha256.Sum256(img)
		rows := make([][]float32, imagePatchRows)
		for r := range rows {
			rows[r] = normalizeVector(expandDigest(digest[:], r, StaticDimensions))
		}
		results[i] = Tensor{rows: rows}
	}

	return results, nil
}

// expandDigest stretches a digest into a d-dimensional vector by hashing
// the digest with a (row, block) counter and mapping each 4-byte group
// onto [-1, 1).
func expandDigest(seed []byte, row, d int) []float32 {
	vector := make([]float32, d)

	var counter [8]byte
	binary.LittleEndian.PutUint32(counter[0:4], uint32(row))

	for i := 0; i < d; {
		binary.LittleEndian.PutUint32(counter[4:8], uint32(i))
		h := sha256.New()
		h.Write(seed)
		h.Write(counter[:])
		block := h.Sum(nil)

		for off := 0; off+4 <= len(block) && i < d; off += 4 {
			u := binary.LittleEndian.Uint32(block[off : off+4])
			vector[i] = float32(u)/float32(1<<31) - 1.0
			i++
		}
	}

	return vector
}

// tokenize splits text into lowercase tokens, splitting camelCase and
// snake_case identifiers so technical documents index their code terms.
func tokenize(text string) []string {
	var tokens []string

	words := tokenRegex.FindAllString(text, -1)
	for _, word := range words {
		for _, t := range splitIdentifier(word) {
			lower := strings.ToLower(t)
			if lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// splitIdentifier splits camelCase and snake_case identifiers.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}

	return splitCamelCase(token)
}

// splitCamelCase splits camelCase identifiers, keeping acronyms whole.
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// filterStopWords removes English function words.
func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !proseStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams prepares text for n-gram extraction.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-character sliding windows.
func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (p *StaticProvider) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (p *StaticProvider) ModelName() string {
	return "static"
}

// Available checks if the provider is ready (always true for static).
func (p *StaticProvider) Available(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Close releases resources.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
