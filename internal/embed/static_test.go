package embed

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Text tensors
// ============================================================================

func TestStaticProvider_EmbedTexts_Shape(t *testing.T) {
	// Given: static provider
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	// When: I embed a short sentence
	tensors, err := provider.EmbedTexts(context.Background(), []string{"ingestion pipeline status report"})

	// Then: one tensor, aggregate row plus one row per token, 128 wide
	require.NoError(t, err)
	require.Len(t, tensors, 1)
	assert.Equal(t, StaticDimensions, tensors[0].Dim())
	assert.Equal(t, 1+4, tensors[0].Len(), "aggregate row plus four token rows")
}

func TestStaticProvider_EmbedTexts_RowsAreNormalized(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	tensors, err := provider.EmbedTexts(context.Background(), []string{"vector store compaction"})
	require.NoError(t, err)

	for i := 0; i < tensors[0].Len(); i++ {
		magnitude := vectorMagnitude(tensors[0].Row(i))
		assert.InDelta(t, 1.0, magnitude, 0.001, "row %d should be unit length", i)
	}
}

func TestStaticProvider_EmbedTexts_IsDeterministic(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	text := "the search engine fuses visual and text scores"

	first, err1 := provider.EmbedTexts(context.Background(), []string{text})
	second, err2 := provider.EmbedTexts(context.Background(), []string{text})

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first[0].Rows(), second[0].Rows())
}

func TestStaticProvider_EmbedTexts_EmptyString(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	tests := []string{"", "   ", "\n\t"}
	for _, text := range tests {
		tensors, err := provider.EmbedTexts(context.Background(), []string{text})

		require.NoError(t, err)
		require.Len(t, tensors, 1)
		assert.Equal(t, 1, tensors[0].Len(), "empty text is a single-row zero tensor")
		assert.True(t, tensors[0].IsZero())
	}
}

func TestStaticProvider_EmbedTexts_CapsTokenRows(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	// 200 distinct words, far past the row cap.
	var long bytes.Buffer
	for i := 0; i < 200; i++ {
		long.WriteString("word")
		long.WriteByte(byte('a' + i%26))
		long.WriteByte(byte('a' + (i/26)%26))
		long.WriteByte(' ')
	}

	tensors, err := provider.EmbedTexts(context.Background(), []string{long.String()})

	require.NoError(t, err)
	assert.Equal(t, 1+maxTokenRows, tensors[0].Len())
}

func TestStaticProvider_EmbedTexts_StopWordsDoNotAddRows(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	tensors, err := provider.EmbedTexts(context.Background(), []string{"the report of the quarter"})

	require.NoError(t, err)
	// Only "report" and "quarter" survive the stop word filter.
	assert.Equal(t, 1+2, tensors[0].Len())
}

func TestStaticProvider_EmbedTexts_SimilarTextsScoreCloser(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	tensors, err := provider.EmbedTexts(context.Background(), []string{
		"invoice payment overdue notice",
		"overdue invoice payment reminder",
		"penguin colonies in antarctica",
	})
	require.NoError(t, err)

	// Compare aggregate (representative) rows.
	near := cosineSimilarity(tensors[0].Repr(0), tensors[1].Repr(0))
	far := cosineSimilarity(tensors[0].Repr(0), tensors[2].Repr(0))

	assert.Greater(t, near, far)
}

// ============================================================================
// Image tensors
// ============================================================================

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStaticProvider_EmbedImages_Shape(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	tensors, err := provider.EmbedImages(context.Background(), [][]byte{testPNG(t, 8, 8)})

	require.NoError(t, err)
	require.Len(t, tensors, 1)
	assert.Equal(t, imagePatchRows, tensors[0].Len())
	assert.Equal(t, StaticDimensions, tensors[0].Dim())
}

func TestStaticProvider_EmbedImages_IsDeterministic(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	img := testPNG(t, 16, 16)

	first, err1 := provider.EmbedImages(context.Background(), [][]byte{img})
	second, err2 := provider.EmbedImages(context.Background(), [][]byte{img})

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first[0].Rows(), second[0].Rows())
}

func TestStaticProvider_EmbedImages_DistinctBytesDiffer(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	tensors, err := provider.EmbedImages(context.Background(), [][]byte{
		testPNG(t, 8, 8),
		testPNG(t, 9, 9),
	})
	require.NoError(t, err)

	assert.NotEqual(t, tensors[0].Row(0), tensors[1].Row(0))
}

func TestStaticProvider_EmbedImages_RowsAreNormalized(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	tensors, err := provider.EmbedImages(context.Background(), [][]byte{testPNG(t, 8, 8)})
	require.NoError(t, err)

	for i := 0; i < tensors[0].Len(); i++ {
		assert.InDelta(t, 1.0, vectorMagnitude(tensors[0].Row(i)), 0.001)
	}
}

func TestStaticProvider_EmbedImages_RejectsEmptyImage(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	_, err := provider.EmbedImages(context.Background(), [][]byte{{}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "image 0 is empty")
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestStaticProvider_Closed(t *testing.T) {
	provider := NewStaticProvider()
	require.NoError(t, provider.Close())

	_, errText := provider.EmbedTexts(context.Background(), []string{"x"})
	_, errImage := provider.EmbedImages(context.Background(), [][]byte{{1}})

	assert.Error(t, errText)
	assert.Error(t, errImage)
	assert.False(t, provider.Available(context.Background()))
}

func TestStaticProvider_Identity(t *testing.T) {
	provider := NewStaticProvider()
	defer func() { _ = provider.Close() }()

	assert.Equal(t, StaticDimensions, provider.Dimensions())
	assert.Equal(t, "static", provider.ModelName())
	assert.True(t, provider.Available(context.Background()))
}
