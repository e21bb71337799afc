package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_Format(t *testing.T) {
	assert.Equal(t, "abc123:p:4", RecordID("abc123", CollectionVisual, 4))
	assert.Equal(t, "abc123:c:0", RecordID("abc123", CollectionText, 0))
}

func TestSplitRecordID_RoundTrip(t *testing.T) {
	id := RecordID("abc123", CollectionText, 17)

	docID, c, index, err := SplitRecordID(id)
	require.NoError(t, err)
	assert.Equal(t, "abc123", docID)
	assert.Equal(t, CollectionText, c)
	assert.Equal(t, 17, index)
}

func TestSplitRecordID_Malformed(t *testing.T) {
	cases := []struct {
		name string
		id   string
	}{
		{"missing parts", "abc123:p"},
		{"too many parts", "abc:123:p:4"},
		{"unknown kind", "abc123:x:4"},
		{"non-numeric index", "abc123:p:four"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := SplitRecordID(tc.id)
			assert.Error(t, err)
		})
	}
}

func TestCollection_Valid(t *testing.T) {
	assert.True(t, CollectionVisual.Valid())
	assert.True(t, CollectionText.Valid())
	assert.False(t, Collection("audio").Valid())
	assert.False(t, Collection("").Valid())
}

func TestCollection_Kind(t *testing.T) {
	assert.Equal(t, "p", CollectionVisual.Kind())
	assert.Equal(t, "c", CollectionText.Kind())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data/index", 128)

	assert.Equal(t, "/data/index", cfg.Dir)
	assert.Equal(t, 128, cfg.Dimensions)
	assert.Equal(t, "fp16", cfg.Precision)
	assert.Equal(t, 0, cfg.ReprIndex)
	assert.Equal(t, 32, cfg.M)
	assert.Equal(t, 64, cfg.EfSearch)
}

func TestErrDimensionMismatch_Message(t *testing.T) {
	err := ErrDimensionMismatch{Expected: 128, Got: 64}
	assert.Equal(t, "dimension mismatch: expected 128, got 64", err.Error())
}
