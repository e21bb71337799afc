package search

import (
	"sort"

	"github.com/petrel-search/petrel/internal/store"
)

// Fusion weights for documents present in both collections. Visual
// evidence carries slightly more weight than extracted text.
const (
	weightVisual = 0.55
	weightText   = 0.45
)

// candidate is one reranked record: the stage-1 cosine it was recalled
// with, its absolute stage-2 MaxSim, and the collection-normalized form
// of that score.
type candidate struct {
	id        string
	kind      store.Collection
	index     int
	reprScore float64
	maxSim    float64
	norm      float64
	meta      store.Meta
}

func (c *candidate) hit() Hit {
	return Hit{
		RecordID:  c.id,
		Kind:      c.kind,
		Index:     c.index,
		ReprScore: c.reprScore,
		MaxSim:    c.maxSim,
		Meta:      c.meta,
	}
}

// normalize rescales each candidate's MaxSim by the collection's top
// stage-1 cosine, making the two collections' scores comparable. A
// non-positive top leaves scores absolute.
func normalize(cands []candidate, top float64) {
	for i := range cands {
		if top > 0 {
			cands[i].norm = cands[i].maxSim / top
		} else {
			cands[i].norm = cands[i].maxSim
		}
	}
}

// topScore returns the best stage-1 cosine in a recall set.
func topScore(results []store.SearchResult) float64 {
	var top float64
	for _, r := range results {
		if r.Score > top {
			top = r.Score
		}
	}
	return top
}

// fusedDoc collapses a document to its best record per collection.
type fusedDoc struct {
	docID  string
	visual *candidate
	text   *candidate
}

// score is the weighted combination when both collections found the
// document, or the single normalized score otherwise.
func (d *fusedDoc) score() float64 {
	switch {
	case d.visual != nil && d.text != nil:
		return weightVisual*d.visual.norm + weightText*d.text.norm
	case d.visual != nil:
		return d.visual.norm
	default:
		return d.text.norm
	}
}

// primary is the higher-scoring record. Ties keep the visual record,
// matching the fusion weights.
func (d *fusedDoc) primary() *candidate {
	if d.visual == nil {
		return d.text
	}
	if d.text == nil {
		return d.visual
	}
	if d.text.norm > d.visual.norm {
		return d.text
	}
	return d.visual
}

// other returns the record that is not the primary, or nil.
func (d *fusedDoc) other(primary *candidate) *candidate {
	if d.visual != nil && d.visual != primary {
		return d.visual
	}
	if d.text != nil && d.text != primary {
		return d.text
	}
	return nil
}

type rankedDoc struct {
	doc     *fusedDoc
	score   float64
	primary *candidate
}

// lessRanked orders documents best-first: fused score, then the primary
// record's absolute MaxSim, then recency, then document ID.
func lessRanked(a, b rankedDoc) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.primary.maxSim != b.primary.maxSim {
		return a.primary.maxSim > b.primary.maxSim
	}
	at, bt := a.primary.meta.CreatedAt, b.primary.meta.CreatedAt
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.doc.docID < b.doc.docID
}

// fuse merges the two collections' candidates per document, ranks the
// documents, and returns the top k results. Candidates must already be
// normalized.
func fuse(visual, text []candidate, k int) []Result {
	docs := make(map[string]*fusedDoc, len(visual)+len(text))
	getOrCreate := func(docID string) *fusedDoc {
		d, ok := docs[docID]
		if !ok {
			d = &fusedDoc{docID: docID}
			docs[docID] = d
		}
		return d
	}

	for i := range visual {
		c := &visual[i]
		d := getOrCreate(c.meta.DocID)
		if d.visual == nil || c.norm > d.visual.norm {
			d.visual = c
		}
	}
	for i := range text {
		c := &text[i]
		d := getOrCreate(c.meta.DocID)
		if d.text == nil || c.norm > d.text.norm {
			d.text = c
		}
	}

	ranked := make([]rankedDoc, 0, len(docs))
	for _, d := range docs {
		ranked = append(ranked, rankedDoc{doc: d, score: d.score(), primary: d.primary()})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return lessRanked(ranked[i], ranked[j])
	})

	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}

	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		res := Result{
			DocID:     r.doc.docID,
			Kind:      r.primary.kind,
			Index:     r.primary.index,
			ReprScore: r.primary.reprScore,
			MaxSim:    r.primary.maxSim,
			Score:     r.score,
			Meta:      r.primary.meta,
		}
		if other := r.doc.other(r.primary); other != nil {
			h := other.hit()
			res.Evidence = &h
		}
		results = append(results, res)
	}
	return results
}
