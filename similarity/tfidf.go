package similarity

import (
	"math"

	"github.com/giygas/drug-registry/normalize"
)

// Analyzer splits a text into the terms a TF-IDF index is built on.
type Analyzer func(string) []string

// Unigrams analyzes a text into its normalized whitespace tokens.
func Unigrams(s string) []string {
	return normalize.Tokens(s)
}

// UnigramsAndBigrams adds adjacent token pairs to the unigram terms.
func UnigramsAndBigrams(s string) []string {
	tokens := normalize.Tokens(s)
	return append(tokens, normalize.Bigrams(tokens)...)
}

type posting struct {
	doc    int
	weight float64
}

// TFIDF is an immutable term-weighted index over a fixed corpus. Document vectors
// are L2-normalized, so a dot product is the cosine similarity.
type TFIDF struct {
	analyzer Analyzer
	vocab    map[string]int
	idf      []float64
	postings [][]posting
	docs     int
}

// NewTFIDF builds an index with smoothed idf: ln((1+n)/(1+df)) + 1.
func NewTFIDF(corpus []string, analyzer Analyzer) *TFIDF {
	ix := &TFIDF{
		analyzer: analyzer,
		vocab:    make(map[string]int),
		docs:     len(corpus),
	}

	counts := make([]map[int]float64, len(corpus))
	var df []int
	for d, text := range corpus {
		tf := make(map[int]float64)
		for _, term := range analyzer(text) {
			id, ok := ix.vocab[term]
			if !ok {
				id = len(ix.vocab)
				ix.vocab[term] = id
				df = append(df, 0)
			}
			if tf[id] == 0 {
				df[id]++
			}
			tf[id]++
		}
		counts[d] = tf
	}

	n := float64(len(corpus))
	ix.idf = make([]float64, len(df))
	for id, f := range df {
		ix.idf[id] = math.Log((1+n)/(1+float64(f))) + 1
	}

	ix.postings = make([][]posting, len(df))
	for d, tf := range counts {
		var norm float64
		for id, c := range tf {
			w := c * ix.idf[id]
			tf[id] = w
			norm += w * w
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for id, w := range tf {
			ix.postings[id] = append(ix.postings[id], posting{doc: d, weight: w / norm})
		}
	}

	return ix
}

// Len returns the number of indexed documents.
func (ix *TFIDF) Len() int {
	if ix == nil {
		return 0
	}
	return ix.docs
}

// Best returns the document with the highest cosine similarity to query when it
// reaches floor. Terms unknown to the corpus are ignored; earlier documents win ties.
func (ix *TFIDF) Best(query string, floor float64) (int, float64, bool) {
	if ix == nil || ix.docs == 0 {
		return -1, 0, false
	}

	qtf := make(map[int]float64)
	for _, term := range ix.analyzer(query) {
		if id, ok := ix.vocab[term]; ok {
			qtf[id]++
		}
	}
	if len(qtf) == 0 {
		return -1, 0, false
	}

	var norm float64
	for id, c := range qtf {
		w := c * ix.idf[id]
		qtf[id] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)

	scores := make([]float64, ix.docs)
	for id, w := range qtf {
		qw := w / norm
		for _, p := range ix.postings[id] {
			scores[p.doc] += qw * p.weight
		}
	}

	bestIdx := -1
	bestScore := 0.0
	for d, s := range scores {
		if s > bestScore {
			bestIdx = d
			bestScore = s
		}
	}

	// Rounding can leave a perfect match a hair above 1.
	bestScore = math.Min(bestScore, 1)
	if bestIdx < 0 || bestScore < floor {
		return -1, bestScore, false
	}
	return bestIdx, bestScore, true
}
