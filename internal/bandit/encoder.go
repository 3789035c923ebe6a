package bandit

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/analysis"
	"github.com/blevesearch/bleve/analysis/token/lowercase"
	"github.com/blevesearch/bleve/analysis/tokenizer/unicode"
)

var (
	wordTokenizer = unicode.NewUnicodeTokenizer()
	lowerFilter   = lowercase.NewLowerCaseFilter()
)

// Tokenize lower-cases text and splits it on word boundaries, dropping
// tokens shorter than two characters. Ideographs are emitted one per token
// and kept regardless of length. Invalid UTF-8 is treated as a separator.
func Tokenize(text string) []string {
	text = strings.ToValidUTF8(text, " ")
	if text == "" {
		return nil
	}
	stream := lowerFilter.Filter(wordTokenizer.Tokenize([]byte(text)))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		if tok.Type != analysis.Ideographic && utf8.RuneCount(tok.Term) < 2 {
			continue
		}
		out = append(out, string(tok.Term))
	}
	return out
}

// SparseVector is a feature vector of fixed dimension holding only its
// non-zero entries. Indices are strictly increasing.
type SparseVector struct {
	Dim     int
	Indices []int
	Values  []float64
}

// Encoder is one fitted TF-IDF generation. It is never modified after
// FitEncoder returns; a vocabulary change produces a new Encoder.
type Encoder struct {
	terms     []string
	index     map[string]int
	idf       []float64
	documents int
}

// EncoderState is the serialisable form of an Encoder.
type EncoderState struct {
	Terms     []string  `json:"terms"`
	IDF       []float64 `json:"idf"`
	Documents int       `json:"documents"`
}

// FitEncoder builds a vocabulary and smoothed inverse document frequencies
// from corpus. Terms are ordered lexicographically so feature indices are
// stable for a given vocabulary.
func FitEncoder(corpus []string) *Encoder {
	df := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(doc) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	idf := make([]float64, len(terms))
	for i, term := range terms {
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return newEncoder(terms, idf, len(corpus))
}

func newEncoder(terms []string, idf []float64, documents int) *Encoder {
	index := make(map[string]int, len(terms))
	for i, term := range terms {
		index[term] = i
	}
	return &Encoder{terms: terms, index: index, idf: idf, documents: documents}
}

// Dim is the length of every vector this generation produces.
func (e *Encoder) Dim() int { return len(e.terms) }

// Vocabulary returns a copy of the fitted terms in feature order.
func (e *Encoder) Vocabulary() []string {
	return append([]string(nil), e.terms...)
}

// Contains reports whether token is part of the fitted vocabulary.
func (e *Encoder) Contains(token string) bool {
	_, ok := e.index[token]
	return ok
}

// UnseenTokens returns the distinct tokens of text missing from the
// vocabulary, in first-occurrence order.
func (e *Encoder) UnseenTokens(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if e.Contains(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Transform maps text to an L2-normalised TF-IDF vector. Tokens outside
// the vocabulary are ignored.
func (e *Encoder) Transform(text string) SparseVector {
	counts := make(map[int]float64)
	for _, tok := range Tokenize(text) {
		if idx, ok := e.index[tok]; ok {
			counts[idx]++
		}
	}
	vec := SparseVector{Dim: len(e.terms)}
	if len(counts) == 0 {
		return vec
	}
	vec.Indices = make([]int, 0, len(counts))
	for idx := range counts {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Ints(vec.Indices)
	vec.Values = make([]float64, len(vec.Indices))
	var norm float64
	for i, idx := range vec.Indices {
		v := counts[idx] * e.idf[idx]
		vec.Values[i] = v
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec.Values {
			vec.Values[i] /= norm
		}
	}
	return vec
}

// State exports the generation for persistence.
func (e *Encoder) State() EncoderState {
	return EncoderState{
		Terms:     append([]string(nil), e.terms...),
		IDF:       append([]float64(nil), e.idf...),
		Documents: e.documents,
	}
}

// EncoderFromState rebuilds a generation saved with State.
func EncoderFromState(st EncoderState) (*Encoder, error) {
	if len(st.Terms) != len(st.IDF) {
		return nil, errorf("encoder has %d terms but %d idf weights", len(st.Terms), len(st.IDF))
	}
	for i := 1; i < len(st.Terms); i++ {
		if st.Terms[i-1] >= st.Terms[i] {
			return nil, errorf("encoder vocabulary not sorted at %q", st.Terms[i])
		}
	}
	for i, w := range st.IDF {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, errorf("encoder idf for %q is not finite", st.Terms[i])
		}
	}
	return newEncoder(append([]string(nil), st.Terms...), append([]float64(nil), st.IDF...), st.Documents), nil
}
