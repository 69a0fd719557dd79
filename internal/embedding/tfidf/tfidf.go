package tfidf

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Vectorizer is a TF-IDF embedding strategy fitted lazily on the first batch
// of text it sees. The fitted vocabulary and IDF values are reused, never
// refit, for all subsequent batches so the vector space stays consistent for
// the lifetime of the index generation. Reset discards the fitted state.
type Vectorizer struct {
	maxFeatures  int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}

	mu         sync.Mutex
	vocabulary map[string]int
	idf        []float64
	dimension  int
	fitted     bool
}

// NewVectorizer creates an unfitted vectorizer whose vocabulary is capped at
// maxFeatures terms (the terms with the highest document frequency win).
func NewVectorizer(maxFeatures int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = 384
	}
	return &Vectorizer{
		maxFeatures:  maxFeatures,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Name returns the identifier of this embedding strategy.
func (v *Vectorizer) Name() string { return "tfidf" }

// Dimension returns the fitted vocabulary size, or 0 before the first batch.
func (v *Vectorizer) Dimension() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dimension
}

// Reset discards the fitted vocabulary so the next batch refits from scratch.
func (v *Vectorizer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vocabulary = nil
	v.idf = nil
	v.dimension = 0
	v.fitted = false
}

// EmbedBatch returns one L2-normalized vector per input text. The first call
// ever fits the vocabulary on its batch; later calls only transform.
func (v *Vectorizer) EmbedBatch(texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.fitted {
		if err := v.fit(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = v.transform(text)
	}
	return out, nil
}

// fit builds the vocabulary and smoothed IDF values from the corpus.
// Caller holds the lock.
func (v *Vectorizer) fit(corpus []string) error {
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range v.tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return errors.New("no tokens found in corpus; ensure tokenizer supports your language")
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	// Highest document frequency wins the vocabulary cap; the kept terms are
	// then re-sorted alphabetically for a stable column order.
	sort.Slice(terms, func(i, j int) bool {
		if df[terms[i]] != df[terms[j]] {
			return df[terms[i]] > df[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > v.maxFeatures {
		terms = terms[:v.maxFeatures]
	}
	sort.Strings(terms)

	v.vocabulary = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		v.vocabulary[term] = i
		// Smoothed IDF
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	v.dimension = len(terms)
	v.fitted = true
	return nil
}

// transform computes the L2-normalized TF-IDF vector for one text.
// Caller holds the lock.
func (v *Vectorizer) transform(text string) []float64 {
	vec := make([]float64, v.dimension)
	tf := make(map[int]int)
	total := 0
	for _, tok := range v.tokenize(text) {
		if idx, ok := v.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}
	for idx, count := range tf {
		vec[idx] = float64(count) / float64(total) * v.idf[idx]
	}
	norm := 0.0
	for _, x := range vec {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (v *Vectorizer) tokenize(text string) []string {
	raw := v.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := v.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
