package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"smartdocq/internal/domain"
)

// Extractive summarizes offline by ranking sentences on word frequency.
// It backs document summaries whenever the generation model is unavailable.
type Extractive struct {
	maxSentences int
	wordPattern  *regexp.Regexp
	sentPattern  *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewExtractive creates a frequency-based extractive summarizer.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &Extractive{
		maxSentences: maxSentences,
		wordPattern:  regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		sentPattern:  regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		stopwords:    stopwordSet(),
	}
}

// Summarize extracts the highest-scoring sentences from text, preserving
// their original order.
func (e *Extractive) Summarize(text string) (string, error) {
	picked, err := e.rank(text)
	if err != nil {
		return "", err
	}
	return strings.Join(picked, " "), nil
}

// KeyPoints returns the highest-scoring sentences as a list, one point per
// sentence, preserving original order.
func (e *Extractive) KeyPoints(text string) ([]string, error) {
	return e.rank(text)
}

func (e *Extractive) rank(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyDocument
	}
	sentences := e.sentPattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		return []string{text}, nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, word := range e.words(sent) {
			if _, skip := e.stopwords[word]; skip {
				continue
			}
			freq[word]++
		}
	}
	peak := 0.0
	for _, n := range freq {
		if n > peak {
			peak = n
		}
	}
	if peak > 0 {
		for w, n := range freq {
			freq[w] = n / peak
		}
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i, sent := range sentences {
		words := e.words(sent)
		total := 0.0
		for _, w := range words {
			total += freq[w]
		}
		// Length-normalize so long sentences do not dominate.
		if n := float64(len(words)); n > 0 {
			total /= math.Sqrt(n)
		}
		scores[i] = ranked{i, total}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	keep := e.maxSentences
	if keep > len(scores) {
		keep = len(scores)
	}
	picked := make([]int, keep)
	for i := 0; i < keep; i++ {
		picked[i] = scores[i].idx
	}
	sort.Ints(picked)

	parts := make([]string, 0, keep)
	for _, idx := range picked {
		parts = append(parts, strings.TrimSpace(sentences[idx]))
	}
	return parts, nil
}

func (e *Extractive) words(text string) []string {
	return e.wordPattern.FindAllString(strings.ToLower(text), -1)
}

func stopwordSet() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
