package chunker

import (
	"strings"

	"smartdocq/internal/domain"
)

// DefaultSeparators is the priority order tried when splitting: paragraph
// break, line break, word boundary, then a hard character cut as last resort.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveChunker splits text along a priority list of separators so that
// every produced chunk is at most chunkSize characters, with chunkOverlap
// characters carried from the end of one chunk into the start of the next.
type RecursiveChunker struct {
	chunkSize    int
	chunkOverlap int
	maxChunks    int
	separators   []string
}

func NewRecursiveChunker(chunkSize, chunkOverlap, maxChunks int) *RecursiveChunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 200
	}
	if maxChunks <= 0 {
		maxChunks = 500
	}
	return &RecursiveChunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		maxChunks:    maxChunks,
		separators:   DefaultSeparators,
	}
}

// Split returns the ordered chunks of text. Empty input (after trimming) is
// an error, not a zero-length result. When the document produces more than
// maxChunks chunks the tail is dropped and truncated is true; large documents
// degrade rather than abort.
func (c *RecursiveChunker) Split(text string) ([]string, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, domain.ErrEmptyDocument
	}
	pieces := c.split(text, c.separators)
	chunks := c.merge(pieces)
	truncated := false
	if len(chunks) > c.maxChunks {
		chunks = chunks[:c.maxChunks]
		truncated = true
	}
	return chunks, truncated, nil
}

// split recursively breaks text into pieces no longer than chunkSize.
// Separators stay attached to the piece they terminate, so the pieces
// concatenate back to the original text exactly.
func (c *RecursiveChunker) split(text string, separators []string) []string {
	if len(text) <= c.chunkSize {
		return []string{text}
	}
	sep := separators[len(separators)-1]
	rest := separators
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}
	if sep == "" {
		return c.hardCut(text)
	}
	var pieces []string
	for _, part := range splitAfter(text, sep) {
		if len(part) <= c.chunkSize {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, c.split(part, rest)...)
	}
	return pieces
}

// hardCut slices text into chunkSize windows stepping by chunkSize-overlap,
// so consecutive windows share the configured overlap.
func (c *RecursiveChunker) hardCut(text string) []string {
	step := c.chunkSize - c.chunkOverlap
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + c.chunkSize
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}

// merge packs pieces into chunks of at most chunkSize characters. When a
// chunk is emitted, trailing pieces totalling up to chunkOverlap characters
// are carried into the next chunk to preserve context across the boundary.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0
	flush := func() {
		if total == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(window, ""))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	for _, piece := range pieces {
		if total+len(piece) > c.chunkSize && total > 0 {
			flush()
			// Shed leading pieces until the carried tail fits the overlap
			// budget and leaves room for the incoming piece.
			for total > c.chunkOverlap || (total+len(piece) > c.chunkSize && total > 0) {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += len(piece)
	}
	flush()
	return chunks
}

// splitAfter splits text on sep keeping the separator attached to the
// preceding part, so the parts concatenate back to text.
func splitAfter(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
