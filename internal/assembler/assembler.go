package assembler

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode/utf8"

	"smartdocq/internal/domain"
)

// Separator visibly delimits passages in the assembled prompt so the
// downstream generator can tell where one ends and the next begins.
const Separator = "\n\n---\n\n"

// fingerprintLen is how much of a passage's head is hashed for
// near-duplicate detection, and also the citation excerpt length.
const fingerprintLen = 200

// Assembler ranks, deduplicates and formats retrieved passages into a single
// prompt context plus a parallel list of citation records.
type Assembler struct{}

func New() *Assembler { return &Assembler{} }

// Assemble sorts hits best-first, drops passages whose first 200 characters
// were already seen, and renders the survivors. Empty input yields an empty
// prompt and an empty citation list; the caller substitutes a "no
// information found" answer instead of invoking the generator.
func (a *Assembler) Assemble(hits []domain.SearchHit) domain.RetrievalContext {
	if len(hits) == 0 {
		return domain.RetrievalContext{Citations: []domain.Citation{}}
	}
	sorted := make([]domain.SearchHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })

	var parts []string
	citations := make([]domain.Citation, 0, len(sorted))
	seen := make(map[uint64]struct{}, len(sorted))
	for _, h := range sorted {
		text := strings.TrimSpace(h.Chunk.Text)
		if text == "" {
			continue
		}
		fp := fingerprint(text)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}

		if h.Chunk.Filename != "" {
			parts = append(parts, "[From: "+h.Chunk.Filename+"]\n"+text)
		} else {
			parts = append(parts, text)
		}
		citations = append(citations, domain.Citation{
			Text:            excerpt(text),
			Filename:        filenameOrUnknown(h.Chunk.Filename),
			ChunkOrdinal:    h.Chunk.Ordinal,
			DocumentID:      h.Chunk.DocumentID,
			SimilarityScore: 1 - h.Distance,
		})
	}
	return domain.RetrievalContext{
		PromptText: strings.Join(parts, Separator),
		Citations:  citations,
	}
}

// fingerprint hashes the head of a passage; passages sharing their first 200
// characters collapse to one context entry.
func fingerprint(text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(head(text)))
	return h.Sum64()
}

func excerpt(text string) string {
	if len(text) > fingerprintLen {
		return head(text) + "..."
	}
	return text
}

// head takes the first fingerprintLen bytes without splitting a multi-byte
// rune, so excerpts stay valid UTF-8.
func head(text string) string {
	if len(text) <= fingerprintLen {
		return text
	}
	cut := fingerprintLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func filenameOrUnknown(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}
