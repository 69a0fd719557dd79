package retriever

import (
	"log"

	"smartdocq/internal/domain"
)

// Retriever orchestrates the embedder and the index to answer "find the k
// passages most relevant to this query", optionally scoped to one document
// or one owner. It performs read-only index queries and never returns an
// error for an empty result: callers present a "nothing found" answer
// instead of a failure.
type Retriever struct {
	embedder domain.Embedder
	index    domain.Index
	logger   *log.Logger
}

func New(embedder domain.Embedder, index domain.Index, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Retrieve embeds the query once and searches the index. When an owner scope
// is set and the strict search finds nothing, it retries once without the
// owner filter: a user may retrieve from documents they saw in a shared
// session without having uploaded them. The index's own widening cascade
// runs below both attempts. The degraded flag reports that the query vector
// came from the zero-vector last resort.
func (r *Retriever) Retrieve(query string, k int, documentScope, ownerScope string) ([]domain.SearchHit, bool, error) {
	if k < 1 {
		k = 5
	}
	res, err := r.embedder.Embed([]string{query})
	if err != nil {
		r.logger.Printf("query embedding failed: %v", err)
		return nil, false, nil
	}
	if len(res.Vectors) != 1 {
		return nil, false, nil
	}
	vector := res.Vectors[0]
	if res.Degraded {
		r.logger.Printf("query %q embedded as zero vector; results are degraded", query)
	}

	f := domain.Filter{DocumentID: documentScope, OwnerID: ownerScope}
	hits, err := r.index.Search(vector, k, f)
	if err != nil {
		r.logger.Printf("search failed: %v", err)
		return nil, res.Degraded, nil
	}
	// With an Index whose Search already widens to an unfiltered scan, a
	// strict search only comes back empty when the index itself is empty, so
	// this retry cannot find anything more. It exists for Index
	// implementations that honor filters strictly and never widen.
	if len(hits) == 0 && ownerScope != "" {
		r.logger.Printf("no hits for owner %q, retrying without owner filter", ownerScope)
		f.OwnerID = ""
		hits, err = r.index.Search(vector, k, f)
		if err != nil {
			r.logger.Printf("ownerless retry failed: %v", err)
			return nil, res.Degraded, nil
		}
	}
	return hits, res.Degraded, nil
}
