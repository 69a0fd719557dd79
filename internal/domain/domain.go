package domain

// Document describes one uploaded file after successful chunking.
type Document struct {
	ID         string
	Filename   string
	OwnerID    string
	SizeBytes  int64
	ChunkCount int
}

// Chunk is a bounded passage of a document's text, the unit of indexing and retrieval.
type Chunk struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	Filename   string
	OwnerID    string
}

// SearchHit is a retrieved chunk with its cosine distance to the query.
// Lower distance means more similar; the range is [0,2] for normalized vectors.
type SearchHit struct {
	Chunk    Chunk
	Distance float64
}

// Citation points a generated answer back at the passage it came from.
type Citation struct {
	Text            string  `json:"text"`
	Filename        string  `json:"filename"`
	ChunkOrdinal    int     `json:"chunk_index"`
	DocumentID      string  `json:"document_id"`
	SimilarityScore float64 `json:"similarity_score"`
}

// RetrievalContext is the assembled, deduplicated prompt context for one query.
type RetrievalContext struct {
	PromptText string
	Citations  []Citation
}

// Entry is one persisted (id, vector, text, metadata) tuple in the index.
type Entry struct {
	ID       string    `json:"id"`
	Vector   []float64 `json:"vector"`
	Text     string    `json:"text"`
	Metadata Metadata  `json:"metadata"`
}

// Metadata is the equality-filterable part of an index entry. Generation
// records which index generation the vector was embedded under; entries from
// an older generation must not be mixed with the current vector space.
type Metadata struct {
	DocumentID   string `json:"document_id"`
	Filename     string `json:"filename"`
	ChunkOrdinal int    `json:"chunk_index"`
	OwnerID      string `json:"owner_id,omitempty"`
	Generation   uint64 `json:"generation"`
}

// Filter restricts index operations to entries matching all set fields.
type Filter struct {
	DocumentID string
	OwnerID    string
}

// Empty reports whether no constraint is set.
func (f Filter) Empty() bool { return f.DocumentID == "" && f.OwnerID == "" }

// Matches reports whether the metadata satisfies every set constraint.
func (f Filter) Matches(m Metadata) bool {
	if f.DocumentID != "" && m.DocumentID != f.DocumentID {
		return false
	}
	if f.OwnerID != "" && m.OwnerID != f.OwnerID {
		return false
	}
	return true
}

// DocumentInfo is one row of the index's distinct-document listing.
type DocumentInfo struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
}

// EmbedResult is a batch of vectors plus provenance. Degraded marks vectors
// produced by the zero-vector last resort, which preserve availability but
// carry no semantic signal.
type EmbedResult struct {
	Vectors    [][]float64
	Strategy   string
	Degraded   bool
	Generation uint64
}

// Chunker splits extracted document text into overlapping passages.
// Truncated is true when the document exceeded the chunk cap and the tail
// was dropped.
type Chunker interface {
	Split(text string) (chunks []string, truncated bool, err error)
}

// Embedder converts batches of text into fixed-dimension vectors.
// Reset is the reinitialization hook invoked by the index after a self-heal;
// it must clear any corpus-fitted state so the vector space starts fresh
// under the given generation.
type Embedder interface {
	Embed(texts []string) (EmbedResult, error)
	Reset(generation uint64)
}

// EmbeddingStrategy is one rung of the embedding ladder.
type EmbeddingStrategy interface {
	Name() string
	Dimension() int
	EmbedBatch(texts []string) ([][]float64, error)
}

// Index is a persistent collection of entries supporting filtered similarity
// search, deletion and listing. Implementations own corruption detection and
// the destructive self-heal reset.
type Index interface {
	Add(entries []Entry) error
	Search(vector []float64, k int, f Filter) ([]SearchHit, error)
	Delete(f Filter) error
	Get(f Filter) ([]Entry, error)
	ListDocuments() ([]DocumentInfo, error)
	Generation() uint64
	Dimension() int
	Close() error
}

// Retriever answers "find the k passages most relevant to this query",
// optionally scoped to one document or one owner.
type Retriever interface {
	Retrieve(query string, k int, documentScope, ownerScope string) ([]SearchHit, bool, error)
}

// Assembler turns raw search hits into a deduplicated, citation-ready
// prompt context.
type Assembler interface {
	Assemble(hits []SearchHit) RetrievalContext
}
