package index

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"smartdocq/internal/domain"
)

// schemaVersion is bumped whenever the persisted layout changes. A file
// carrying any other version was created under an incompatible layout and is
// treated as corrupt.
const schemaVersion = 1

const defaultCollection = "doc_chunks"

// widenedK caps the result count when the widening cascade retries with no
// filter at all.
const widenedK = 5

var (
	metaBucket = []byte("meta")

	keySchema     = []byte("schema_version")
	keyGeneration = []byte("generation")
	keyDimension  = []byte("dimension")
)

// Store is a persistent collection of (id, vector, text, metadata) tuples
// backed by a single bbolt file. It owns corruption detection and the
// destructive self-heal reset: dropping and recreating the collection is
// preferred over crash-looping on a corrupt index.
//
// Ordinary Add/Search/Delete/Get calls hold the read lock and may proceed
// concurrently; the self-heal reset holds the write lock and is serialized
// against everything else.
type Store struct {
	path       string
	collection []byte
	logger     *log.Logger

	onReset func(generation uint64)

	mu         sync.RWMutex
	db         *bbolt.DB
	generation uint64
	dimension  int
}

// Config configures the index store.
type Config struct {
	// DataDir holds the index file. Created if missing.
	DataDir string
	// Collection is the logical collection name; defaults to "doc_chunks".
	Collection string
	Logger     *log.Logger
}

// Open opens (or creates) the index at cfg.DataDir and runs the pre-flight
// corruption check. An unreadable file or one written under a different
// schema version is reset proactively rather than failing the first call.
func Open(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("index: data dir is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create data dir: %w", err)
	}
	s := &Store{
		path:       filepath.Join(cfg.DataDir, cfg.Collection+".db"),
		collection: []byte(cfg.Collection),
		logger:     cfg.Logger,
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		// The file is not even openable. Delete and start fresh.
		s.logger.Printf("index file unreadable (%v), deleting %s", err, s.path)
		if rmErr := os.Remove(s.path); rmErr != nil {
			return nil, fmt.Errorf("index: remove corrupt file: %w", rmErr)
		}
		db, err = bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("index: reopen after reset: %w", err)
		}
	}
	s.db = db
	if err := s.preflight(); err != nil {
		// The probe itself failed: the file is not minimally queryable.
		s.logger.Printf("pre-flight probe failed (%v), deleting %s", err, s.path)
		_ = db.Close()
		if rmErr := os.Remove(s.path); rmErr != nil {
			return nil, fmt.Errorf("index: remove corrupt file: %w", rmErr)
		}
		db, err = bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("index: reopen after reset: %w", err)
		}
		s.db = db
		if err := s.initialize(1); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// SetResetHook registers the embedder reinitialization hook invoked with the
// new generation after every self-heal reset.
func (s *Store) SetResetHook(fn func(generation uint64)) {
	s.mu.Lock()
	s.onReset = fn
	s.mu.Unlock()
}

// Generation returns the current index generation. It increases by one on
// every self-heal reset.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Dimension returns the established vector dimensionality, or 0 while the
// index is empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// preflight probes whether the file is minimally queryable and initializes
// or proactively resets it.
func (s *Store) preflight() error {
	healthy := false
	fresh := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		coll := tx.Bucket(s.collection)
		if meta == nil && coll == nil {
			fresh = true
			return nil
		}
		if meta == nil || coll == nil {
			return nil // half-initialized: corrupt
		}
		if v := meta.Get(keySchema); v == nil || string(v) != strconv.Itoa(schemaVersion) {
			return nil // old layout: corrupt
		}
		s.generation = getUint(meta, keyGeneration)
		s.dimension = int(getUint(meta, keyDimension))
		healthy = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("index: preflight probe: %w", err)
	}
	if healthy {
		return nil
	}
	if !fresh {
		s.logger.Printf("pre-flight check found an incompatible or corrupt layout, resetting %s", s.path)
	}
	return s.initialize(1)
}

// initialize writes an empty collection under the given generation.
func (s *Store) initialize(generation uint64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.collection) != nil {
			if err := tx.DeleteBucket(s.collection); err != nil {
				return err
			}
		}
		if _, err := tx.CreateBucket(s.collection); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if err := meta.Put(keySchema, []byte(strconv.Itoa(schemaVersion))); err != nil {
			return err
		}
		if err := putUint(meta, keyGeneration, generation); err != nil {
			return err
		}
		return putUint(meta, keyDimension, 0)
	})
	if err != nil {
		return fmt.Errorf("index: initialize: %w", err)
	}
	s.generation = generation
	s.dimension = 0
	return nil
}

// selfHeal drops and recreates the collection under the next generation and
// notifies the embedder through the reinitialization hook. All previously
// indexed entries are lost; availability is favored over retained history.
func (s *Store) selfHeal(cause error) error {
	s.mu.Lock()
	gen := s.generation + 1
	s.logger.Printf("self-heal: resetting collection %q (generation %d -> %d): %v", s.collection, s.generation, gen, cause)
	err := s.initialize(gen)
	hook := s.onReset
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(gen)
	}
	return nil
}

// Add stores the entries. All vectors in one call must share dimensionality
// with the index; the first Add into an empty index establishes it. On a
// recoverable storage error the store performs exactly one self-heal and
// retries once; entries retried after a heal are re-stamped with the new
// generation since they become the fresh collection's founding batch.
func (s *Store) Add(entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.add(entries, false)
	if err == nil || !domain.Recoverable(err) {
		return err
	}
	if healErr := s.selfHeal(err); healErr != nil {
		return healErr
	}
	return s.add(entries, true)
}

func (s *Store) add(entries []domain.Entry, healed bool) error {
	s.mu.RLock()
	gen := s.generation

	if !healed {
		for i := range entries {
			if entries[i].Metadata.Generation != gen {
				s.mu.RUnlock()
				return fmt.Errorf("index: entry %s: %w", entries[i].ID, domain.ErrStaleGeneration)
			}
		}
	}
	dim := s.dimension
	if dim == 0 {
		dim = len(entries[0].Vector)
	}
	for i := range entries {
		if len(entries[i].Vector) != dim {
			s.mu.RUnlock()
			return &domain.DimensionMismatchError{Got: len(entries[i].Vector), Want: dim}
		}
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(s.collection)
		meta := tx.Bucket(metaBucket)
		if coll == nil || meta == nil {
			return domain.ErrCollectionCorrupt
		}
		// Re-check under the write transaction: bbolt serializes writers,
		// so concurrent first Adds agree on whichever dimension commits
		// first.
		switch stored := int(getUint(meta, keyDimension)); {
		case stored == 0:
			if err := putUint(meta, keyDimension, uint64(dim)); err != nil {
				return err
			}
		case stored != dim:
			return &domain.DimensionMismatchError{Got: dim, Want: stored}
		}
		for i := range entries {
			e := entries[i]
			if healed {
				e.Metadata.Generation = gen
			}
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := coll.Put([]byte(e.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.generation == gen && s.dimension == 0 {
		s.dimension = dim
	}
	s.mu.Unlock()
	return nil
}

// Search returns the k entries nearest to vector by cosine distance,
// restricted to the filter. A strict query with zero hits goes through the
// widening cascade before giving up: drop the document scope, then drop all
// filters with a small k, then return one arbitrary entry so downstream
// generation always has some grounding text while the index is non-empty.
// Each widening step degrades precision and is logged.
func (s *Store) Search(vector []float64, k int, f domain.Filter) ([]domain.SearchHit, error) {
	if k < 1 {
		return nil, fmt.Errorf("index: search k must be >= 1, got %d", k)
	}
	hits, err := s.search(vector, k, f)
	if err == nil || !domain.Recoverable(err) {
		return hits, err
	}
	if healErr := s.selfHeal(err); healErr != nil {
		return nil, healErr
	}
	return s.search(vector, k, f)
}

func (s *Store) search(vector []float64, k int, f domain.Filter) ([]domain.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, &domain.DimensionMismatchError{Got: len(vector), Want: s.dimension}
	}

	hits, err := s.scan(vector, k, f)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 || f.Empty() {
		return hits, nil
	}

	// Widening step (a): drop the document scope, keep other filters.
	if f.DocumentID != "" {
		widened := f
		widened.DocumentID = ""
		if !widened.Empty() {
			s.logger.Printf("widening search: dropping document scope %q", f.DocumentID)
			hits, err = s.scan(vector, k, widened)
			if err != nil {
				return nil, err
			}
			if len(hits) > 0 {
				return hits, nil
			}
		}
	}

	// Widening step (b): no filter at all, capped to a small k.
	capped := k
	if capped > widenedK {
		capped = widenedK
	}
	s.logger.Printf("widening search: retrying without filters (k=%d)", capped)
	hits, err = s.scan(vector, capped, domain.Filter{})
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		return hits, nil
	}

	// Widening step (c): absolute last resort, any entry at all.
	s.logger.Printf("widening search: returning an arbitrary entry as grounding")
	return s.anyEntry()
}

// scan is a brute-force cosine scan over the collection. Entries from older
// generations never survive a reset, so every stored vector shares the
// current dimensionality.
func (s *Store) scan(vector []float64, k int, f domain.Filter) ([]domain.SearchHit, error) {
	var hits []domain.SearchHit
	err := s.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(s.collection)
		if coll == nil {
			return domain.ErrCollectionCorrupt
		}
		return coll.ForEach(func(_, data []byte) error {
			var e domain.Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return domain.ErrCollectionCorrupt
			}
			if !f.Matches(e.Metadata) {
				return nil
			}
			hits = append(hits, domain.SearchHit{
				Chunk:    entryChunk(e),
				Distance: cosineDistance(vector, e.Vector),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// anyEntry returns a single arbitrary entry with a medium distance, or no
// hits when the collection is empty.
func (s *Store) anyEntry() ([]domain.SearchHit, error) {
	var hits []domain.SearchHit
	err := s.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(s.collection)
		if coll == nil {
			return domain.ErrCollectionCorrupt
		}
		_, data := coll.Cursor().First()
		if data == nil {
			return nil
		}
		var e domain.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return domain.ErrCollectionCorrupt
		}
		hits = append(hits, domain.SearchHit{Chunk: entryChunk(e), Distance: 0.5})
		return nil
	})
	return hits, err
}

// Delete removes every entry matching the filter. Deleting entries that do
// not exist is not an error.
func (s *Store) Delete(f domain.Filter) error {
	if f.Empty() {
		return fmt.Errorf("index: refusing to delete without a filter")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(s.collection)
		if coll == nil {
			return domain.ErrCollectionCorrupt
		}
		var doomed [][]byte
		err := coll.ForEach(func(key, data []byte) error {
			var e domain.Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return domain.ErrCollectionCorrupt
			}
			if f.Matches(e.Metadata) {
				doomed = append(doomed, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range doomed {
			if err := coll.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the raw entries matching the filter, without a query vector.
// An empty filter returns everything.
func (s *Store) Get(f domain.Filter) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []domain.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(s.collection)
		if coll == nil {
			return domain.ErrCollectionCorrupt
		}
		return coll.ForEach(func(_, data []byte) error {
			var e domain.Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return domain.ErrCollectionCorrupt
			}
			if f.Matches(e.Metadata) {
				entries = append(entries, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Metadata.DocumentID != entries[j].Metadata.DocumentID {
			return entries[i].Metadata.DocumentID < entries[j].Metadata.DocumentID
		}
		return entries[i].Metadata.ChunkOrdinal < entries[j].Metadata.ChunkOrdinal
	})
	return entries, nil
}

// ListDocuments derives the distinct documents by a full scan-and-group of
// stored metadata. Fine at this index's scale (tens of thousands of entries).
func (s *Store) ListDocuments() ([]domain.DocumentInfo, error) {
	entries, err := s.Get(domain.Filter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.DocumentInfo)
	for i := range entries {
		m := entries[i].Metadata
		info, ok := byID[m.DocumentID]
		if !ok {
			info = &domain.DocumentInfo{DocumentID: m.DocumentID, Filename: m.Filename}
			byID[m.DocumentID] = info
		}
		info.ChunkCount++
	}
	out := make([]domain.DocumentInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func entryChunk(e domain.Entry) domain.Chunk {
	return domain.Chunk{
		ChunkID:    e.ID,
		DocumentID: e.Metadata.DocumentID,
		Ordinal:    e.Metadata.ChunkOrdinal,
		Text:       e.Text,
		Filename:   e.Metadata.Filename,
		OwnerID:    e.Metadata.OwnerID,
	}
}

// cosineDistance assumes both vectors are L2-normalized; the result lies in
// [0,2], lower meaning more similar.
func cosineDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dot := 0.0
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func getUint(b *bbolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if v == nil {
		return 0
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func putUint(b *bbolt.Bucket, key []byte, n uint64) error {
	return b.Put(key, []byte(strconv.FormatUint(n, 10)))
}
