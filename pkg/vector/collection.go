package vector

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Collection is the public façade over the record store and the HNSW
// index. Reads (Get, Search, TrueSearch, Filter, List, Contains, Len)
// may run concurrently from multiple goroutines; writes take the
// exclusive lock, so a Collection behaves as a single-writer,
// multi-reader structure.
type Collection struct {
	mu        sync.RWMutex
	config    Config
	dimension int
	relevancy float32
	store     *recordStore
	index     *hnswIndex
}

// DefaultRelevancy disables the distance cutoff.
const DefaultRelevancy float32 = -1.0

// New creates an empty collection with the given configuration.
func New(config Config) (*Collection, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	store := newRecordStore()
	return &Collection{
		config:    config,
		relevancy: DefaultRelevancy,
		store:     store,
		index:     newHNSWIndex(store, config),
	}, nil
}

// Build creates a collection from an initial batch, equivalent to New
// followed by InsertMany. With Config.BuildWorkers > 1 the graph
// linking fans out across workers: IDs and levels are still assigned
// up front in input order, but link order across workers is not
// defined, so graphs from parallel builds vary run to run.
func Build(config Config, records []Record) (*Collection, error) {
	c, err := New(config)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return c, nil
	}
	if config.BuildWorkers > 1 {
		if err := c.buildParallel(records, config.BuildWorkers); err != nil {
			return nil, err
		}
		return c, nil
	}
	if _, err := c.InsertMany(records); err != nil {
		return nil, err
	}
	return c, nil
}

// Insert adds one record and links it into the graph, returning the
// assigned ID.
func (c *Collection) Insert(rec Record) (VectorID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(rec)
}

// InsertMany adds a batch sequentially. The whole batch is validated
// against the collection dimension before the first record is stored.
func (c *Collection) InsertMany(records []Record) ([]VectorID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dim := c.dimension
	for _, rec := range records {
		if err := validateAgainst(dim, rec.Vector); err != nil {
			return nil, err
		}
		if dim == 0 {
			dim = len(rec.Vector)
		}
	}

	ids := make([]VectorID, 0, len(records))
	for _, rec := range records {
		id, err := c.insertLocked(rec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Collection) insertLocked(rec Record) (VectorID, error) {
	if err := c.validateVector(rec.Vector); err != nil {
		return InvalidID, err
	}
	id, err := c.store.put(rec)
	if err != nil {
		return InvalidID, err
	}
	if c.dimension == 0 {
		c.dimension = len(rec.Vector)
	}
	c.index.prepare(id, c.index.randomLevel())
	c.index.link(id)
	return id, nil
}

// buildParallel stores every record and draws every level
// sequentially, links the highest-level node first so the entry point
// stays fixed, then fans the remaining link work across workers with
// per-node locks guarding the neighbor lists.
func (c *Collection) buildParallel(records []Record, workers int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dim := c.dimension
	for _, rec := range records {
		if err := validateAgainst(dim, rec.Vector); err != nil {
			return err
		}
		if dim == 0 {
			dim = len(rec.Vector)
		}
	}

	ids := make([]VectorID, 0, len(records))
	seed := InvalidID
	seedLevel := -1
	for _, rec := range records {
		id, err := c.store.put(rec)
		if err != nil {
			return err
		}
		if c.dimension == 0 {
			c.dimension = len(rec.Vector)
		}
		level := c.index.randomLevel()
		c.index.prepare(id, level)
		if level > seedLevel {
			seed, seedLevel = id, level
		}
		ids = append(ids, id)
	}

	c.index.link(seed)

	c.index.concurrent = true
	defer func() { c.index.concurrent = false }()

	var g errgroup.Group
	g.SetLimit(workers)
	for _, id := range ids {
		if id == seed {
			continue
		}
		g.Go(func() error {
			c.index.link(id)
			return nil
		})
	}
	return g.Wait()
}

// Get returns a copy of the record stored under id.
func (c *Collection) Get(id VectorID) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.get(id)
}

// Update replaces the record under id. A nil Data keeps the stored
// metadata; a nil Vector keeps the stored vector. When the vector
// actually changes the node is unlinked and re-linked at its existing
// level; a byte-equal vector only touches metadata.
func (c *Collection) Update(id VectorID, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.get(id)
	if err != nil {
		return err
	}
	if rec.Vector == nil {
		return c.store.replace(id, nil, rec.Data)
	}
	if err := c.validateVector(rec.Vector); err != nil {
		return err
	}
	if vectorsEqual(current.Vector, rec.Vector) {
		return c.store.replace(id, nil, rec.Data)
	}
	if err := c.store.replace(id, rec.Vector, rec.Data); err != nil {
		return err
	}
	c.index.relink(id)
	return nil
}

// Delete removes the record and unlinks its node from every layer.
// The ID is tombstoned and never reissued.
func (c *Collection) Delete(id VectorID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.remove(id)
}

// List returns a copy of every live record keyed by ID.
func (c *Collection) List() map[VectorID]Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[VectorID]Record, c.store.len())
	for _, id := range c.store.liveIDs() {
		rec, _ := c.store.get(id)
		out[id] = rec
	}
	return out
}

// Search returns the k approximate nearest neighbors of query,
// ascending by distance, each carrying a copy of its metadata. When
// the relevancy cutoff is active, results farther than the cutoff are
// dropped.
func (c *Collection) Search(query Vector, k int) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validateQuery(query, k); err != nil {
		return nil, err
	}
	return c.annotate(c.index.search(query, k)), nil
}

// TrueSearch is the brute-force reference: exact top k over every live
// record, same ranking and relevancy handling as Search.
func (c *Collection) TrueSearch(query Vector, k int) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validateQuery(query, k); err != nil {
		return nil, err
	}
	return c.annotate(c.index.bruteForce(query, k)), nil
}

// Filter linearly scans live records and returns those whose metadata
// matches the query: substring for text, equality for scalars,
// recursive key-subset for maps. List queries are unsupported.
func (c *Collection) Filter(query Metadata) (map[VectorID]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if query == nil {
		return nil, newErrorf(KindUnsupported, "nil filter")
	}
	out := make(map[VectorID]Record)
	for _, id := range c.store.liveIDs() {
		rec := c.store.records[id]
		if rec.Data == nil {
			continue
		}
		match, err := matchMetadata(rec.Data, query)
		if err != nil {
			return nil, err
		}
		if match {
			out[id] = rec.Clone()
		}
	}
	return out, nil
}

// Contains reports whether id resolves to a live record.
func (c *Collection) Contains(id VectorID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.contains(id)
}

// Len returns the number of live records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.len()
}

// IsEmpty reports Len() == 0.
func (c *Collection) IsEmpty() bool {
	return c.Len() == 0
}

// Dimension returns the collection's vector dimension, 0 when not yet
// fixed.
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// SetDimension fixes the dimension ahead of the first insert. It
// fails on a non-empty collection, whose dimension is immutable.
func (c *Collection) SetDimension(d int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 1 {
		return newErrorf(KindInvalidConfig, "dimension must be >= 1, got %d", d)
	}
	if c.store.len() > 0 && d != c.dimension {
		return newErrorf(KindNonEmptyCollection, "cannot change dimension of a collection holding %d records", c.store.len())
	}
	c.dimension = d
	return nil
}

// Relevancy returns the current distance cutoff; negative disables it.
func (c *Collection) Relevancy() float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.relevancy
}

// SetRelevancy updates the distance cutoff applied after every search.
// Any negative value disables the cutoff.
func (c *Collection) SetRelevancy(r float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relevancy = r
}

// Config returns the construction configuration.
func (c *Collection) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// annotate turns raw candidates into SearchResults with metadata
// copies, applying the relevancy cutoff.
func (c *Collection) annotate(cands []candidate) []SearchResult {
	out := make([]SearchResult, 0, len(cands))
	for _, cand := range cands {
		if c.relevancy >= 0 && cand.dist > c.relevancy {
			continue
		}
		res := SearchResult{ID: cand.id, Distance: cand.dist}
		if data := c.store.records[cand.id].Data; data != nil {
			res.Data = data.Clone()
		}
		out = append(out, res)
	}
	return out
}

func (c *Collection) validateVector(v Vector) error {
	return validateAgainst(c.dimension, v)
}

func (c *Collection) validateQuery(v Vector, k int) error {
	if k < 1 {
		return newErrorf(KindInvalidConfig, "k must be >= 1, got %d", k)
	}
	return validateAgainst(c.dimension, v)
}

// validateAgainst rejects empty vectors and, when dim is already
// fixed, any length mismatch.
func validateAgainst(dim int, v Vector) error {
	if len(v) == 0 {
		return newErrorf(KindInvalidVector, "empty vector")
	}
	if dim != 0 && len(v) != dim {
		return newErrorf(KindDimensionMismatch, "vector has %d dimensions, collection expects %d", len(v), dim)
	}
	return nil
}

func vectorsEqual(a, b Vector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
