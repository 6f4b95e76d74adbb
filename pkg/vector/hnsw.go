package vector

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
)

// maxDegree is the per-layer out-degree cap: 2M on layer 0, M above.
func maxDegree(layer int) int {
	if layer == 0 {
		return graphM0
	}
	return graphM
}

// candidate pairs a node with its distance to the current query.
type candidate struct {
	id   VectorID
	dist float32
}

// hnswIndex is the layered proximity graph over a recordStore. It
// holds no record data of its own; nodes are reached through the
// store's arena so the cyclic neighbor relation never needs pointers.
type hnswIndex struct {
	store          *recordStore
	metric         Metric
	efConstruction int
	efSearch       int
	ml             float64
	entryPoint     VectorID
	rng            *rand.Rand

	// concurrent is raised only for the parallel phase of a bulk
	// build; it routes neighbor-list access through per-node locks.
	concurrent bool
}

func newHNSWIndex(store *recordStore, cfg Config) *hnswIndex {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &hnswIndex{
		store:          store,
		metric:         cfg.Distance,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
		ml:             cfg.Ml,
		entryPoint:     InvalidID,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// randomLevel draws a top level from the geometric-like distribution
// floor(-ln(u) * ml).
func (h *hnswIndex) randomLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * h.ml))
}

// maxLevel is the top level of the current entry point, -1 when the
// graph is empty.
func (h *hnswIndex) maxLevel() int {
	if h.entryPoint == InvalidID {
		return -1
	}
	return h.store.node(h.entryPoint).level
}

func (h *hnswIndex) distanceTo(query Vector, id VectorID) float32 {
	return h.metric.Distance(query, h.store.vectorOf(id))
}

// neighborsAt returns the node's neighbor list at a layer. During a
// parallel build the list is copied under the node lock; on the
// single-writer path it aliases the stored slice.
func (h *hnswIndex) neighborsAt(n *graphNode, layer int) []VectorID {
	if layer >= len(n.neighbors) {
		return nil
	}
	if !h.concurrent {
		return n.neighbors[layer]
	}
	n.mu.Lock()
	out := make([]VectorID, len(n.neighbors[layer]))
	copy(out, n.neighbors[layer])
	n.mu.Unlock()
	return out
}

func (h *hnswIndex) setNeighbors(n *graphNode, layer int, ids []VectorID) {
	if h.concurrent {
		n.mu.Lock()
		defer n.mu.Unlock()
	}
	n.neighbors[layer] = ids
}

// prepare sizes a node's neighbor lists for its assigned level. Bulk
// build runs this for every record before fanning out, so workers only
// ever mutate list contents, never the slice headers' shape.
func (h *hnswIndex) prepare(id VectorID, level int) {
	n := h.store.node(id)
	n.level = level
	n.neighbors = make([][]VectorID, level+1)
	for i := range n.neighbors {
		n.neighbors[i] = []VectorID{}
	}
}

// link wires a prepared node into the graph: greedy descent through
// the sparse layers, then candidate-set search and heuristic neighbor
// selection from min(level, maxLevel) down to 0, back-linking into
// every selected neighbor.
func (h *hnswIndex) link(id VectorID) {
	n := h.store.node(id)
	vec := h.store.vectorOf(id)
	level := n.level

	if h.entryPoint == InvalidID {
		h.entryPoint = id
		return
	}

	epLevel := h.maxLevel()
	curr := h.entryPoint
	for l := epLevel; l > level; l-- {
		curr = h.greedyClosest(vec, curr, l)
	}

	top := level
	if epLevel < top {
		top = epLevel
	}
	for l := top; l >= 0; l-- {
		cands := h.searchLayer(vec, curr, h.efConstruction, l)
		selected := h.selectNeighbors(cands, maxDegree(l))

		ids := make([]VectorID, len(selected))
		for i, c := range selected {
			ids[i] = c.id
		}
		h.setNeighbors(n, l, ids)

		for _, c := range selected {
			h.backLink(c.id, id, l)
		}
		if len(cands) > 0 {
			curr = cands[0].id
		}
	}

	if level > epLevel {
		h.entryPoint = id
	}
}

// greedyClosest walks a single layer, hopping to any strictly closer
// neighbor until none remains.
func (h *hnswIndex) greedyClosest(query Vector, from VectorID, layer int) VectorID {
	curr := from
	currDist := h.distanceTo(query, curr)
	for {
		improved := false
		for _, nb := range h.neighborsAt(h.store.node(curr), layer) {
			d := h.distanceTo(query, nb)
			if lessDist(d, currDist) {
				curr, currDist = nb, d
				improved = true
			}
		}
		if !improved {
			return curr
		}
	}
}

// searchLayer runs the bounded beam search of the construction and
// query paths: a min-heap frontier of nodes to expand against a
// max-heap of the best ef seen. Returns candidates sorted ascending.
func (h *hnswIndex) searchLayer(query Vector, entry VectorID, ef, layer int) []candidate {
	visited := map[VectorID]struct{}{entry: {}}
	entryDist := h.distanceTo(query, entry)

	frontier := &candidateHeap{}
	results := &candidateHeap{max: true}
	heap.Push(frontier, candidate{id: entry, dist: entryDist})
	heap.Push(results, candidate{id: entry, dist: entryDist})

	for frontier.Len() > 0 {
		curr := heap.Pop(frontier).(candidate)
		if results.Len() >= ef && lessDist(results.peek().dist, curr.dist) {
			break
		}
		for _, nb := range h.neighborsAt(h.store.node(curr.id), layer) {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			d := h.distanceTo(query, nb)
			if results.Len() < ef || lessDist(d, results.peek().dist) {
				heap.Push(frontier, candidate{id: nb, dist: d})
				heap.Push(results, candidate{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// selectNeighbors applies the diversification heuristic to a
// candidate pool sorted ascending by distance: a candidate is accepted
// iff it is closer to the query than to every already-accepted
// neighbor. Stops at m accepted or pool exhaustion.
func (h *hnswIndex) selectNeighbors(cands []candidate, m int) []candidate {
	selected := make([]candidate, 0, m)
	for _, c := range cands {
		if len(selected) == m {
			break
		}
		cVec := h.store.vectorOf(c.id)
		keep := true
		for _, r := range selected {
			if !lessDist(c.dist, h.metric.Distance(cVec, h.store.vectorOf(r.id))) {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		}
	}
	return selected
}

// backLink adds newID into nb's list at the layer, re-running the
// selection heuristic over the overflowing list when the degree cap is
// exceeded.
func (h *hnswIndex) backLink(nb, newID VectorID, layer int) {
	n := h.store.node(nb)
	if h.concurrent {
		n.mu.Lock()
		defer n.mu.Unlock()
	}
	if layer >= len(n.neighbors) {
		return
	}
	for _, existing := range n.neighbors[layer] {
		if existing == newID {
			return
		}
	}
	list := append(n.neighbors[layer], newID)
	limit := maxDegree(layer)
	if len(list) > limit {
		nbVec := h.store.vectorOf(nb)
		pool := make([]candidate, len(list))
		for i, id := range list {
			pool[i] = candidate{id: id, dist: h.metric.Distance(nbVec, h.store.vectorOf(id))}
		}
		sortCandidates(pool)
		pruned := h.selectNeighbors(pool, limit)
		list = make([]VectorID, len(pruned))
		for i, c := range pruned {
			list[i] = c.id
		}
	}
	n.neighbors[layer] = list
}

// unlink removes every reference to id from the graph and clears the
// node's own lists. Pruning leaves links asymmetric, so the node's own
// neighbor lists do not enumerate all referrers; the sweep walks every
// live node instead.
func (h *hnswIndex) unlink(id VectorID) {
	for _, other := range h.store.liveIDs() {
		if other == id {
			continue
		}
		n := h.store.node(other)
		for l, list := range n.neighbors {
			for i, nb := range list {
				if nb == id {
					n.neighbors[l] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
	}
	n := h.store.node(id)
	for l := range n.neighbors {
		n.neighbors[l] = []VectorID{}
	}
}

// remove deletes id from graph and store, then repairs the entry
// point: highest remaining top level, ties to the smallest ID, or the
// invalid sentinel when the collection empties. Former neighbors are
// not re-linked.
func (h *hnswIndex) remove(id VectorID) error {
	if !h.store.contains(id) {
		return newErrorf(KindNotFound, "vector id %d not found", id)
	}
	h.unlink(id)
	if err := h.store.remove(id); err != nil {
		return err
	}
	if h.entryPoint == id {
		h.entryPoint = h.bestEntry(InvalidID)
	}
	return nil
}

// relink re-wires an existing node after its vector changed, keeping
// its ID and level. If the node is the current entry point, descent
// temporarily starts from the best alternative.
func (h *hnswIndex) relink(id VectorID) {
	h.unlink(id)
	if h.entryPoint == id {
		h.entryPoint = h.bestEntry(id)
	}
	h.link(id)
	if h.entryPoint == InvalidID {
		h.entryPoint = id
	}
}

// bestEntry scans live nodes for the highest top level, breaking ties
// by smallest ID and skipping exclude.
func (h *hnswIndex) bestEntry(exclude VectorID) VectorID {
	best := InvalidID
	bestLevel := -1
	for _, id := range h.store.liveIDs() {
		if id == exclude {
			continue
		}
		if lvl := h.store.node(id).level; lvl > bestLevel {
			best, bestLevel = id, lvl
		}
	}
	return best
}

// search returns the k closest candidates to query, ascending by
// distance: greedy descent through the upper layers, then a layer-0
// beam with ef = max(efSearch, k).
func (h *hnswIndex) search(query Vector, k int) []candidate {
	if h.entryPoint == InvalidID {
		return nil
	}
	curr := h.entryPoint
	for l := h.maxLevel(); l >= 1; l-- {
		curr = h.greedyClosest(query, curr, l)
	}
	ef := h.efSearch
	if k > ef {
		ef = k
	}
	cands := h.searchLayer(query, curr, ef, 0)
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

// bruteForce computes the distance to every live record and returns
// the top k under the same ranking as search. Ground truth for recall
// testing and the sane fallback for tiny collections.
func (h *hnswIndex) bruteForce(query Vector, k int) []candidate {
	ids := h.store.liveIDs()
	all := make([]candidate, len(ids))
	for i, id := range ids {
		all[i] = candidate{id: id, dist: h.distanceTo(query, id)}
	}
	sortCandidates(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// sortCandidates orders ascending by (distance, id) under the
// NaN-last total order.
func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		return lessCandidate(c[i].dist, c[i].id, c[j].dist, c[j].id)
	})
}

// candidateHeap is a binary heap of candidates: min-ordered frontier
// by default, max-ordered bounded result set with max = true.
type candidateHeap struct {
	items []candidate
	max   bool
}

func (h *candidateHeap) Len() int { return len(h.items) }

func (h *candidateHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.max {
		a, b = b, a
	}
	return lessCandidate(a.dist, a.id, b.dist, b.id)
}

func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x any) { h.items = append(h.items, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// peek returns the root: the closest item of a frontier, the farthest
// retained item of a result set.
func (h *candidateHeap) peek() candidate { return h.items[0] }
