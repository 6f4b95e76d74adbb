package vector

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphSnapshot is a comparable view of the linked structure.
type graphSnapshot struct {
	entryPoint VectorID
	levels     map[VectorID]int
	neighbors  map[string][]VectorID
}

func snapshotGraph(c *Collection) graphSnapshot {
	snap := graphSnapshot{
		entryPoint: c.index.entryPoint,
		levels:     map[VectorID]int{},
		neighbors:  map[string][]VectorID{},
	}
	for _, id := range c.store.liveIDs() {
		n := c.store.node(id)
		snap.levels[id] = n.level
		for l, list := range n.neighbors {
			snap.neighbors[fmt.Sprintf("%d/%d", id, l)] = append([]VectorID{}, list...)
		}
	}
	return snap
}

// checkGraphInvariants asserts the structural contract: degree caps
// per layer, resolvable neighbor references, no self-loops or
// duplicates, and an entry point at the maximum live level.
func checkGraphInvariants(t *testing.T, c *Collection) {
	t.Helper()

	live := c.store.liveIDs()
	maxLevel := -1
	for _, id := range live {
		n := c.store.node(id)
		require.NotNil(t, n, "live record %d has no graph node", id)
		require.Len(t, n.neighbors, n.level+1, "node %d has %d layers for level %d", id, len(n.neighbors), n.level)
		if n.level > maxLevel {
			maxLevel = n.level
		}
		for l, list := range n.neighbors {
			assert.LessOrEqual(t, len(list), maxDegree(l), "node %d exceeds degree cap at layer %d", id, l)
			seen := map[VectorID]struct{}{}
			for _, nb := range list {
				assert.NotEqual(t, id, nb, "node %d links to itself at layer %d", id, l)
				assert.True(t, c.store.contains(nb), "node %d links to dead id %d at layer %d", id, nb, l)
				_, dup := seen[nb]
				assert.False(t, dup, "node %d lists %d twice at layer %d", id, nb, l)
				seen[nb] = struct{}{}
			}
		}
	}

	if len(live) == 0 {
		assert.Equal(t, InvalidID, c.index.entryPoint)
		return
	}
	ep := c.index.entryPoint
	require.True(t, c.store.contains(ep), "entry point %d is not live", ep)
	assert.Equal(t, maxLevel, c.store.node(ep).level, "entry point is not at the maximum level")
}

func TestHNSW_GraphInvariantsAfterBuild(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c, err := Build(testConfig(), randomRecords(rng, 400, 32))
	require.NoError(t, err)
	checkGraphInvariants(t, c)
}

func TestHNSW_GraphInvariantsAfterChurn(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	c, err := Build(testConfig(), randomRecords(rng, 200, 16))
	require.NoError(t, err)

	// Interleave deletes, inserts, and vector updates.
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Delete(VectorID(i*3)))
	}
	for i := 0; i < 50; i++ {
		_, err := c.Insert(Record{Vector: randomVector(rng, 16), Data: Integer(i)})
		require.NoError(t, err)
	}
	for _, id := range []VectorID{1, 50, 100, 199} {
		if c.Contains(id) {
			require.NoError(t, c.Update(id, Record{Vector: randomVector(rng, 16)}))
		}
	}

	checkGraphInvariants(t, c)
	assert.Equal(t, 200, c.Len())
}

func TestHNSW_DeletePurgesAllReferences(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	c, err := Build(testConfig(), randomRecords(rng, 150, 16))
	require.NoError(t, err)

	victim := VectorID(75)
	require.NoError(t, c.Delete(victim))

	// No live node's neighbor list at any layer mentions the victim.
	for _, id := range c.store.liveIDs() {
		for l, list := range c.store.node(id).neighbors {
			for _, nb := range list {
				assert.NotEqual(t, victim, nb, "node %d still references deleted %d at layer %d", id, victim, l)
			}
		}
	}
}

func TestHNSW_EntryPointReplacementOnDelete(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	c, err := Build(testConfig(), randomRecords(rng, 100, 8))
	require.NoError(t, err)

	// When: I delete the entry point itself
	ep := c.index.entryPoint
	require.NoError(t, c.Delete(ep))

	// Then: the replacement is live at the maximum remaining level
	checkGraphInvariants(t, c)
	assert.NotEqual(t, ep, c.index.entryPoint)

	// Ties at the top level go to the smallest ID.
	best := InvalidID
	bestLevel := -1
	for _, id := range c.store.liveIDs() {
		if lvl := c.store.node(id).level; lvl > bestLevel {
			best, bestLevel = id, lvl
		}
	}
	assert.Equal(t, best, c.index.entryPoint)
}

func TestHNSW_DeleteToEmpty(t *testing.T) {
	c, err := Build(testConfig(), []Record{
		{Vector: Vector{1, 0}},
		{Vector: Vector{0, 1}},
	})
	require.NoError(t, err)

	require.NoError(t, c.Delete(0))
	require.NoError(t, c.Delete(1))

	assert.True(t, c.IsEmpty())
	assert.Equal(t, InvalidID, c.index.entryPoint)

	// The emptied collection accepts new inserts and searches.
	id, err := c.Insert(Record{Vector: Vector{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, VectorID(2), id)
	results, err := c.Search(Vector{1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

func TestHNSW_SelectNeighborsDiversifies(t *testing.T) {
	// Given: a pool where the second-closest candidate hugs the
	// closest one
	c, err := Build(testConfig(), []Record{
		{Vector: Vector{1, 0}},    // 0: closest to the query
		{Vector: Vector{1.05, 0}}, // 1: closer to 0 than to the query
		{Vector: Vector{0, 2}},    // 2: farther but diverse
	})
	require.NoError(t, err)

	query := Vector{0, 0}
	pool := make([]candidate, 3)
	for i := range pool {
		pool[i] = candidate{id: VectorID(i), dist: Euclidean.Distance(query, c.store.vectorOf(VectorID(i)))}
	}
	sortCandidates(pool)

	// When: the heuristic selects two neighbors
	selected := c.index.selectNeighbors(pool, 2)

	// Then: the redundant candidate 1 is skipped for the diverse 2
	require.Len(t, selected, 2)
	assert.Equal(t, VectorID(0), selected[0].id)
	assert.Equal(t, VectorID(2), selected[1].id)
}

func TestHNSW_SelectNeighborsRespectsCap(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	c, err := Build(testConfig(), randomRecords(rng, 200, 8))
	require.NoError(t, err)

	query := randomVector(rng, 8)
	pool := make([]candidate, 0, 200)
	for _, id := range c.store.liveIDs() {
		pool = append(pool, candidate{id: id, dist: Euclidean.Distance(query, c.store.vectorOf(id))})
	}
	sortCandidates(pool)

	selected := c.index.selectNeighbors(pool, 10)
	assert.LessOrEqual(t, len(selected), 10)

	// Selected neighbors come back in ascending distance order.
	for i := 1; i < len(selected); i++ {
		assert.True(t, lessCandidate(selected[i-1].dist, selected[i-1].id, selected[i].dist, selected[i].id))
	}
}

func TestHNSW_RecallAgainstBruteForce(t *testing.T) {
	if testing.Short() {
		t.Skip("recall measurement is slow")
	}
	rng := rand.New(rand.NewSource(10))
	const n, dim, k, queries = 1000, 64, 10, 20

	c, err := Build(testConfig(), randomRecords(rng, n, dim))
	require.NoError(t, err)

	var hit, total int
	for q := 0; q < queries; q++ {
		query := randomVector(rng, dim)

		approx, err := c.Search(query, k)
		require.NoError(t, err)
		exact, err := c.TrueSearch(query, k)
		require.NoError(t, err)
		require.Len(t, exact, k)

		truth := map[VectorID]struct{}{}
		for _, r := range exact {
			truth[r.ID] = struct{}{}
		}
		for _, r := range approx {
			if _, ok := truth[r.ID]; ok {
				hit++
			}
		}
		total += k
	}

	recall := float64(hit) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall@%d = %.3f", k, recall)
}

func TestHNSW_DeterministicWithSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	recs := randomRecords(rng, 150, 16)

	build := func() graphSnapshot {
		c, err := Build(testConfig(), recs)
		require.NoError(t, err)
		return snapshotGraph(c)
	}

	// Sequential builds with the same seed produce identical graphs.
	assert.Equal(t, build(), build())
}

func TestHNSW_RandomLevelDistribution(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)

	counts := map[int]int{}
	for i := 0; i < 20000; i++ {
		counts[c.index.randomLevel()]++
	}

	// Level 0 dominates and the frequency decays with height.
	assert.Greater(t, counts[0], 15000)
	assert.Greater(t, counts[0], counts[1])
	for lvl := range counts {
		assert.GreaterOrEqual(t, lvl, 0)
		assert.Less(t, lvl, 12, "implausibly tall level %d", lvl)
	}
}

func TestHNSW_SearchFewerThanK(t *testing.T) {
	c, err := Build(testConfig(), []Record{
		{Vector: Vector{1, 0}},
		{Vector: Vector{0, 1}},
	})
	require.NoError(t, err)

	results, err := c.Search(Vector{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestHNSW_BruteForceTieBreaksByID(t *testing.T) {
	// Two records at identical distance from the query.
	c, err := Build(testConfig(), []Record{
		{Vector: Vector{1, 0}},
		{Vector: Vector{-1, 0}},
	})
	require.NoError(t, err)

	results, err := c.TrueSearch(Vector{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, VectorID(0), results[0].ID)
	assert.Equal(t, VectorID(1), results[1].ID)
}
