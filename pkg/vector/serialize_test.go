package vector

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializeToBytes(t *testing.T, c *Collection) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Serialize(&buf))
	return buf.Bytes()
}

func TestSerialize_RoundTripEmpty(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)

	back, err := Deserialize(bytes.NewReader(serializeToBytes(t, c)))
	require.NoError(t, err)

	assert.True(t, back.IsEmpty())
	assert.Equal(t, InvalidID, back.index.entryPoint)
	assert.Equal(t, c.Config().EfConstruction, back.Config().EfConstruction)
}

func TestSerialize_RoundTripPreservesEverything(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	cfg := testConfig()
	cfg.Distance = Cosine
	recs := randomRecords(rng, 200, 24)
	recs[0].Data = Map{"kind": Text("first"), "rank": Integer(1), "w": Float(0.25), "ok": Boolean(true)}
	recs[1].Data = List{Text("a"), Integer(2)}
	recs[2].Data = nil
	c, err := Build(cfg, recs)
	require.NoError(t, err)
	require.NoError(t, c.Delete(50))
	c.SetRelevancy(1.5)

	// When: I serialize and reload
	back, err := Deserialize(bytes.NewReader(serializeToBytes(t, c)))
	require.NoError(t, err)

	// Then: records, IDs, graph, entry point, and config all survive
	assert.Equal(t, c.Len(), back.Len())
	assert.Equal(t, c.Dimension(), back.Dimension())
	assert.Equal(t, c.Relevancy(), back.Relevancy())
	assert.Equal(t, c.Config().Distance, back.Config().Distance)
	assert.Equal(t, c.store.nextID, back.store.nextID)
	assert.False(t, back.Contains(50))

	for id, rec := range c.List() {
		got, err := back.Get(id)
		require.NoError(t, err)
		assert.Equal(t, rec.Vector, got.Vector)
		assert.Equal(t, rec.Data, got.Data)
	}

	assert.Equal(t, snapshotGraph(c), snapshotGraph(back))
	checkGraphInvariants(t, back)
}

func TestSerialize_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(37))
	recs := randomRecords(rng, 100, 16)
	recs[3].Data = Map{"b": Integer(2), "a": Integer(1), "c": Integer(3)}
	c, err := Build(testConfig(), recs)
	require.NoError(t, err)

	// Serializing twice yields identical bytes.
	assert.Equal(t, serializeToBytes(t, c), serializeToBytes(t, c))
}

// S6: a reloaded collection answers a fixed query identically.
func TestSerialize_ReloadedSearchIsIdentical(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	c, err := Build(testConfig(), randomRecords(rng, 1000, 32))
	require.NoError(t, err)

	back, err := Deserialize(bytes.NewReader(serializeToBytes(t, c)))
	require.NoError(t, err)

	for id, rec := range c.List() {
		got, err := back.Get(id)
		require.NoError(t, err)
		assert.Equal(t, rec.Vector, got.Vector)
	}

	query := randomVector(rng, 32)
	before, err := c.Search(query, 10)
	require.NoError(t, err)
	after, err := back.Search(query, 10)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeserialize_BadMagic(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	data := serializeToBytes(t, c)
	data[0] = 'X'

	_, err = Deserialize(bytes.NewReader(data))
	require.Error(t, err)
	assert.Equal(t, KindCorruptStream, KindOf(err))
}

func TestDeserialize_BadVersion(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	data := serializeToBytes(t, c)
	data[4] = 0xFF

	_, err = Deserialize(bytes.NewReader(data))
	require.Error(t, err)
	assert.Equal(t, KindCorruptStream, KindOf(err))
}

func TestDeserialize_FlippedByteFailsChecksum(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	c, err := Build(testConfig(), randomRecords(rng, 20, 8))
	require.NoError(t, err)
	data := serializeToBytes(t, c)

	// Flip one vector byte in the middle of the stream.
	data[len(data)/2] ^= 0x40

	_, err = Deserialize(bytes.NewReader(data))
	require.Error(t, err)
	assert.Equal(t, KindCorruptStream, KindOf(err))
}

func TestDeserialize_Truncated(t *testing.T) {
	rng := rand.New(rand.NewSource(47))
	c, err := Build(testConfig(), randomRecords(rng, 20, 8))
	require.NoError(t, err)
	data := serializeToBytes(t, c)

	for _, cut := range []int{3, 10, len(data) / 2, len(data) - 2} {
		_, err := Deserialize(bytes.NewReader(data[:cut]))
		require.Error(t, err, "truncation at %d", cut)
		assert.Equal(t, KindCorruptStream, KindOf(err), "truncation at %d", cut)
	}
}

func TestDeserialize_EmptyStream(t *testing.T) {
	_, err := Deserialize(bytes.NewReader(nil))
	require.Error(t, err)
	assert.Equal(t, KindCorruptStream, KindOf(err))
}

func TestEncodeMetadata_SortsMapKeys(t *testing.T) {
	// Equal maps built in different insertion orders encode equally.
	a := Map{"x": Integer(1), "y": Integer(2), "z": Integer(3)}
	b := Map{"z": Integer(3), "x": Integer(1), "y": Integer(2)}
	assert.Equal(t, encodeMetadata(a), encodeMetadata(b))
}

func TestEncodeMetadata_RoundTrip(t *testing.T) {
	values := []Metadata{
		Text("hello"),
		Text(""),
		Integer(-42),
		Float(3.14159),
		Boolean(true),
		Boolean(false),
		List{},
		List{Integer(1), List{Text("nested")}},
		Map{},
		Map{"k": Map{"deep": List{Float(0.5)}}},
	}
	for _, v := range values {
		got, err := decodeMetadata(encodeMetadata(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestDecodeMetadata_Garbage(t *testing.T) {
	cases := [][]byte{
		{},
		{99},               // unknown tag
		{tagInteger, 1, 2}, // truncated integer
		{tagText, 0x05, 'a', 'b'},
		{tagBoolean, 7},
	}
	for _, blob := range cases {
		_, err := decodeMetadata(blob)
		require.Error(t, err)
		assert.Equal(t, KindCorruptStream, KindOf(err))
	}
}
