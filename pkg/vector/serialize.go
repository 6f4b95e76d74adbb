package vector

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"sort"
)

// Wire format v1: little-endian throughout, CRC-32C (Castagnoli)
// trailer over every preceding byte. Record and node sections are
// written in ascending ID order and map keys sorted, so equal
// collections serialize to equal bytes.
const (
	streamMagic   = "OSYS"
	streamVersion = uint16(1)

	// Decoder sanity bounds; anything beyond them is a corrupt or
	// hostile stream, not a real collection.
	maxDimension     = 1 << 20
	maxMetadataBlob  = 1 << 30
	maxMetadataDepth = 512
	maxTopLevel      = 1 << 12
)

// Metadata wire tags.
const (
	tagText = iota
	tagInteger
	tagFloat
	tagBoolean
	tagList
	tagMap
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Serialize writes the entire collection to w in the versioned binary
// format. The write is not atomic at the file level; callers wanting
// durability should target a temporary file and rename on success.
func (c *Collection) Serialize(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cw := &crcWriter{w: w}
	enc := &streamEncoder{w: bufio.NewWriter(cw)}

	enc.bytes([]byte(streamMagic))
	enc.u16(streamVersion)
	enc.u32(uint32(c.dimension))
	enc.u16(graphM)
	enc.u16(graphM0)
	enc.u32(uint32(c.config.EfConstruction))
	enc.u32(uint32(c.config.EfSearch))
	enc.f64(c.config.Ml)
	enc.u8(uint8(c.config.Distance))
	enc.f32(c.relevancy)
	enc.u32(c.store.nextID)
	enc.u32(c.index.entryPoint)
	levelMax := c.index.maxLevel()
	if levelMax < 0 {
		levelMax = 0
	}
	enc.u16(uint16(levelMax))

	ids := c.store.liveIDs()
	enc.u32(uint32(len(ids)))
	for _, id := range ids {
		rec := c.store.records[id]
		enc.u32(id)
		for _, x := range rec.Vector {
			enc.f32(x)
		}
		blob := encodeMetadata(rec.Data)
		enc.uvarint(uint64(len(blob)))
		enc.bytes(blob)
	}

	enc.u32(uint32(len(ids)))
	for _, id := range ids {
		n := c.store.nodes[id]
		enc.u32(id)
		enc.u16(uint16(n.level))
		for l := 0; l <= n.level; l++ {
			enc.u16(uint16(len(n.neighbors[l])))
			for _, nb := range n.neighbors[l] {
				enc.u32(nb)
			}
		}
	}

	if enc.err == nil {
		enc.err = enc.w.Flush()
	}
	if enc.err != nil {
		return wrapError(KindIo, enc.err, "write collection stream")
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], cw.crc)
	if _, err := cw.w.Write(trailer[:]); err != nil {
		return wrapError(KindIo, err, "write checksum trailer")
	}
	return nil
}

// Deserialize reads a collection previously written by Serialize,
// verifying magic, version, checksum, and the structural invariants
// before returning it.
func Deserialize(r io.Reader) (*Collection, error) {
	cr := &crcReader{r: bufio.NewReader(r)}
	dec := &streamDecoder{r: cr}

	magic := dec.bytes(4)
	if dec.err != nil {
		return nil, dec.fail("read magic")
	}
	if string(magic) != streamMagic {
		return nil, newErrorf(KindCorruptStream, "bad magic %q", magic)
	}
	if v := dec.u16(); dec.err == nil && v != streamVersion {
		return nil, newErrorf(KindCorruptStream, "unsupported stream version %d", v)
	}

	dimension := dec.u32()
	m := dec.u16()
	m0 := dec.u16()
	efConstruction := dec.u32()
	efSearch := dec.u32()
	ml := dec.f64()
	distanceTag := dec.u8()
	relevancy := dec.f32()
	nextID := dec.u32()
	entryPoint := dec.u32()
	levelMax := int(dec.u16())
	recordCount := dec.u32()
	if dec.err != nil {
		return nil, dec.fail("read header")
	}
	if dimension > maxDimension {
		return nil, newErrorf(KindCorruptStream, "implausible dimension %d", dimension)
	}
	if m != graphM || m0 != graphM0 {
		return nil, newErrorf(KindCorruptStream, "degree caps %d/%d do not match format v1", m, m0)
	}

	config := Config{
		EfConstruction: int(efConstruction),
		EfSearch:       int(efSearch),
		Ml:             ml,
		Distance:       Metric(distanceTag),
	}
	if err := config.Validate(); err != nil {
		return nil, wrapError(KindCorruptStream, err, "invalid persisted config")
	}
	if recordCount > 0 && dimension == 0 {
		return nil, newErrorf(KindCorruptStream, "zero dimension with %d records", recordCount)
	}

	store := newRecordStore()
	for i := uint32(0); i < recordCount; i++ {
		id := dec.u32()
		vec := make(Vector, dimension)
		for j := range vec {
			vec[j] = dec.f32()
		}
		blobLen := dec.uvarint()
		if dec.err != nil {
			return nil, dec.fail("read record")
		}
		if blobLen > maxMetadataBlob {
			return nil, newErrorf(KindCorruptStream, "metadata blob of %d bytes", blobLen)
		}
		var data Metadata
		if blobLen > 0 {
			blob := dec.bytes(int(blobLen))
			if dec.err != nil {
				return nil, dec.fail("read metadata blob")
			}
			var err error
			data, err = decodeMetadata(blob)
			if err != nil {
				return nil, err
			}
		}
		if id >= nextID || id == InvalidID {
			return nil, newErrorf(KindCorruptStream, "record id %d outside allocated range", id)
		}
		if store.contains(id) {
			return nil, newErrorf(KindCorruptStream, "duplicate record id %d", id)
		}
		store.records[id] = Record{Vector: vec, Data: data}
	}

	nodeCount := dec.u32()
	if dec.err != nil {
		return nil, dec.fail("read node count")
	}
	if nodeCount != recordCount {
		return nil, newErrorf(KindCorruptStream, "%d nodes for %d records", nodeCount, recordCount)
	}
	for i := uint32(0); i < nodeCount; i++ {
		id := dec.u32()
		level := int(dec.u16())
		if dec.err != nil {
			return nil, dec.fail("read node")
		}
		if _, ok := store.records[id]; !ok {
			return nil, newErrorf(KindCorruptStream, "node %d has no record", id)
		}
		if _, ok := store.nodes[id]; ok {
			return nil, newErrorf(KindCorruptStream, "duplicate node id %d", id)
		}
		if level > maxTopLevel || level > levelMax {
			return nil, newErrorf(KindCorruptStream, "node %d level %d exceeds maximum %d", id, level, levelMax)
		}
		n := &graphNode{level: level, neighbors: make([][]VectorID, level+1)}
		for l := 0; l <= level; l++ {
			count := int(dec.u16())
			if count > maxDegree(l) {
				return nil, newErrorf(KindCorruptStream, "node %d holds %d neighbors at layer %d, cap %d", id, count, l, maxDegree(l))
			}
			list := make([]VectorID, count)
			for j := range list {
				list[j] = dec.u32()
			}
			n.neighbors[l] = list
		}
		if dec.err != nil {
			return nil, dec.fail("read node neighbors")
		}
		store.nodes[id] = n
	}
	store.nextID = nextID

	// The trailer is read outside the checksummed stream.
	var trailer [4]byte
	if _, err := io.ReadFull(cr.r, trailer[:]); err != nil {
		return nil, corruptOrIo(err, "read checksum trailer")
	}
	if got := binary.LittleEndian.Uint32(trailer[:]); got != cr.crc {
		return nil, newErrorf(KindCorruptStream, "checksum mismatch: stream %08x, computed %08x", got, cr.crc)
	}

	c := &Collection{
		config:    config,
		dimension: int(dimension),
		relevancy: relevancy,
		store:     store,
		index:     newHNSWIndex(store, config),
	}
	c.index.entryPoint = entryPoint
	if err := c.checkInvariants(levelMax); err != nil {
		return nil, err
	}
	return c, nil
}

// checkInvariants re-validates the structural invariants after a
// load: node/record bijection, resolvable neighbors, degree caps, and
// entry point liveness at the maximum level.
func (c *Collection) checkInvariants(levelMax int) error {
	for id, n := range c.store.nodes {
		for l, list := range n.neighbors {
			for _, nb := range list {
				if nb == id {
					return newErrorf(KindCorruptStream, "node %d links to itself at layer %d", id, l)
				}
				if !c.store.contains(nb) {
					return newErrorf(KindCorruptStream, "node %d links to dead id %d at layer %d", id, nb, l)
				}
			}
		}
	}
	if c.store.len() == 0 {
		if c.index.entryPoint != InvalidID {
			return newErrorf(KindCorruptStream, "entry point %d in an empty collection", c.index.entryPoint)
		}
		return nil
	}
	ep := c.index.entryPoint
	if !c.store.contains(ep) {
		return newErrorf(KindCorruptStream, "entry point %d is not live", ep)
	}
	if got := c.store.node(ep).level; got != levelMax {
		return newErrorf(KindCorruptStream, "entry point level %d, stream says maximum is %d", got, levelMax)
	}
	for id, n := range c.store.nodes {
		if n.level > levelMax {
			return newErrorf(KindCorruptStream, "node %d level %d above entry point", id, n.level)
		}
	}
	return nil
}

// encodeMetadata walks the value depth-first into the tagged binary
// form: 1-byte tag, uvarint lengths, map keys sorted lexicographically.
func encodeMetadata(m Metadata) []byte {
	if m == nil {
		return nil
	}
	return appendMetadata(nil, m)
}

func appendMetadata(buf []byte, m Metadata) []byte {
	switch v := m.(type) {
	case Text:
		buf = append(buf, tagText)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	case Integer:
		buf = append(buf, tagInteger)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	case Float:
		buf = append(buf, tagFloat)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(v)))
	case Boolean:
		buf = append(buf, tagBoolean)
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case List:
		buf = append(buf, tagList)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		for _, elem := range v {
			buf = appendMetadata(buf, elem)
		}
	case Map:
		buf = append(buf, tagMap)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = binary.AppendUvarint(buf, uint64(len(k)))
			buf = append(buf, k...)
			buf = appendMetadata(buf, v[k])
		}
	}
	return buf
}

func decodeMetadata(blob []byte) (Metadata, error) {
	m, rest, err := decodeMetadataValue(blob, 0)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, newErrorf(KindCorruptStream, "%d trailing bytes after metadata value", len(rest))
	}
	return m, nil
}

func decodeMetadataValue(buf []byte, depth int) (Metadata, []byte, error) {
	if depth > maxMetadataDepth {
		return nil, nil, newErrorf(KindCorruptStream, "metadata nesting exceeds %d levels", maxMetadataDepth)
	}
	if len(buf) == 0 {
		return nil, nil, newErrorf(KindCorruptStream, "truncated metadata value")
	}
	tag := buf[0]
	buf = buf[1:]
	switch tag {
	case tagText:
		n, rest, err := decodeUvarint(buf)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(rest)) < n {
			return nil, nil, newErrorf(KindCorruptStream, "truncated text value")
		}
		return Text(rest[:n]), rest[n:], nil
	case tagInteger:
		if len(buf) < 8 {
			return nil, nil, newErrorf(KindCorruptStream, "truncated integer value")
		}
		return Integer(int64(binary.LittleEndian.Uint64(buf))), buf[8:], nil
	case tagFloat:
		if len(buf) < 8 {
			return nil, nil, newErrorf(KindCorruptStream, "truncated float value")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(buf))), buf[8:], nil
	case tagBoolean:
		if len(buf) < 1 {
			return nil, nil, newErrorf(KindCorruptStream, "truncated boolean value")
		}
		switch buf[0] {
		case 0:
			return Boolean(false), buf[1:], nil
		case 1:
			return Boolean(true), buf[1:], nil
		default:
			return nil, nil, newErrorf(KindCorruptStream, "boolean byte %d", buf[0])
		}
	case tagList:
		n, rest, err := decodeUvarint(buf)
		if err != nil {
			return nil, nil, err
		}
		list := make(List, 0, int(min(n, 1024)))
		for i := uint64(0); i < n; i++ {
			var elem Metadata
			elem, rest, err = decodeMetadataValue(rest, depth+1)
			if err != nil {
				return nil, nil, err
			}
			list = append(list, elem)
		}
		return list, rest, nil
	case tagMap:
		n, rest, err := decodeUvarint(buf)
		if err != nil {
			return nil, nil, err
		}
		out := make(Map, int(min(n, 1024)))
		for i := uint64(0); i < n; i++ {
			var keyLen uint64
			keyLen, rest, err = decodeUvarint(rest)
			if err != nil {
				return nil, nil, err
			}
			if uint64(len(rest)) < keyLen {
				return nil, nil, newErrorf(KindCorruptStream, "truncated map key")
			}
			key := string(rest[:keyLen])
			rest = rest[keyLen:]
			var val Metadata
			val, rest, err = decodeMetadataValue(rest, depth+1)
			if err != nil {
				return nil, nil, err
			}
			out[key] = val
		}
		return out, rest, nil
	default:
		return nil, nil, newErrorf(KindCorruptStream, "unknown metadata tag %d", tag)
	}
}

func decodeUvarint(buf []byte) (uint64, []byte, error) {
	n, read := binary.Uvarint(buf)
	if read <= 0 {
		return 0, nil, newErrorf(KindCorruptStream, "malformed varint")
	}
	return n, buf[read:], nil
}

// crcWriter folds every written byte into a running CRC-32C.
type crcWriter struct {
	w   io.Writer
	crc uint32
}

func (cw *crcWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.crc = crc32.Update(cw.crc, castagnoli, p[:n])
	return n, err
}

// crcReader folds every read byte into a running CRC-32C.
type crcReader struct {
	r   *bufio.Reader
	crc uint32
}

func (cr *crcReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.crc = crc32.Update(cr.crc, castagnoli, p[:n])
	return n, err
}

// streamEncoder writes fixed-width little-endian values with a sticky
// error.
type streamEncoder struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

func (e *streamEncoder) bytes(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *streamEncoder) u8(v uint8) {
	e.buf[0] = v
	e.bytes(e.buf[:1])
}

func (e *streamEncoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[:2], v)
	e.bytes(e.buf[:2])
}

func (e *streamEncoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.bytes(e.buf[:4])
}

func (e *streamEncoder) f32(v float32) {
	e.u32(math.Float32bits(v))
}

func (e *streamEncoder) f64(v float64) {
	binary.LittleEndian.PutUint64(e.buf[:8], math.Float64bits(v))
	e.bytes(e.buf[:8])
}

func (e *streamEncoder) uvarint(v uint64) {
	n := binary.PutUvarint(e.buf[:], v)
	e.bytes(e.buf[:n])
}

// streamDecoder reads fixed-width little-endian values with a sticky
// error.
type streamDecoder struct {
	r   *crcReader
	buf [8]byte
	err error
}

func (d *streamDecoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	p := make([]byte, n)
	_, d.err = io.ReadFull(d.r, p)
	return p
}

func (d *streamDecoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	_, d.err = io.ReadFull(d.r, d.buf[:n])
	return d.buf[:n]
}

func (d *streamDecoder) u8() uint8 { return d.read(1)[0] }

func (d *streamDecoder) u16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }

func (d *streamDecoder) u32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }

func (d *streamDecoder) f32() float32 { return math.Float32frombits(d.u32()) }

func (d *streamDecoder) f64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(d.read(8)))
}

func (d *streamDecoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d)
	d.err = err
	return v
}

// ReadByte lets binary.ReadUvarint consume the checksummed stream one
// byte at a time.
func (d *streamDecoder) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// fail maps the sticky decode error: truncation means a corrupt
// stream, anything else is the reader failing underneath us.
func (d *streamDecoder) fail(context string) error {
	return corruptOrIo(d.err, context)
}

func corruptOrIo(err error, context string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return wrapError(KindCorruptStream, err, "truncated stream: "+context)
	}
	return wrapError(KindIo, err, context)
}
