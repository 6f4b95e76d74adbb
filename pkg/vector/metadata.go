package vector

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Metadata is the recursive value attached to every record: text,
// integer, float, boolean, an ordered list, or a string-keyed map.
// The closed set of implementations lives in this file.
type Metadata interface {
	// Clone returns a deep copy sharing no memory with the receiver.
	Clone() Metadata

	metadataVariant()
}

// Text holds a UTF-8 string value.
type Text string

// Integer holds a signed 64-bit integer value.
type Integer int64

// Float holds a 64-bit floating-point value.
type Float float64

// Boolean holds a true/false value.
type Boolean bool

// List holds an ordered sequence of values.
type List []Metadata

// Map holds a string-keyed mapping. Key order is not significant;
// the canonical byte encodings sort keys lexicographically.
type Map map[string]Metadata

func (Text) metadataVariant()    {}
func (Integer) metadataVariant() {}
func (Float) metadataVariant()   {}
func (Boolean) metadataVariant() {}
func (List) metadataVariant()    {}
func (Map) metadataVariant()     {}

// Clone returns the value itself; Text is immutable.
func (t Text) Clone() Metadata { return t }

// Clone returns the value itself.
func (i Integer) Clone() Metadata { return i }

// Clone returns the value itself.
func (f Float) Clone() Metadata { return f }

// Clone returns the value itself.
func (b Boolean) Clone() Metadata { return b }

// Clone deep-copies every element.
func (l List) Clone() Metadata {
	out := make(List, len(l))
	for i, v := range l {
		out[i] = v.Clone()
	}
	return out
}

// Clone deep-copies every entry.
func (m Map) Clone() Metadata {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// ParseMetadataJSON decodes a JSON document into a Metadata tree.
// Numbers become Integer when the literal is exactly representable as
// a signed 64-bit integer, Float otherwise. JSON null has no variant
// and is rejected.
func ParseMetadataJSON(data []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, wrapError(KindUnsupported, err, "invalid metadata JSON")
	}
	// Reject trailing garbage after the first document.
	if dec.More() {
		return nil, newErrorf(KindUnsupported, "trailing data after metadata JSON document")
	}
	return metadataFromJSONValue(raw)
}

// MarshalMetadataJSON encodes a Metadata tree as JSON. Map keys are
// emitted in sorted order, so equal trees produce equal bytes.
func MarshalMetadataJSON(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, newErrorf(KindUnsupported, "nil metadata")
	}
	data, err := json.Marshal(metadataToJSONValue(m))
	if err != nil {
		return nil, wrapError(KindUnsupported, err, "encode metadata JSON")
	}
	return data, nil
}

func metadataFromJSONValue(raw any) (Metadata, error) {
	switch v := raw.(type) {
	case string:
		return Text(v), nil
	case bool:
		return Boolean(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, newErrorf(KindUnsupported, "number %q out of range", v.String())
		}
		return Float(f), nil
	case []any:
		list := make(List, len(v))
		for i, elem := range v {
			m, err := metadataFromJSONValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = m
		}
		return list, nil
	case map[string]any:
		out := make(Map, len(v))
		for k, elem := range v {
			m, err := metadataFromJSONValue(elem)
			if err != nil {
				return nil, err
			}
			out[k] = m
		}
		return out, nil
	case nil:
		return nil, newErrorf(KindUnsupported, "JSON null has no metadata representation")
	default:
		return nil, newErrorf(KindUnsupported, "unsupported JSON value %T", raw)
	}
}

func metadataToJSONValue(m Metadata) any {
	switch v := m.(type) {
	case Text:
		return string(v)
	case Integer:
		return int64(v)
	case Float:
		return float64(v)
	case Boolean:
		return bool(v)
	case List:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = metadataToJSONValue(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = metadataToJSONValue(elem)
		}
		return out
	default:
		return nil
	}
}

// matchMetadata reports whether stored satisfies the query, per the
// filter contract: substring containment for Text, equality for
// scalars, and recursive key-subset matching for Map. List queries are
// not supported at any depth.
func matchMetadata(stored, query Metadata) (bool, error) {
	switch q := query.(type) {
	case Text:
		s, ok := stored.(Text)
		return ok && strings.Contains(string(s), string(q)), nil
	case Integer:
		s, ok := stored.(Integer)
		return ok && s == q, nil
	case Float:
		s, ok := stored.(Float)
		return ok && s == q, nil
	case Boolean:
		s, ok := stored.(Boolean)
		return ok && s == q, nil
	case Map:
		// Every sub-query is walked, even against a non-map or a missing
		// key, so a nested list query is rejected regardless of the data.
		s, isMap := stored.(Map)
		matched := isMap
		for key, sub := range q {
			val, present := s[key]
			match, err := matchMetadata(val, sub)
			if err != nil {
				return false, err
			}
			if !present || !match {
				matched = false
			}
		}
		return matched, nil
	case List:
		return false, newErrorf(KindUnsupported, "list filters are not supported")
	default:
		return false, newErrorf(KindUnsupported, "unsupported filter value %T", query)
	}
}
