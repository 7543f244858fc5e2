package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"passpredict/features"
)

// Categories maps a feature name to the numeric code of each accepted string
// value, e.g. {"sex": {"F": 0, "M": 1}}.
type Categories map[string]map[string]float64

// Encoder turns an aligned record into the numeric vector a Classifier reads.
// Missing values become NaN.
type Encoder struct {
	names      []string
	categories []map[string]float64
}

func NewEncoder(schema *features.Schema, categories Categories) (*Encoder, error) {
	enc := &Encoder{
		names:      schema.Names(),
		categories: make([]map[string]float64, schema.Len()),
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		idx, ok := schema.Index(name)
		if !ok {
			return nil, fmt.Errorf("categories reference unknown feature %q", name)
		}
		codes := make(map[string]float64, len(categories[name]))
		for value, code := range categories[name] {
			codes[value] = code
		}
		enc.categories[idx] = codes
	}
	return enc, nil
}

// Width returns the length of encoded vectors.
func (e *Encoder) Width() int {
	return len(e.names)
}

func (e *Encoder) Encode(record features.Record) ([]float64, error) {
	if len(record) != len(e.names) {
		return nil, fmt.Errorf("record has %d values, model expects %d", len(record), len(e.names))
	}
	vector := make([]float64, len(record))
	for i, value := range record {
		v, err := e.encodeValue(i, value)
		if err != nil {
			return nil, err
		}
		vector[i] = v
	}
	return vector, nil
}

func (e *Encoder) encodeValue(i int, value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return math.NaN(), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("feature %q: invalid number %q", e.names[i], v.String())
		}
		return f, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		codes := e.categories[i]
		if codes == nil {
			return 0, fmt.Errorf("feature %q: could not convert string to float: %q", e.names[i], v)
		}
		code, ok := codes[v]
		if !ok {
			return 0, fmt.Errorf("feature %q: unknown category %q", e.names[i], v)
		}
		return code, nil
	default:
		return 0, fmt.Errorf("feature %q: unsupported value type %T", e.names[i], value)
	}
}
