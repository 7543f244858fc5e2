package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"passpredict/features"
)

// ErrInvalidPayload marks request bodies that do not carry a features object.
var ErrInvalidPayload = errors.New("invalid request payload")

// DecodeRequest reads a {"features": {...}} body. Numbers are kept as
// json.Number so values reach the model unchanged. The key is matched
// exactly and nothing may follow the object.
func DecodeRequest(r io.Reader) (features.RawRecord, error) {
	dec := json.NewDecoder(r)
	var body map[string]json.RawMessage
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after body")
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return ParseFeatures(body["features"])
}

// ParseFeatures decodes the value of the "features" field.
func ParseFeatures(raw json.RawMessage) (features.RawRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: field required: features", ErrInvalidPayload)
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: features must be an object", ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var record features.RawRecord
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if record == nil {
		record = features.RawRecord{}
	}
	return record, nil
}
