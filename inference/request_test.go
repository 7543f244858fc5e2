package inference

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	record, err := DecodeRequest(strings.NewReader(`{"features": {"age": 17, "sex": "F", "paid": true, "absences": null}}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if record["age"] != json.Number("17") {
		t.Errorf("age = %#v", record["age"])
	}
	if record["sex"] != "F" || record["paid"] != true {
		t.Errorf("unexpected record %v", record)
	}
	if v, ok := record["absences"]; !ok || v != nil {
		t.Errorf("absences = %v, %v", v, ok)
	}

	record, err = DecodeRequest(strings.NewReader("{\"features\": {}}\n"))
	if err != nil || record == nil || len(record) != 0 {
		t.Fatalf("empty features: %v, %v", record, err)
	}
}

func TestDecodeRequestInvalid(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`[]`,
		`{}`,
		`{"features": null}`,
		`{"features": [1, 2]}`,
		`{"features": "age"}`,
		`{"FEATURES": {"age": 17}}`,
		`{"Features": {"age": 17}}`,
		`{"features": {"age": 17}} trailing`,
		`{"features": {"age": 17}}{"features": {}}`,
		`null`,
	}
	for _, body := range bodies {
		if _, err := DecodeRequest(strings.NewReader(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("body %q: expected ErrInvalidPayload, got %v", body, err)
		}
	}
}
