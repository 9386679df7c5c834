package experiment

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a caller-defined payload to the JSON form stored
// in the job table. The core never inspects the result; whatever round-trips
// through JSON arrives at the job function structurally identical.
func EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("experiment: encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a stored payload into v. Convenience for job
// functions that know their payload shape.
func DecodePayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("experiment: decode payload: %w", err)
	}
	return nil
}
