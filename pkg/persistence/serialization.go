package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalSessionRecord serializes a SessionRecord to JSON bytes.
func MarshalSessionRecord(s *SessionRecord) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil SessionRecord")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SessionRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalSessionRecord deserializes a SessionRecord from JSON bytes.
func UnmarshalSessionRecord(data []byte) (*SessionRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var s SessionRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to SessionRecord: %w", err)
	}

	return &s, nil
}
