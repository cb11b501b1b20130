package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONNum is a numeric request field that also accepts the literal "AUTO",
// meaning the value should be derived from scheme caps at the API boundary.
type JSONNum struct {
	Value float64
	Auto  bool
}

// UnmarshalJSON accepts a JSON number, null, or the string "AUTO".
func (n *JSONNum) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = JSONNum{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "AUTO" {
			*n = JSONNum{Auto: true}
			return nil
		}
		return fmt.Errorf("invalid numeric value %q (expected number or \"AUTO\")", s)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = JSONNum{Value: v}
	return nil
}

// MarshalJSON renders the numeric value, or "AUTO" when unset-by-marker.
func (n JSONNum) MarshalJSON() ([]byte, error) {
	if n.Auto {
		return json.Marshal("AUTO")
	}
	return json.Marshal(n.Value)
}
