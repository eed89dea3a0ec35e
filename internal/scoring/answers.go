package scoring

import (
	"bytes"
	"encoding/json"
)

// Answer is the selection for one question: a single value or several.
type Answer []string

// First returns the first selected value.
func (a Answer) First() (string, bool) {
	if len(a) == 0 {
		return "", false
	}
	return a[0], true
}

// UnmarshalJSON accepts "value", ["v1", "v2"], numbers and null. Any other
// shape decodes to an empty answer so odd input scores zero instead of
// failing the request.
func (a *Answer) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*a = nil
	switch v := raw.(type) {
	case string:
		if v != "" {
			*a = Answer{v}
		}
	case json.Number:
		*a = Answer{v.String()}
	case []any:
		for _, item := range v {
			switch s := item.(type) {
			case string:
				*a = append(*a, s)
			case json.Number:
				*a = append(*a, s.String())
			}
		}
	}
	return nil
}

// Answers maps question id to the selection.
type Answers map[string]Answer

// Single builds an Answer from one value.
func Single(v string) Answer { return Answer{v} }
