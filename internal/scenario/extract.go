package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errNoObject = errors.New("no JSON object found in generator output")

// Extract returns the first well-formed JSON object embedded in s. Generators
// often wrap the object in prose or markdown fences; everything around it is ignored.
func Extract(s string) (json.RawMessage, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("generator output is empty")
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
			return raw, nil
		}
	}
	return nil, errNoObject
}
