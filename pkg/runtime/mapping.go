package runtime

import (
	"encoding/json"
	"os"

	"github.com/polyrun/polyrun/pkg/errs"
)

// Mapping is one configuration-based selection rule. Rules are consulted
// in order; the first match wins. Non-regex patterns test substring
// containment, regex patterns test full-string match.
type Mapping struct {
	Pattern string `json:"pattern"`
	Runtime Kind   `json:"runtime_type"`
	IsRegex bool   `json:"is_regex"`
}

// LoadMappings reads an ordered rule list from a JSON file. An empty path
// yields no rules.
func LoadMappings(path string) ([]Mapping, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "failed to read runtime mappings file %s", path)
	}

	var mappings []Mapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "failed to parse runtime mappings file %s", path)
	}
	return mappings, nil
}
