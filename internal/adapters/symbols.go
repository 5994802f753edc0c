package adapters

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadSymbolList reads a JSON array of tickers from path, normalized and
// de-duplicated in order. A missing path yields an empty list, not an error.
func LoadSymbolList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read symbol list %s: %w", path, err)
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse symbol list %s: %w", path, err)
	}
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, s := range raw {
		sym := NormalizeSymbol(s)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out, nil
}
