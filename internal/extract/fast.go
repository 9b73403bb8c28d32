package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errOpenerMissing = errors.New("json opener not found")
	errPagerMissing  = errors.New("pagination element missing")
)

// fastItems decodes the first JSON value that starts at opener and walks the
// item list path inside it. Trailing script after the value is ignored.
func fastItems(script, opener string) ([]any, error) {
	start := strings.Index(script, opener)
	if start < 0 {
		return nil, errOpenerMissing
	}
	dec := json.NewDecoder(strings.NewReader(script[start:]))
	dec.UseNumber()
	var blob any
	if err := dec.Decode(&blob); err != nil {
		return nil, fmt.Errorf("decode embedded json: %w", err)
	}
	return itemsAt(blob, itemListPath)
}

func itemsAt(root any, path []any) ([]any, error) {
	node, ok := lookup(root, path...)
	if !ok {
		return nil, fmt.Errorf("key path %v not found", path)
	}
	items, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("key path %v is %T, not a list", path, node)
	}
	return items, nil
}
