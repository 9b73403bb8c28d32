package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

// products normalizes raw items in document order. A missing or non-integer
// product id fails the whole page; a repeated id keeps its first record.
func (e *Extractor) products(items []any) ([]crawler.Product, error) {
	out := make([]crawler.Product, 0, len(items))
	seen := make(map[int64]struct{}, len(items))
	for i, item := range items {
		raw, _ := lookup(item, "productId")
		id, err := toInt64(raw)
		if err != nil {
			e.logger.Warn("invalid product id", zap.Int("item", i), zap.Any("product_id", raw), zap.Error(err))
			return nil, &crawler.ParseError{Reason: fmt.Sprintf("item %d: invalid product id", i), Err: err}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, e.product(id, item))
	}
	return out, nil
}

func (e *Extractor) product(id int64, item any) crawler.Product {
	storeID, _ := lookup(item, "store", "storeId")
	sid, err := toInt64(storeID)
	if err != nil {
		sid = 0
	}
	return crawler.Product{
		ID:            id,
		Link:          fmt.Sprintf(e.linkTemplate, id),
		Image:         lookupString(item, "image", "imgUrl"),
		Title:         lookupString(item, "title", "displayTitle"),
		Currency:      lookupString(item, "prices", "currencySymbol"),
		OriginalPrice: lookupString(item, "prices", "originalPrice", "minPrice"),
		SalePrice:     lookupString(item, "prices", "salePrice", "minPrice"),
		Shipping:      lookupString(item, "sellingPoints", 0, "tagContent", "tagText"),
		StoreTitle:    lookupString(item, "store", "storeName"),
		StoreID:       sid,
		StoreLink:     absoluteURL(lookupString(item, "store", "storeUrl")),
	}
}

// lookup walks maps by string key and lists by int index.
func lookup(node any, path ...any) (any, bool) {
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := node.(map[string]any)
			if !ok {
				return nil, false
			}
			if node, ok = m[key]; !ok {
				return nil, false
			}
		case int:
			list, ok := node.([]any)
			if !ok || key < 0 || key >= len(list) {
				return nil, false
			}
			node = list[key]
		default:
			return nil, false
		}
	}
	return node, true
}

// lookupString returns the leaf at path rendered as text, or "" when missing.
func lookupString(node any, path ...any) string {
	v, ok := lookup(node, path...)
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", val, err)
		}
		return floatToInt64(f)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", val, err)
		}
		return n, nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		return floatToInt64(val)
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

// absoluteURL prefixes protocol-relative links with https:.
func absoluteURL(link string) string {
	if strings.HasPrefix(link, "//") {
		return "https:" + link
	}
	return link
}
