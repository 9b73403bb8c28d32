package crawler

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// IsRelevant reports whether title matches term. Both are lowercased; the term
// yields its space separated tokens plus hyphen-joined and unseparated forms,
// and any of them appearing as a substring of the title is a match.
func IsRelevant(term, title string) bool {
	title = strings.ToLower(title)
	for _, candidate := range relevanceCandidates(term) {
		if strings.Contains(title, candidate) {
			return true
		}
	}
	return false
}

func relevanceCandidates(term string) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	tokens := strings.Split(term, " ")
	candidates := make([]string, 0, len(tokens)+2)
	for _, token := range tokens {
		if token != "" {
			candidates = append(candidates, token)
		}
	}
	return append(candidates,
		strings.ReplaceAll(term, " ", "-"),
		strings.ReplaceAll(term, " ", ""),
	)
}

// FilterRelevant keeps the products whose title matches term, in input order.
func FilterRelevant(term string, products []Product) []Product {
	kept := make([]Product, 0, len(products))
	for _, p := range products {
		if IsRelevant(term, p.Title) {
			kept = append(kept, p)
		}
	}
	return kept
}

// SortBySalePrice orders products ascending by numeric sale price. Products
// without a parseable price go last; ties keep their input order.
func SortBySalePrice(products []Product) {
	sort.SliceStable(products, func(i, j int) bool {
		return salePriceKey(products[i]) < salePriceKey(products[j])
	})
}

func salePriceKey(p Product) float64 {
	if v, ok := ParsePrice(p.SalePrice); ok {
		return v
	}
	return math.Inf(1)
}

// ParsePrice converts a marketplace price string such as "1,299.50" to a float.
func ParsePrice(raw string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
