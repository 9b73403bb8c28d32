package crawler

// mergeFirstSeen copies products from src into dst unless dst already holds
// the id. It returns how many products were added.
func mergeFirstSeen(dst ProductSet, src []Product) int {
	added := 0
	for _, p := range src {
		if _, ok := dst[p.ID]; ok {
			continue
		}
		dst[p.ID] = p
		added++
	}
	return added
}

// GroupByStore buckets products by store link. Products without a store link
// cannot be attributed and are counted in skipped.
func GroupByStore(products ProductSet) (stores StoreAggregate, skipped int) {
	stores = make(StoreAggregate)
	for id, p := range products {
		if p.StoreLink == "" {
			skipped++
			continue
		}
		set, ok := stores[p.StoreLink]
		if !ok {
			set = make(ProductSet)
			stores[p.StoreLink] = set
		}
		set[id] = p
	}
	return stores, skipped
}

// MergeStores unions src into dst. Product maps of stores present in both are
// merged; an id already in dst keeps its record.
func MergeStores(dst, src StoreAggregate) {
	for link, products := range src {
		set, ok := dst[link]
		if !ok {
			set = make(ProductSet, len(products))
			dst[link] = set
		}
		for id, p := range products {
			if _, seen := set[id]; !seen {
				set[id] = p
			}
		}
	}
}

// Intersect returns the stores present in every aggregate, each carrying the
// union of its products across aggregates. No aggregates, or any empty one,
// yields an empty result.
func Intersect(aggregates []StoreAggregate) ResultSet {
	result := make(ResultSet)
	if len(aggregates) == 0 {
		return result
	}
	smallest := aggregates[0]
	for _, agg := range aggregates[1:] {
		if len(agg) < len(smallest) {
			smallest = agg
		}
	}
	for link := range smallest {
		if !presentInAll(link, aggregates) {
			continue
		}
		merged := make(ProductSet)
		for _, agg := range aggregates {
			for id, p := range agg[link] {
				if _, seen := merged[id]; !seen {
					merged[id] = p
				}
			}
		}
		result[link] = merged
	}
	return result
}

func presentInAll(link string, aggregates []StoreAggregate) bool {
	for _, agg := range aggregates {
		if _, ok := agg[link]; !ok {
			return false
		}
	}
	return true
}

// ProductCount returns the number of products across all stores.
func (a StoreAggregate) ProductCount() int {
	n := 0
	for _, products := range a {
		n += len(products)
	}
	return n
}
