package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupByStoreSkipsMissingLinks(t *testing.T) {
	t.Parallel()

	products := ProductSet{
		1: product(1, "https://store/a", "x", "1"),
		2: product(2, "https://store/a", "y", "2"),
		3: product(3, "", "z", "3"),
		4: product(4, "https://store/b", "w", "4"),
	}
	stores, skipped := GroupByStore(products)
	require.Equal(t, 1, skipped)
	require.Len(t, stores, 2)
	require.Len(t, stores["https://store/a"], 2)
	require.Equal(t, 3, stores.ProductCount())
}

func TestMergeStoresUnionKeepsExisting(t *testing.T) {
	t.Parallel()

	dst := StoreAggregate{"A": {1: product(1, "A", "first", "1")}}
	src := StoreAggregate{
		"A": {1: product(1, "A", "second", "1"), 2: product(2, "A", "two", "2")},
		"B": {3: product(3, "B", "three", "3")},
	}
	MergeStores(dst, src)

	require.Len(t, dst, 2)
	require.Equal(t, "first", dst["A"][1].Title)
	require.Contains(t, dst["A"], int64(2))
	require.Contains(t, dst["B"], int64(3))
}

func TestIntersect(t *testing.T) {
	t.Parallel()

	alpha := StoreAggregate{
		"A": {1: product(1, "A", "alpha 1", "1")},
		"B": {2: product(2, "B", "alpha 2", "2")},
	}
	beta := StoreAggregate{
		"B": {2: product(2, "B", "beta 2", "2"), 4: product(4, "B", "beta 4", "4")},
		"C": {3: product(3, "C", "beta 3", "3")},
	}

	result := Intersect([]StoreAggregate{alpha, beta})
	require.Len(t, result, 1)
	require.Contains(t, result, "B")
	require.Len(t, result["B"], 2)
	require.Equal(t, "alpha 2", result["B"][2].Title)

	for link := range result {
		for _, agg := range []StoreAggregate{alpha, beta} {
			require.Contains(t, agg, link)
		}
	}
}

func TestIntersectEmptyCases(t *testing.T) {
	t.Parallel()

	require.Empty(t, Intersect(nil))
	require.Empty(t, Intersect([]StoreAggregate{
		{"A": {1: product(1, "A", "x", "1")}},
		{},
	}))
}
