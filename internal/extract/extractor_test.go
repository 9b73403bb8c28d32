package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return body
}

func TestExtractFastPath(t *testing.T) {
	t.Parallel()

	page, err := New(Options{}).Extract(context.Background(), loadFixture(t, "search_fast.html"))
	require.NoError(t, err)

	require.Equal(t, crawler.PathFast, page.Path)
	require.Equal(t, 3, page.NextPage)
	require.Equal(t, 60, page.PageCount)
	require.Len(t, page.Products, 2, "duplicate ids keep the first record")

	first := page.Products[0]
	require.Equal(t, crawler.Product{
		ID:            1005006071234567,
		Title:         "USB-Cable Fast Charging 3A",
		Image:         "//ae-pic-a1.aliexpress-media.com/kf/S1.jpg",
		Currency:      "€",
		OriginalPrice: "4.99",
		SalePrice:     "2.15",
		Shipping:      "Free shipping",
		StoreID:       1102345,
		StoreTitle:    "Cable World Store",
		StoreLink:     "https://www.aliexpress.com/store/1102345",
		Link:          "https://www.aliexpress.com/item/1005006071234567.html",
	}, first)

	second := page.Products[1]
	require.Equal(t, int64(1005006079999999), second.ID)
	require.Empty(t, second.SalePrice)
	require.Empty(t, second.Shipping)
	require.Zero(t, second.StoreID)
	require.Equal(t, "https://www.aliexpress.com/store/2200001", second.StoreLink)
}

func TestExtractRobustPath(t *testing.T) {
	t.Parallel()

	page, err := New(Options{}).Extract(context.Background(), loadFixture(t, "search_robust.html"))
	require.NoError(t, err)

	require.Equal(t, crawler.PathRobust, page.Path)
	require.Equal(t, 0, page.NextPage, "last page has no successor")
	require.Equal(t, 5, page.PageCount)
	require.Len(t, page.Products, 2)

	first := page.Products[0]
	require.Equal(t, int64(1005001111111111), first.ID)
	require.Equal(t, "Wireless mouse silent", first.Title)
	require.Equal(t, "$", first.Currency)
	require.Equal(t, "3.5", first.SalePrice)
	require.Equal(t, int64(778), first.StoreID)
	require.Equal(t, "https://www.aliexpress.com/store/778", first.StoreLink)

	require.Equal(t, int64(1005002222222222), page.Products[1].ID)
	require.Empty(t, page.Products[1].Shipping)
}

func TestExtractFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fixture string
		reason  string
	}{
		{"search_no_script.html", "no embedded data"},
		{"search_bad_id.html", "item 1: invalid product id"},
		{"search_no_pager.html", "active page not found"},
		{"search_no_items.html", "item list not found"},
	}
	for _, tc := range cases {
		t.Run(tc.fixture, func(t *testing.T) {
			t.Parallel()

			_, err := New(Options{}).Extract(context.Background(), loadFixture(t, tc.fixture))
			var perr *crawler.ParseError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tc.reason, perr.Reason)
			require.ErrorIs(t, err, crawler.ErrRetryable)
		})
	}
}

func TestExtractCustomLinkTemplate(t *testing.T) {
	t.Parallel()

	page, err := New(Options{LinkTemplate: "https://example.test/p/%d"}).Extract(context.Background(), loadFixture(t, "search_robust.html"))
	require.NoError(t, err)
	require.Equal(t, "https://example.test/p/1005001111111111", page.Products[0].Link)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	item := map[string]any{
		"sellingPoints": []any{map[string]any{"tagContent": map[string]any{"tagText": "Free shipping"}}},
		"prices":        map[string]any{"salePrice": map[string]any{"minPrice": 1.25}},
	}
	require.Equal(t, "Free shipping", lookupString(item, "sellingPoints", 0, "tagContent", "tagText"))
	require.Equal(t, "1.25", lookupString(item, "prices", "salePrice", "minPrice"))
	require.Empty(t, lookupString(item, "sellingPoints", 3, "tagContent"))
	require.Empty(t, lookupString(item, "prices", "originalPrice", "minPrice"))
	require.Empty(t, lookupString(item, "prices", "salePrice"))
}

func TestToInt64(t *testing.T) {
	t.Parallel()

	for _, v := range []any{"42", int64(42), float64(42), 42} {
		n, err := toInt64(v)
		require.NoError(t, err)
		require.Equal(t, int64(42), n)
	}
	for _, v := range []any{nil, "", "4x", 4.5, true} {
		_, err := toInt64(v)
		require.Error(t, err)
	}
}

func TestScriptAssignments(t *testing.T) {
	t.Parallel()

	vars, err := scriptAssignments(context.Background(),
		`var a = {x: 1}; window.b["c"] = [1, 'two']; window.d = undefinedFn();`, time.Second)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": int64(1)}, vars["a"])
	require.Equal(t, []any{int64(1), "two"}, vars["window.b.c"])
	require.NotContains(t, vars, "window.d")

	_, err = scriptAssignments(context.Background(), `this is not javascript {`, time.Second)
	require.Error(t, err)
}

func TestScriptAssignmentsParenthesized(t *testing.T) {
	t.Parallel()

	script := `window.a = (function(){ return {n: 1}; })();
var b = ( {s: "x (y)"} );
window.c = ((function(){ return 3; }))();
window.d = (2) + (3);`
	vars, err := scriptAssignments(context.Background(), script, time.Second)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"n": int64(1)}, vars["window.a"])
	require.Equal(t, map[string]any{"s": "x (y)"}, vars["b"])
	require.Equal(t, int64(3), vars["window.c"])
	require.Equal(t, int64(5), vars["window.d"])
}

const loopingPage = `<html><head><script>
window._dida_config_ = {};
window._dida_config_._init_data_ = function(){ for(;;){} }();
</script></head><body></body></html>`

func TestExtractLoopingScriptTimesOut(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := New(Options{ScriptTimeout: 100 * time.Millisecond}).Extract(context.Background(), []byte(loopingPage))
	require.Less(t, time.Since(start), 2*time.Second)

	var perr *crawler.ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "item list not found", perr.Reason)
	require.ErrorIs(t, err, errScriptTimeout)
}

func TestExtractLoopingScriptStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(Options{ScriptTimeout: time.Minute}).Extract(ctx, []byte(loopingPage))
	require.Less(t, time.Since(start), 2*time.Second)

	var perr *crawler.ParseError
	require.ErrorAs(t, err, &perr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
