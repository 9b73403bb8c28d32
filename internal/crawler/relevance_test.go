package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRelevant(t *testing.T) {
	t.Parallel()

	cases := []struct {
		term  string
		title string
		want  bool
	}{
		{"usb cable", "USB-Cable Fast Charging", true},
		{"usb cable", "wireless mouse", false},
		{"usb cable", "Braided Cable 2m", true},
		{"usb cable", "USBCABLE type c", true},
		{"phone case", "Silicone PhoneCase", true},
		{"  ", "anything", false},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.want, IsRelevant(tc.term, tc.title), "term %q title %q", tc.term, tc.title)
	}
}

func TestRelevanceCandidatesSkipEmptyTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"usb", "cable", "usb--cable", "usbcable"}, relevanceCandidates("USB  cable"))
}

func TestFilterRelevantKeepsOrder(t *testing.T) {
	t.Parallel()

	in := []Product{
		product(1, "s", "usb hub", "3"),
		product(2, "s", "wireless mouse", "1"),
		product(3, "s", "Cable organizer", "2"),
	}
	out := FilterRelevant("usb cable", in)
	require.Len(t, out, 2)
	require.Equal(t, int64(1), out[0].ID)
	require.Equal(t, int64(3), out[1].ID)
}

func TestSortBySalePriceIsStableAndPutsUnpricedLast(t *testing.T) {
	t.Parallel()

	products := []Product{
		product(1, "s", "a", ""),
		product(2, "s", "b", "5.10"),
		product(3, "s", "c", "1,200.00"),
		product(4, "s", "d", "5.10"),
		product(5, "s", "e", "n/a"),
		product(6, "s", "f", "0.99"),
	}
	SortBySalePrice(products)

	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []int64{6, 2, 4, 3, 1, 5}, ids)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	v, ok := ParsePrice(" 1,299.50 ")
	require.True(t, ok)
	require.InDelta(t, 1299.5, v, 1e-9)

	_, ok = ParsePrice("")
	require.False(t, ok)
	_, ok = ParsePrice("NaN")
	require.False(t, ok)
}
