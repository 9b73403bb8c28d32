package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

const (
	activePageSelector = "li.comet-pagination-item-active"
	pageItemSelector   = "li.comet-pagination-item"
)

// pagination reads the active page and the page count from the pager.
func pagination(doc *goquery.Document) (active, total int, err error) {
	active, err = pagerNumber(doc.Find(activePageSelector).First())
	if err != nil {
		return 0, 0, &crawler.ParseError{Reason: "active page not found", Err: err}
	}
	total, err = pagerNumber(doc.Find(pageItemSelector).Last())
	if err != nil {
		return 0, 0, &crawler.ParseError{Reason: "page count not found", Err: err}
	}
	return active, total, nil
}

func pagerNumber(sel *goquery.Selection) (int, error) {
	if sel.Length() == 0 {
		return 0, errPagerMissing
	}
	return strconv.Atoi(strings.TrimSpace(sel.Text()))
}
