// Package report persists per-group and final search aggregates as JSON
// artifacts so a finished search can be inspected after its session expires.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

const contentType = "application/json"

// Writer implements crawler.Reporter over a crawler.BlobStore.
type Writer struct {
	blobs  crawler.BlobStore
	prefix string
	logger *zap.Logger
}

// NewWriter builds a Writer that stores artifacts under prefix.
func NewWriter(blobs crawler.BlobStore, prefix string, logger *zap.Logger) (*Writer, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.Named("report"),
	}, nil
}

type groupDocument struct {
	SearchID string                 `json:"search_id"`
	Queries  crawler.QueryGroup     `json:"queries"`
	Stores   crawler.StoreAggregate `json:"stores"`
}

type finalDocument struct {
	SearchID string                   `json:"search_id"`
	Queries  []crawler.QueryGroup     `json:"queries"`
	Groups   []crawler.StoreAggregate `json:"groups,omitempty"`
	Result   crawler.ResultSet        `json:"results"`
}

// GroupReport writes the aggregate of one query group.
func (w *Writer) GroupReport(
	ctx context.Context,
	ref crawler.SearchRef,
	group crawler.QueryGroup,
	stores crawler.StoreAggregate,
) error {
	doc := groupDocument{SearchID: ref.ID, Queries: group, Stores: stores}
	_, err := w.put(ctx, w.objectPath(ref, "groups", Slug(group)+".json"), doc)
	return err
}

// FinalReport writes every group aggregate and the intersection result.
func (w *Writer) FinalReport(
	ctx context.Context,
	ref crawler.SearchRef,
	groups []crawler.QueryGroup,
	all []crawler.StoreAggregate,
	result crawler.ResultSet,
) error {
	if _, err := w.put(ctx, w.objectPath(ref, "all_groups.json"), finalDocument{
		SearchID: ref.ID,
		Queries:  groups,
		Groups:   all,
		Result:   crawler.ResultSet{},
	}); err != nil {
		return err
	}
	uri, err := w.put(ctx, w.objectPath(ref, "result.json"), finalDocument{
		SearchID: ref.ID,
		Queries:  groups,
		Result:   result,
	})
	if err != nil {
		return err
	}
	w.logger.Info("final report stored",
		zap.String("search_id", ref.ID),
		zap.String("owner", ref.Owner),
		zap.String("uri", uri),
		zap.Int("stores", len(result)),
	)
	return nil
}

func (w *Writer) put(ctx context.Context, objectPath string, doc any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode %s: %w", objectPath, err)
	}
	uri, err := w.blobs.PutObject(ctx, objectPath, contentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", objectPath, err)
	}
	return uri, nil
}

func (w *Writer) objectPath(ref crawler.SearchRef, parts ...string) string {
	elems := append([]string{w.prefix, ref.ID}, parts...)
	return strings.TrimPrefix(path.Join(elems...), "/")
}

// Slug renders a query group as a filesystem-safe name: terms are lowercased,
// runs of other characters collapse to '-', and terms are joined with '+'.
func Slug(group crawler.QueryGroup) string {
	terms := make([]string, 0, len(group))
	for _, term := range group {
		var b strings.Builder
		dash := false
		for _, r := range strings.ToLower(term) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
				dash = false
				continue
			}
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
		if s := strings.TrimSuffix(b.String(), "-"); s != "" {
			terms = append(terms, s)
		}
	}
	if len(terms) == 0 {
		return "group"
	}
	return strings.Join(terms, "+")
}
