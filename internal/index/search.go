package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

// DefaultLimit is used when Search is called with a non-positive limit.
const DefaultLimit = 10

// Search runs query and returns up to limit hits by descending score. Ties
// keep insertion order. Blank queries match nothing.
func (ix *Index) Search(ctx context.Context, text string, limit int) ([]models.SearchResult, error) {
	if strings.TrimSpace(text) == "" {
		return []models.SearchResult{}, nil
	}
	q, err := parseQuery(text)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = snippetFields
	req.IncludeLocations = true
	req.SortBy([]string{"-_score", FieldSeq})

	res, err := ix.bi.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w: %w", apperr.ErrIndex, err)
	}

	results := make([]models.SearchResult, 0, len(res.Hits))
	for _, h := range res.Hits {
		results = append(results, models.SearchResult{
			ID:    h.ID,
			Score: h.Score,
			Snippets: models.Snippets{
				Name:    makeSnippet(storedText(h, FieldName), matchSpans(h, FieldName)),
				Body:    makeSnippet(storedText(h, FieldBody), matchSpans(h, FieldBody)),
				Comment: makeSnippet(storedText(h, FieldComment), matchSpans(h, FieldComment)),
			},
		})
	}
	return results, nil
}

func storedText(h *search.DocumentMatch, field string) string {
	s, _ := h.Fields[field].(string)
	return s
}

// matchSpans returns the byte ranges of every matched term in field.
func matchSpans(h *search.DocumentMatch, field string) [][2]int {
	var spans [][2]int
	for _, locs := range h.Locations[field] {
		for _, l := range locs {
			spans = append(spans, [2]int{int(l.Start), int(l.End)})
		}
	}
	return spans
}
