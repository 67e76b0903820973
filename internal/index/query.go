package index

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/starford/keep/internal/apperr"
)

// parseQuery parses the bleve query string syntax and binds it to the item
// schema: unqualified clauses search every text field, a lone * matches all
// documents, tag values match a facet path and its children, and unknown
// fields are rejected.
func parseQuery(text string) (query.Query, error) {
	if unbalancedQuotes(text) {
		return nil, invalidQuery("unterminated quote")
	}
	q, err := bleve.NewQueryStringQuery(text).Parse()
	if err != nil {
		return nil, invalidQuery(err.Error())
	}
	return bind(q)
}

func unbalancedQuotes(text string) bool {
	n := 0
	escaped := false
	for _, r := range text {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			n++
		}
	}
	return n%2 == 1
}

// bind rewrites the parsed query tree in place.
func bind(q query.Query) (query.Query, error) {
	switch v := q.(type) {
	case *query.BooleanQuery:
		for _, sub := range []*query.Query{&v.Must, &v.Should, &v.MustNot} {
			if *sub == nil {
				continue
			}
			b, err := bind(*sub)
			if err != nil {
				return nil, err
			}
			*sub = b
		}
		return v, nil
	case *query.ConjunctionQuery:
		for i, c := range v.Conjuncts {
			b, err := bind(c)
			if err != nil {
				return nil, err
			}
			v.Conjuncts[i] = b
		}
		return v, nil
	case *query.DisjunctionQuery:
		for i, d := range v.Disjuncts {
			b, err := bind(d)
			if err != nil {
				return nil, err
			}
			v.Disjuncts[i] = b
		}
		return v, nil
	case query.FieldableQuery:
		return bindField(v)
	}
	return q, nil
}

func bindField(q query.FieldableQuery) (query.Query, error) {
	field := strings.ToLower(q.Field())
	switch {
	case field == "":
		if w, ok := q.(*query.WildcardQuery); ok && w.Wildcard == "*" {
			return bleve.NewMatchAllQuery(), nil
		}
		return acrossFields(q), nil
	case field == FieldTag:
		return tagQuery(q), nil
	case field == FieldID || isTextField(field):
		q.SetField(field)
		return q, nil
	}
	return nil, invalidQuery(fmt.Sprintf("unknown field %q", q.Field()))
}

// acrossFields ORs a copy of q over each default text field.
func acrossFields(q query.FieldableQuery) query.Query {
	parts := make([]query.Query, 0, len(defaultFields))
	for _, f := range defaultFields {
		c := cloneFieldable(q)
		if c == nil {
			return query.NewMatchNoneQuery()
		}
		c.SetField(f)
		parts = append(parts, c)
	}
	return query.NewDisjunctionQuery(parts)
}

func cloneFieldable(q query.FieldableQuery) query.FieldableQuery {
	switch v := q.(type) {
	case *query.MatchQuery:
		c := *v
		return &c
	case *query.MatchPhraseQuery:
		c := *v
		return &c
	case *query.WildcardQuery:
		c := *v
		return &c
	case *query.RegexpQuery:
		c := *v
		return &c
	case *query.FuzzyQuery:
		c := *v
		return &c
	case *query.NumericRangeQuery:
		c := *v
		return &c
	case *query.DateRangeQuery:
		c := *v
		return &c
	}
	return nil
}

// tagQuery matches the facet path of the value and every path below it.
func tagQuery(q query.FieldableQuery) query.Query {
	var value string
	switch v := q.(type) {
	case *query.MatchQuery:
		value = v.Match
	case *query.MatchPhraseQuery:
		value = v.MatchPhrase
	default:
		q.SetField(FieldTag)
		return q
	}
	path := facetPath(value)
	if path == "/" {
		return query.NewMatchNoneQuery()
	}
	exact := query.NewTermQuery(path)
	exact.SetField(FieldTag)
	below := query.NewPrefixQuery(path + "/")
	below.SetField(FieldTag)
	return query.NewDisjunctionQuery([]query.Query{exact, below})
}

func invalidQuery(msg string) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidQuery, msg)
}
