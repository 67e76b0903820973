// Package index is the full-text search engine: a bleve index over items with
// TF-IDF ranking, field qualified queries, tag facets and snippet generation.
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

// SchemaVersion identifies the index mapping. An index written with another
// version is dropped and rebuilt.
const SchemaVersion = "0.1.0"

// Indexed fields.
const (
	FieldID      = "id"
	FieldName    = "name"
	FieldURL     = "url"
	FieldComment = "comment"
	FieldBody    = "body"
	FieldTitle   = "title"
	FieldExtra   = "extra"
	FieldTag     = "tag"
	FieldFound   = "found"
	FieldSeq     = "seq"
)

// defaultFields are searched by unqualified query terms.
var defaultFields = []string{FieldName, FieldURL, FieldComment, FieldBody, FieldTitle, FieldExtra}

// snippetFields are stored so search hits can carry fragments of them.
var snippetFields = []string{FieldName, FieldBody, FieldComment}

func isTextField(f string) bool {
	for _, d := range defaultFields {
		if d == f {
			return true
		}
	}
	return false
}

const (
	textAnalyzer = "keepText"
	lengthFilter = "keepTokenLength"

	// maxTokenRunes drops tokens that are almost certainly not words (hashes,
	// base64 runs).
	maxTokenRunes = 64
)

var (
	schemaKey = []byte("schema_version")
	seqKey    = []byte("seq")
)

func buildIndexMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomTokenFilter(lengthFilter, map[string]any{
		"type": length.Name,
		"min":  1.0,
		"max":  float64(maxTokenRunes),
	}); err != nil {
		return nil, fmt.Errorf("add token filter: %w", err)
	}
	if err := im.AddCustomAnalyzer(textAnalyzer, map[string]any{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			lengthFilter,
		},
	}); err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}

	doc := bleve.NewDocumentStaticMapping()

	id := bleve.NewKeywordFieldMapping()
	id.Store = false
	id.IncludeInAll = false
	doc.AddFieldMappingsAt(FieldID, id)

	stored := map[string]bool{}
	for _, f := range snippetFields {
		stored[f] = true
	}
	for _, f := range defaultFields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = textAnalyzer
		fm.Store = stored[f]
		fm.IncludeInAll = false
		fm.IncludeTermVectors = true
		doc.AddFieldMappingsAt(f, fm)
	}

	tag := bleve.NewKeywordFieldMapping()
	tag.IncludeInAll = false
	doc.AddFieldMappingsAt(FieldTag, tag)

	found := bleve.NewDateTimeFieldMapping()
	found.Store = false
	found.IncludeInAll = false
	doc.AddFieldMappingsAt(FieldFound, found)

	seq := bleve.NewNumericFieldMapping()
	seq.Store = false
	seq.IncludeInAll = false
	doc.AddFieldMappingsAt(FieldSeq, seq)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = textAnalyzer
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false
	return im, nil
}

// Open opens the index directory at path, creating it when missing, and
// starts its writer.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bi, err := openOrCreate(path, logger)
	if err != nil {
		return nil, err
	}
	seq, err := lastSeq(bi)
	if err != nil {
		bi.Close()
		return nil, err
	}
	return &Index{
		bi:     bi,
		writer: newWriter(bi, seq),
		logger: logger,
	}, nil
}

// openOrCreate opens an existing index, discarding one built with a
// different schema version.
func openOrCreate(path string, logger *slog.Logger) (bleve.Index, error) {
	bi, err := bleve.Open(path)
	switch {
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		return create(path)
	case err != nil:
		return nil, fmt.Errorf("index: open: %w", err)
	}

	version, err := bi.GetInternal(schemaKey)
	if err != nil {
		bi.Close()
		return nil, fmt.Errorf("index: read schema version: %w", err)
	}
	if string(version) == SchemaVersion {
		return bi, nil
	}

	logger.Warn("index: schema version changed, rebuilding",
		slog.String("found", string(version)),
		slog.String("want", SchemaVersion))
	if err := bi.Close(); err != nil {
		return nil, fmt.Errorf("index: close old index: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("index: drop old index: %w", err)
	}
	return create(path)
}

func create(path string) (bleve.Index, error) {
	im, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("index: mapping: %w", err)
	}
	bi, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("index: create: %w", err)
	}
	if err := bi.SetInternal(schemaKey, []byte(SchemaVersion)); err != nil {
		bi.Close()
		return nil, fmt.Errorf("index: write schema version: %w", err)
	}
	return bi, nil
}

// lastSeq reads the insertion counter persisted with the last write.
func lastSeq(bi bleve.Index) (uint64, error) {
	raw, err := bi.GetInternal(seqKey)
	if err != nil {
		return 0, fmt.Errorf("index: read seq: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	seq, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("index: parse seq %q: %w", raw, err)
	}
	return seq, nil
}
