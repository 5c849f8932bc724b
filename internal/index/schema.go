package index

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Structured field prefixes, carried over from the Xapian-family original:
// each recognized property gets both a full-value (exact match) term and a
// tokenized free-text term under its own field.
const (
	fieldActivity   = "activity"
	fieldActivityID = "activity_id"
	fieldMimeType   = "mime_type"
	fieldKeep       = "keep"
	fieldProjectID  = "project_id"
	fieldUID        = "uid"
	fieldTitle      = "title"

	fieldFulltext = "fulltext"
)

// structuredFields names every property with a dedicated full-value +
// tokenized-text field pair.
var structuredFields = map[string]struct{}{
	fieldActivity:   {},
	fieldActivityID: {},
	fieldMimeType:   {},
	fieldKeep:       {},
	fieldProjectID:  {},
}

// dontIndex names properties that contribute only to stored sort-values (if
// any) and never to the term index.
var dontIndex = map[string]struct{}{
	"timestamp":     {},
	"preview":       {},
	"launch-times":  {},
}

func fullField(name string) string { return "full_" + name }
func textField(name string) string { return "text_" + name }

// buildIndexMapping constructs the bleve index mapping: keyword fields for
// exact/full-value match and enumeration, text fields for tokenized
// free-text search, numeric fields for the sortable reserved properties.
func buildIndexMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = "standard"
	im.DefaultMapping = bleve.NewDocumentDisabledMapping()

	docMapping := bleve.NewDocumentMapping()

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.Store = true
	keywordField.IncludeInAll = false

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "standard"
	textFieldMapping.Store = false
	textFieldMapping.IncludeInAll = false

	numericField := bleve.NewNumericFieldMapping()
	numericField.Store = true
	numericField.IncludeInAll = false

	for name := range structuredFields {
		docMapping.AddFieldMappingsAt(fullField(name), keywordField)
		docMapping.AddFieldMappingsAt(textField(name), textFieldMapping)
	}

	// uid: stored sort-value and exact-match field.
	docMapping.AddFieldMappingsAt(fieldUID, keywordField)

	// title: lexicographic sort-value plus a weighted free-text pass.
	docMapping.AddFieldMappingsAt("title_sort", keywordField)
	titleText := bleve.NewTextFieldMapping()
	titleText.Analyzer = "standard"
	titleText.Store = false
	titleText.IncludeInAll = false
	docMapping.AddFieldMappingsAt("title_text", titleText)

	// reserved numeric sort-values
	docMapping.AddFieldMappingsAt("timestamp", numericField)
	docMapping.AddFieldMappingsAt("filesize", numericField)
	docMapping.AddFieldMappingsAt("creation_time", numericField)

	// generic free-text field for unrecognized properties and extracted
	// payload text.
	docMapping.AddFieldMappingsAt(fieldFulltext, textFieldMapping)

	im.AddDocumentMapping("_default", docMapping)
	return im, nil
}
