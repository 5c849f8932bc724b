package index

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/sugarlabs/sugar-datastore/internal/errs"
)

const (
	defaultLimit = 40960
	maxLimit     = 40960
)

// Query is the control-plus-predicate map find() accepts. Control keys are
// query/offset/limit/order_by; every other key is a value predicate.
type Query struct {
	Text      string
	Offset    int
	Limit     int
	OrderBy   string // "+name" ascending, "-name" descending
	Predicates map[string]interface{}
}

// sortableNames are the recognized order_by field names.
var sortableNames = map[string]string{
	"timestamp":     "timestamp",
	"title":         "title_sort",
	"filesize":      "filesize",
	"creation_time": "creation_time",
}

// Find executes query and returns matching ids in sort order plus an
// estimated total count (bleve's exact total when check_at_least is
// satisfied).
func (ix *Index) Find(q Query) ([]string, uint64, error) {
	bq, err := ix.buildQuery(q)
	if err != nil {
		return nil, 0, err
	}

	offset := q.Offset
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	checkAtLeast := offset + limit + 1

	req := bleve.NewSearchRequestOptions(bq, limit, offset, false)
	req.SortBy([]string{resolveSort(q.OrderBy)})

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil, 0, errs.New(errs.ErrCodeIndexCorrupt, "index closed", nil)
	}

	res, err := ix.bl.Search(req)
	if err != nil {
		return nil, 0, errs.Wrap(errs.ErrCodeIndexCorrupt, fmt.Errorf("search: %w", err))
	}

	total := res.Total
	if total > uint64(checkAtLeast) {
		total = uint64(checkAtLeast)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, strings.TrimPrefix(hit.ID, "FQ"))
	}
	return ids, total, nil
}

func resolveSort(orderBy string) string {
	if orderBy == "" {
		return "+timestamp"
	}
	sign := "+"
	name := orderBy
	if len(orderBy) > 0 && (orderBy[0] == '+' || orderBy[0] == '-') {
		sign = string(orderBy[0])
		name = orderBy[1:]
	}
	field, ok := sortableNames[name]
	if !ok {
		field = "timestamp"
	}
	return sign + field
}

// buildQuery combines q.Text (parsed per the textual grammar) and every
// predicate key with AND.
func (ix *Index) buildQuery(q Query) (query.Query, error) {
	var conjuncts []query.Query

	if strings.TrimSpace(q.Text) != "" {
		tq, err := parseTextQuery(q.Text)
		if err != nil {
			// parse errors downgrade to an empty subquery with a warning,
			// never fail the whole find().
			slog.Warn("query_parse_failed", slog.String("query", q.Text), slog.String("error", err.Error()))
			tq = bleve.NewMatchNoneQuery()
		}
		conjuncts = append(conjuncts, tq)
	}

	for field, pred := range q.Predicates {
		pq, err := predicateQuery(field, pred)
		if err != nil {
			slog.Warn("query_predicate_ignored", slog.String("field", field), slog.String("error", err.Error()))
			continue // unknown/unsupported predicate: logged and ignored
		}
		conjuncts = append(conjuncts, pq)
	}

	if len(conjuncts) == 0 {
		return bleve.NewMatchAllQuery(), nil
	}
	if len(conjuncts) == 1 {
		return conjuncts[0], nil
	}
	return bleve.NewConjunctionQuery(conjuncts...), nil
}

// predicateQuery turns one find() predicate value into a bleve query:
//   - list              -> OR of exact matches
//   - 2-tuple [lo, hi]   -> numeric range on a value field
//   - map{start,end}     -> numeric range with defaults 0 / max
//   - scalar             -> exact match
func predicateQuery(field string, value interface{}) (query.Query, error) {
	switch v := value.(type) {
	case []interface{}:
		var disjuncts []query.Query
		for _, item := range v {
			q, err := exactMatch(field, item)
			if err != nil {
				return nil, err
			}
			disjuncts = append(disjuncts, q)
		}
		return bleve.NewDisjunctionQuery(disjuncts...), nil

	case [2]interface{}:
		return rangeQuery(field, v[0], v[1])

	case map[string]interface{}:
		start, hasStart := v["start"]
		end, hasEnd := v["end"]
		if !hasStart {
			start = float64(0)
		}
		if !hasEnd {
			end = math.MaxFloat64
		}
		return rangeQuery(field, start, end)

	default:
		return exactMatch(field, v)
	}
}

func exactMatch(field string, value interface{}) (query.Query, error) {
	if _, ok := structuredFields[field]; ok {
		s := fmt.Sprintf("%v", value)
		q := bleve.NewTermQuery(s)
		q.SetField(fullField(field))
		return q, nil
	}
	if field == fieldUID {
		q := bleve.NewTermQuery(fmt.Sprintf("%v", value))
		q.SetField(fieldUID)
		return q, nil
	}
	n, err := toFloat(value)
	if err != nil {
		return nil, errs.InvalidArgument(fmt.Sprintf("unsupported predicate field %q", field), err)
	}
	q := bleve.NewNumericRangeQuery(&n, &n)
	q.SetField(field)
	return q, nil
}

func rangeQuery(field string, lo, hi interface{}) (query.Query, error) {
	loF, err := toFloat(lo)
	if err != nil {
		return nil, errs.InvalidArgument(fmt.Sprintf("range predicate %q: bad low bound", field), err)
	}
	hiF, err := toFloat(hi)
	if err != nil {
		return nil, errs.InvalidArgument(fmt.Sprintf("range predicate %q: bad high bound", field), err)
	}
	q := bleve.NewNumericRangeQuery(&loF, &hiF)
	q.SetField(field)
	return q, nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// parseTextQuery supports phrase (double-quoted), +term/-term love/hate,
// field:term and field:"phrase" scoping, and a trailing wildcard *. Words
// such as AND, OR and NOT are not operators: they are searched as plain
// terms like any other word.
func parseTextQuery(text string) (query.Query, error) {
	tokens, err := tokenizeQuery(text)
	if err != nil {
		return nil, err
	}

	var must, should, mustNot []query.Query
	for _, tok := range tokens {
		q, scoped := tok.toQuery()
		switch tok.kind {
		case tokenLove:
			must = append(must, q)
		case tokenHate:
			mustNot = append(mustNot, q)
		default:
			if scoped {
				must = append(must, q)
			} else {
				should = append(should, q)
			}
		}
	}

	bq := bleve.NewBooleanQuery()
	if len(must) > 0 {
		bq.AddMust(must...)
	}
	if len(should) > 0 {
		bq.AddShould(should...)
	}
	if len(mustNot) > 0 {
		bq.AddMustNot(mustNot...)
	}
	if len(must) == 0 && len(should) == 0 && len(mustNot) == 0 {
		return bleve.NewMatchAllQuery(), nil
	}
	return bq, nil
}

type tokenKind int

const (
	tokenPlain tokenKind = iota
	tokenLove
	tokenHate
)

type queryToken struct {
	kind  tokenKind
	field string // "" = generic fulltext field
	term  string
	isPhrase  bool
	isWild    bool
}

// defaultTextFields are the fields an unscoped term searches across: the
// generic free-text field plus title, since title carries its own
// dedicated pair instead of folding into fulltext.
var defaultTextFields = []string{fieldFulltext, "title_text"}

func (t queryToken) toQuery() (query.Query, bool) {
	scoped := t.field != ""
	var fields []string
	if scoped {
		if _, ok := structuredFields[t.field]; ok {
			fields = []string{textField(t.field)}
		} else {
			fields = []string{t.field}
		}
	} else {
		fields = defaultTextFields
	}

	build := func(field string) query.Query {
		if t.isPhrase {
			q := bleve.NewMatchPhraseQuery(t.term)
			q.SetField(field)
			return q
		}
		if t.isWild {
			q := bleve.NewWildcardQuery(strings.ToLower(t.term))
			q.SetField(field)
			return q
		}
		q := bleve.NewMatchQuery(t.term)
		q.SetField(field)
		return q
	}

	if len(fields) == 1 {
		return build(fields[0]), scoped
	}
	disjuncts := make([]query.Query, len(fields))
	for i, f := range fields {
		disjuncts[i] = build(f)
	}
	return bleve.NewDisjunctionQuery(disjuncts...), scoped
}

// tokenizeQuery is a small hand-rolled lexer for the grammar described in
// §4.4: whitespace-separated terms, "double quoted phrases", leading +/-,
// field:term / field:"phrase" scoping, trailing * wildcard.
func tokenizeQuery(text string) ([]queryToken, error) {
	var tokens []queryToken
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		for i < len(runes) && runes[i] == ' ' {
			i++
		}
		if i >= len(runes) {
			break
		}

		kind := tokenPlain
		if runes[i] == '+' {
			kind = tokenLove
			i++
		} else if runes[i] == '-' {
			kind = tokenHate
			i++
		}

		field := ""
		start := i
		for i < len(runes) && runes[i] != ' ' && runes[i] != ':' {
			i++
		}
		if i < len(runes) && runes[i] == ':' {
			field = string(runes[start:i])
			i++
			start = i
		} else {
			i = start
		}

		if i < len(runes) && runes[i] == '"' {
			i++
			phraseStart := i
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			phrase := string(runes[phraseStart:i])
			if i < len(runes) {
				i++ // consume closing quote
			}
			tokens = append(tokens, queryToken{kind: kind, field: field, term: phrase, isPhrase: true})
			continue
		}

		termStart := i
		for i < len(runes) && runes[i] != ' ' {
			i++
		}
		term := string(runes[termStart:i])
		if term == "" {
			continue
		}
		wild := strings.HasSuffix(term, "*")
		if wild {
			term = strings.TrimSuffix(term, "*")
		}
		tokens = append(tokens, queryToken{kind: kind, field: field, term: term, isWild: wild})
	}
	return tokens, nil
}

// UniqueValues enumerates distinct full-values stored for a structured
// field, generalizing get_activities() to any structured field. Callers
// that must match spec.md's public surface restrict field to "activity".
func (ix *Index) UniqueValues(field string) ([]string, error) {
	if _, ok := structuredFields[field]; !ok {
		return nil, errs.InvalidArgument(fmt.Sprintf("unsupported unique-values field %q", field), nil)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil, errs.New(errs.ErrCodeIndexCorrupt, "index closed", nil)
	}

	fieldDict, err := ix.bl.FieldDict(fullField(field))
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeIndexCorrupt, fmt.Errorf("field dict: %w", err))
	}
	defer fieldDict.Close()

	var values []string
	for {
		entry, err := fieldDict.Next()
		if err != nil {
			return nil, errs.Wrap(errs.ErrCodeIndexCorrupt, err)
		}
		if entry == nil {
			break
		}
		values = append(values, entry.Term)
	}
	return values, nil
}
