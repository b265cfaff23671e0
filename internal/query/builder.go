package query

import (
	"strings"

	"github.com/ppiankov/kycscan/internal/model"
)

// Query is a built search query and the keyword terms it carries
type Query struct {
	Text  string
	Terms []string
}

// Builder turns a screening request into a boolean-style search query
type Builder struct {
	dict Dictionary
}

// NewBuilder creates a builder over the given dictionary.
// A nil dictionary falls back to DefaultDictionary.
func NewBuilder(dict Dictionary) *Builder {
	if dict == nil {
		dict = DefaultDictionary()
	}
	return &Builder{dict: dict}
}

// Dictionary returns the dictionary the builder maps tags through
func (b *Builder) Dictionary() Dictionary {
	return b.dict
}

// Terms maps tag IDs to search terms in input order.
// Unknown and repeated IDs are dropped.
func (b *Builder) Terms(tags []string) []string {
	terms := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		term, ok := b.dict[tag]
		if !ok || seen[tag] {
			continue
		}
		seen[tag] = true
		terms = append(terms, term)
	}
	return terms
}

// Build produces the query for a request:
//
//	name AND (t1 OR t2) OR (company AND (t1 OR t2)) additionalInfo
//
// Absent parts omit their clause. Additional info is appended as loose
// trailing terms, not combined with the boolean expression.
func (b *Builder) Build(req model.SearchRequest) Query {
	terms := b.Terms(req.KeywordTags)

	var sb strings.Builder
	sb.WriteString(req.IndividualName)

	group := ""
	if len(terms) > 0 {
		group = "(" + strings.Join(terms, " OR ") + ")"
		sb.WriteString(" AND ")
		sb.WriteString(group)
	}

	if req.CompanyName != "" {
		if group != "" {
			sb.WriteString(" OR (")
			sb.WriteString(req.CompanyName)
			sb.WriteString(" AND ")
			sb.WriteString(group)
			sb.WriteString(")")
		} else {
			sb.WriteString(" OR ")
			sb.WriteString(req.CompanyName)
		}
	}

	if req.AdditionalInfo != "" {
		sb.WriteString(" ")
		sb.WriteString(req.AdditionalInfo)
	}

	return Query{Text: sb.String(), Terms: terms}
}

// FallbackQuery is the plain space-joined identity used by the raw search endpoint
func FallbackQuery(req model.SearchRequest) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{req.IndividualName, req.CompanyName, req.AdditionalInfo} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
