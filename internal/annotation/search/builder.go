// Package search turns search requests into permission-filtered
// structured queries.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"annotationstore/config"
	"annotationstore/internal/annotation/authz"
	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

const uriField = "uri"

// Fields searched as free text rather than exact terms.
var textFields = map[string]bool{"text": true, "quote": true}

// Fields accepting range suffixes such as "created.gte".
var rangeFields = map[string]bool{
	"created": true, "updated": true,
	"ranges.startOffset": true, "ranges.endOffset": true,
}

var rangeOps = map[string]bool{"gt": true, "gte": true, "lt": true, "lte": true}

// DocumentLookup finds the documents owning any of a set of URIs.
type DocumentLookup interface {
	GetAllByURIs(ctx context.Context, uris []string) ([]*model.Document, error)
}

// Params is a search request after boundary parsing. Repeated values of
// one field are alternatives.
type Params struct {
	Fields map[string][]string
	URI    model.URIQuery
	Text   string
	Offset *int
	Limit  *int
	Sort   []query.SortField
}

type Builder struct {
	Cfg       *config.Config
	Documents DocumentLookup
}

func NewBuilder(cfg *config.Config, documents DocumentLookup) *Builder {
	return &Builder{Cfg: cfg, Documents: documents}
}

// Build produces the annotation query for p as seen by user.
func (b *Builder) Build(ctx context.Context, p Params, user *model.Identity) (*query.Request, error) {
	clauses, err := fieldClauses(p.Fields)
	if err != nil {
		return nil, err
	}

	if p.URI != nil {
		uris := p.URI.URIs()
		uriClause, err := b.expandURIs(ctx, uris)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, uriClause)
	}

	if b.Cfg.AuthzOn {
		f, err := authz.PermissionsFilter(user)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, f)
	}

	var base query.Query = query.MatchAll{}
	if strings.TrimSpace(p.Text) != "" {
		base = query.Match{Field: query.AllFields, Text: p.Text}
	}

	req := &query.Request{
		Query: query.Filtered{Query: base, Filter: query.And(clauses)},
		From:  b.clampOffset(p.Offset),
		Size:  b.clampLimit(p.Limit),
	}
	for _, s := range p.Sort {
		if s.Field == "" {
			continue
		}
		req.Sort = append(req.Sort, s)
	}
	return req, nil
}

// expandURIs returns the uri clause covering every href equivalent to uris.
func (b *Builder) expandURIs(ctx context.Context, uris []string) (query.Query, error) {
	clause := termClause(uriField, uris)
	if b.Documents == nil {
		return clause, nil
	}
	docs, err := b.Documents.GetAllByURIs(ctx, uris)
	if err != nil {
		return nil, fmt.Errorf("expand uri: %w", err)
	}
	if len(docs) == 0 {
		return clause, nil
	}
	seen := make(map[string]bool, len(uris))
	expanded := make([]any, 0, len(uris))
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			expanded = append(expanded, u)
		}
	}
	for _, u := range uris {
		add(u)
	}
	for _, d := range docs {
		for _, u := range d.URIs() {
			add(u)
		}
	}
	return query.Terms{Field: uriField, Values: expanded}, nil
}

func fieldClauses(fields map[string][]string) ([]query.Query, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var clauses []query.Query
	for _, name := range names {
		values := nonBlank(fields[name])
		if len(values) == 0 || name == "" {
			continue
		}
		if name == uriField {
			clauses = append(clauses, termClause(uriField, values))
			continue
		}
		if base, op, ok := splitRange(name); ok {
			for _, v := range values {
				r, err := rangeClause(base, op, v)
				if err != nil {
					return nil, err
				}
				clauses = append(clauses, r)
			}
			continue
		}
		if textFields[name] {
			if len(values) == 1 {
				clauses = append(clauses, query.Match{Field: name, Text: values[0]})
				continue
			}
			or := make(query.Or, 0, len(values))
			for _, v := range values {
				or = append(or, query.Match{Field: name, Text: v})
			}
			clauses = append(clauses, or)
			continue
		}
		clauses = append(clauses, termClause(name, values))
	}
	return clauses, nil
}

func termClause(field string, values []string) query.Query {
	if len(values) == 1 {
		return query.Term{Field: field, Value: values[0]}
	}
	vs := make([]any, 0, len(values))
	for _, v := range values {
		vs = append(vs, v)
	}
	return query.Terms{Field: field, Values: vs}
}

func splitRange(name string) (string, string, bool) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", "", false
	}
	base, op := name[:i], name[i+1:]
	if !rangeFields[base] || !rangeOps[op] {
		return "", "", false
	}
	return base, op, true
}

func rangeClause(field, op, value string) (query.Query, error) {
	var v any = value
	if field == "created" || field == "updated" {
		if _, err := query.ParseDate(value); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", field, op, err)
		}
	} else if n, err := query.Normalize(json.Number(value)); err == nil {
		v = n
	}
	r := query.Range{Field: field}
	switch op {
	case "gt":
		r.GT = v
	case "gte":
		r.GTE = v
	case "lt":
		r.LT = v
	case "lte":
		r.LTE = v
	}
	return r, nil
}

func (b *Builder) clampOffset(offset *int) int {
	if offset == nil || *offset < 0 {
		return 0
	}
	return *offset
}

func (b *Builder) clampLimit(limit *int) int {
	if limit == nil {
		return b.Cfg.ResultsDefaultSize
	}
	return clamp(*limit, 0, b.Cfg.ResultsMaxSize)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
