package repository

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

// translator turns a structured query into a SQL predicate over the JSONB
// body column of one index table.
type translator struct {
	m *mapping
}

type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	s, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}

var (
	sqlTrue  = sq.Expr("TRUE")
	sqlFalse = sq.Expr("FALSE")
)

func (t translator) where(q query.Query) (sq.Sqlizer, error) {
	switch n := q.(type) {
	case nil, query.MatchAll:
		return sqlTrue, nil

	case query.Term:
		return t.term(n.Field, n.Value)

	case query.Terms:
		if len(n.Values) == 0 {
			return sqlFalse, nil
		}
		or := sq.Or{}
		for _, v := range n.Values {
			clause, err := t.term(n.Field, v)
			if err != nil {
				return nil, err
			}
			or = append(or, clause)
		}
		return or, nil

	case query.Range:
		return t.rangeClause(n)

	case query.Match:
		return t.fullText(n.Field, n.Text, "plainto_tsquery")

	case query.QueryString:
		return t.fullText(n.DefaultField, n.Query, "websearch_to_tsquery")

	case query.Missing:
		exists, err := t.exists(n.Field)
		if err != nil {
			return nil, err
		}
		return notExpr{exists}, nil

	case query.Exists:
		return t.exists(n.Field)

	case query.And:
		return t.all(n)

	case query.Or:
		if len(n) == 0 {
			return sqlFalse, nil
		}
		or := sq.Or{}
		for _, c := range n {
			clause, err := t.where(c)
			if err != nil {
				return nil, err
			}
			or = append(or, clause)
		}
		return or, nil

	case query.Not:
		inner, err := t.where(n.Query)
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil

	case query.Bool:
		and := sq.And{}
		for _, c := range n.Must {
			clause, err := t.where(c)
			if err != nil {
				return nil, err
			}
			and = append(and, clause)
		}
		if len(n.Should) > 0 && len(n.Must) == 0 {
			should, err := t.where(query.Or(n.Should))
			if err != nil {
				return nil, err
			}
			and = append(and, should)
		}
		for _, c := range n.MustNot {
			clause, err := t.where(c)
			if err != nil {
				return nil, err
			}
			and = append(and, notExpr{clause})
		}
		if len(and) == 0 {
			return sqlTrue, nil
		}
		return and, nil

	case query.Filtered:
		return t.all([]query.Query{n.Query, n.Filter})
	}
	return nil, fmt.Errorf("%w: unsupported query node %T", model.ErrMalformedInput, q)
}

func (t translator) all(qs []query.Query) (sq.Sqlizer, error) {
	and := sq.And{}
	for _, c := range qs {
		if c == nil {
			continue
		}
		if _, ok := c.(query.MatchAll); ok {
			continue
		}
		clause, err := t.where(c)
		if err != nil {
			return nil, err
		}
		and = append(and, clause)
	}
	if len(and) == 0 {
		return sqlTrue, nil
	}
	return and, nil
}

func (t translator) term(field string, value any) (sq.Sqlizer, error) {
	segs, err := segments(field)
	if err != nil {
		return nil, err
	}
	value, err = query.Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("%w: term %q: %v", model.ErrMalformedInput, field, err)
	}
	forms := []bool{t.m.arrays[field]}
	if !t.m.arrays[field] && !t.m.scalars[field] {
		forms = []bool{false, true}
	}
	or := sq.Or{}
	for _, arrayLeaf := range forms {
		doc, err := json.Marshal(t.m.containment(segs, value, arrayLeaf))
		if err != nil {
			return nil, err
		}
		or = append(or, sq.Expr("body @> ?::jsonb", string(doc)))
	}
	if len(or) == 1 {
		return or[0], nil
	}
	return or, nil
}

func (t translator) exists(field string) (sq.Sqlizer, error) {
	segs, err := segments(field)
	if err != nil {
		return nil, err
	}
	return sq.Expr("jsonb_path_exists(body, ?::jsonpath)", jsonPath(segs)+"[*] ? (@ != null)"), nil
}

func (t translator) rangeClause(r query.Range) (sq.Sqlizer, error) {
	segs, err := segments(r.Field)
	if err != nil {
		return nil, err
	}
	bounds := []struct {
		name string
		op   string
		v    any
	}{{"gt", ">", r.GT}, {"gte", ">=", r.GTE}, {"lt", "<", r.LT}, {"lte", "<=", r.LTE}}

	if t.m.dates[r.Field] && len(segs) == 1 {
		and := sq.And{}
		for _, b := range bounds {
			if b.v == nil {
				continue
			}
			d, err := query.ParseDate(b.v)
			if err != nil {
				return nil, fmt.Errorf("range %q: %w", r.Field, err)
			}
			and = append(and, sq.Expr(
				fmt.Sprintf("(body ->> ?)::timestamptz %s ?::timestamptz", b.op), segs[0], d.UTC().Format(time.RFC3339Nano)))
		}
		return and, nil
	}

	vars := map[string]any{}
	var conds []string
	for _, b := range bounds {
		if b.v == nil {
			continue
		}
		v, err := query.Normalize(b.v)
		if err != nil {
			return nil, fmt.Errorf("%w: range %q: %v", model.ErrMalformedInput, r.Field, err)
		}
		vars[b.name] = v
		conds = append(conds, fmt.Sprintf("@ %s $%s", b.op, b.name))
	}
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s ? (%s)", jsonPath(segs), strings.Join(conds, " && "))
	return sq.Expr("jsonb_path_exists(body, ?::jsonpath, ?::jsonb)", path, string(varsJSON)), nil
}

func (t translator) fullText(field, text, parser string) (sq.Sqlizer, error) {
	fields := t.m.textFields(field)
	placeholders := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	for _, f := range fields {
		segs, err := segments(f)
		if err != nil {
			return nil, err
		}
		placeholders = append(placeholders, "body #>> ?")
		args = append(args, pq.Array(segs))
	}
	args = append(args, text)
	return sq.Expr(fmt.Sprintf("to_tsvector('simple', concat_ws(' ', %s)) @@ %s('simple', ?)",
		strings.Join(placeholders, ", "), parser), args...), nil
}

// orderBy returns one ORDER BY clause and its argument.
func (t translator) orderBy(s query.SortField) (string, interface{}, error) {
	segs, err := segments(s.Field)
	if err != nil {
		return "", nil, err
	}
	dir := "ASC"
	switch strings.ToLower(s.Order) {
	case "", query.Asc:
	case query.Desc:
		dir = "DESC"
	default:
		return "", nil, fmt.Errorf("%w: invalid sort order %q", model.ErrMalformedInput, s.Order)
	}
	expr := "body #>> ?"
	switch {
	case t.m.dates[s.Field]:
		expr = "(body #>> ?)::timestamptz"
	case t.m.numbers[s.Field]:
		expr = "(body #>> ?)::numeric"
	}
	return expr + " " + dir, pq.Array(segs), nil
}

func jsonPath(segs []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, s := range segs {
		b.WriteString(`."`)
		b.WriteString(s)
		b.WriteString(`"`)
	}
	return b.String()
}
