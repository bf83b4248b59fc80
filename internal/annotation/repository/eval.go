package repository

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

// evaluator matches decoded sources against a structured query with the
// same semantics the Postgres translation has.
type evaluator struct {
	m *mapping
}

func (e evaluator) match(q query.Query, doc any) (bool, error) {
	switch n := q.(type) {
	case nil, query.MatchAll:
		return true, nil

	case query.Term:
		return e.term(n.Field, []any{n.Value}, doc)

	case query.Terms:
		return e.term(n.Field, n.Values, doc)

	case query.Range:
		return e.rangeMatch(n, doc)

	case query.Match:
		return e.text(n.Field, n.Text, doc, false)

	case query.QueryString:
		return e.text(n.DefaultField, n.Query, doc, true)

	case query.Missing:
		vals, err := e.values(n.Field, doc)
		return len(vals) == 0, err

	case query.Exists:
		vals, err := e.values(n.Field, doc)
		return len(vals) > 0, err

	case query.And:
		for _, c := range n {
			ok, err := e.match(c, doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case query.Or:
		for _, c := range n {
			ok, err := e.match(c, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case query.Not:
		ok, err := e.match(n.Query, doc)
		return !ok, err

	case query.Bool:
		ok, err := e.match(query.And(n.Must), doc)
		if err != nil || !ok {
			return false, err
		}
		if len(n.Should) > 0 && len(n.Must) == 0 {
			if ok, err = e.match(query.Or(n.Should), doc); err != nil || !ok {
				return false, err
			}
		}
		for _, c := range n.MustNot {
			if ok, err = e.match(c, doc); err != nil || ok {
				return false, err
			}
		}
		return true, nil

	case query.Filtered:
		ok, err := e.match(n.Query, doc)
		if err != nil || !ok {
			return false, err
		}
		return e.match(n.Filter, doc)
	}
	return false, fmt.Errorf("%w: unsupported query node %T", model.ErrMalformedInput, q)
}

// values returns the non-null leaf values at field, flattening arrays.
func (e evaluator) values(field string, doc any) ([]any, error) {
	segs, err := segments(field)
	if err != nil {
		return nil, err
	}
	cur := []any{doc}
	for _, s := range segs {
		var next []any
		for _, c := range cur {
			obj, ok := c.(map[string]any)
			if !ok {
				continue
			}
			v, ok := obj[s]
			if !ok || v == nil {
				continue
			}
			if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if item != nil {
						next = append(next, item)
					}
				}
				continue
			}
			next = append(next, v)
		}
		cur = next
	}
	return cur, nil
}

func (e evaluator) term(field string, targets []any, doc any) (bool, error) {
	vals, err := e.values(field, doc)
	if err != nil {
		return false, err
	}
	for _, t := range targets {
		want, err := query.Normalize(t)
		if err != nil {
			return false, fmt.Errorf("%w: term %q: %v", model.ErrMalformedInput, field, err)
		}
		for _, v := range vals {
			got, err := query.Normalize(v)
			if err != nil {
				continue
			}
			if c, ok := compare(got, want, false); ok && c == 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e evaluator) rangeMatch(r query.Range, doc any) (bool, error) {
	vals, err := e.values(r.Field, doc)
	if err != nil {
		return false, err
	}
	date := e.m.dates[r.Field]
	if date {
		for _, b := range []any{r.GT, r.GTE, r.LT, r.LTE} {
			if b == nil {
				continue
			}
			if _, err := query.ParseDate(b); err != nil {
				return false, fmt.Errorf("range %q: %w", r.Field, err)
			}
		}
	}
	for _, v := range vals {
		got, err := query.Normalize(v)
		if err != nil {
			continue
		}
		if inRange(got, r, date) {
			return true, nil
		}
	}
	return false, nil
}

func inRange(v any, r query.Range, date bool) bool {
	check := func(bound any, accept func(int) bool) bool {
		if bound == nil {
			return true
		}
		b, err := query.Normalize(bound)
		if err != nil {
			return false
		}
		c, ok := compare(v, b, date)
		return ok && accept(c)
	}
	return check(r.GT, func(c int) bool { return c > 0 }) &&
		check(r.GTE, func(c int) bool { return c >= 0 }) &&
		check(r.LT, func(c int) bool { return c < 0 }) &&
		check(r.LTE, func(c int) bool { return c <= 0 })
}

// compare orders two normalized scalars. ok is false when they are not
// comparable.
func compare(a, b any, date bool) (int, bool) {
	if date {
		ta, errA := query.ParseDate(a)
		tb, errB := query.ParseDate(b)
		if errA == nil && errB == nil {
			return ta.Compare(tb), true
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func (e evaluator) text(field, text string, doc any, websearch bool) (bool, error) {
	have := map[string]bool{}
	for _, f := range e.m.textFields(field) {
		vals, err := e.values(f, doc)
		if err != nil {
			return false, err
		}
		for _, v := range vals {
			if s, ok := v.(string); ok {
				for _, tok := range tokenize(s) {
					have[tok] = true
				}
			}
		}
	}
	if !websearch {
		want := tokenize(text)
		if len(want) == 0 {
			return false, nil
		}
		return containsAll(have, want), nil
	}

	// websearch syntax: terms are AND-ed, "or" separates alternatives and a
	// leading "-" negates a term.
	matched := false
	for _, group := range splitOr(text) {
		var want, deny []string
		for _, word := range strings.Fields(group) {
			if strings.HasPrefix(word, "-") {
				deny = append(deny, tokenize(word[1:])...)
				continue
			}
			want = append(want, tokenize(word)...)
		}
		if len(want) == 0 && len(deny) == 0 {
			continue
		}
		if containsAll(have, want) && !containsAny(have, deny) {
			matched = true
		}
	}
	return matched, nil
}

func splitOr(text string) []string {
	var groups []string
	var cur []string
	for _, word := range strings.Fields(text) {
		if strings.EqualFold(word, "or") {
			groups = append(groups, strings.Join(cur, " "))
			cur = nil
			continue
		}
		cur = append(cur, word)
	}
	return append(groups, strings.Join(cur, " "))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAll(have map[string]bool, want []string) bool {
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

func containsAny(have map[string]bool, deny []string) bool {
	for _, w := range deny {
		if have[w] {
			return true
		}
	}
	return false
}
