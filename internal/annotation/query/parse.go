package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"annotationstore/internal/annotation/model"
)

// Top-level body keys accepted by ParseRequest. Keys that only tune
// scoring are accepted and ignored.
var requestKeys = map[string]bool{
	"query": true, "filter": true, "from": true, "size": true, "sort": true,
	"fields": true, "explain": true, "timeout": true, "track_scores": true,
	"min_score": true, "version": true,
}

// ParseRequest decodes a structured search body. Size is -1 when the body
// does not set it. Any unsupported construct rejects the whole body.
func ParseRequest(data []byte) (*Request, error) {
	var body map[string]json.RawMessage
	if err := decode(data, &body); err != nil {
		return nil, malformed("request body: %v", err)
	}
	if body == nil {
		return nil, malformed("request body must be an object")
	}
	for k := range body {
		if !requestKeys[k] {
			return nil, malformed("unsupported request key %q", k)
		}
	}

	req := &Request{Query: MatchAll{}, Size: -1}
	if raw, ok := body["query"]; ok {
		q, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		req.Query = q
	}
	if raw, ok := body["filter"]; ok {
		f, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		req.Query = Filtered{Query: req.Query, Filter: f}
	}
	if raw, ok := body["from"]; ok {
		n, err := parseInt(raw)
		if err != nil {
			return nil, malformed("from: %v", err)
		}
		req.From = n
	}
	if raw, ok := body["size"]; ok {
		n, err := parseInt(raw)
		if err != nil {
			return nil, malformed("size: %v", err)
		}
		req.Size = n
	}
	if raw, ok := body["sort"]; ok {
		sort, err := parseSort(raw)
		if err != nil {
			return nil, err
		}
		req.Sort = sort
	}
	if raw, ok := body["fields"]; ok {
		fields, err := parseStrings(raw)
		if err != nil {
			return nil, malformed("fields: %v", err)
		}
		req.Fields = fields
	}
	if raw, ok := body["explain"]; ok {
		if err := json.Unmarshal(raw, &req.Explain); err != nil {
			return nil, malformed("explain: %v", err)
		}
	}
	if raw, ok := body["timeout"]; ok {
		var v any
		if err := decode(raw, &v); err != nil {
			return nil, malformed("timeout: %v", err)
		}
		d, err := ParseTimeout(fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		req.Timeout = d
	}
	return req, nil
}

// Parse decodes one query node.
func Parse(data json.RawMessage) (Query, error) {
	var node map[string]json.RawMessage
	if err := decode(data, &node); err != nil {
		return nil, malformed("query: %v", err)
	}
	if len(node) != 1 {
		return nil, malformed("query node must have exactly one key, got %d", len(node))
	}
	for kind, body := range node {
		return parseNode(kind, body)
	}
	return nil, nil
}

func parseNode(kind string, body json.RawMessage) (Query, error) {
	switch kind {
	case "match_all":
		var ignored map[string]json.RawMessage
		if err := decode(body, &ignored); err != nil {
			return nil, malformed("match_all: %v", err)
		}
		return MatchAll{}, nil

	case "term":
		field, raw, err := singleField(kind, body, "boost", "_name")
		if err != nil {
			return nil, err
		}
		v, err := parseScalar(raw, "value")
		if err != nil {
			return nil, malformed("term %q: %v", field, err)
		}
		return Term{Field: field, Value: v}, nil

	case "terms":
		field, raw, err := singleField(kind, body, "execution", "minimum_match", "minimum_should_match", "boost", "_name")
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := decode(raw, &items); err != nil {
			return nil, malformed("terms %q: expected an array", field)
		}
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := parseScalar(item, "")
			if err != nil {
				return nil, malformed("terms %q: %v", field, err)
			}
			values = append(values, v)
		}
		return Terms{Field: field, Values: values}, nil

	case "range":
		field, raw, err := singleField(kind, body, "_name")
		if err != nil {
			return nil, err
		}
		return parseRange(field, raw)

	case "match", "text":
		field, raw, err := singleField(kind, body)
		if err != nil {
			return nil, err
		}
		text, err := parseScalar(raw, "query")
		if err != nil {
			return nil, malformed("match %q: %v", field, err)
		}
		s, ok := text.(string)
		if !ok {
			return nil, malformed("match %q: expected a string", field)
		}
		return Match{Field: field, Text: s}, nil

	case "query_string":
		var qs struct {
			Query        *string `json:"query"`
			DefaultField string  `json:"default_field"`
		}
		if err := json.Unmarshal(body, &qs); err != nil {
			return nil, malformed("query_string: %v", err)
		}
		if qs.Query == nil {
			return nil, malformed("query_string: missing query")
		}
		return QueryString{Query: *qs.Query, DefaultField: qs.DefaultField}, nil

	case "missing", "exists":
		var f struct {
			Field string `json:"field"`
		}
		if err := json.Unmarshal(body, &f); err != nil || f.Field == "" {
			return nil, malformed("%s: expected {\"field\": name}", kind)
		}
		if kind == "missing" {
			return Missing{Field: f.Field}, nil
		}
		return Exists{Field: f.Field}, nil

	case "and", "or":
		clauses, err := parseClauseList(kind, body)
		if err != nil {
			return nil, err
		}
		if kind == "and" {
			return And(clauses), nil
		}
		return Or(clauses), nil

	case "not":
		var wrapper map[string]json.RawMessage
		if err := decode(body, &wrapper); err != nil {
			return nil, malformed("not: %v", err)
		}
		inner := json.RawMessage(body)
		if raw, ok := wrapper["filter"]; ok && len(wrapper) == 1 {
			inner = raw
		} else if raw, ok := wrapper["query"]; ok && len(wrapper) == 1 {
			inner = raw
		}
		q, err := Parse(inner)
		if err != nil {
			return nil, err
		}
		return Not{Query: q}, nil

	case "bool":
		return parseBool(body)

	case "filtered":
		var f map[string]json.RawMessage
		if err := decode(body, &f); err != nil {
			return nil, malformed("filtered: %v", err)
		}
		out := Filtered{Query: MatchAll{}}
		for k, raw := range f {
			q, err := Parse(raw)
			switch k {
			case "query":
				out.Query = q
			case "filter":
				out.Filter = q
			default:
				return nil, malformed("filtered: unsupported key %q", k)
			}
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	case "constant_score":
		var f map[string]json.RawMessage
		if err := decode(body, &f); err != nil {
			return nil, malformed("constant_score: %v", err)
		}
		for _, k := range []string{"filter", "query"} {
			if raw, ok := f[k]; ok {
				q, err := Parse(raw)
				if err != nil {
					return nil, err
				}
				return Filtered{Query: MatchAll{}, Filter: q}, nil
			}
		}
		return nil, malformed("constant_score: expected filter or query")
	}
	return nil, malformed("unsupported query type %q", kind)
}

func parseBool(body json.RawMessage) (Query, error) {
	var b map[string]json.RawMessage
	if err := decode(body, &b); err != nil {
		return nil, malformed("bool: %v", err)
	}
	var out Bool
	for k, raw := range b {
		switch k {
		case "must", "filter", "should", "must_not":
			clauses, err := parseOneOrMany(raw)
			if err != nil {
				return nil, err
			}
			switch k {
			case "must", "filter":
				out.Must = append(out.Must, clauses...)
			case "should":
				out.Should = append(out.Should, clauses...)
			case "must_not":
				out.MustNot = append(out.MustNot, clauses...)
			}
		case "minimum_should_match", "minimum_number_should_match", "boost", "disable_coord", "_name":
		default:
			return nil, malformed("bool: unsupported key %q", k)
		}
	}
	return out, nil
}

func parseRange(field string, raw json.RawMessage) (Query, error) {
	var bounds map[string]json.RawMessage
	if err := decode(raw, &bounds); err != nil {
		return nil, malformed("range %q: %v", field, err)
	}
	includeLower, includeUpper := true, true
	if v, ok := bounds["include_lower"]; ok {
		_ = json.Unmarshal(v, &includeLower)
	}
	if v, ok := bounds["include_upper"]; ok {
		_ = json.Unmarshal(v, &includeUpper)
	}
	r := Range{Field: field}
	for k, v := range bounds {
		if k == "include_lower" || k == "include_upper" || k == "boost" || k == "format" {
			continue
		}
		val, err := parseScalar(v, "")
		if err != nil {
			return nil, malformed("range %q: %v", field, err)
		}
		switch k {
		case "gt":
			r.GT = val
		case "gte":
			r.GTE = val
		case "lt":
			r.LT = val
		case "lte":
			r.LTE = val
		case "from":
			if includeLower {
				r.GTE = val
			} else {
				r.GT = val
			}
		case "to":
			if includeUpper {
				r.LTE = val
			} else {
				r.LT = val
			}
		default:
			return nil, malformed("range %q: unsupported bound %q", field, k)
		}
	}
	if r.GT == nil && r.GTE == nil && r.LT == nil && r.LTE == nil {
		return nil, malformed("range %q: no bounds", field)
	}
	return r, nil
}

func parseClauseList(kind string, body json.RawMessage) ([]Query, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Filters json.RawMessage `json:"filters"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil || wrapper.Filters == nil {
			return nil, malformed("%s: expected an array or {\"filters\": [...]}", kind)
		}
		trimmed = wrapper.Filters
	}
	var items []json.RawMessage
	if err := decode(trimmed, &items); err != nil {
		return nil, malformed("%s: %v", kind, err)
	}
	clauses := make([]Query, 0, len(items))
	for _, item := range items {
		q, err := Parse(item)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, q)
	}
	return clauses, nil
}

func parseOneOrMany(raw json.RawMessage) ([]Query, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return parseClauseList("bool", trimmed)
	}
	q, err := Parse(trimmed)
	if err != nil {
		return nil, err
	}
	return []Query{q}, nil
}

func singleField(kind string, body json.RawMessage, ignored ...string) (string, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := decode(body, &fields); err != nil {
		return "", nil, malformed("%s: %v", kind, err)
	}
	for _, k := range ignored {
		delete(fields, k)
	}
	if len(fields) != 1 {
		return "", nil, malformed("%s: expected exactly one field", kind)
	}
	for field, raw := range fields {
		if field == "" {
			return "", nil, malformed("%s: empty field name", kind)
		}
		return field, raw, nil
	}
	return "", nil, nil
}

// parseScalar accepts a string, number or bool, or an object holding one
// under key.
func parseScalar(raw json.RawMessage, key string) (any, error) {
	var v any
	if err := decode(raw, &v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok && key != "" {
		inner, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("expected a value or {%q: value}", key)
		}
		v = inner
	}
	return Normalize(v)
}

// Normalize converts decoded JSON scalars to string, int64, float64 or bool.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case string, bool, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected a scalar value, got %T", v)
}

func parseSort(raw json.RawMessage) ([]SortField, error) {
	var v any
	if err := decode(raw, &v); err != nil {
		return nil, malformed("sort: %v", err)
	}
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	var out []SortField
	for _, item := range items {
		switch t := item.(type) {
		case string:
			out = append(out, SortField{Field: t})
		case map[string]any:
			for field, spec := range t {
				order := ""
				switch s := spec.(type) {
				case string:
					order = s
				case map[string]any:
					order, _ = s["order"].(string)
				}
				order = strings.ToLower(order)
				if order != "" && order != Asc && order != Desc {
					return nil, malformed("sort %q: invalid order %q", field, order)
				}
				out = append(out, SortField{Field: field, Order: order})
			}
		default:
			return nil, malformed("sort: unsupported entry %v", item)
		}
	}
	return out, nil
}

func parseStrings(raw json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return SplitCSV(one), nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

func parseInt(raw json.RawMessage) (int, error) {
	var v any
	if err := decode(raw, &v); err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("expected an integer")
}

// ParseTimeout reads an Elasticsearch time value: a Go duration ("5s",
// "250ms") or a bare number of milliseconds.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, malformed("invalid timeout %q", s)
	}
	return d, nil
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate reads a date range bound: RFC 3339, or a bare date or
// date-time taken as UTC.
func ParseDate(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, malformed("expected a date string, got %v", v)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, malformed("invalid date %q", s)
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decode(data []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(v); err != nil {
		return err
	}
	if d.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrMalformedInput}, args...)...)
}
