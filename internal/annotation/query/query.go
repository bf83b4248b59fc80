// Package query defines the structured boolean query consumed by the
// annotation index. Nodes marshal to the Elasticsearch query DSL form.
package query

import (
	"encoding/json"
)

// AllFields names the combined free-text field (text and quote).
const AllFields = "_all"

type Query interface {
	json.Marshaler
	isQuery()
}

type MatchAll struct{}

// Term matches documents whose field holds value exactly. Array fields
// match when any element equals value.
type Term struct {
	Field string
	Value any
}

// Terms matches when the field holds any of values.
type Terms struct {
	Field  string
	Values []any
}

type Range struct {
	Field string
	GT    any
	GTE   any
	LT    any
	LTE   any
}

// Match is a free-text query on an analysed field.
type Match struct {
	Field string
	Text  string
}

type QueryString struct {
	Query        string
	DefaultField string
}

// Missing matches when the field is absent, null or an empty array.
type Missing struct {
	Field string
}

type Exists struct {
	Field string
}

type And []Query

type Or []Query

type Not struct {
	Query Query
}

type Bool struct {
	Must    []Query
	Should  []Query
	MustNot []Query
}

// Filtered restricts Query to the documents matching Filter.
type Filtered struct {
	Query  Query
	Filter Query
}

func (MatchAll) isQuery()    {}
func (Term) isQuery()        {}
func (Terms) isQuery()       {}
func (Range) isQuery()       {}
func (Match) isQuery()       {}
func (QueryString) isQuery() {}
func (Missing) isQuery()     {}
func (Exists) isQuery()      {}
func (And) isQuery()         {}
func (Or) isQuery()          {}
func (Not) isQuery()         {}
func (Bool) isQuery()        {}
func (Filtered) isQuery()    {}

type object = map[string]any

func (MatchAll) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"match_all": object{}})
}

func (q Term) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"term": object{q.Field: q.Value}})
}

func (q Terms) MarshalJSON() ([]byte, error) {
	values := q.Values
	if values == nil {
		values = []any{}
	}
	return json.Marshal(object{"terms": object{q.Field: values}})
}

func (q Range) MarshalJSON() ([]byte, error) {
	bounds := object{}
	for name, v := range map[string]any{"gt": q.GT, "gte": q.GTE, "lt": q.LT, "lte": q.LTE} {
		if v != nil {
			bounds[name] = v
		}
	}
	return json.Marshal(object{"range": object{q.Field: bounds}})
}

func (q Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"match": object{q.Field: q.Text}})
}

func (q QueryString) MarshalJSON() ([]byte, error) {
	body := object{"query": q.Query}
	if q.DefaultField != "" {
		body["default_field"] = q.DefaultField
	}
	return json.Marshal(object{"query_string": body})
}

func (q Missing) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"missing": object{"field": q.Field}})
}

func (q Exists) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"exists": object{"field": q.Field}})
}

func (q And) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"and": []Query(nonNil(q))})
}

func (q Or) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"or": []Query(nonNil(q))})
}

func (q Not) MarshalJSON() ([]byte, error) {
	return json.Marshal(object{"not": q.Query})
}

func (q Bool) MarshalJSON() ([]byte, error) {
	body := object{}
	if len(q.Must) > 0 {
		body["must"] = q.Must
	}
	if len(q.Should) > 0 {
		body["should"] = q.Should
	}
	if len(q.MustNot) > 0 {
		body["must_not"] = q.MustNot
	}
	return json.Marshal(object{"bool": body})
}

func (q Filtered) MarshalJSON() ([]byte, error) {
	body := object{}
	if q.Query != nil {
		body["query"] = q.Query
	}
	if q.Filter != nil {
		body["filter"] = q.Filter
	}
	return json.Marshal(object{"filtered": body})
}

func nonNil(qs []Query) []Query {
	if qs == nil {
		return []Query{}
	}
	return qs
}
