package query

import (
	"encoding/json"
	"time"
)

const (
	Asc  = "asc"
	Desc = "desc"
)

type SortField struct {
	Field string
	Order string
}

func (s SortField) MarshalJSON() ([]byte, error) {
	if s.Order == "" {
		return json.Marshal(s.Field)
	}
	return json.Marshal(map[string]any{s.Field: map[string]string{"order": s.Order}})
}

// Request is a complete search against one index type.
type Request struct {
	Query   Query
	From    int
	Size    int
	Sort    []SortField
	Fields  []string
	Explain bool
	Timeout time.Duration
}

func (r *Request) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"query": r.Query,
		"from":  r.From,
		"size":  r.Size,
	}
	if r.Query == nil {
		body["query"] = MatchAll{}
	}
	if len(r.Sort) > 0 {
		body["sort"] = r.Sort
	}
	if len(r.Fields) > 0 {
		body["fields"] = r.Fields
	}
	if r.Explain {
		body["explain"] = true
	}
	if r.Timeout > 0 {
		body["timeout"] = r.Timeout.String()
	}
	return json.Marshal(body)
}

type Hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type Result struct {
	Total int64
	Hits  []Hit
}
