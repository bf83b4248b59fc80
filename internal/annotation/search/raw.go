package search

import (
	"net/url"
	"strconv"
	"strings"

	"annotationstore/internal/annotation/authz"
	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

// RawRequest is an advanced search ready for the index. Params carries
// the index-level options (search_type) that are not part of the query.
type RawRequest struct {
	Request *query.Request
	Params  map[string]string
}

// BuildRawGet translates URL query controls into a query-string search.
func (b *Builder) BuildRawGet(values url.Values, user *model.Identity) (*RawRequest, error) {
	req := &query.Request{Query: query.MatchAll{}, Size: -1}
	params := map[string]string{}
	var qs query.QueryString

	for k, vs := range values {
		if len(vs) == 0 {
			continue
		}
		v := vs[0]
		switch k {
		case "q":
			qs.Query = v
		case "df":
			qs.DefaultField = v
		case "explain":
			req.Explain = truthy(v)
		case "track_scores", "lowercase_expanded_terms", "analyze_wildcard":
			// Accepted without effect: the index neither scores nor
			// analyzes query strings differently.
		case "from":
			req.From = atoi(v, 0)
		case "size":
			req.Size = atoi(v, -1)
		case "timeout":
			d, err := query.ParseTimeout(v)
			if err != nil {
				return nil, err
			}
			req.Timeout = d
		case "fields":
			req.Fields = query.SplitCSV(v)
		case "sort":
			for _, s := range vs {
				req.Sort = append(req.Sort, ParseSort(s)...)
			}
		case "search_type":
			params[k] = v
		}
	}
	if strings.TrimSpace(qs.Query) != "" {
		req.Query = qs
	}
	return b.finishRaw(req, params, user)
}

// BuildRawPost parses a structured body. URL arguments may still set
// search_type and override from and size.
func (b *Builder) BuildRawPost(body []byte, args url.Values, user *model.Identity) (*RawRequest, error) {
	req, err := query.ParseRequest(body)
	if err != nil {
		return nil, err
	}
	params := map[string]string{}
	if v := args.Get("search_type"); v != "" {
		params["search_type"] = v
	}
	if v := args.Get("from"); v != "" {
		req.From = atoi(v, req.From)
	}
	if v := args.Get("size"); v != "" {
		req.Size = atoi(v, req.Size)
	}
	return b.finishRaw(req, params, user)
}

// finishRaw clamps paging and wraps the caller's query in the permission
// filter whatever its shape.
func (b *Builder) finishRaw(req *query.Request, params map[string]string, user *model.Identity) (*RawRequest, error) {
	if req.From < 0 {
		req.From = 0
	}
	if req.Size < 0 {
		req.Size = b.Cfg.ResultsDefaultSize
	}
	req.Size = clamp(req.Size, 0, b.Cfg.ResultsMaxSize)

	if b.Cfg.AuthzOn {
		f, err := authz.PermissionsFilter(user)
		if err != nil {
			return nil, err
		}
		req.Query = query.Filtered{Query: req.Query, Filter: f}
	}
	return &RawRequest{Request: req, Params: params}, nil
}

// ParseSort reads a comma separated list of "field" or "field:order"
// entries. The order is taken after the last colon so field names may
// contain colons.
func ParseSort(s string) []query.SortField {
	var out []query.SortField
	for _, part := range query.SplitCSV(s) {
		i := strings.LastIndex(part, ":")
		if i < 0 {
			out = append(out, query.SortField{Field: part})
			continue
		}
		out = append(out, query.SortField{Field: part[:i], Order: strings.ToLower(part[i+1:])})
	}
	return out
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func truthy(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
