package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

func seed(t *testing.T, idx *MemoryIndex, docs map[string]string) {
	t.Helper()
	for id, body := range docs {
		require.NoError(t, idx.Put(context.Background(), TypeAnnotation, id, []byte(body), model.RefreshImmediate))
	}
}

func ids(res *query.Result) []string {
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, h.ID)
	}
	return out
}

func newSeededIndex(t *testing.T) *MemoryIndex {
	idx := NewMemoryIndex()
	seed(t, idx, map[string]string{
		"a": `{"user":"alice","text":"The quick brown fox","tags":["animal","fast"],"created":"2024-01-01T00:00:00Z",
			"ranges":[{"start":"/p[1]","end":"/p[1]","startOffset":0,"endOffset":5}],"permissions":{"read":[]}}`,
		"b": `{"user":"bob","quote":"lazy dog","tags":["animal"],"created":"2024-02-01T00:00:00Z",
			"ranges":[{"start":"/p[2]","end":"/p[2]","startOffset":10,"endOffset":20}],"permissions":{"read":["group:__consumer__"]}}`,
		"c": `{"user":"carol","text":"nothing here","created":"2024-03-01T00:00:00Z","permissions":{"read":["group:other"]}}`,
	})
	return idx
}

func search(t *testing.T, idx *MemoryIndex, q query.Query) []string {
	t.Helper()
	res, err := idx.Search(context.Background(), TypeAnnotation, &query.Request{Query: q, Size: -1})
	require.NoError(t, err)
	return ids(res)
}

func TestMemorySearchTerms(t *testing.T) {
	idx := newSeededIndex(t)

	assert.Equal(t, []string{"a", "b", "c"}, search(t, idx, query.MatchAll{}))
	assert.Equal(t, []string{"b"}, search(t, idx, query.Term{Field: "user", Value: "bob"}))
	assert.Equal(t, []string{"a", "b"}, search(t, idx, query.Term{Field: "tags", Value: "animal"}))
	assert.Equal(t, []string{"a", "c"}, search(t, idx, query.Terms{Field: "user", Values: []any{"alice", "carol"}}))
	assert.Empty(t, search(t, idx, query.Terms{Field: "user"}))
}

func TestMemorySearchPermissionFilter(t *testing.T) {
	idx := newSeededIndex(t)
	anonymous := query.Or{
		query.Missing{Field: "permissions.read"},
		query.Term{Field: "permissions.read", Value: model.PublicConsumer},
	}
	assert.Equal(t, []string{"a", "b"}, search(t, idx, anonymous))
}

func TestMemorySearchRangesAndText(t *testing.T) {
	idx := newSeededIndex(t)

	assert.Equal(t, []string{"b", "c"}, search(t, idx, query.Range{Field: "created", GTE: "2024-02-01T00:00:00Z"}))
	assert.Equal(t, []string{"b"}, search(t, idx, query.Range{Field: "ranges.startOffset", GT: int64(5)}))
	assert.Equal(t, []string{"a"}, search(t, idx, query.Match{Field: query.AllFields, Text: "QUICK fox"}))
	assert.Equal(t, []string{"b"}, search(t, idx, query.Match{Field: "quote", Text: "dog"}))
	assert.Equal(t, []string{"a", "b"}, search(t, idx, query.QueryString{Query: "fox or dog"}))
	assert.Equal(t, []string{"b"}, search(t, idx, query.QueryString{Query: "dog -fox"}))
}

func TestMemorySearchRejectsInvalidDates(t *testing.T) {
	idx := newSeededIndex(t)
	assert.Equal(t, []string{"a"}, search(t, idx, query.Range{Field: "created", LT: "2024-01-15"}))

	_, err := idx.Search(context.Background(), TypeAnnotation, &query.Request{
		Query: query.Range{Field: "created", GTE: "garbage"}, Size: -1,
	})
	assert.True(t, errors.Is(err, model.ErrMalformedInput))
}

func TestMemorySearchPagingSortAndFields(t *testing.T) {
	idx := newSeededIndex(t)

	res, err := idx.Search(context.Background(), TypeAnnotation, &query.Request{
		Query:  query.MatchAll{},
		Sort:   []query.SortField{{Field: "created", Order: query.Desc}},
		From:   1,
		Size:   1,
		Fields: []string{"user"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	require.Equal(t, []string{"b"}, ids(res))
	assert.JSONEq(t, `{"user":"bob"}`, string(res.Hits[0].Source))

	res, err = idx.Search(context.Background(), TypeAnnotation, &query.Request{
		Query: query.MatchAll{},
		Sort:  []query.SortField{{Field: "quote"}},
		Size:  -1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(res), "missing values sort last")
}

func TestMemoryCRUD(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, TypeDocument, "d1", []byte(`{"link":[{"href":"x"}]}`), model.RefreshEventual))
	body, err := idx.Get(ctx, TypeDocument, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"link":[{"href":"x"}]}`, string(body))

	n, err := idx.Count(ctx, TypeDocument, query.Term{Field: "link.href", Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, idx.Delete(ctx, TypeDocument, "d1"))
	_, err = idx.Get(ctx, TypeDocument, "d1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.True(t, errors.Is(idx.Delete(ctx, TypeDocument, "d1"), model.ErrNotFound))

	err = idx.Put(ctx, TypeDocument, "d2", []byte(`{not json`), model.RefreshImmediate)
	assert.True(t, errors.Is(err, model.ErrMalformedInput))
}
