package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

func TestSearchParams(t *testing.T) {
	values, err := url.ParseQuery("offset=5&limit=abc&sort=updated:desc&q=fox&uri=http%3A%2F%2Fa%2Fx&uri=http%3A%2F%2Fa%2Fy&user=alice&tags=a&tags=b&token=abc&refresh=false")
	require.NoError(t, err)

	p := SearchParams(values)
	require.NotNil(t, p.Offset)
	assert.Equal(t, 5, *p.Offset)
	assert.Nil(t, p.Limit)
	assert.Equal(t, []query.SortField{{Field: "updated", Order: "desc"}}, p.Sort)
	assert.Equal(t, "fox", p.Text)
	assert.Equal(t, model.URISet{"http://a/x", "http://a/y"}, p.URI)
	assert.Equal(t, map[string][]string{"user": {"alice"}, "tags": {"a", "b"}}, p.Fields)
}

func TestWriteErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: nope", model.ErrAuthorizationRefused), http.StatusUnauthorized, "authorization_refused"},
		{fmt.Errorf("%w: annotation x", model.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: bad json", model.ErrMalformedInput), http.StatusBadRequest, "malformed_input"},
		{&model.IndexError{Status: http.StatusGatewayTimeout, Err: errors.New("slow")}, http.StatusGatewayTimeout, "index_transport_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "unexpected"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code)

		var body map[string]errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.kind, body["error"].Kind)
		assert.Equal(t, tc.err.Error(), body["error"].Message)
	}
}

func TestRefreshPolicyAndBaseURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://store.example/annotations?refresh=false", nil)
	assert.Equal(t, model.RefreshEventual, refreshPolicy(r))
	assert.Equal(t, "http://store.example", baseURL(r))

	r = httptest.NewRequest(http.MethodPost, "http://store.example/annotations", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, model.RefreshImmediate, refreshPolicy(r))
	assert.Equal(t, "https://store.example", baseURL(r))
}
