package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotationstore/internal/annotation/model"
)

const secret = "s3cret"

func echoUser(seen **model.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestIssueAndParseToken(t *testing.T) {
	user := &model.Identity{ID: "alice", ConsumerKey: "annotateit", IsAdmin: true}
	tok, err := IssueToken(user, secret, time.Hour, time.Now())
	require.NoError(t, err)

	got, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = ParseToken(tok, "other")
	assert.Error(t, err)
	_, err = ParseToken(tok, "")
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredAndIncomplete(t *testing.T) {
	user := &model.Identity{ID: "alice", ConsumerKey: "annotateit"}
	tok, err := IssueToken(user, secret, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken(tok, secret)
	assert.Error(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"consumerKey": "annotateit"}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = ParseToken(noUser, secret)
	assert.Error(t, err)

	subOnly, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob"}).SignedString([]byte(secret))
	require.NoError(t, err)
	got, err := ParseToken(subOnly, secret)
	require.NoError(t, err)
	assert.Equal(t, &model.Identity{ID: "bob"}, got)
}

func TestAuthMiddleware(t *testing.T) {
	tok, err := IssueToken(&model.Identity{ID: "alice", ConsumerKey: "annotateit"}, secret, time.Hour, time.Now())
	require.NoError(t, err)

	var seen *model.Identity
	h := AuthMiddleware(secret)(echoUser(&seen))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, seen, "no token means anonymous")

	for _, set := range []func(r *http.Request){
		func(r *http.Request) { r.Header.Set(TokenHeader, tok) },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) },
		func(r *http.Request) { r.URL.RawQuery = "token=" + tok },
	} {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		set(req)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "alice", seen.ID)
	}

	seen = nil
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other schemes are ignored")
	assert.Nil(t, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TokenHeader, "garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))

	called = false
	req := httptest.NewRequest(http.MethodOptions, "/annotations", nil)
	req.Header.Set("Origin", "http://page.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://page.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}
