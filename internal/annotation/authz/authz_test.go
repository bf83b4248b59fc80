package authz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

func TestPermissionsFilterAnonymous(t *testing.T) {
	f, err := PermissionsFilter(nil)
	require.NoError(t, err)
	assert.Equal(t, query.Or{
		query.Missing{Field: "permissions.read"},
		query.Term{Field: "permissions.read", Value: model.PublicConsumer},
	}, f)
}

func TestPermissionsFilterUser(t *testing.T) {
	f, err := PermissionsFilter(&model.Identity{ID: "alice", ConsumerKey: "annotateit"})
	require.NoError(t, err)
	assert.Equal(t, query.Or{
		query.Missing{Field: "permissions.read"},
		query.Terms{Field: "permissions.read", Values: []any{
			model.PublicConsumer, "annotateit", "alice", "acct:alice@annotateit",
		}},
	}, f)
}

func TestPermissionsFilterWithoutConsumerKey(t *testing.T) {
	f, err := PermissionsFilter(&model.Identity{ID: "carol"})
	require.NoError(t, err)
	assert.Equal(t, query.Or{
		query.Missing{Field: "permissions.read"},
		query.Terms{Field: "permissions.read", Values: []any{model.PublicConsumer, "carol"}},
	}, f)
}

func TestPermissionsFilterRefusesIdentityWithoutUser(t *testing.T) {
	for _, u := range []*model.Identity{{ConsumerKey: "annotateit"}, {}} {
		f, err := PermissionsFilter(u)
		assert.Nil(t, f)
		assert.True(t, errors.Is(err, model.ErrAuthorizationRefused))
	}
}

func TestAuthorize(t *testing.T) {
	alice := &model.Identity{ID: "alice", ConsumerKey: "annotateit"}
	bob := &model.Identity{ID: "bob", ConsumerKey: "annotateit"}
	admin := &model.Identity{ID: "root", ConsumerKey: "annotateit", IsAdmin: true}
	foreignAdmin := &model.Identity{ID: "root", ConsumerKey: "elsewhere", IsAdmin: true}

	owned := &model.Annotation{User: "alice", Consumer: "annotateit", Permissions: &model.Permissions{}}
	shared := &model.Annotation{User: "alice", Consumer: "annotateit", Permissions: &model.Permissions{
		Read:   []string{"bob"},
		Update: []string{"acct:bob@annotateit"},
		Delete: []string{"annotateit"},
		Admin:  []string{"alice"},
	}}
	public := &model.Annotation{User: "alice", Consumer: "annotateit", Permissions: &model.Permissions{
		Read: []string{model.PublicConsumer},
	}}

	cases := []struct {
		name   string
		ann    *model.Annotation
		action model.Action
		user   *model.Identity
		want   bool
	}{
		{"empty read admits anonymous", owned, model.ActionRead, nil, true},
		{"empty update admits owner", owned, model.ActionUpdate, alice, true},
		{"empty update refuses others", owned, model.ActionUpdate, bob, false},
		{"empty update refuses anonymous", owned, model.ActionUpdate, nil, false},
		{"empty delete admits consumer admin", owned, model.ActionDelete, admin, true},
		{"empty delete refuses foreign admin", owned, model.ActionDelete, foreignAdmin, false},
		{"read by user id", shared, model.ActionRead, bob, true},
		{"read refuses anonymous", shared, model.ActionRead, nil, false},
		{"read refuses owner not listed", shared, model.ActionRead, alice, false},
		{"admin gets no extra reads", shared, model.ActionRead, admin, false},
		{"update by scoped principal", shared, model.ActionUpdate, bob, true},
		{"delete by consumer key", shared, model.ActionDelete, bob, true},
		{"admin action by listed user", shared, model.ActionAdmin, alice, true},
		{"admin action refuses others", shared, model.ActionAdmin, bob, false},
		{"admin action by consumer admin", shared, model.ActionAdmin, admin, true},
		{"public read admits anonymous", public, model.ActionRead, nil, true},
		{"public read admits foreign user", public, model.ActionRead, foreignAdmin, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Authorize(tc.ann, tc.action, tc.user))
		})
	}
}

// Widening the read list to include the user never hides an annotation.
func TestPermissionsFilterMonotonic(t *testing.T) {
	u := &model.Identity{ID: "carol", ConsumerKey: "annotateit"}
	f, err := PermissionsFilter(u)
	require.NoError(t, err)
	terms := f.(query.Or)[1].(query.Terms)

	for _, principal := range []string{"carol", "annotateit", "acct:carol@annotateit", model.PublicConsumer} {
		assert.Contains(t, terms.Values, principal)
		ann := &model.Annotation{Permissions: &model.Permissions{Read: []string{"group:other", principal}}}
		assert.True(t, Authorize(ann, model.ActionRead, u), principal)
	}
}
