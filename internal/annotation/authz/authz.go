// Package authz decides which annotations a user may read or change.
package authz

import (
	"fmt"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

const readField = "permissions.read"

// Authorizer decides whether user may perform action on ann.
type Authorizer func(ann *model.Annotation, action model.Action, user *model.Identity) bool

// PermissionsFilter builds the filter admitting only annotations user may
// read. A nil user is anonymous. An error means the filter could not be
// built and the search must not run.
func PermissionsFilter(user *model.Identity) (query.Query, error) {
	unrestricted := query.Missing{Field: readField}
	if user == nil {
		return query.Or{
			unrestricted,
			query.Term{Field: readField, Value: model.PublicConsumer},
		}, nil
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: identity has no user id", model.ErrAuthorizationRefused)
	}
	principals := []any{model.PublicConsumer}
	if user.ConsumerKey != "" {
		principals = append(principals, user.ConsumerKey, user.ID, user.ScopedPrincipal())
	} else {
		// Tokens without a consumer key carry only the bare user id.
		principals = append(principals, user.ID)
	}
	return query.Or{
		unrestricted,
		query.Terms{Field: readField, Values: principals},
	}, nil
}

// Authorize is the default Authorizer. An empty read list admits everyone.
// An empty list for any other action admits only the owner. Admins of the
// issuing consumer may update, delete and administer but get no extra reads.
func Authorize(ann *model.Annotation, action model.Action, user *model.Identity) bool {
	principals := ann.Permissions.For(action)
	if len(principals) == 0 {
		if action == model.ActionRead {
			return true
		}
		return user != nil && (isOwner(ann, user) || isConsumerAdmin(ann, user))
	}
	if contains(principals, model.PublicConsumer) {
		return true
	}
	if user == nil {
		return false
	}
	if contains(principals, user.ConsumerKey) ||
		contains(principals, user.ID) ||
		contains(principals, user.ScopedPrincipal()) {
		return true
	}
	return action != model.ActionRead && isConsumerAdmin(ann, user)
}

func isConsumerAdmin(ann *model.Annotation, user *model.Identity) bool {
	return user.IsAdmin && user.ConsumerKey != "" && user.ConsumerKey == ann.Consumer
}

func isOwner(ann *model.Annotation, user *model.Identity) bool {
	if ann.User == "" || ann.User != user.ID {
		return false
	}
	return ann.Consumer == "" || ann.Consumer == user.ConsumerKey
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
