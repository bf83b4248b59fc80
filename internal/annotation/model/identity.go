package model

// Identity is the authenticated requester. A nil *Identity is anonymous.
type Identity struct {
	ID          string
	ConsumerKey string
	IsAdmin     bool
}

// ScopedPrincipal disambiguates the same user id issued by different
// consumers. It is empty when the identity has no consumer.
func (u *Identity) ScopedPrincipal() string {
	if u.ConsumerKey == "" {
		return ""
	}
	return "acct:" + u.ID + "@" + u.ConsumerKey
}
