// Package user defines the caller identity derived from a bearer token.
package user

// Identity is the authenticated caller. Service identities come from the
// internal service key and carry no user id.
type Identity struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	Service bool   `json:"service,omitempty"`
}

// Anonymous reports whether the identity carries neither a user nor a service.
func (i *Identity) Anonymous() bool {
	return i == nil || (i.UserID == "" && !i.Service)
}
