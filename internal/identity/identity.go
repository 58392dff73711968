// Package identity issues access tokens for communication identities.
package identity

import "time"

// AccessToken is a signed token with its expiry, as returned to clients.
type AccessToken struct {
	Token     string    `json:"token"`
	ExpiresOn time.Time `json:"expiresOn"`
}

// UserToken pairs a freshly minted identity with its first access token.
type UserToken struct {
	UserID      string
	AccessToken AccessToken
}
