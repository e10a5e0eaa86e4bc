package domain

import "time"

type AuthorizationCode struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// Credential is presented to start a session: either a cached refresh token or a freshly
// obtained authorization code.
type Credential struct {
	RefreshToken string
	Code         *AuthorizationCode
}

func (c Credential) Empty() bool {
	return c.RefreshToken == "" && (c.Code == nil || c.Code.Code == "")
}

type Grant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

func (g Grant) Expired(now time.Time, skew time.Duration) bool {
	if g.ExpiresAt.IsZero() {
		return false
	}
	return !g.ExpiresAt.After(now.Add(skew))
}
