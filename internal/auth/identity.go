// Package auth verifies bearer tokens issued by the identity provider
// against its published signing keys.
package auth

import "fmt"

// Token-use kinds the provider mints. Anything else is rejected at the
// boundary even when the signature and claims check out.
const (
	TokenUseID     = "id"
	TokenUseAccess = "access"
)

// Identity is the projection of a verified token payload. It is never
// persisted; the subject is the only field the ledger records.
type Identity struct {
	Subject    string   `json:"sub"`
	Email      string   `json:"email,omitempty"`
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Username   string   `json:"username,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	TokenUse   string   `json:"token_use,omitempty"`
	ClientID   string   `json:"client_id,omitempty"`
}

// IssuerURL derives the provider issuer from its region and user pool id.
func IssuerURL(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// JWKSURL is the well-known key set endpoint under an issuer.
func JWKSURL(issuer string) string {
	return issuer + "/.well-known/jwks.json"
}
