package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnknownSigningKey = errors.New("unknown signing key")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrTokenExpired      = errors.New("token expired")
	ErrClaimMismatch     = errors.New("token claim mismatch")
)

// tokenClaims is the provider payload shape: registered claims plus the
// Cognito-style attribute claims.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email      string   `json:"email,omitempty"`
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Username   string   `json:"cognito:username,omitempty"`
	Groups     []string `json:"cognito:groups,omitempty"`
	TokenUse   string   `json:"token_use,omitempty"`
	ClientID   string   `json:"client_id,omitempty"`
}

// Verifier resolves a bearer token into the identity it represents. The
// production implementation is Validator; dev stacks substitute the identity
// provider's own session store.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Identity, error)
}

// Validator verifies bearer tokens against the provider's key set and the
// configured issuer and client id.
type Validator struct {
	keys     *KeyCache
	issuer   string
	clientID string
	now      func() time.Time
}

// NewValidator returns a validator bound to one issuer and app client.
func NewValidator(keys *KeyCache, issuer, clientID string) *Validator {
	return &Validator{
		keys:     keys,
		issuer:   issuer,
		clientID: clientID,
		now:      time.Now,
	}
}

// Verify checks the token's signature and claims and projects the payload
// into an Identity.
func (v *Validator) Verify(ctx context.Context, raw string) (*Identity, error) {
	// Header-only parse to pick the signing key; nothing is trusted yet.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(raw, &tokenClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrMalformedToken)
	}

	set, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownSigningKey, kid)
	}
	var pub rsa.PublicKey
	if err := jwk.Export(key, &pub); err != nil {
		return nil, fmt.Errorf("%w: kid %q: %v", ErrUnknownSigningKey, kid, err)
	}

	// Expiry is validated explicitly below so an expired token reports
	// ErrTokenExpired rather than a generic parse failure.
	claims := &tokenClaims{}
	_, err = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return &pub, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: issuer %q", ErrClaimMismatch, claims.Issuer)
	}
	if !v.audienceMatches(claims) {
		return nil, fmt.Errorf("%w: audience", ErrClaimMismatch)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(v.now()) {
		return nil, ErrTokenExpired
	}

	return &Identity{
		Subject:    claims.Subject,
		Email:      claims.Email,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Username:   claims.Username,
		Groups:     claims.Groups,
		TokenUse:   claims.TokenUse,
		ClientID:   claims.ClientID,
	}, nil
}

// VerifyOptional is the no-token-tolerant variant: an absent token yields
// (nil, nil) while a present-but-invalid one still fails.
func (v *Validator) VerifyOptional(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, nil
	}
	return v.Verify(ctx, raw)
}

// audienceMatches accepts either the aud claim (id tokens) or the client_id
// claim (access tokens) equal to the configured app client.
func (v *Validator) audienceMatches(claims *tokenClaims) bool {
	for _, aud := range claims.Audience {
		if aud == v.clientID {
			return true
		}
	}
	return claims.ClientID == v.clientID
}
