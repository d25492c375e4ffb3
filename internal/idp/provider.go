// Package idp wraps the external identity provider's account operations
// behind a capability interface. The token verification path does not live
// here; see internal/auth.
package idp

import (
	"context"
	"errors"
	"fmt"
)

// Tokens is the bundle returned by a successful authentication or refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Registration is the outcome of a sign-up call.
type Registration struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email"`
	ConfirmationRequired bool   `json:"confirmation_required"`
}

// Provider is the set of account operations the service consumes. The
// provider's wire protocol is not reimplemented here; implementations call
// it as an opaque external service.
type Provider interface {
	Authenticate(ctx context.Context, email, password string) (*Tokens, error)
	Register(ctx context.Context, email, password, givenName, familyName string) (*Registration, error)
	ConfirmRegistration(ctx context.Context, email, code string) error
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error
	ResetPassword(ctx context.Context, email string) error
	ConfirmResetPassword(ctx context.Context, email, code, newPassword string) error
}

// Provider error codes, matching the upstream service's exception names so
// the HTTP client can map responses without translation tables.
const (
	CodeNotAuthorized    = "NotAuthorizedException"
	CodeUserNotConfirmed = "UserNotConfirmedException"
	CodeUsernameExists   = "UsernameExistsException"
	CodeInvalidPassword  = "InvalidPasswordException"
	CodeCodeMismatch     = "CodeMismatchException"
	CodeExpiredCode      = "ExpiredCodeException"
	CodeUserNotFound     = "UserNotFoundException"
)

// ProviderError is a typed failure from the identity provider.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider: %s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a ProviderError with the given code.
func IsCode(err error, code string) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
