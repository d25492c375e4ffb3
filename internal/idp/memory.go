package idp

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mizusense/suimon/internal/auth"
)

type memUser struct {
	sub        string
	email      string
	password   string
	givenName  string
	familyName string
	confirmed  bool
	resetCode  string
}

type memSession struct {
	email    string
	tokenUse string
}

// MemoryProvider is an in-process Provider for dev mode and tests. Tokens it
// issues are opaque handles, not signed tokens; it doubles as the
// auth.Verifier for stacks that run without a key pool.
type MemoryProvider struct {
	mu       sync.Mutex
	users    map[string]*memUser   // keyed by email
	codes    map[string]string     // email -> confirmation code
	refresh  map[string]string     // refresh token -> email
	sessions map[string]memSession // access/id token -> session
}

// NewMemoryProvider returns an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		users:    make(map[string]*memUser),
		codes:    make(map[string]string),
		refresh:  make(map[string]string),
		sessions: make(map[string]memSession),
	}
}

// ConfirmationCode exposes the pending code for an email, for tests and dev
// setups without a mail channel.
func (p *MemoryProvider) ConfirmationCode(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codes[email]
}

func (p *MemoryProvider) issueTokens(email string) *Tokens {
	access := uuid.NewString()
	id := uuid.NewString()
	refresh := uuid.NewString()
	p.sessions[access] = memSession{email: email, tokenUse: auth.TokenUseAccess}
	p.sessions[id] = memSession{email: email, tokenUse: auth.TokenUseID}
	p.refresh[refresh] = email
	return &Tokens{
		AccessToken:  access,
		IDToken:      id,
		RefreshToken: refresh,
		ExpiresIn:    3600,
	}
}

// Verify resolves a token the provider itself issued into an identity,
// satisfying auth.Verifier for dev stacks.
func (p *MemoryProvider) Verify(_ context.Context, raw string) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[raw]
	if !ok {
		return nil, &ProviderError{Code: CodeNotAuthorized, Message: "unknown session token"}
	}
	u, ok := p.users[sess.email]
	if !ok {
		return nil, &ProviderError{Code: CodeNotAuthorized, Message: "unknown session token"}
	}

	username := u.email
	if i := strings.Index(username, "@"); i > 0 {
		username = username[:i]
	}
	return &auth.Identity{
		Subject:    u.sub,
		Email:      u.email,
		GivenName:  u.givenName,
		FamilyName: u.familyName,
		Username:   username,
		TokenUse:   sess.tokenUse,
	}, nil
}

func (p *MemoryProvider) Authenticate(_ context.Context, email, password string) (*Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[email]
	if !ok || u.password != password {
		return nil, &ProviderError{Code: CodeNotAuthorized, Message: "incorrect username or password"}
	}
	if !u.confirmed {
		return nil, &ProviderError{Code: CodeUserNotConfirmed, Message: "user is not confirmed"}
	}
	return p.issueTokens(email), nil
}

func (p *MemoryProvider) Register(_ context.Context, email, password, givenName, familyName string) (*Registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.users[email]; exists {
		return nil, &ProviderError{Code: CodeUsernameExists, Message: "an account with the given email already exists"}
	}
	if len(password) < 8 {
		return nil, &ProviderError{Code: CodeInvalidPassword, Message: "password did not conform with policy"}
	}

	u := &memUser{
		sub:        uuid.NewString(),
		email:      email,
		password:   password,
		givenName:  givenName,
		familyName: familyName,
	}
	p.users[email] = u
	p.codes[email] = uuid.NewString()[:6]

	return &Registration{UserID: u.sub, Email: email, ConfirmationRequired: true}, nil
}

func (p *MemoryProvider) ConfirmRegistration(_ context.Context, email, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[email]
	if !ok {
		return &ProviderError{Code: CodeUserNotFound, Message: "user not found"}
	}
	want, pending := p.codes[email]
	if !pending {
		return &ProviderError{Code: CodeExpiredCode, Message: "no pending confirmation"}
	}
	if code != want {
		return &ProviderError{Code: CodeCodeMismatch, Message: "invalid verification code"}
	}
	u.confirmed = true
	delete(p.codes, email)
	return nil
}

func (p *MemoryProvider) Refresh(_ context.Context, refreshToken string) (*Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email, ok := p.refresh[refreshToken]
	if !ok {
		return nil, &ProviderError{Code: CodeNotAuthorized, Message: "invalid refresh token"}
	}
	t := p.issueTokens(email)
	t.RefreshToken = refreshToken
	return t, nil
}

func (p *MemoryProvider) ChangePassword(_ context.Context, accessToken, oldPassword, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[accessToken]
	if !ok || sess.tokenUse != auth.TokenUseAccess {
		return &ProviderError{Code: CodeNotAuthorized, Message: "invalid access token"}
	}
	u := p.users[sess.email]
	if u.password != oldPassword {
		return &ProviderError{Code: CodeNotAuthorized, Message: "incorrect previous password"}
	}
	u.password = newPassword
	return nil
}

func (p *MemoryProvider) ResetPassword(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.users[email]; !ok {
		return &ProviderError{Code: CodeUserNotFound, Message: "user not found"}
	}
	code := uuid.NewString()[:6]
	p.codes[email] = code
	p.users[email].resetCode = code
	return nil
}

func (p *MemoryProvider) ConfirmResetPassword(_ context.Context, email, code, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[email]
	if !ok {
		return &ProviderError{Code: CodeUserNotFound, Message: "user not found"}
	}
	if u.resetCode == "" {
		return &ProviderError{Code: CodeExpiredCode, Message: "no pending reset"}
	}
	if code != u.resetCode {
		return &ProviderError{Code: CodeCodeMismatch, Message: "invalid verification code"}
	}
	u.password = newPassword
	u.resetCode = ""
	delete(p.codes, email)
	return nil
}
