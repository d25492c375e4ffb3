package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const targetPrefix = "AWSCognitoIdentityProviderService."

// CognitoProvider talks to a Cognito-style user pool over its JSON protocol.
// All operations here are public app-client calls and need no request
// signing.
type CognitoProvider struct {
	endpoint string
	clientID string
	client   *http.Client
}

// NewCognitoProvider returns a provider for the pool's regional endpoint.
func NewCognitoProvider(region, clientID string) *CognitoProvider {
	return &CognitoProvider{
		endpoint: fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", region),
		clientID: clientID,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

// NewCognitoProviderAt is NewCognitoProvider with an explicit endpoint,
// for dev stacks and tests.
func NewCognitoProviderAt(endpoint, clientID string) *CognitoProvider {
	return &CognitoProvider{
		endpoint: endpoint,
		clientID: clientID,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *CognitoProvider) call(ctx context.Context, target string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", target, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", targetPrefix+target)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", target, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Type    string `json:"__type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Type != "" {
			// Some deployments namespace the type ("com.amazon...#Name").
			code := apiErr.Type
			if i := strings.LastIndex(code, "#"); i >= 0 {
				code = code[i+1:]
			}
			return &ProviderError{Code: code, Message: apiErr.Message}
		}
		return fmt.Errorf("%s: provider returned %d: %s", target, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", target, err)
	}
	return nil
}

type authResult struct {
	AuthenticationResult struct {
		AccessToken  string `json:"AccessToken"`
		IdToken      string `json:"IdToken"`
		RefreshToken string `json:"RefreshToken"`
		ExpiresIn    int    `json:"ExpiresIn"`
	} `json:"AuthenticationResult"`
}

// Authenticate runs the email+password flow and returns the token bundle.
func (p *CognitoProvider) Authenticate(ctx context.Context, email, password string) (*Tokens, error) {
	in := map[string]any{
		"AuthFlow": "USER_PASSWORD_AUTH",
		"ClientId": p.clientID,
		"AuthParameters": map[string]string{
			"USERNAME": email,
			"PASSWORD": password,
		},
	}
	var out authResult
	if err := p.call(ctx, "InitiateAuth", in, &out); err != nil {
		return nil, err
	}
	r := out.AuthenticationResult
	return &Tokens{
		AccessToken:  r.AccessToken,
		IDToken:      r.IdToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
	}, nil
}

// Register signs a new user up with the pool.
func (p *CognitoProvider) Register(ctx context.Context, email, password, givenName, familyName string) (*Registration, error) {
	type attr struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	}
	in := map[string]any{
		"ClientId": p.clientID,
		"Username": email,
		"Password": password,
		"UserAttributes": []attr{
			{Name: "email", Value: email},
			{Name: "given_name", Value: givenName},
			{Name: "family_name", Value: familyName},
		},
	}
	var out struct {
		UserSub       string `json:"UserSub"`
		UserConfirmed bool   `json:"UserConfirmed"`
	}
	if err := p.call(ctx, "SignUp", in, &out); err != nil {
		return nil, err
	}
	return &Registration{
		UserID:               out.UserSub,
		Email:                email,
		ConfirmationRequired: !out.UserConfirmed,
	}, nil
}

// ConfirmRegistration submits the emailed confirmation code.
func (p *CognitoProvider) ConfirmRegistration(ctx context.Context, email, code string) error {
	in := map[string]any{
		"ClientId":         p.clientID,
		"Username":         email,
		"ConfirmationCode": code,
	}
	return p.call(ctx, "ConfirmSignUp", in, nil)
}

// Refresh exchanges a refresh token for fresh access and id tokens. The
// refresh token itself is not rotated by this flow.
func (p *CognitoProvider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	in := map[string]any{
		"AuthFlow": "REFRESH_TOKEN_AUTH",
		"ClientId": p.clientID,
		"AuthParameters": map[string]string{
			"REFRESH_TOKEN": refreshToken,
		},
	}
	var out authResult
	if err := p.call(ctx, "InitiateAuth", in, &out); err != nil {
		return nil, err
	}
	r := out.AuthenticationResult
	return &Tokens{
		AccessToken:  r.AccessToken,
		IDToken:      r.IdToken,
		RefreshToken: refreshToken,
		ExpiresIn:    r.ExpiresIn,
	}, nil
}

// ChangePassword changes the caller's password using their access token.
func (p *CognitoProvider) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	in := map[string]any{
		"AccessToken":      accessToken,
		"PreviousPassword": oldPassword,
		"ProposedPassword": newPassword,
	}
	return p.call(ctx, "ChangePassword", in, nil)
}

// ResetPassword starts the forgot-password flow.
func (p *CognitoProvider) ResetPassword(ctx context.Context, email string) error {
	in := map[string]any{
		"ClientId": p.clientID,
		"Username": email,
	}
	return p.call(ctx, "ForgotPassword", in, nil)
}

// ConfirmResetPassword completes the forgot-password flow.
func (p *CognitoProvider) ConfirmResetPassword(ctx context.Context, email, code, newPassword string) error {
	in := map[string]any{
		"ClientId":         p.clientID,
		"Username":         email,
		"ConfirmationCode": code,
		"Password":         newPassword,
	}
	return p.call(ctx, "ConfirmForgotPassword", in, nil)
}
