package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mizusense/suimon/internal/idp"
	"github.com/mizusense/suimon/internal/logx"
	"github.com/mizusense/suimon/internal/server/db"
)

const refreshCookieMaxAge = 30 * 24 * 60 * 60

// setTokenCookies mirrors the token bundle into HttpOnly cookies so browser
// clients never touch the tokens from script.
func setTokenCookies(c *gin.Context, t *idp.Tokens) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie("access_token", t.AccessToken, t.ExpiresIn, "/", "", true, true)
	c.SetCookie("id_token", t.IDToken, t.ExpiresIn, "/", "", true, true)
	c.SetCookie("refresh_token", t.RefreshToken, refreshCookieMaxAge, "/", "", true, true)
}

func clearTokenCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	for _, name := range []string{"access_token", "id_token", "refresh_token"} {
		c.SetCookie(name, "", -1, "/", "", true, true)
	}
}

// providerStatus maps a provider error code to the HTTP status the original
// surface used for it.
func providerStatus(err error) (int, bool) {
	switch {
	case idp.IsCode(err, idp.CodeNotAuthorized):
		return http.StatusUnauthorized, true
	case idp.IsCode(err, idp.CodeUserNotConfirmed),
		idp.IsCode(err, idp.CodeUsernameExists),
		idp.IsCode(err, idp.CodeInvalidPassword),
		idp.IsCode(err, idp.CodeCodeMismatch),
		idp.IsCode(err, idp.CodeExpiredCode):
		return http.StatusBadRequest, true
	case idp.IsCode(err, idp.CodeUserNotFound):
		return http.StatusNotFound, true
	}
	return 0, false
}

func abortProviderError(c *gin.Context, op string, err error) {
	if status, ok := providerStatus(err); ok {
		msg := "request rejected by identity provider"
		var pe *idp.ProviderError
		if errors.As(err, &pe) {
			msg = pe.Message
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	logx.Errorf("%s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "identity provider unavailable"})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// HandleLogin handles POST /v1/auth/login.
func HandleLogin(provider idp.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := provider.Authenticate(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			abortProviderError(c, "Login", err)
			return
		}

		setTokenCookies(c, tokens)
		c.JSON(http.StatusOK, tokens)
	}
}

type signupRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	GivenName  string `json:"given_name" binding:"required"`
	FamilyName string `json:"family_name" binding:"required"`
}

// HandleSignup handles POST /v1/auth/signup. The local profile row is
// best-effort: provider registration already succeeded, so a mirror failure
// is logged and the sign-up still reported as created.
func HandleSignup(provider idp.Provider, store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		reg, err := provider.Register(c.Request.Context(), req.Email, req.Password, req.GivenName, req.FamilyName)
		if err != nil {
			abortProviderError(c, "Signup", err)
			return
		}

		username := req.Email
		if i := strings.Index(username, "@"); i > 0 {
			username = username[:i]
		}
		if err := store.UpsertUser(&db.User{
			UserID:    reg.UserID,
			Email:     req.Email,
			FirstName: req.GivenName,
			LastName:  req.FamilyName,
			Username:  username,
			IsActive:  true,
		}); err != nil {
			logx.Warnf("mirror user %s: %v", reg.UserID, err)
		}

		c.JSON(http.StatusCreated, reg)
	}
}

type confirmSignupRequest struct {
	Email            string `json:"email" binding:"required,email"`
	ConfirmationCode string `json:"confirmation_code" binding:"required"`
}

// HandleConfirmSignup handles POST /v1/auth/confirm-signup.
func HandleConfirmSignup(provider idp.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req confirmSignupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := provider.ConfirmRegistration(c.Request.Context(), req.Email, req.ConfirmationCode); err != nil {
			abortProviderError(c, "ConfirmSignup", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh handles POST /v1/auth/refresh. The token comes from the
// body or, for cookie-based clients, the refresh_token cookie.
func HandleRefresh(provider idp.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		_ = c.ShouldBindJSON(&req)
		if req.RefreshToken == "" {
			if v, err := c.Cookie("refresh_token"); err == nil {
				req.RefreshToken = v
			}
		}
		if req.RefreshToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
			return
		}

		tokens, err := provider.Refresh(c.Request.Context(), req.RefreshToken)
		if err != nil {
			abortProviderError(c, "Refresh", err)
			return
		}

		setTokenCookies(c, tokens)
		c.JSON(http.StatusOK, tokens)
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// HandleChangePassword handles POST /v1/auth/change-password. Requires the
// user auth middleware; the raw access token is forwarded to the provider.
func HandleChangePassword(provider idp.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := provider.ChangePassword(c.Request.Context(), bearerFrom(c), req.OldPassword, req.NewPassword); err != nil {
			abortProviderError(c, "ChangePassword", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "password changed"})
	}
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// HandleForgotPassword handles POST /v1/auth/forgot-password.
func HandleForgotPassword(provider idp.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req forgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := provider.ResetPassword(c.Request.Context(), req.Email); err != nil {
			abortProviderError(c, "ForgotPassword", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reset code sent"})
	}
}

type confirmForgotPasswordRequest struct {
	Email            string `json:"email" binding:"required,email"`
	ConfirmationCode string `json:"confirmation_code" binding:"required"`
	NewPassword      string `json:"new_password" binding:"required"`
}

// HandleConfirmForgotPassword handles POST /v1/auth/confirm-forgot-password.
func HandleConfirmForgotPassword(provider idp.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req confirmForgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := provider.ConfirmResetPassword(c.Request.Context(), req.Email, req.ConfirmationCode, req.NewPassword); err != nil {
			abortProviderError(c, "ConfirmForgotPassword", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "password reset"})
	}
}

// HandleMe handles GET /v1/auth/me.
func HandleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := identityFrom(c)
		if ident == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.JSON(http.StatusOK, ident)
	}
}

// HandleLogout handles POST /v1/auth/logout.
func HandleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		clearTokenCookies(c)
		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
	}
}
