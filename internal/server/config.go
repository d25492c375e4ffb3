package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/mizusense/suimon/internal/auth"
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	AdminToken  string
	DBPath      string
	ListenAddr  string
	CORSOrigins []string

	// Identity provider settings. IssuerURL is derived from the region and
	// user pool id unless overridden (dev stacks point it at a local JWKS).
	IDPRegion  string
	UserPoolID string
	ClientID   string
	IssuerURL  string
	DevIDP     bool
}

// JWKSURL is the key set endpoint under the configured issuer.
func (c *Config) JWKSURL() string {
	return auth.JWKSURL(c.IssuerURL)
}

// LoadConfig loads server configuration from environment variables.
func LoadConfig() (*Config, error) {
	adminToken := os.Getenv("SUIMON_ADMIN_TOKEN")
	if adminToken == "" {
		return nil, fmt.Errorf("SUIMON_ADMIN_TOKEN is required")
	}
	if len(adminToken) < 16 {
		return nil, fmt.Errorf("SUIMON_ADMIN_TOKEN must be at least 16 characters")
	}

	dbPath := os.Getenv("SUIMON_DB_PATH")
	if dbPath == "" {
		dbPath = "suimon.db"
	}

	listenAddr := os.Getenv("SUIMON_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	devIDP := false
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("SUIMON_DEV_IDP"))); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			devIDP = true
		case "0", "false", "no", "off":
			devIDP = false
		default:
			return nil, fmt.Errorf("SUIMON_DEV_IDP must be one of true/false/1/0/yes/no/on/off")
		}
	}

	region := os.Getenv("SUIMON_IDP_REGION")
	if region == "" {
		region = "ap-northeast-1"
	}
	userPoolID := os.Getenv("SUIMON_USER_POOL_ID")
	clientID := os.Getenv("SUIMON_CLIENT_ID")
	if !devIDP {
		if userPoolID == "" {
			return nil, fmt.Errorf("SUIMON_USER_POOL_ID is required")
		}
		if clientID == "" {
			return nil, fmt.Errorf("SUIMON_CLIENT_ID is required")
		}
	}

	issuer := os.Getenv("SUIMON_ISSUER_URL")
	if issuer == "" {
		issuer = auth.IssuerURL(region, userPoolID)
	}

	var corsOrigins []string
	if v := os.Getenv("SUIMON_CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		AdminToken:  adminToken,
		DBPath:      dbPath,
		ListenAddr:  listenAddr,
		CORSOrigins: corsOrigins,
		IDPRegion:   region,
		UserPoolID:  userPoolID,
		ClientID:    clientID,
		IssuerURL:   issuer,
		DevIDP:      devIDP,
	}, nil
}
