package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mizusense/suimon/internal/auth"
	"github.com/mizusense/suimon/internal/idp"
	"github.com/mizusense/suimon/internal/logx"
	"github.com/mizusense/suimon/internal/server"
	"github.com/mizusense/suimon/internal/server/db"
	"github.com/mizusense/suimon/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or SUIMON_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("suimon-server"))
		fmt.Fprintf(os.Stderr, "Suimon server tracks water-level sensor ownership and measurements.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_ADMIN_TOKEN   Admin Bearer token for provisioning APIs (min 16 chars, required)\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_DB_PATH       SQLite database path (default: suimon.db)\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_LISTEN_ADDR   Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_IDP_REGION    Cognito region (default: ap-northeast-1)\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_USER_POOL_ID  Cognito user pool id (required unless SUIMON_DEV_IDP)\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_CLIENT_ID     Cognito app client id (required unless SUIMON_DEV_IDP)\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_ISSUER_URL    Token issuer override, for non-Cognito pools\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_DEV_IDP       Use the in-memory identity provider (default: false)\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_CORS_ORIGINS  Comma-separated allowed CORS origins\n")
		fmt.Fprintf(os.Stderr, "  SUIMON_LOG_LEVEL     Log level for server logs: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("suimon-server"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	var (
		provider idp.Provider
		verifier auth.Verifier
	)
	if cfg.DevIDP {
		logx.Warnf("using in-memory identity provider; accounts do not survive restarts")
		mem := idp.NewMemoryProvider()
		provider = mem
		// Dev tokens are session handles the provider resolves itself,
		// not pool-signed JWTs.
		verifier = mem
	} else {
		provider = idp.NewCognitoProvider(cfg.IDPRegion, cfg.ClientID)
		verifier = auth.NewValidator(auth.NewKeyCache(cfg.JWKSURL()), cfg.IssuerURL, cfg.ClientID)
	}

	r := server.NewRouter(store, verifier, provider, cfg)
	logx.Infof("server config: issuer=%s dev_idp=%v db=%s", cfg.IssuerURL, cfg.DevIDP, cfg.DBPath)

	log.Printf("suimon-server listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
