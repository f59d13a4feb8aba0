package app

import (
	"fmt"
	"os"
	"strings"

	"chatwire/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	// data path must be present
	if eff.DBPath == "" {
		return fmt.Errorf("data path is empty: set --db flag, CHATWIRE_DB_PATH env, or server.db_path in config")
	}

	// every credential path needs the signing secret
	if strings.TrimSpace(eff.Config.Auth.JWTSecret) == "" {
		return fmt.Errorf("jwt secret is empty: set CHATWIRE_JWT_SECRET env or auth.jwt_secret in config")
	}

	// TLS cert/key presence check if one is set
	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	return nil
}
