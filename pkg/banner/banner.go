package banner

import (
	"fmt"
	"strings"

	"chatwire/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██╗    ██╗██╗██████╗ ███████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██║    ██║██║██╔══██╗██╔════╝
██║     ███████║███████║   ██║   ██║ █╗ ██║██║██████╔╝█████╗
██║     ██╔══██║██╔══██║   ██║   ██║███╗██║██║██╔══██╗██╔══╝
╚██████╗██║  ██║██║  ██║   ██║   ╚███╔███╔╝██║██║  ██║███████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝    ╚══╝╚══╝ ╚═╝╚═╝  ╚═╝╚══════╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult,
// which provides the resolved listen address, data path and config source.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("Data Path: %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config:    %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/sessions' -H 'Authorization: Bearer <token>' -d '{\"subject\":\"help with my order\"}'")
	fmt.Println("wscat -c 'ws://<host>:<port>/v1/ws?token=<token>'")
	fmt.Println("curl 'http://<host>:<port>/v1/sessions/<id>/messages?limit=50' -H 'Authorization: Bearer <token>'")

	fmt.Println("\n== Production? ================================================")
	hasSecret := false
	devTokens := false
	if eff.Config != nil {
		hasSecret = strings.TrimSpace(eff.Config.Auth.JWTSecret) != ""
		devTokens = eff.Config.Auth.DevTokens
	}
	if hasSecret {
		fmt.Println("- JWT secret: configured")
	} else {
		fmt.Println("- JWT secret: MISSING (set CHATWIRE_JWT_SECRET or auth.jwt_secret)")
	}
	if devTokens {
		fmt.Println("- Dev tokens: ENABLED (disable auth.dev_tokens in production)")
	} else {
		fmt.Println("- Dev tokens: disabled")
	}

	tlsOK := eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if dbPath != "" {
		fmt.Printf("- Data Path: %s\n", dbPath)
	} else {
		fmt.Println("- Data Path: not set (use --db or CHATWIRE_DB_PATH)")
	}

	if eff.Config != nil && eff.Config.Retention.Enabled {
		cron := eff.Config.Retention.Cron
		if cron == "" {
			cron = "*/5 * * * *"
		}
		fmt.Printf("- Idle-session retention: enabled (cron=%s idle_after=%s)\n", cron, eff.Config.Retention.IdleAfter.Duration())
	} else {
		fmt.Println("- Idle-session retention: disabled")
	}

	fmt.Println("\n== Logs: ======================================================")
}
