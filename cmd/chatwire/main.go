package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"chatwire/internal/app"
	"chatwire/pkg/config"
	"chatwire/pkg/shutdown"
)

// build metadata, set via -ldflags "-X main.version=... -X main.commit=..."
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// .env first so ParseConfigEnvs sees anything it defines
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		log.Fatalf("failed to load config file: %v", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		log.Fatalf("failed to resolve config: %v", err)
	}

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		// nothing buffered yet at this point, skip the flush delay
		shutdown.Abort("startup failed", err, eff.DBPath, 0)
	}

	ctx, stop := shutdown.SetupSignalHandler(context.Background())
	defer stop()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited with error", err, eff.DBPath)
	}
}
