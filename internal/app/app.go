package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatwire/internal/retention"
	"chatwire/pkg/config"
	"chatwire/pkg/gateway"
	"chatwire/pkg/logger"
	"chatwire/pkg/migrate"
	"chatwire/pkg/session"
	"chatwire/pkg/state"
	"chatwire/pkg/store"
	"chatwire/pkg/telemetry"
	"chatwire/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	hub   *gateway.Hub
	coord *session.Coordinator

	retentionStop context.CancelFunc
	srv           *http.Server
}

// New initializes everything that does not need a running context: config
// validation, state dirs, the store, the hub and the coordinator. It does
// not start the HTTP server; call Run to start it and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("state dirs under %s: %w", eff.DBPath, err)
	}
	if err := logger.AttachAuditFileSink(state.PathsVar.Audit); err != nil {
		logger.Warn("audit_sink_attach_failed", "error", err.Error())
	}

	// runtime values other packages query while serving
	config.SetRuntime(&config.RuntimeConfig{
		JWTSecret: eff.Config.Auth.JWTSecret,
		DevTokens: eff.Config.Auth.DevTokens,
	})

	chat := eff.Config.Chat
	validation.SetLimits(validation.Limits{
		MaxContentLen:     chat.MaxContentLen,
		MaxSubjectLen:     chat.MaxSubjectLen,
		MaxAttachments:    chat.MaxAttachments,
		MaxAttachmentSize: int64(chat.MaxAttachmentSize),
		AllowedFileTypes:  chat.AllowedFileTypes,
	})

	// telemetry knobs; zero values keep the package defaults
	if sr := eff.Config.Telemetry.SampleRate; sr > 0 {
		telemetry.SetSampleRate(sr)
	}
	if st := eff.Config.Telemetry.SlowThreshold.Duration(); st > 0 {
		telemetry.SetSlowThreshold(st)
	}

	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}
	if _, err := migrate.Run(context.Background(), migrate.SchemaVersion); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	hub := gateway.NewHub()
	coord := session.New(hub, session.Options{
		Queue:      chat.SessionQueue,
		Backlog:    chat.BacklogLimit,
		TypingTTL:  chat.TypingTTL.Duration(),
		Sweep:      chat.SweepInterval.Duration(),
		WorkerIdle: chat.WorkerIdle.Duration(),
	})

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		hub:       hub,
		coord:     coord,
	}, nil
}

// Run starts the retention scheduler and the HTTP server, then blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	stopRetention, err := retention.Start(ctx, a.eff.Config.Retention, a.coord)
	if err != nil {
		return err
	}
	a.retentionStop = stopRetention

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// shutdown drains components in dependency order: stop accepting requests
// and upgrades, stop the schedulers, reject queued commands, close every
// connection, then close the store.
func (a *App) shutdown() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(ctx)
	}
	if a.retentionStop != nil {
		a.retentionStop()
	}
	a.coord.Stop()
	a.hub.Drain()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err.Error())
	}
	logger.Info("server_stopped")
}
