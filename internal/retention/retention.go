// Package retention closes support sessions that have gone idle. A
// cron-scheduled sweep walks open sessions and pushes a system close
// through the coordinator, so participants get the usual chat_closed
// broadcast and system message rather than a silent disappearance.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"chatwire/pkg/config"
	"chatwire/pkg/logger"
	"chatwire/pkg/models"
	"chatwire/pkg/session"
	"chatwire/pkg/state"
	"chatwire/pkg/store"
)

// defaultCron sweeps every five minutes when no expression is configured.
const defaultCron = "*/5 * * * *"

// Start launches the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, coord *session.Coordinator) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if cfg.IdleAfter.Duration() <= 0 {
		logger.Info("retention_disabled", "reason", "zero idle window")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "idle_after", cfg.IdleAfter.Duration().String(), "dry_run", cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, coord, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time. This yields sharp scheduling and
// supports full cron syntax.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, coord *session.Coordinator, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err.Error())
			// fallback sleep then retry
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ctx, cfg, coord); err != nil {
				logger.Error("retention_run_error", "error", err.Error())
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single idle sweep: every pending or active session
// whose last activity predates the idle window is closed through the
// coordinator with the system actor. Dry-run only reports what would go.
func RunOnce(ctx context.Context, cfg config.RetentionConfig, coord *session.Coordinator) error {
	idle := cfg.IdleAfter.Duration()
	if idle <= 0 {
		return nil
	}
	sessions, err := store.ListSessions()
	if err != nil {
		return fmt.Errorf("retention list sessions: %w", err)
	}

	cutoff := time.Now().Add(-idle).UnixNano()
	var examined, closed int
	for i := range sessions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s := &sessions[i]
		if s.Status == models.StatusClosed {
			continue
		}
		examined++
		if s.LastActiveTS >= cutoff {
			continue
		}
		if cfg.DryRun {
			logger.Info("retention_would_close", "session", s.ID, "status", s.Status)
			continue
		}
		res := coord.Dispatch(session.Command{Kind: session.CmdClose, SessionID: s.ID, Actor: models.System})
		if res.Err != nil {
			logger.Warn("retention_close_failed", "session", s.ID, "error", res.Err.Error())
			continue
		}
		logger.Info("retention_closed_idle_session", "session", s.ID)
		closed++
	}

	logger.Info("retention_run_complete", "examined", examined, "closed", closed, "dry_run", cfg.DryRun)
	writeMarker(closed)
	return nil
}

// writeMarker records the last completed run for operators poking around
// the state dir.
func writeMarker(closed int) {
	if state.PathsVar.Retention == "" {
		return
	}
	line := fmt.Sprintf("%s closed=%d\n", time.Now().UTC().Format(time.RFC3339), closed)
	path := filepath.Join(state.PathsVar.Retention, "last_run")
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		logger.Warn("retention_marker_write_failed", "path", path, "error", err.Error())
	}
}
