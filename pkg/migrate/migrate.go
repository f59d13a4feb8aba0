// Package migrate runs store schema migrations at startup. The stored
// schema version is compared against SchemaVersion; when they differ the
// migration steps run under an in-progress marker so an interrupted run is
// visible (and re-runnable, every step is idempotent) on the next start.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatwire/pkg/logger"
	"chatwire/pkg/store"
)

// SchemaVersion is the store layout this build writes.
const SchemaVersion = "1"

const (
	versionKey    = "system:schema_version"
	inProgressKey = "system:migration_in_progress"
)

// Run checks the stored schema version and runs Sync when it differs from
// newVersion. Returns whether Sync ran.
func Run(ctx context.Context, newVersion string) (bool, error) {
	stored, err := store.GetKey(versionKey)
	if err != nil && !store.IsNotFound(err) {
		return false, fmt.Errorf("read schema version: %w", err)
	}
	if stored == newVersion {
		return false, nil
	}

	if raw, err := store.GetKey(inProgressKey); err == nil {
		logger.Warn("migration_marker_found", "marker", raw,
			"msg", "previous migration did not finish, re-running")
	}

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := store.DBSet([]byte(inProgressKey), mb); err != nil {
		return true, fmt.Errorf("write in-progress marker: %w", err)
	}

	logger.Info("migration_start", "from", stored, "to", newVersion)
	if err := Sync(ctx, stored, newVersion); err != nil {
		logger.Error("migration_failed", "from", stored, "to", newVersion, "error", err.Error())
		return true, err
	}

	if err := store.DBSet([]byte(versionKey), []byte(newVersion)); err != nil {
		return true, fmt.Errorf("persist schema version: %w", err)
	}
	if err := store.DeleteKey(inProgressKey); err != nil {
		logger.Error("migration_marker_delete_failed", "error", err.Error())
	}
	logger.Info("migration_done", "version", newVersion)
	return true, nil
}

// Sync performs the upgrade work between versions. Steps edit in place and
// every step must be idempotent.
func Sync(ctx context.Context, from, to string) error {
	// Reconcile session metadata with the message log: sessions written by
	// builds that updated meta outside the append batch can report a stale
	// LastSeq, which truncates backlog and history reads.
	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		max, err := store.MaxSeqForSession(s.ID)
		if err != nil {
			logger.Error("migration_maxseq_failed", "session", s.ID, "error", err.Error())
			continue
		}
		if max <= s.LastSeq {
			continue
		}
		s.LastSeq = max
		if err := store.SaveSession(&s); err != nil {
			logger.Error("migration_save_session_failed", "session", s.ID, "error", err.Error())
			continue
		}
		logger.Info("migration_lastseq_reconciled", "session", s.ID, "last_seq", max)
	}
	return nil
}
