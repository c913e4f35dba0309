package db

import (
	"context"
	"database/sql"
	"fmt"
	"hastebin/svc/util"
	"time"
)

const (
	CheckpointInterval   = 5 * time.Minute
	truncateLogPageLimit = 1000
)

// StartWALMaintenance checkpoints the write-ahead log every interval and once more when
// ctx is done. It blocks, so run it in its own goroutine.
func StartWALMaintenance(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := performWALCheckpoint(db); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-ctx.Done():
			if err := performWALCheckpoint(db); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}
func performWALCheckpoint(db *sql.DB) error {
	start := time.Now()
	var busyPages, logPages, checkpointed int
	err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busyPages, &logPages, &checkpointed)
	if err != nil {
		util.Warn().Err(err).Msg("PASSIVE checkpoint query failed")
		if _, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
			return fmt.Errorf("PASSIVE checkpoint exec failed: %w", err)
		}
	} else {
		util.Debug().
			Int("busy", busyPages).
			Int("log", logPages).
			Int("checkpointed", checkpointed).
			Msg("PASSIVE checkpoint result")
		if logPages > truncateLogPageLimit || busyPages > 0 {
			util.Info().Msg("escalating to TRUNCATE checkpoint")
			err = db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busyPages, &logPages, &checkpointed)
			if err != nil {
				if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
					return fmt.Errorf("TRUNCATE checkpoint failed: %w", err)
				}
			}
		}
	}
	if err := verifyIntegrity(db); err != nil {
		util.Error().Err(err).Msg("CRITICAL: database integrity check failed after checkpoint")
		return fmt.Errorf("integrity check failed: %w", err)
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}
func verifyIntegrity(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var result string
	err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("quick_check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check returned: %s", result)
	}
	return nil
}
