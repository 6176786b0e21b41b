// Package reliability holds the background database-maintenance and
// cold-storage backup jobs that keep the engine's SQLite stores healthy
// between restarts: integrity checks, WAL checkpoints, VACUUM and S3
// backup upload/verification.
package reliability

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/scheduler/base"
	"github.com/rs/zerolog"
)

// offsiteBackup is the subset of S3BackupService's interface
// DailyMaintenanceJob needs, so a nil backup stays a legitimate no-op
// (backup.enabled=false) without DailyMaintenanceJob importing the AWS SDK
// directly.
type offsiteBackup interface {
	CreateAndUpload(ctx context.Context) error
}

// DailyMaintenanceJob runs integrity checks, a WAL checkpoint and a
// disk-space guard across every store database, then an optional offsite
// backup upload. It halts (returns an error) only on conditions that
// threaten data safety; anything else is logged and the job continues.
type DailyMaintenanceJob struct {
	base.JobBase
	databases map[string]*database.DB
	backupDir string
	backup    offsiteBackup
	log       zerolog.Logger
}

// NewDailyMaintenanceJob constructs the daily maintenance job over the
// named store databases (ohlcv, orders, positions, backtests, credential).
// backup may be nil when offsite backup isn't configured (backup.enabled
// false), in which case CreateAndUpload is simply never attempted.
func NewDailyMaintenanceJob(databases map[string]*database.DB, backupDir string, backup *S3BackupService, log zerolog.Logger) *DailyMaintenanceJob {
	j := &DailyMaintenanceJob{
		databases: databases,
		backupDir: backupDir,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
	if backup != nil {
		j.backup = backup
	}
	return j
}

func (j *DailyMaintenanceJob) Name() string { return "daily_maintenance" }

func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("starting daily maintenance")
	start := time.Now()

	for name, db := range j.databases {
		var result string
		if err := db.Conn().QueryRow("PRAGMA integrity_check").Scan(&result); err != nil || result != "ok" {
			j.log.Error().Str("database", name).Str("result", result).Err(err).Msg("CRITICAL: integrity check failed")
			return fmt.Errorf("CRITICAL: integrity check failed for %s: result=%s err=%v", name, result, err)
		}
	}

	for name, db := range j.databases {
		if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if err := j.verifyYesterdaysBackup(); err != nil {
		j.log.Error().Err(err).Msg("backup verification failed")
	}

	if j.backup != nil {
		if err := j.backup.CreateAndUpload(context.Background()); err != nil {
			j.log.Error().Err(err).Msg("offsite backup upload failed")
		}
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("daily maintenance completed")
	return nil
}

func (j *DailyMaintenanceJob) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	dataDir := filepath.Dir(filepath.Dir(j.backupDir))
	if err := syscall.Statfs(dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}
	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	if availableGB < 0.5 {
		return fmt.Errorf("CRITICAL: only %.2f GB free - halting maintenance", availableGB)
	}
	if availableGB < 10.0 {
		j.log.Warn().Float64("available_gb", availableGB).Msg("disk space running low")
	}
	return nil
}

func (j *DailyMaintenanceJob) verifyYesterdaysBackup() error {
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	dailyDir := filepath.Join(j.backupDir, "daily", yesterday)
	if _, err := os.Stat(dailyDir); os.IsNotExist(err) {
		return fmt.Errorf("backup directory not found: %s", dailyDir)
	}
	for name := range j.databases {
		path := filepath.Join(dailyDir, name+".db")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			j.log.Error().Str("database", name).Str("path", path).Msg("backup file missing")
			continue
		}
		if err := checkIntegrity(path); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("backup integrity check failed")
		}
	}
	return nil
}

// WeeklyVacuumJob reclaims space on the append-mostly stores. The order
// ledger-style stores (orders, positions) are skipped the way the teacher
// skipped its append-only ledger database.
type WeeklyVacuumJob struct {
	base.JobBase
	databases map[string]*database.DB
	log       zerolog.Logger
}

func NewWeeklyVacuumJob(databases map[string]*database.DB, log zerolog.Logger) *WeeklyVacuumJob {
	return &WeeklyVacuumJob{databases: databases, log: log.With().Str("job", "weekly_vacuum").Logger()}
}

func (j *WeeklyVacuumJob) Name() string { return "weekly_vacuum" }

func (j *WeeklyVacuumJob) Run() error {
	for name, db := range j.databases {
		if name == "orders" || name == "positions" {
			continue
		}
		if err := vacuum(db, name, j.log); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("VACUUM failed")
		}
	}
	return nil
}

func vacuum(db *database.DB, name string, log zerolog.Logger) error {
	var pageCount, pageSize int
	db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize)
	before := float64(pageCount*pageSize) / 1024 / 1024

	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	after := float64(pageCount*pageSize) / 1024 / 1024
	log.Info().Str("database", name).Float64("before_mb", before).Float64("after_mb", after).Msg("VACUUM completed")
	return nil
}

func checkIntegrity(path string) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer conn.Close()
	var result string
	if err := conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check returned %q", result)
	}
	return nil
}
