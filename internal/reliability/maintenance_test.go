package reliability_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/reliability"
	sentineltesting "github.com/aristath/sentinel/internal/testing"
)

func TestDailyMaintenanceJob_RunWithoutBackupIsANoop(t *testing.T) {
	db, cleanup := sentineltesting.NewTestDB(t, "ohlcv")
	defer cleanup()

	backupDir := t.TempDir()
	job := reliability.NewDailyMaintenanceJob(map[string]*database.DB{"ohlcv": db}, backupDir, nil, zerolog.Nop())

	if name := job.Name(); name != "daily_maintenance" {
		t.Fatalf("expected job name daily_maintenance, got %q", name)
	}

	// No yesterday's backup directory exists and backup is nil (disabled):
	// Run must still complete, only logging the missing-backup condition
	// rather than failing the whole maintenance pass over it.
	if err := job.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWeeklyVacuumJob_SkipsLedgerDatabases(t *testing.T) {
	ohlcv, cleanupOhlcv := sentineltesting.NewTestDB(t, "ohlcv")
	defer cleanupOhlcv()
	positions, cleanupPositions := sentineltesting.NewTestDB(t, "positions")
	defer cleanupPositions()

	job := reliability.NewWeeklyVacuumJob(map[string]*database.DB{
		"ohlcv":     ohlcv,
		"positions": positions,
	}, zerolog.Nop())

	if err := job.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestNewTestDB_CreatesFileUnderTempDir(t *testing.T) {
	db, cleanup := sentineltesting.NewTestDB(t, "ohlcv")
	defer cleanup()

	if _, err := os.Stat(filepath.Dir(db.Path())); err != nil {
		t.Fatalf("expected database file's directory to exist: %v", err)
	}
}
