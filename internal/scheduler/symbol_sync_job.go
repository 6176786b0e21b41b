package scheduler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/scheduler/base"
	"github.com/aristath/sentinel/internal/utils"
)

// universeSource pairs a config flag with the static file the job reads a
// comma-separated ticker list from, e.g. "<data-dir>/universe/krx.csv".
type universeSource struct {
	name    string
	enabled bool
	file    string
}

// SymbolSyncConfig mirrors internal/config.SymbolSyncConfig, kept as a
// separate type so this package never imports internal/config (jobs stay
// usable from tests with a literal struct).
type SymbolSyncConfig struct {
	Enabled   bool
	KRX       bool
	Binance   bool
	Yahoo     bool
	BatchSize int
}

// SymbolSyncJob reads static per-market ticker lists dropped under
// <data-dir>/universe and logs per-source and per-batch counts; the
// tickers are not stored or passed to any other component. A
// venue-listing sync (the spec's other source) is not implemented: none
// of adapter.Venue's methods expose a symbol-listing endpoint, and adding
// one would mean extending the capability set beyond what this
// implementation's two adapters support — logged here as a known gap
// rather than faked.
type SymbolSyncJob struct {
	base.JobBase
	cfg     SymbolSyncConfig
	dataDir string
	log     zerolog.Logger
}

// NewSymbolSyncJob constructs the job. dataDir is the process's data
// directory; universe files live under dataDir/universe/<source>.csv.
func NewSymbolSyncJob(cfg SymbolSyncConfig, dataDir string, log zerolog.Logger) *SymbolSyncJob {
	return &SymbolSyncJob{
		cfg:     cfg,
		dataDir: dataDir,
		log:     log.With().Str("job", "symbol_sync").Logger(),
	}
}

func (j *SymbolSyncJob) Name() string { return "symbol_sync" }

func (j *SymbolSyncJob) Run() error {
	if !j.cfg.Enabled {
		j.log.Debug().Msg("symbol sync disabled, skipping")
		return nil
	}

	sources := []universeSource{
		{name: "krx", enabled: j.cfg.KRX, file: filepath.Join(j.dataDir, "universe", "krx.csv")},
		{name: "binance", enabled: j.cfg.Binance, file: filepath.Join(j.dataDir, "universe", "binance.csv")},
		{name: "yahoo", enabled: j.cfg.Yahoo, file: filepath.Join(j.dataDir, "universe", "yahoo.csv")},
	}

	batchSize := j.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	total := 0
	for _, src := range sources {
		if !src.enabled {
			continue
		}
		tickers, err := j.loadTickers(src.file)
		if err != nil {
			j.log.Warn().Err(err).Str("source", src.name).Msg("symbol sync: source unreadable, skipping")
			continue
		}
		for start := 0; start < len(tickers); start += batchSize {
			end := start + batchSize
			if end > len(tickers) {
				end = len(tickers)
			}
			j.log.Debug().Str("source", src.name).Int("batch_start", start).Int("batch_size", end-start).Msg("symbol sync batch")
		}
		total += len(tickers)
		j.log.Info().Str("source", src.name).Int("symbols", len(tickers)).Msg("symbol sync: source refreshed")
	}

	j.log.Info().Int("total_symbols", total).Msg("symbol sync complete")
	return nil
}

func (j *SymbolSyncJob) loadTickers(path string) ([]string, error) {
	done := utils.MeasureDBQuery("symbol_sync_load:"+filepath.Base(path), j.log)
	data, err := os.ReadFile(path)
	if err != nil {
		done(0)
		return nil, fmt.Errorf("read universe file %s: %w", path, err)
	}
	tickers := utils.ParseCSV(string(data))
	done(int64(len(tickers)))
	return tickers, nil
}
