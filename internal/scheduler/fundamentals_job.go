package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/scheduler/base"
)

// FundamentalsFetcher pulls one symbol's fundamentals from whatever data
// source a deployment wires in. Kept narrow and local to this job rather
// than added to adapter.Venue, since neither of this engine's two venue
// adapters (tradernet, crypto) exposes a fundamentals endpoint — wiring
// one in would mean inventing an API neither adapter's venue actually
// offers. With no fetcher wired, Run returns immediately after a debug
// log; a fetcher returning (nil, nil) is a normal "no data available"
// result, not an error.
type FundamentalsFetcher func(ctx context.Context, symbol domain.Symbol) (map[string]float64, error)

// FundamentalsConfig mirrors internal/config.FundamentalsConfig.
type FundamentalsConfig struct {
	Enabled   bool
	BatchSize int
}

// FundamentalsJob refreshes fundamentals data for the configured universe
// in rate-limited batches, per spec §4.11. Between batches it sleeps a
// fixed one second, a crude but deterministic rate limit in the absence of
// any per-venue rate-limit metadata to drive a smarter one from.
type FundamentalsJob struct {
	base.JobBase
	cfg      FundamentalsConfig
	symbols  func() []domain.Symbol
	fetch    FundamentalsFetcher
	shutdown context.Context
	log      zerolog.Logger
}

// NewFundamentalsJob constructs the job. symbols is called fresh on every
// Run so the universe can grow between runs without restarting the
// process; fetch may be nil, in which case Run logs at debug level and
// returns without touching any symbol. shutdown is the
// scheduler's global token (Scheduler.ShutdownToken); a mid-run
// cancellation stops the batch loop early instead of finishing it.
func NewFundamentalsJob(cfg FundamentalsConfig, symbols func() []domain.Symbol, fetch FundamentalsFetcher, shutdown context.Context, log zerolog.Logger) *FundamentalsJob {
	return &FundamentalsJob{
		cfg:      cfg,
		symbols:  symbols,
		fetch:    fetch,
		shutdown: shutdown,
		log:      log.With().Str("job", "fundamentals").Logger(),
	}
}

func (j *FundamentalsJob) Name() string { return "fundamentals" }

func (j *FundamentalsJob) Run() error {
	if !j.cfg.Enabled {
		j.log.Debug().Msg("fundamentals refresh disabled, skipping")
		return nil
	}
	if j.fetch == nil {
		j.log.Debug().Msg("no fundamentals fetcher wired, skipping")
		return nil
	}

	batchSize := j.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	ctx := j.shutdown
	if ctx == nil {
		ctx = context.Background()
	}
	symbols := j.symbols()
	fetched, failed := 0, 0

batches:
	for start := 0; start < len(symbols); start += batchSize {
		if ctx.Err() != nil {
			j.log.Warn().Msg("fundamentals refresh interrupted by shutdown")
			break batches
		}
		end := start + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		for _, sym := range symbols[start:end] {
			if _, err := j.fetch(ctx, sym); err != nil {
				failed++
				j.log.Warn().Err(err).Str("symbol", sym.String()).Msg("fundamentals pull failed")
				continue
			}
			fetched++
		}
		if end < len(symbols) {
			select {
			case <-ctx.Done():
				break batches
			case <-time.After(time.Second):
			}
		}
	}

	j.log.Info().Int("fetched", fetched).Int("failed", failed).Msg("fundamentals refresh complete")
	return nil
}
