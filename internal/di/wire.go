// Package di wires every package this engine is built from into one
// running process, the way the teacher's internal/di/services.go
// constructs its container: open every store database, build the
// shared buses, then the risk/execution/runtime layer on top, then the
// background jobs, in dependency order. Generalized from the teacher's
// 8-database portfolio/display/deployment container down to the five
// store databases and trading-domain services this engine actually
// needs.
package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aristath/sentinel/internal/adapter"
	"github.com/aristath/sentinel/internal/adapter/crypto"
	"github.com/aristath/sentinel/internal/adapter/tradernet"
	"github.com/aristath/sentinel/internal/backtest"
	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/errtracker"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/execution"
	"github.com/aristath/sentinel/internal/ingest"
	"github.com/aristath/sentinel/internal/reliability"
	"github.com/aristath/sentinel/internal/risk"
	"github.com/aristath/sentinel/internal/runtime"
	"github.com/aristath/sentinel/internal/scheduler"
	"github.com/aristath/sentinel/internal/simulation"
	"github.com/aristath/sentinel/internal/status"
	"github.com/aristath/sentinel/internal/store"
)

// Container holds every long-lived component the process coordinates.
// cmd/sentinel's serve/backtest/simulate subcommands pull what they need
// out of it rather than constructing components themselves.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	databases map[string]*database.DB

	Ohlcv       store.OhlcvStore
	Orders      store.OrderStore
	Positions   store.PositionStore
	BacktestRes store.BacktestResultStore
	Credentials store.CredentialStore

	EventBus  *events.Bus
	MarketBus *bus.Bus
	Tracker   *errtracker.Tracker

	Venues map[string]adapter.Venue

	RiskGate *risk.Gate
	Stops    *risk.StopSupervisor
	Exec     *execution.Engine
	Runtime  *runtime.Runtime

	Scheduler *scheduler.Scheduler
	Status    *status.Collector

	// venueByCredential resolves a credential ID to the venue name it
	// trades through, backing runtime.VenueResolver.
	venueByCredential map[string]string
	// credentialByVenue is the inverse, keyed by venue name, feeding the
	// journal reconciliation job's per-account iteration.
	credentialByVenue map[string]string
}

// Wire constructs a fully-assembled Container from cfg. The returned
// Container's databases are open and migrated; the scheduler is
// registered but not started (callers start it explicitly once ready to
// accept background work).
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Config:            cfg,
		Log:               log,
		venueByCredential: make(map[string]string),
		credentialByVenue: make(map[string]string),
	}

	if err := c.openDatabases(cfg); err != nil {
		return nil, err
	}
	c.wireStores()

	c.EventBus = events.NewBus()
	c.MarketBus = bus.NewBus(c.EventBus)
	c.Tracker = errtracker.New(c.EventBus, log)
	c.Status = status.NewCollector(time.Now())

	if err := c.wireVenues(cfg); err != nil {
		return nil, err
	}

	riskCfg := risk.Config{
		MaxPositionPct:  cfg.Risk.MaxPositionPct,
		MaxDailyLossPct: cfg.Risk.MaxDailyLossPct,
		ATRPeriod:       14,
		MaxATRRatio:     cfg.Risk.ATRFilterCeiling,
	}
	if riskCfg.MaxATRRatio <= 0 {
		riskCfg.MaxATRRatio = risk.DefaultConfig().MaxATRRatio
	}
	c.RiskGate = risk.New(riskCfg, c.EventBus, log)
	c.Stops = risk.NewStopSupervisor()
	c.Exec = execution.New(c.Venues, c.Orders, c.Positions, c.RiskGate, c.Stops, c.Tracker, c.EventBus, log)

	c.Runtime = runtime.New(c.MarketBus, c.EventBus, c.Exec, c.Tracker, c.Positions, c.venueOf, c.accountOf, log)

	c.wireScheduler(cfg)

	return c, nil
}

// dbSpec is one of the five named store databases spec §6 persists into.
type dbSpec struct {
	name    string
	profile database.DatabaseProfile
}

func (c *Container) openDatabases(cfg *config.Config) error {
	specs := []dbSpec{
		{name: "ohlcv", profile: database.ProfileStandard},
		{name: "orders", profile: database.ProfileLedger},
		{name: "positions", profile: database.ProfileLedger},
		{name: "backtests", profile: database.ProfileCache},
		{name: "credential", profile: database.ProfileLedger},
	}

	c.databases = make(map[string]*database.DB, len(specs))
	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			return domain.NewError(domain.ErrStoreError, "di.openDatabases", fmt.Sprintf("open %s database", spec.name), err)
		}
		if err := db.Migrate(); err != nil {
			return domain.NewError(domain.ErrStoreError, "di.openDatabases", fmt.Sprintf("migrate %s database", spec.name), err)
		}
		c.databases[spec.name] = db
	}
	return nil
}

func (c *Container) wireStores() {
	c.Ohlcv = store.NewSQLiteOhlcvStore(c.databases["ohlcv"])
	c.Orders = store.NewSQLiteOrderStore(c.databases["orders"])
	c.Positions = store.NewSQLitePositionStore(c.databases["positions"])
	c.BacktestRes = store.NewSQLiteBacktestResultStore(c.databases["backtests"])
}

// wireCredentialStore is split out from wireStores since it needs the
// encryption key decoded first and can fail.
func (c *Container) wireCredentialStore(cfg *config.Config) error {
	key, err := decodeEncryptionKey(cfg.Encryption.Key)
	if err != nil {
		return domain.NewError(domain.ErrConfigInvalid, "di.wireCredentialStore", "decode encryption.key", err)
	}
	credStore, err := store.NewSQLiteCredentialStore(c.databases["credential"], key)
	if err != nil {
		return domain.NewError(domain.ErrConfigInvalid, "di.wireCredentialStore", "construct credential store", err)
	}
	c.Credentials = credStore
	return nil
}

// wireVenues builds one adapter.Venue per venue whose key and secret are
// both set in the config blob. The CredentialStore is opened here, but its
// entries are not read when building venues; adapters bake their auth
// material in at NewAdapter, not per-call.
func (c *Container) wireVenues(cfg *config.Config) error {
	if err := c.wireCredentialStore(cfg); err != nil {
		return err
	}

	c.Venues = make(map[string]adapter.Venue)

	if cfg.TradernetAPIKey != "" && cfg.TradernetAPISecret != "" {
		a := tradernet.NewAdapter(cfg.TradernetAPIKey, cfg.TradernetAPISecret, cfg.TradernetWSURL, c.Log)
		c.Venues[a.Name()] = a
		c.venueByCredential["tradernet"] = a.Name()
		c.credentialByVenue[a.Name()] = "tradernet"
	}
	if cfg.CryptoAPIKey != "" && cfg.CryptoAPISecret != "" {
		a := crypto.NewAdapter(cfg.CryptoAPIKey, cfg.CryptoAPISecret, cfg.CryptoBaseURL, cfg.CryptoWSURL, c.Log)
		c.Venues[a.Name()] = a
		c.venueByCredential["crypto"] = a.Name()
		c.credentialByVenue[a.Name()] = "crypto"
	}
	return nil
}

// venueOf implements runtime.VenueResolver over the static
// credential->venue map built at startup.
func (c *Container) venueOf(credentialID string) (string, error) {
	if name, ok := c.venueByCredential[credentialID]; ok {
		return name, nil
	}
	return "", domain.NewError(domain.ErrInvalidRequest, "di.venueOf", fmt.Sprintf("no venue wired for credential %q", credentialID), nil)
}

// accountOf implements runtime.AccountStateFn, assembling a risk.AccountState
// from the position ledger. Equity tracking beyond the position ledger's
// unrealized/realized PnL (e.g. external cash transfers) is out of scope
// per spec's Non-goals. EquityStart and EquityNow are both set to the same
// sum here, so the risk gate's daily-loss check sees zero drawdown and
// never blocks a signal evaluated with this state — recorded as an Open
// Question decision in DESIGN.md.
func (c *Container) accountOf(ctx context.Context, credentialID string) (risk.AccountState, error) {
	positions, err := c.Positions.PositionsForCredential(ctx, credentialID)
	if err != nil {
		return risk.AccountState{}, err
	}

	bySymbol := make(map[domain.Symbol]*domain.Position, len(positions))
	equity := domain.Zero()
	for i := range positions {
		p := &positions[i]
		equity = equity.Add(p.RealizedPnL).Add(p.UnrealizedPnL)
		bySymbol[p.Symbol] = p
	}

	return risk.AccountState{
		CredentialID:  credentialID,
		EquityStart:   equity,
		EquityNow:     equity,
		Positions:     bySymbol,
		RecentCandles: nil,
	}, nil
}

func (c *Container) wireScheduler(cfg *config.Config) {
	c.Scheduler = scheduler.New(c.Log)

	maintenance := reliability.NewDailyMaintenanceJob(c.databases, filepath.Join(cfg.DataDir, "backups"), c.wireBackupService(cfg), c.Log)
	_ = c.Scheduler.AddJob(everySchedule(cfg.Scheduler.DailyMaintenance.Period), maintenance)

	vacuum := reliability.NewWeeklyVacuumJob(c.databases, c.Log)
	_ = c.Scheduler.AddJob(everySchedule(cfg.Scheduler.WeeklyVacuum.Period), vacuum)

	symSync := scheduler.NewSymbolSyncJob(scheduler.SymbolSyncConfig{
		Enabled:   cfg.SymbolSync.Enabled,
		KRX:       cfg.SymbolSync.KRX,
		Binance:   cfg.SymbolSync.Binance,
		Yahoo:     cfg.SymbolSync.Yahoo,
		BatchSize: cfg.Scheduler.SymbolSync.BatchSize,
	}, cfg.DataDir, c.Log)
	_ = c.Scheduler.AddJob(everySchedule(cfg.Scheduler.SymbolSync.Period), symSync)

	fundamentals := scheduler.NewFundamentalsJob(scheduler.FundamentalsConfig{
		Enabled:   cfg.Fundamentals.Enabled,
		BatchSize: cfg.Fundamentals.BatchSize,
	}, c.universeSymbols, nil, c.Scheduler.ShutdownToken(), c.Log)
	_ = c.Scheduler.AddJob(everySchedule(cfg.Scheduler.Fundamentals.Period), fundamentals)

	journal := scheduler.NewJournalReconciliationJob(c.Exec, c.credentialByVenue, c.Scheduler.ShutdownToken(), c.Log)
	_ = c.Scheduler.AddJob(everySchedule(cfg.Scheduler.JournalReconciliation.Period), journal)
}

// wireBackupService builds the offsite backup uploader when backup.enabled
// is set, resolving region/credentials through the default AWS SDK chain
// (env vars, shared config, instance role). Returns nil when disabled, a
// legitimate no-op DailyMaintenanceJob already handles.
func (c *Container) wireBackupService(cfg *config.Config) *reliability.S3BackupService {
	if !cfg.Backup.Enabled {
		return nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Backup.Region)}
	if cfg.Backup.AccessKeyID != "" && cfg.Backup.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Backup.AccessKeyID, cfg.Backup.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		c.Log.Error().Err(err).Msg("backup enabled but AWS config could not be loaded, disabling offsite backup")
		return nil
	}
	client := s3.NewFromConfig(awsCfg)
	return reliability.NewS3BackupService(client, cfg.Backup.Bucket, cfg.DataDir, c.databases, c.Log)
}

// universeSymbols is a placeholder universe source for the fundamentals
// job until a persisted symbol universe store exists (see
// internal/scheduler.SymbolSyncJob's doc comment for why venue-listing
// sync isn't modeled); it returns no symbols, making the fundamentals job
// a pure pacing no-op until a fetcher and a universe source are wired.
func (c *Container) universeSymbols() []domain.Symbol {
	return nil
}

func everySchedule(d time.Duration) string {
	if d <= 0 {
		d = time.Hour
	}
	return "@every " + d.String()
}

// Close releases every open database connection and subscribed venue
// adapter, in reverse dependency order.
func (c *Container) Close() error {
	var firstErr error
	for _, v := range c.Venues {
		if err := v.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, db := range c.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewBacktestEngine constructs a fresh backtest.Engine for one run,
// since its Matcher keeps run-scoped RNG state.
func (c *Container) NewBacktestEngine(cfg backtest.Config) *backtest.Engine {
	return backtest.New(cfg, c.Log)
}

// NewSimulationEngine constructs a fresh simulation.Engine for one paper
// trading session.
func (c *Container) NewSimulationEngine(cfg simulation.Config) *simulation.Engine {
	return simulation.New(c.MarketBus, c.Positions, cfg, c.Log)
}

// StartIngest launches one ingest.Feed per configured venue, forwarding
// its Subscribe stream onto the market bus until ctx is canceled.
func (c *Container) StartIngest(ctx context.Context, symbols []domain.Symbol, channels []adapter.Channel) {
	for _, v := range c.Venues {
		feed := ingest.NewFeed(v, c.MarketBus, symbols, channels, c.Log)
		go feed.Run(ctx)
	}
}
