package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/scheduler/base"
)

// Reconciler is the narrow internal/execution.Engine surface this job
// depends on, letting tests substitute a stub instead of wiring a real
// Engine plus live venues.
type Reconciler interface {
	Reconcile(ctx context.Context, venueName, credentialID string) error
}

// account is one (venue, credential) pair the job reconciles every run.
type account struct {
	venueName    string
	credentialID string
}

// JournalReconciliationJob replays each configured account's fills and
// positions from its venue of record against the local order/position
// ledger, per spec §4.11's periodic reconciliation task. Grounded on
// internal/execution.Engine.Reconcile, which already implements the
// fetch-fills-since/replay/fetch-positions-upsert sequence this job only
// needs to trigger on a schedule across every known account.
type JournalReconciliationJob struct {
	base.JobBase
	reconciler Reconciler
	accounts   []account
	shutdown   context.Context
	log        zerolog.Logger
}

// NewJournalReconciliationJob constructs the job over the given
// (venueName, credentialID) pairs.
func NewJournalReconciliationJob(reconciler Reconciler, accounts map[string]string, shutdown context.Context, log zerolog.Logger) *JournalReconciliationJob {
	pairs := make([]account, 0, len(accounts))
	for venueName, credentialID := range accounts {
		pairs = append(pairs, account{venueName: venueName, credentialID: credentialID})
	}
	return &JournalReconciliationJob{
		reconciler: reconciler,
		accounts:   pairs,
		shutdown:   shutdown,
		log:        log.With().Str("job", "journal_reconciliation").Logger(),
	}
}

func (j *JournalReconciliationJob) Name() string { return "journal_reconciliation" }

func (j *JournalReconciliationJob) Run() error {
	ctx := j.shutdown
	if ctx == nil {
		ctx = context.Background()
	}

	for _, a := range j.accounts {
		if ctx.Err() != nil {
			j.log.Warn().Msg("journal reconciliation interrupted by shutdown")
			return nil
		}
		if err := j.reconciler.Reconcile(ctx, a.venueName, a.credentialID); err != nil {
			j.log.Error().Err(err).Str("venue", a.venueName).Str("credential_id", a.credentialID).Msg("reconciliation failed")
			continue
		}
		j.log.Debug().Str("venue", a.venueName).Str("credential_id", a.credentialID).Msg("account reconciled")
	}
	return nil
}
