package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sentinel/internal/domain"
)

// NewClientID derives the idempotency key the execution engine submits to
// the venue as client_id, per spec §4.7: hash(strategy_id, signal_ts,
// symbol, side, nonce). Grounded on the teacher's trade_repository.go,
// which deduplicates by a SQL-unique order identifier; here the identifier
// is content-derived up front instead of assigned by the database, so a
// retried Submit for the same signal always lands on the same row.
func NewClientID(strategyID string, signalTS time.Time, symbol domain.Symbol, side domain.Side, nonce string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s", strategyID, signalTS.UnixNano(), symbol.String(), side, nonce)
	return hex.EncodeToString(h.Sum(nil))
}

// NewNonce generates a fresh per-submission nonce. Separated from
// NewClientID so callers that need true idempotency across process
// restarts can supply their own deterministic nonce (e.g. derived from the
// StrategyInstance's dispatch sequence) instead of a random one.
func NewNonce() string {
	return uuid.NewString()
}
