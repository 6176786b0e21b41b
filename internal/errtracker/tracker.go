// Package errtracker implements the bounded error ring described in
// spec §4.10: every component that surfaces a failure records it here
// instead of only logging it, so operators get a queryable recent-error
// window. Critical-severity records are logged at Error level with a
// critical flag; no notification is sent. Grounded on
// the teacher's events.Manager severity/category split (internal/events
// in this repo's own rebuild), with the ring itself new stdlib code —
// no ecosystem ring-buffer library in the retrieved pack fits a
// fixed-capacity, lock-protected struct this small.
package errtracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
)

// Severity ranks how urgently a recorded error needs operator attention.
type Severity string

const (
	SeverityWarning  Severity = "Warning"
	SeverityError    Severity = "Error"
	SeverityCritical Severity = "Critical"
)

// Category groups errors by subsystem for the per-category counters spec
// §4.10 exposes over HTTP.
type Category string

const (
	CategoryDatabase       Category = "Database"
	CategoryExternalAPI    Category = "ExternalApi"
	CategoryDataConversion Category = "DataConversion"
	CategoryAuthentication Category = "Authentication"
	CategoryNetwork        Category = "Network"
	CategoryBusinessLogic  Category = "BusinessLogic"
	CategorySystem         Category = "System"
)

// Record is one entry in the ring.
type Record struct {
	ID       string
	TS       time.Time
	Severity Severity
	Category Category
	Message  string
	Location string // e.g. "internal/execution/engine.go:Submit"
	Entity   string // e.g. a symbol or order ID, if applicable
	Context  map[string]string
	Raw      string // raw venue/error payload, if any
}

const capacity = 1000

// Tracker is a lock-protected, fixed-capacity ring buffer of Records. Once
// full, the oldest Record is overwritten.
type Tracker struct {
	mu      sync.Mutex
	entries []Record
	head    int // index of the oldest entry once the ring has wrapped
	size    int
	events  *events.Bus
	log     zerolog.Logger
}

// New constructs a Tracker. eventBus may be nil; it is stored but nothing
// is published on it. Critical records are logged at zerolog's Error level
// with critical=true.
func New(eventBus *events.Bus, log zerolog.Logger) *Tracker {
	return &Tracker{
		entries: make([]Record, capacity),
		events:  eventBus,
		log:     log.With().Str("component", "errtracker").Logger(),
	}
}

// Record appends rec (stamping ID/TS if unset) to the ring, evicting the
// oldest entry if full, and logs it at the level matching Severity.
func (t *Tracker) Record(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	t.mu.Lock()
	idx := (t.head + t.size) % capacity
	if t.size == capacity {
		idx = t.head
		t.head = (t.head + 1) % capacity
	} else {
		t.size++
	}
	t.entries[idx] = rec
	t.mu.Unlock()

	t.logRecord(rec)
	return rec
}

// RecordError is a convenience for the common case of wrapping an
// *domain.EngineError, mapping its Category onto a tracker Category and
// Severity.
func (t *Tracker) RecordError(location, entity string, err *domain.EngineError) Record {
	return t.Record(Record{
		Severity: severityFor(err.Category),
		Category: categoryFor(err.Category),
		Message:  err.Error(),
		Location: location,
		Entity:   entity,
	})
}

func severityFor(c domain.ErrorCategory) Severity {
	switch c {
	case domain.ErrNumericOverflow, domain.ErrStoreError, domain.ErrConfigInvalid:
		return SeverityCritical
	case domain.ErrRiskBlocked, domain.ErrCircuitOpen:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func categoryFor(c domain.ErrorCategory) Category {
	switch c {
	case domain.ErrStoreError:
		return CategoryDatabase
	case domain.ErrAuth:
		return CategoryAuthentication
	case domain.ErrNetwork, domain.ErrVenueDown, domain.ErrRateLimited:
		return CategoryNetwork
	case domain.ErrNumericOverflow:
		return CategoryDataConversion
	case domain.ErrNotFound, domain.ErrRejected, domain.ErrInvalidRequest, domain.ErrRiskBlocked, domain.ErrCircuitOpen:
		return CategoryBusinessLogic
	default:
		return CategorySystem
	}
}

func (t *Tracker) logRecord(rec Record) {
	evt := t.log.Error()
	if rec.Severity == SeverityCritical {
		evt = t.log.Error().Bool("critical", true)
	} else if rec.Severity == SeverityWarning {
		evt = t.log.Warn()
	}
	evt.Str("category", string(rec.Category)).Str("location", rec.Location).Str("entity", rec.Entity).Msg(rec.Message)
}

// Recent returns up to limit entries, most recent first. limit<=0 returns
// every entry currently held.
func (t *Tracker) Recent(limit int) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, t.size)
	for i := 0; i < t.size; i++ {
		out[i] = t.entries[(t.head+i)%capacity]
	}
	// reverse so callers get most-recent-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// CountsBySeverity returns the number of currently-held entries per severity.
func (t *Tracker) CountsBySeverity() map[Severity]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := map[Severity]int{}
	for i := 0; i < t.size; i++ {
		counts[t.entries[(t.head+i)%capacity].Severity]++
	}
	return counts
}

// CountsByCategory returns the number of currently-held entries per category.
func (t *Tracker) CountsByCategory() map[Category]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := map[Category]int{}
	for i := 0; i < t.size; i++ {
		counts[t.entries[(t.head+i)%capacity].Category]++
	}
	return counts
}

// CriticalOnly filters Recent(0) down to Critical-severity records.
func (t *Tracker) CriticalOnly() []Record {
	all := t.Recent(0)
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Severity == SeverityCritical {
			out = append(out, r)
		}
	}
	return out
}
