package errtracker

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/domain"
)

func TestRecordWrapsAtCapacity(t *testing.T) {
	tr := New(nil, zerolog.Nop())
	for i := 0; i < capacity+10; i++ {
		tr.Record(Record{Message: "x", Severity: SeverityError, Category: CategorySystem})
	}
	require.Len(t, tr.Recent(0), capacity)
}

func TestRecentIsMostRecentFirst(t *testing.T) {
	tr := New(nil, zerolog.Nop())
	tr.Record(Record{Message: "first"})
	tr.Record(Record{Message: "second"})
	recent := tr.Recent(0)
	require.Equal(t, "second", recent[0].Message)
	require.Equal(t, "first", recent[1].Message)
}

func TestRecordErrorMapsCriticalSeverity(t *testing.T) {
	tr := New(nil, zerolog.Nop())
	rec := tr.RecordError("execution.submit", "BTC/USD", domain.NewError(domain.ErrStoreError, "op", "disk full", nil))
	require.Equal(t, SeverityCritical, rec.Severity)
	require.Equal(t, CategoryDatabase, rec.Category)
	require.Len(t, tr.CriticalOnly(), 1)
}

func TestCountsByCategoryAndSeverity(t *testing.T) {
	tr := New(nil, zerolog.Nop())
	tr.Record(Record{Severity: SeverityWarning, Category: CategoryNetwork})
	tr.Record(Record{Severity: SeverityWarning, Category: CategoryNetwork})
	tr.Record(Record{Severity: SeverityCritical, Category: CategoryDatabase})

	require.Equal(t, 2, tr.CountsBySeverity()[SeverityWarning])
	require.Equal(t, 1, tr.CountsBySeverity()[SeverityCritical])
	require.Equal(t, 2, tr.CountsByCategory()[CategoryNetwork])
}
