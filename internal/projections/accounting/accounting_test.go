package accounting

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/cursorstore"
	"libranexus/eventlog"
	"libranexus/ids"
	"libranexus/internal/ledgerexample"
	"libranexus/readmodel"
)

func postedEnvelope(tenant ids.TenantId, aggregate ids.AggregateId, seq uint64, lines []ledgerexample.JournalEntryLine) eventlog.EventEnvelope {
	payload, _ := json.Marshal(ledgerexample.JournalEntryPosted{Lines: lines})
	return eventlog.EventEnvelope{
		EventID:        ids.NewEventId(),
		TenantID:       tenant,
		AggregateID:    aggregate,
		AggregateType:  ledgerexample.AggregateType,
		EventType:      "accounting.ledger.journal_entry_posted",
		SequenceNumber: seq,
		Payload:        payload,
	}
}

func TestProjection_UpdatesBalancesFromPostedEntry(t *testing.T) {
	store := readmodel.NewInMemoryTenantStore[string, AccountBalance]()
	proj := NewProjection(store, nil)

	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()
	lines := []ledgerexample.JournalEntryLine{
		{Account: ledgerexample.Account{Code: "1000", Kind: ledgerexample.Asset}, Amount: 100, IsDebit: true},
		{Account: ledgerexample.Account{Code: "2000", Kind: ledgerexample.Liability}, Amount: 100, IsDebit: false},
	}

	require.NoError(t, proj.ApplyEnvelope(context.Background(), postedEnvelope(tenant, aggregate, 1, lines)))

	asset, ok, err := store.Get(context.Background(), tenant, "1000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), asset.Balance)

	liability, ok, err := store.Get(context.Background(), tenant, "2000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(-100), liability.Balance)
}

func TestProjection_RedeliveryIsIdempotent(t *testing.T) {
	store := readmodel.NewInMemoryTenantStore[string, AccountBalance]()
	proj := NewProjection(store, nil)

	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()
	lines := []ledgerexample.JournalEntryLine{
		{Account: ledgerexample.Account{Code: "1000"}, Amount: 50, IsDebit: true},
		{Account: ledgerexample.Account{Code: "2000"}, Amount: 50, IsDebit: false},
	}
	envelope := postedEnvelope(tenant, aggregate, 1, lines)

	require.NoError(t, proj.ApplyEnvelope(context.Background(), envelope))
	require.NoError(t, proj.ApplyEnvelope(context.Background(), envelope)) // redelivered

	balance, _, err := store.Get(context.Background(), tenant, "1000")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance, "redelivery must not double-apply")
}

func TestProjection_SequenceGapDetected(t *testing.T) {
	store := readmodel.NewInMemoryTenantStore[string, AccountBalance]()
	proj := NewProjection(store, nil)

	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()
	lines := []ledgerexample.JournalEntryLine{
		{Account: ledgerexample.Account{Code: "1000"}, Amount: 10, IsDebit: true},
		{Account: ledgerexample.Account{Code: "2000"}, Amount: 10, IsDebit: false},
	}

	require.NoError(t, proj.ApplyEnvelope(context.Background(), postedEnvelope(tenant, aggregate, 1, lines)))
	err := proj.ApplyEnvelope(context.Background(), postedEnvelope(tenant, aggregate, 3, lines))
	require.Error(t, err)
	var projErr *Error
	require.ErrorAs(t, err, &projErr)
	assert.Equal(t, ErrKindNonMonotonicSequence, projErr.Kind)
}

func TestProjection_RebuildFromScratchIsDeterministic(t *testing.T) {
	store := readmodel.NewInMemoryTenantStore[string, AccountBalance]()
	cursors := cursorstore.NewInMemoryCursorStore()
	proj := NewProjection(store, cursors)

	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()
	lines1 := []ledgerexample.JournalEntryLine{
		{Account: ledgerexample.Account{Code: "1000"}, Amount: 10, IsDebit: true},
		{Account: ledgerexample.Account{Code: "2000"}, Amount: 10, IsDebit: false},
	}
	lines2 := []ledgerexample.JournalEntryLine{
		{Account: ledgerexample.Account{Code: "1000"}, Amount: 5, IsDebit: true},
		{Account: ledgerexample.Account{Code: "2000"}, Amount: 5, IsDebit: false},
	}

	envelopes := []eventlog.EventEnvelope{
		postedEnvelope(tenant, aggregate, 2, lines2),
		postedEnvelope(tenant, aggregate, 1, lines1),
	}

	require.NoError(t, proj.RebuildFromScratch(context.Background(), envelopes))

	balance, _, err := store.Get(context.Background(), tenant, "1000")
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance.Balance)
}
