// Package ledgerexample is a minimal concrete aggregate.Aggregate
// instantiation — a double-entry ledger accepting balanced journal
// postings — used to exercise the engine (dispatcher, event store,
// projection runner, replay coordinator) end to end in tests.
package ledgerexample

import (
	"encoding/json"
	"fmt"

	"libranexus/eventlog"
	"libranexus/ids"
)

const AggregateType = "accounting.ledger"

type AccountKind int

const (
	Asset AccountKind = iota
	Liability
	Equity
	Revenue
	Expense
)

type Account struct {
	Code string      `json:"code"`
	Name string      `json:"name"`
	Kind AccountKind `json:"kind"`
}

// JournalEntryLine is one side of a balanced posting. Amount is in the
// ledger's minor unit (cents); IsDebit distinguishes the two sides.
type JournalEntryLine struct {
	Account Account `json:"account"`
	Amount  int64   `json:"amount"`
	IsDebit bool    `json:"is_debit"`
}

// Ledger is the concrete aggregate. It tracks only what it needs to
// validate further postings: its version and whether it has been created
// yet. Its id is never set — JournalEntryPosted carries no ledger id — so
// ID returns the zero AggregateId.
type Ledger struct {
	id      ids.AggregateId
	version uint64
	created bool
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) ID() ids.AggregateId { return l.id }
func (l *Ledger) Version() uint64     { return l.version }

// --- Commands ---

type Command interface{ TargetAggregateID() ids.AggregateId }

type PostJournalEntry struct {
	LedgerID ids.AggregateId
	Lines    []JournalEntryLine
}

func (c PostJournalEntry) TargetAggregateID() ids.AggregateId { return c.LedgerID }

// --- Events ---

type Event interface {
	eventlog.Event
}

type JournalEntryPosted struct {
	Lines []JournalEntryLine `json:"lines"`
}

func (JournalEntryPosted) EventType() string    { return "accounting.ledger.journal_entry_posted" }
func (JournalEntryPosted) EventVersion() uint32 { return 1 }

// --- Aggregate contract ---

func (l *Ledger) Apply(event Event) {
	switch e := event.(type) {
	case JournalEntryPosted:
		_ = e
		l.created = true
		l.version++
	}
}

func (l *Ledger) Handle(cmd Command) ([]Event, error) {
	switch c := cmd.(type) {
	case PostJournalEntry:
		return l.handlePost(c)
	default:
		return nil, ids.Validation(fmt.Sprintf("ledger: unknown command %T", cmd))
	}
}

func (l *Ledger) handlePost(cmd PostJournalEntry) ([]Event, error) {
	if len(cmd.Lines) == 0 {
		return nil, ids.Validation("journal entry must have at least one line")
	}

	var debitTotal, creditTotal int64
	for _, line := range cmd.Lines {
		if line.Amount <= 0 {
			return nil, ids.Validation("journal entry line amounts must be positive")
		}
		if line.IsDebit {
			debitTotal += line.Amount
		} else {
			creditTotal += line.Amount
		}
	}

	if debitTotal != creditTotal {
		return nil, ids.InvariantViolation("debits must equal credits")
	}

	return []Event{JournalEntryPosted{Lines: cmd.Lines}}, nil
}

// DecodeEvent is the dispatcher.Codec for this aggregate's event type.
func DecodeEvent(eventType string, payload json.RawMessage) (Event, error) {
	switch eventType {
	case "accounting.ledger.journal_entry_posted":
		var e JournalEntryPosted
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("ledgerexample: unknown event type %q", eventType)
	}
}
