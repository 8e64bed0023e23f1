package domain

import (
	"strconv"
	"time"
)

// Event types
const (
	EventTypeExpenseRecorded    = "expense.recorded"
	EventTypeSettlementRecorded = "settlement.recorded"
	EventTypeEntryReversed      = "entry.reversed"
)

// Aggregate types
const (
	AggregateTypeLedgerEntry = "ledger_entry"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// EventTypeFor returns the outbox event type emitted when e is appended.
func EventTypeFor(e *LedgerEntry) string {
	switch {
	case e.IsReversal():
		return EventTypeEntryReversed
	case e.Kind == EntryKindSettlement:
		return EventTypeSettlementRecorded
	default:
		return EventTypeExpenseRecorded
	}
}

// EventPayload flattens an entry into the map stored in the outbox.
func EventPayload(e *LedgerEntry) map[string]any {
	payload := map[string]any{
		"entry_id":    e.ID,
		"sequence":    e.Sequence,
		"kind":        string(e.Kind),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
		"amount":      e.Amount(),
	}

	if e.GroupID != "" {
		payload["group_id"] = e.GroupID
	}
	if e.IsReversal() {
		payload["reverses"] = e.Reverses
	}

	switch {
	case e.Expense != nil:
		payload["payer_id"] = e.Expense.PayerID
		splits := make(map[string]any, len(e.Expense.Splits))
		for _, s := range e.Expense.Splits {
			splits[s.UserID] = s.Amount
		}
		payload["splits"] = splits
	case e.Settlement != nil:
		payload["payer_id"] = e.Settlement.PayerID
		payload["payee_id"] = e.Settlement.PayeeID
	}

	return payload
}

// NewEntryEvent builds the outbox event for a freshly appended entry.
func NewEntryEvent(id string, e *LedgerEntry, now time.Time) *OutboxEvent {
	return &OutboxEvent{
		ID:            id,
		AggregateID:   strconv.FormatInt(e.Sequence, 10),
		AggregateType: AggregateTypeLedgerEntry,
		EventType:     EventTypeFor(e),
		Payload:       EventPayload(e),
		CreatedAt:     now,
	}
}
