package core

import "time"

const (
	EventCreated EventType = "transaction.created"
	EventUpdated EventType = "transaction.updated"
	EventDeleted EventType = "transaction.deleted"
)

type EventType string

// TransactionEvent describes a committed ledger change.
type TransactionEvent struct {
	Type        EventType
	Transaction Transaction
	At          time.Time
}
