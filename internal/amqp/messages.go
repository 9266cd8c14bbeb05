package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"jizhang/internal/core"
)

// TransactionMessage carries a committed ledger change. It holds the full
// transaction so consumers never read the ledger database.
type TransactionMessage struct {
	Type        core.EventType `json:"type"`
	ID          int64          `json:"id"`
	Kind        string         `json:"kind"`
	AmountCents int64          `json:"amount_cents"`
	Category    string         `json:"category"`
	Note        string         `json:"note,omitempty"`
	OccurredOn  string         `json:"occurred_on"`
	CreatedAt   time.Time      `json:"created_at"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewTransactionMessage builds the wire form of e.
func NewTransactionMessage(e core.TransactionEvent) *TransactionMessage {
	t := e.Transaction
	ts := e.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &TransactionMessage{
		Type:        e.Type,
		ID:          t.ID,
		Kind:        string(t.Kind),
		AmountCents: t.Amount.Cents,
		Category:    t.Category,
		Note:        t.Note,
		OccurredOn:  t.OccurredOn.String(),
		CreatedAt:   t.CreatedAt,
		Timestamp:   ts,
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionMessageFromJSON decodes and checks a message.
func TransactionMessageFromJSON(data []byte) (*TransactionMessage, error) {
	var msg TransactionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case core.EventCreated, core.EventUpdated, core.EventDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.ID <= 0 {
		return nil, fmt.Errorf("invalid transaction id %d", msg.ID)
	}
	return &msg, nil
}

// Event converts the message back into a domain event.
func (m *TransactionMessage) Event() (core.TransactionEvent, error) {
	kind, err := core.ParseKind(m.Kind)
	if err != nil {
		return core.TransactionEvent{}, err
	}
	day, err := core.ParseDate(m.OccurredOn)
	if err != nil {
		return core.TransactionEvent{}, err
	}
	return core.TransactionEvent{
		Type: m.Type,
		Transaction: core.Transaction{
			ID:         m.ID,
			Kind:       kind,
			Amount:     core.Money{Cents: m.AmountCents},
			Category:   m.Category,
			Note:       m.Note,
			OccurredOn: day,
			CreatedAt:  m.CreatedAt,
		},
		At: m.Timestamp,
	}, nil
}
