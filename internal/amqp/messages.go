package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"billing/internal/core"
)

// InvoiceCreatedMessage announces a persisted invoice. It carries only
// identifiers and a summary: consumers load the invoice from the store.
type InvoiceCreatedMessage struct {
	InvoiceID string    `json:"invoice_id"`
	Number    string    `json:"number"`
	ClientID  string    `json:"client_id"`
	Total     string    `json:"total"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

func NewInvoiceCreatedMessage(inv core.Invoice) *InvoiceCreatedMessage {
	return &InvoiceCreatedMessage{
		InvoiceID: inv.ID,
		Number:    inv.Number,
		ClientID:  inv.ClientID,
		Total:     inv.Totals.Total.String(),
		Currency:  inv.Currency,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *InvoiceCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvoiceCreatedMessageFromJSON decodes a message and rejects one without an
// invoice id.
func InvoiceCreatedMessageFromJSON(data []byte) (*InvoiceCreatedMessage, error) {
	var msg InvoiceCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.InvoiceID == "" {
		return nil, fmt.Errorf("message has no invoice_id")
	}
	return &msg, nil
}
