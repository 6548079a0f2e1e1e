// Package ledger keeps the evidence ledger: an append-only, hash-chained
// record of message lifecycle events, one independent chain per thread.
package ledger

import (
	"time"

	"github.com/google/uuid"

	derrors "chronoseal/pkg/domain-errors"
)

// EventType enumerates the message lifecycle events the ledger records.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventRead         EventType = "read"
	EventResponded    EventType = "responded"
	EventSigned       EventType = "signed"
	EventAcknowledged EventType = "acknowledged"
)

func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventDelivered, EventRead, EventResponded, EventSigned, EventAcknowledged:
		return true
	}
	return false
}

// EventData is the closed per-event payload. Which fields may be set depends
// on the entry's event type; Validate enforces the pairing so every entry of
// a given type hashes over the same shape.
type EventData struct {
	MessageID string `json:"message_id,omitempty"`
	// Channel identifies the delivery medium of a sent event (app, email, sms).
	Channel string `json:"channel,omitempty"`
	// Receipt carries the provider's delivery receipt identifier.
	Receipt string `json:"receipt,omitempty"`
	// Response carries the recipient's reply for a responded event.
	Response string `json:"response,omitempty"`
	// SignatureRef points at the signature artifact for a signed event.
	SignatureRef string `json:"signature_ref,omitempty"`
	// Method records how an acknowledgement was captured (tap, checkbox, pin).
	Method string `json:"method,omitempty"`
}

// Validate rejects payload fields that do not belong to the event type.
func (d EventData) Validate(eventType EventType) error {
	type rule struct {
		set  bool
		name string
		want EventType
	}
	rules := []rule{
		{d.Channel != "", "channel", EventSent},
		{d.Receipt != "", "receipt", EventDelivered},
		{d.Response != "", "response", EventResponded},
		{d.SignatureRef != "", "signature_ref", EventSigned},
		{d.Method != "", "method", EventAcknowledged},
	}
	for _, r := range rules {
		if r.set && eventType != r.want {
			return derrors.Newf(derrors.CodeValidation, "%s is only valid on %s events", r.name, r.want)
		}
	}
	return nil
}

// Entry is one link of a thread's evidence chain. Immutable once written
// except for the QTSP fields, which the notarization client fills in after a
// successful seal.
type Entry struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	ThreadID    uuid.UUID
	RecipientID string
	EventType   EventType
	// EventTimestamp is the business-level instant of the event, part of the
	// content hash preimage.
	EventTimestamp time.Time
	EventData      EventData
	ContentHash    string
	// PreviousHash is the previous entry's content hash, "" for the first
	// entry of a thread.
	PreviousHash  string
	QTSPTimestamp *time.Time
	QTSPToken     string
	CreatedAt     time.Time
}
