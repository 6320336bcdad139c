package whatsapp

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"whatsrelay/internal/errors"
	"whatsrelay/pkg/whatsapp/types"
)

// Event is the classified form of a webhook body: either *MessageEvent or
// *StatusEvent. Anything else is reported by Classify as an error.
type Event interface {
	PhoneNumberID() string
	event()
}

// MessageEvent carries inbound messages and the sender profiles sent with them
type MessageEvent struct {
	Metadata types.Metadata
	Contacts []types.Contact
	Messages []json.RawMessage
}

// StatusEvent carries delivery receipts for previously sent messages
type StatusEvent struct {
	Metadata types.Metadata
	Statuses []json.RawMessage
}

func (e *MessageEvent) PhoneNumberID() string { return e.Metadata.PhoneNumberID }
func (e *StatusEvent) PhoneNumberID() string  { return e.Metadata.PhoneNumberID }

func (*MessageEvent) event() {}
func (*StatusEvent) event()  {}

// Classify decodes a raw webhook body and decides whether it is a message
// event or a status event. Only the first entry and its first change are
// decoded; later entries and unknown fields are ignored. When both messages
// and statuses are present the message event wins. Every failure is a
// VALIDATION_FAILED AppError.
func Classify(raw []byte) (Event, error) {
	var envelope types.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.NewInvalidEnvelopeError("malformed JSON envelope", err)
	}
	if envelope.Object != types.ObjectBusinessAccount {
		return nil, errors.NewInvalidEnvelopeError(fmt.Sprintf("unexpected object %q", envelope.Object), nil)
	}
	if len(envelope.Entry) == 0 {
		return nil, errors.NewInvalidEnvelopeError("envelope has no entries", nil)
	}

	var entry types.Entry
	if err := json.Unmarshal(envelope.Entry[0], &entry); err != nil {
		return nil, errors.NewInvalidEnvelopeError("malformed entry", err)
	}
	if len(entry.Changes) == 0 {
		return nil, errors.NewInvalidEnvelopeError("entry has no changes", nil)
	}

	var change types.Change
	if err := json.Unmarshal(entry.Changes[0], &change); err != nil {
		return nil, errors.NewInvalidEnvelopeError("malformed change", err)
	}
	if isNull(change.Value) {
		return nil, errors.NewInvalidEnvelopeError("change has no value", nil)
	}
	var value types.Value
	if err := json.Unmarshal(change.Value, &value); err != nil {
		return nil, errors.NewInvalidEnvelopeError("malformed change value", err)
	}

	switch {
	case len(value.Messages) > 0:
		return &MessageEvent{
			Metadata: value.Metadata,
			Contacts: decodeContacts(value.Contacts),
			Messages: value.Messages,
		}, nil
	case len(value.Statuses) > 0:
		return &StatusEvent{
			Metadata: value.Metadata,
			Statuses: value.Statuses,
		}, nil
	default:
		return nil, errors.NewInvalidEnvelopeError("value has neither messages nor statuses", nil)
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeContacts keeps every contact that decodes and drops the rest. A
// contacts field that is not a list yields no contacts.
func decodeContacts(raw json.RawMessage) []types.Contact {
	var items []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &items) != nil {
		return []types.Contact{}
	}

	contacts := make([]types.Contact, 0, len(items))
	for _, item := range items {
		var c types.Contact
		if err := json.Unmarshal(item, &c); err != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts
}

// ContactName returns the display name for waID: the matching contact, else
// the first contact with a name, else fallback.
func (e *MessageEvent) ContactName(waID, fallback string) string {
	for _, c := range e.Contacts {
		if c.WaID == waID && c.Profile.Name != "" {
			return c.Profile.Name
		}
	}
	for _, c := range e.Contacts {
		if c.Profile.Name != "" {
			return c.Profile.Name
		}
	}
	return fallback
}

// VerifySubscription implements the GET handshake: it returns the challenge
// when mode is "subscribe" and token equals the configured verify token.
func VerifySubscription(mode, token, challenge, verifyToken string) (string, bool) {
	if verifyToken == "" || mode != types.HubModeSubscribe {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}
