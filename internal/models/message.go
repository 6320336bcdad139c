package models

import (
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Message is the canonical record stored per tenant and returned to the chat UI.
// ID is unique within a tenant table.
type Message struct {
	ID        string         `json:"id"`
	WaID      string         `json:"wa_id"`
	Name      string         `json:"name"`
	Type      MessageType    `json:"type"`
	Body      string         `json:"body"`
	Timestamp time.Time      `json:"timestamp"`
	Direction Direction      `json:"direction"`
	Status    DeliveryStatus `json:"status"`
	Read      bool           `json:"read"`
	ImageURL  *string        `json:"image_url"`
	ImageID   *string        `json:"image_id"`
}

// ChatSummary is one conversation row of the chat list
type ChatSummary struct {
	WaID                 string    `json:"wa_id"`
	Name                 string    `json:"name"`
	LastMessageTimestamp time.Time `json:"last_message_timestamp"`
	LastBody             string    `json:"last_body"`
	UnreadCount          int       `json:"unread_count"`
}

// StatusUpdate is a provider delivery receipt for a previously stored message
type StatusUpdate struct {
	ID     string
	Status DeliveryStatus
	Read   bool
}
