package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationChannel routes a notification to its audience.
type NotificationChannel string

const (
	ChannelUser  NotificationChannel = "user"
	ChannelAdmin NotificationChannel = "admin"
)

// Notification is the payload handed to the notification queue. Delivery is
// an external concern; the settlement core only composes and enqueues.
type Notification struct {
	ID        uuid.UUID           `json:"id"`
	Channel   NotificationChannel `json:"channel"`
	UserID    uuid.UUID           `json:"user_id,omitempty"`
	Type      string              `json:"type"`
	Subject   string              `json:"subject"`
	Message   string              `json:"message"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Beneficiary is a user-registered payout destination. Ownership is verified
// by the validation service before a withdrawal is created.
type Beneficiary struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	BlockchainKey string
	TokenID       string
	Address       string
	Label         string
}
