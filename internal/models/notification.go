package models

import "time"

// Notification channels
const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
	ChannelLark  = "lark"
)

// Notification delivery statuses
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// NotificationLog records one post-commit notification per channel.
type NotificationLog struct {
	ID               int64
	ERPRequisitionID string
	Outcome          string
	Channel          string
	Status           string
	Message          string
	CreatedAt        time.Time
}
