package models

import "time"

// ChannelStatus is the push-channel lifecycle state.
// active -> replaced -> stopped; replaced and stopped are terminal.
type ChannelStatus string

const (
	ChannelActive   ChannelStatus = "active"
	ChannelReplaced ChannelStatus = "replaced"
	ChannelStopped  ChannelStatus = "stopped"
)

// PushChannel is a calendar push subscription. Channels have finite lifetime
// and never auto-renew; the admin scheduler replaces them before expiry.
// At most one row per (tenant, calendar) is active at any instant.
type PushChannel struct {
	TenantID     string        `json:"tenant_id"`
	CalendarID   string        `json:"calendar_id"`
	ChannelID    string        `json:"channel_id"`
	ResourceID   string        `json:"resource_id"`
	ChannelToken string        `json:"channel_token"` // Opaque token echoed back by the provider
	SyncToken    string        `json:"sync_token"`    // Incremental-sync cursor, transferred on replace
	ExpirationMS int64         `json:"expiration_ms"` // Provider expiry, epoch milliseconds
	Status       ChannelStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
