package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The prefix before the first dot is the namespace.
const (
	KindStatusChanged  = "session.status_changed"
	KindReauthRequired = "session.reauth_required"

	KindConnected     = "sync.connected"
	KindDisconnected  = "sync.disconnected"
	KindSyncCompleted = "sync.completed"
	KindMerged        = "sync.merged"
	KindServerError   = "sync.server_error"

	KindOutboxQueued   = "outbox.queued"
	KindOutboxSent     = "outbox.sent"
	KindOutboxDeferred = "outbox.deferred"

	KindFrameIn  = "transport.frame_in"
	KindFrameOut = "transport.frame_out"

	KindNotification = "notify.message"

	// ChatPrefix namespaces state store change events, e.g. "chat.message_added".
	ChatPrefix = "chat."
)

// FramePayload accompanies KindFrameIn and KindFrameOut.
type FramePayload struct {
	Type string `json:"type"`
}

// MergedPayload accompanies KindMerged. Source is "realtime", "sync",
// "history" or "local".
type MergedPayload struct {
	Source string `json:"source"`
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
}

// OutboxPayload accompanies the outbox kinds. Depth is the number of
// entries still queued after the event.
type OutboxPayload struct {
	TempID string `json:"temp_id,omitempty"`
	RoomID string `json:"room_id,omitempty"`
	Depth  int    `json:"depth"`
}
