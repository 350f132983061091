package outbox

import (
	"encoding/json"
	"time"
)

type EntityType string

const (
	EntityOrder     EntityType = "order"
	EntityOrderItem EntityType = "order_item"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Mutation is one intended write to the backend. Seq orders mutations across
// the whole queue; within one OrderID they are sent strictly by Seq.
type Mutation struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	OrderID       string          `json:"order_id"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	Status        Status          `json:"status"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Due reports whether the mutation may be attempted at now.
func (m *Mutation) Due(now time.Time) bool {
	return m.Status != StatusFailed && !m.NextAttemptAt.After(now)
}

// SyncStatus is a point-in-time view for UI indicators.
type SyncStatus struct {
	Syncing      bool `json:"syncing"`
	Online       bool `json:"online"`
	PendingCount int  `json:"pending_count"`
	FailedCount  int  `json:"failed_count"`

	Sent     uint64 `json:"sent"`
	Retried  uint64 `json:"retried"`
	Rejected uint64 `json:"rejected"`

	LastDrainMillis int64 `json:"last_drain_ms"`
}
