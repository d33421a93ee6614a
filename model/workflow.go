package model

import "time"

// MoveOperation is a request to relocate one entry between columns together
// with its resolution status.
type MoveOperation struct {
	ID         string     `json:"id"`
	BoardID    string     `json:"board_id"`
	EntryID    string     `json:"entry_id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Capture    Capture    `json:"capture,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Actor      string     `json:"actor,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the operation reached a final status.
func (m MoveOperation) Resolved() bool {
	switch m.Status {
	case MoveStatusCommitted, MoveStatusRolledBack, MoveStatusCancelled, MoveStatusAborted:
		return true
	}
	return false
}

// MoveRecord is one journal line: the state of a move operation at the
// moment its status changed.
type MoveRecord struct {
	ID        string         `json:"id"`
	MoveID    string         `json:"move_id"`
	TenantID  string         `json:"tenant_id"`
	BoardID   string         `json:"board_id"`
	EntryID   string         `json:"entry_id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Status    string         `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notice kinds.
const (
	NoticeSuccess = "success"
	NoticeFailure = "failure"
	NoticeInfo    = "info"
)

// Notice is a transient user-facing message describing the outcome of an
// asynchronous operation.
type Notice struct {
	Kind      string    `json:"kind"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	MoveID    string    `json:"move_id,omitempty"`
	EntryID   string    `json:"entry_id,omitempty"`
	Column    string    `json:"column,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
