package models

import "time"

// Call statuses. Ended, declined, missed and failed are terminal: a call
// reaches at most one of them, exactly once.
const (
	CallStatusCalling   = "calling"
	CallStatusRinging   = "ringing"
	CallStatusConnected = "connected"
	CallStatusEnded     = "ended"
	CallStatusDeclined  = "declined"
	CallStatusMissed    = "missed"
	CallStatusFailed    = "failed"
)

// TerminalCallStatus reports whether status has no outgoing transitions.
func TerminalCallStatus(status string) bool {
	switch status {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed, CallStatusFailed:
		return true
	}
	return false
}

// Call records one voice-call lifecycle between two identities. The ID is
// client-generated (collision-resistant); rows are never deleted, serving
// as the call history.
type Call struct {
	ID        string
	Caller    string
	Callee    string
	Status    string
	StartTime time.Time
	EndTime   *time.Time
	Duration  *int64 // seconds, floor(end-start); set exactly once with EndTime
	CreatedAt time.Time
	UpdatedAt time.Time
}
