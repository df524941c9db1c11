package models

import "time"

// Message kinds. A call message is synthesized by the signaling engine when
// a call reaches a terminal state with non-zero duration; it is never sent
// by a client.
const (
	MessageKindText = "text"
	MessageKindCall = "call"
)

type Message struct {
	ID        string
	Sender    string
	Receiver  string
	Content   string
	Read      bool
	Kind      string
	Call      *CallOutcome
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallOutcome is the structured payload of a call-history message.
type CallOutcome struct {
	Status    string // completed, missed or declined
	Duration  int64  // seconds
	StartedAt time.Time
	EndedAt   time.Time
}
