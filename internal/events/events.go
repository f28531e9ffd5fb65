package events

import (
	"encoding/json"
	"time"

	"radar-engine/internal/domain"
)

const (
	TypeCandidateStatus = "candidate_status"
	TypeCycleStarted    = "cycle_started"
	TypeCycleCompleted  = "cycle_completed"
	TypeDelivery        = "delivery"

	version = 1
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// Publisher receives encoded events. *Hub implements it.
type Publisher interface {
	Publish(evt string)
}

// Emit encodes and publishes; a nil publisher is a no-op.
func Emit(p Publisher, reqID, typ string, data any) {
	if p == nil {
		return
	}
	p.Publish(MakeEvent(reqID, typ, version, data))
}

type StatusChange struct {
	Fingerprint string        `json:"fingerprint"`
	From        domain.Status `json:"from"`
	To          domain.Status `json:"to"`
	Actor       string        `json:"actor"`
	Reason      string        `json:"reason,omitempty"`
}

// Transition publishes a candidate_status event for the last history entry of c.
func Transition(p Publisher, reqID string, from domain.Status, c domain.Candidate) {
	last := c.LastEntry()
	Emit(p, reqID, TypeCandidateStatus, StatusChange{
		Fingerprint: c.Fingerprint,
		From:        from,
		To:          c.Status,
		Actor:       last.Actor,
		Reason:      last.Reason,
	})
}
