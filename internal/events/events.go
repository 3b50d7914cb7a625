package events

import (
	"context"
	"time"
)

// Routing keys on the events exchange.
const (
	CreditsDeducted     = "credits.deducted"
	CreditsRefunded     = "credits.refunded"
	CreditsGranted      = "credits.granted"
	GenerationSubmitted = "generation.submitted"
	GenerationFinalized = "generation.finalized"
)

// Event is a lifecycle notification about credits or a generation job.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	DoodleID  string    `json:"doodleId,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Status    string    `json:"status,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	Amount    int       `json:"amount,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                        { return nil }
