package domain

import (
	"context"
	"errors"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeStale     Outcome = "stale"
)

type Result struct {
	EventID   string  `json:"event_id"`
	EventType string  `json:"event_type"`
	Kind      Kind    `json:"kind"`
	Outcome   Outcome `json:"outcome"`
	UserID    string  `json:"user_id,omitempty"`
}

type Service interface {
	// Process verifies the signed payload and applies it to the subscription store.
	Process(ctx context.Context, payload []byte, signature string) (Result, error)
}

var (
	ErrMissingMetadata = errors.New("missing_metadata")
	ErrOrphanedInvoice = errors.New("orphaned_invoice")
	ErrStoreWrite      = errors.New("store_write_failed")
	ErrEventInFlight   = errors.New("event_in_flight")
)
