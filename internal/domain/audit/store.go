package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for audit store operations.
var (
	// ErrDateRangeExceeded is returned when the query date range exceeds the maximum allowed.
	ErrDateRangeExceeded = errors.New("date range exceeds maximum of 7 days")
)

// Store persists audit records.
// Interface owned by domain per hexagonal architecture.
// Implementation handles batching and async writes.
type Store interface {
	// Append stores audit records. Must be non-blocking from caller perspective.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit log queries.
type Filter struct {
	// StartTime is the beginning of the time range (required).
	StartTime time.Time
	// EndTime is the end of the time range (required).
	EndTime time.Time
	// EventType filters by event type (optional).
	EventType string
	// ProposalID filters by proposal ID (optional).
	ProposalID string
	// Outcome filters by outcome (optional: "allow" or "deny").
	Outcome string
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
}

// OutcomeStats contains per-event-type outcome counts.
type OutcomeStats struct {
	// Events is the total number of records of this type.
	Events int64
	// Allowed is the number of allow outcomes.
	Allowed int64
	// Denied is the number of deny outcomes.
	Denied int64
}

// Stats contains aggregated audit statistics for a time period.
type Stats struct {
	// TotalEvents is the total number of audit records.
	TotalEvents int64
	// UniqueProposals is the count of distinct proposal IDs.
	UniqueProposals int64
	// ByEventType maps event types to per-type statistics.
	ByEventType map[string]OutcomeStats
	// Denials is the total count of deny outcomes.
	Denials int64
	// Expirations is the count of session.expired events.
	Expirations int64
}

// QueryStore provides read access to audit logs.
// This interface is separate from Store which handles writes.
type QueryStore interface {
	// Query retrieves audit records matching the filter, oldest first.
	// Returns ErrDateRangeExceeded if EndTime - StartTime > 7 days.
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// QueryStats returns aggregated statistics for the given time range.
	QueryStats(ctx context.Context, start, end time.Time) (*Stats, error)
}
