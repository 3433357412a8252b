// Package audit appends every instruction outcome to a ClickHouse trail.
// The trail is for dashboards and incident reconciliation only; the store's
// distribution records remain authoritative.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one instruction outcome, accepted or rejected.
type Event struct {
	ID             uuid.UUID
	Time           time.Time
	Instruction    string
	Caller         string
	ContributionID string
	Amount         uint64
	Outcome        string
	ErrorCode      string
}

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Recorder receives instruction events. Implementations must be safe for
// concurrent use and must never block an instruction on sink availability.
type Recorder interface {
	Record(ctx context.Context, e Event)
	Close() error
}

// NopRecorder discards all events. Used when no audit sink is configured.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, e Event) {}
func (NopRecorder) Close() error                        { return nil }
