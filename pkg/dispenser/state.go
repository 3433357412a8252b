package dispenser

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	// MaxOperators caps the operator set.
	MaxOperators = 10

	// MaxContributionIDLen caps the caller-supplied contribution ID.
	MaxContributionIDLen = 64
)

// Status is the lifecycle state of a distribution record. Queued is the only
// initial state; Distributed and Cancelled are both terminal.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDistributed Status = "distributed"
	StatusCancelled   Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDistributed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDistributed || s == StatusCancelled
}

// CanTransitionTo is the single place transition legality is decided.
// The only legal transitions are Queued -> Distributed and Queued -> Cancelled.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusQueued && next.Terminal()
}

// State is the dispenser singleton: one per deployment, created once by
// initialize, mutated by every subsequent instruction, never deleted.
type State struct {
	// Mint identifies the token this dispenser distributes. Immutable after
	// initialize.
	Mint solana.PublicKey

	// Vault is the token account funds are distributed from, bound at
	// initialize. Distribute verifies the presented vault against it.
	Vault solana.PublicKey

	// Authority is the administrative principal. Exactly one at a time, and
	// always a member of Operators.
	Authority solana.PublicKey

	// PendingAuthority is set between transfer_authority and a matching
	// accept_authority/cancel_transfer, nil otherwise.
	PendingAuthority *solana.PublicKey

	// Operators are the principals allowed to queue, execute, and cancel
	// distributions. Bounded at MaxOperators. Order is preserved for display
	// only; membership is what matters.
	Operators []solana.PublicKey

	// Lifetime counters, every update overflow-checked.
	//
	// TotalQueued is decremented on cancel but NOT on distribute, so after
	// the system has been running it reads "ever queued minus ever
	// cancelled", not "currently pending". This asymmetry is preserved from
	// the deployed accounting; external dashboards read these fields.
	TotalDistributed uint64
	TotalQueued      uint64
	TotalCancelled   uint64
}

// IsOperator reports whether pk is a member of the operator set.
func (s *State) IsOperator(pk solana.PublicKey) bool {
	for _, op := range s.Operators {
		if op.Equals(pk) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := *s
	out.Operators = append([]solana.PublicKey(nil), s.Operators...)
	if s.PendingAuthority != nil {
		pa := *s.PendingAuthority
		out.PendingAuthority = &pa
	}
	return &out
}

// Distribution is one promised transfer, keyed by its caller-supplied
// contribution ID, tracked from queuing through terminal resolution.
type Distribution struct {
	ContributionID string
	Recipient      solana.PublicKey
	Amount         uint64
	Status         Status
	QueuedAt       time.Time
	// DistributedAt is nil until the record transitions to Distributed.
	DistributedAt *time.Time
}

// Clone returns a deep copy of the record.
func (d *Distribution) Clone() *Distribution {
	out := *d
	if d.DistributedAt != nil {
		ts := *d.DistributedAt
		out.DistributedAt = &ts
	}
	return &out
}

// checkedAdd returns a+b or ErrOverflow if the sum wraps.
func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// checkedSub returns a-b or ErrOverflow if b exceeds a.
func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}
