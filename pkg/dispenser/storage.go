package dispenser

import "context"

// Tx is the storage view inside one instruction. Implementations guarantee
// that all writes issued through a Tx commit together or not at all, and that
// concurrent instructions are serialized on the singleton state: exactly one
// racing caller observes the pre-state and succeeds, the rest observe the
// post-state and fail their precondition checks deterministically.
type Tx interface {
	// State returns the singleton state, or ErrStateNotFound before
	// initialize.
	State(ctx context.Context) (*State, error)

	// CreateState persists the initial state. Returns ErrStateExists if the
	// singleton slot is already occupied; this is what makes initialize a
	// once-only operation.
	CreateState(ctx context.Context, s *State) error

	// SaveState overwrites the singleton state.
	SaveState(ctx context.Context, s *State) error

	// Distribution returns the record for a contribution ID, or
	// ErrDistributionNotFound.
	Distribution(ctx context.Context, contributionID string) (*Distribution, error)

	// CreateDistribution persists a new record. Returns
	// ErrDistributionExists if the contribution ID is already taken.
	CreateDistribution(ctx context.Context, d *Distribution) error

	// SaveDistribution overwrites an existing record.
	SaveDistribution(ctx context.Context, d *Distribution) error
}

// Store is the durable home of the dispenser state and distribution records.
type Store interface {
	// Update runs fn inside one transaction with the serialization and
	// atomicity guarantees described on Tx. If fn returns an error nothing
	// is written and the error is returned unchanged.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetState reads the singleton state outside a transaction.
	GetState(ctx context.Context) (*State, error)

	// GetDistribution reads one record outside a transaction.
	GetDistribution(ctx context.Context, contributionID string) (*Distribution, error)

	// ListDistributions returns up to limit records ordered by queue time
	// descending, for off-chain bookkeeping mirrors. The records are a
	// read-only view; the store remains authoritative.
	ListDistributions(ctx context.Context, limit int) ([]*Distribution, error)
}
