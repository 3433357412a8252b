package dispenser

import "errors"

// Instruction rejection errors. Every one of these aborts the whole
// instruction with no state change; callers inspect the specific error to
// decide on remediation.
var (
	// ErrUnauthorized is returned when the caller lacks the role an
	// instruction requires (operator, authority, or pending authority).
	ErrUnauthorized = errors.New("unauthorized: caller lacks required role")

	// ErrTooManyOperators is returned when adding an operator would exceed
	// the operator-set cap.
	ErrTooManyOperators = errors.New("too many operators")

	// ErrCannotRemoveAuthority is returned when remove_operator targets the
	// current authority.
	ErrCannotRemoveAuthority = errors.New("cannot remove the authority from the operator set")

	// ErrNoPendingTransfer is returned by accept_authority when no transfer
	// has been proposed.
	ErrNoPendingTransfer = errors.New("no pending authority transfer")

	// ErrInvalidAmount is returned when add_recipient is called with a zero
	// amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidContributionID is returned when a contribution ID is empty
	// or exceeds MaxContributionIDLen bytes.
	ErrInvalidContributionID = errors.New("invalid contribution id")

	// ErrOverflow is returned when a checked counter operation would wrap.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrAlreadyDistributed is returned by distribute when the record is no
	// longer queued (distributed or cancelled).
	ErrAlreadyDistributed = errors.New("distribution is not queued")

	// ErrNotQueued is returned by cancel when the record is no longer queued.
	ErrNotQueued = errors.New("distribution is not in queued status")

	// ErrRecipientMismatch is returned when the presented recipient token
	// account is not owned by the record's recipient.
	ErrRecipientMismatch = errors.New("recipient token account owner does not match distribution recipient")

	// ErrVaultMismatch is returned when the presented vault is not the one
	// bound to the dispenser state.
	ErrVaultMismatch = errors.New("vault does not match dispenser state")

	// ErrMintMismatch is returned when a presented mint or token account
	// mint does not match the dispenser's mint.
	ErrMintMismatch = errors.New("mint does not match dispenser state")
)

// Storage-contract errors. Implementations of Store translate their native
// constraint violations into these.
var (
	// ErrStateExists blocks re-initialization once state has been created.
	ErrStateExists = errors.New("dispenser state already initialized")

	// ErrStateNotFound is returned when state is read before initialize.
	ErrStateNotFound = errors.New("dispenser state not initialized")

	// ErrDistributionExists is returned when a contribution ID is queued a
	// second time. First writer wins; the duplicate observes a clean
	// rejection with no partial state.
	ErrDistributionExists = errors.New("distribution already exists for contribution id")

	// ErrDistributionNotFound is returned when no record exists for a
	// contribution ID.
	ErrDistributionNotFound = errors.New("distribution not found")
)
