package escrow

import "errors"

var (
	// ErrNilState is returned when an engine is used before its state
	// backend has been configured.
	ErrNilState = errors.New("escrow: state not configured")

	// ErrInsufficientEscrowBalance is returned when the attached native
	// value does not exactly match the required deposit for creation.
	ErrInsufficientEscrowBalance = errors.New("escrow: attached value does not match required deposit")

	// ErrEscrowAlreadyDeployed is returned when the derived address for a
	// commitment is already occupied by an earlier deployment.
	ErrEscrowAlreadyDeployed = errors.New("escrow: commitment address already occupied")

	// ErrEscrowNotFound is returned when no instance exists at an address.
	ErrEscrowNotFound = errors.New("escrow: escrow not found")

	// ErrInvalidCreationTime is returned when a destination escrow's
	// cancellation boundary would exceed the source chain's.
	ErrInvalidCreationTime = errors.New("escrow: destination cancellation exceeds source cancellation")

	// ErrInvalidSecret is returned when a presented secret does not hash to
	// the escrow's hashlock.
	ErrInvalidSecret = errors.New("escrow: secret does not match hashlock")

	// ErrInvalidCaller is returned when the caller is not permitted to
	// perform the requested transition.
	ErrInvalidCaller = errors.New("escrow: caller not authorised")

	// ErrInvalidTime is returned when a transition is attempted outside its
	// timelock window.
	ErrInvalidTime = errors.New("escrow: operation outside permitted window")

	// ErrEscrowNotActive is returned when a terminal-state escrow receives a
	// further transition.
	ErrEscrowNotActive = errors.New("escrow: instance already settled")

	// ErrInvalidProof is returned when a partial-fill merkle proof does not
	// verify against the order's secret tree root.
	ErrInvalidProof = errors.New("escrow: invalid partial-fill proof")

	// ErrInvalidPartialFill is returned when a fill index does not advance
	// the order's consumed-secret cursor.
	ErrInvalidPartialFill = errors.New("escrow: partial fill index already consumed")
)
