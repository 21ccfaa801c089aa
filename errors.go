package aasession

import "errors"

var (
	// ErrStoreCorrupt is returned when the persisted account record exists but
	// cannot be decoded. The caller must not generate a fresh identity in this
	// case: doing so would abandon the on-chain account the record points at.
	ErrStoreCorrupt = errors.New("account record store corrupt")

	// ErrUnsupportedVersion is returned for an entry point version the
	// registry does not know about.
	ErrUnsupportedVersion = errors.New("unsupported entry point version")

	// ErrIncompatibleConfig is returned when an account kind is paired with an
	// entry point version it does not support. Raised before any RPC call.
	ErrIncompatibleConfig = errors.New("account kind incompatible with entry point version")

	// ErrRecordMismatch is returned when the persisted record's smart account
	// address disagrees with the address derived from the active
	// configuration. The record always wins; the run aborts instead of
	// silently operating on an account the configuration cannot reproduce.
	ErrRecordMismatch = errors.New("persisted record does not match active configuration")

	// ErrFeeEstimation is returned when the gas price oracle is unavailable or
	// returns an unusable response. Fees are never defaulted.
	ErrFeeEstimation = errors.New("fee estimation failed")

	// ErrSigning is returned when the owner key cannot produce a signature.
	ErrSigning = errors.New("signing failed")

	// ErrPaymasterRejected is returned when the paymaster declines to sponsor
	// the user operation.
	ErrPaymasterRejected = errors.New("paymaster rejected sponsorship")

	// ErrBundlerRejected is returned when the bundler refuses the user
	// operation with a structured error.
	ErrBundlerRejected = errors.New("bundler rejected user operation")
)
