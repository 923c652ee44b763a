// Package chain defines the narrow adapter interfaces the engine consumes
// to read and mutate on-chain state. It defines contracts only; concrete
// implementations (an RPC client, a mock for tests) live outside this
// package or in mock.go.
package chain

import (
	"context"
	"math/big"
)

// ReceiptStatus is the four-valued status a transaction receipt can report.
type ReceiptStatus string

const (
	StatusPending   ReceiptStatus = "pending"
	StatusConfirmed ReceiptStatus = "confirmed"
	StatusReverted  ReceiptStatus = "reverted"
	StatusNotFound  ReceiptStatus = "not_found"
)

// Receipt is the stable shape every adapter implementation returns for a
// submitted transaction. RevertReason MUST be preserved verbatim by
// implementations: the reconciler classifies outcomes by substring
// matching against it.
type Receipt struct {
	Status        ReceiptStatus
	BlockNumber   *uint64
	RevertReason  string
	Confirmations int
}

// TxRequest is a chain-agnostic description of a contract call to submit.
type TxRequest struct {
	To    string
	Data  []byte
	Value *big.Int
	Nonce uint64
}

// Adapter exposes the minimal surface the tx queue and reconciler need.
// Implementations MUST surface nonce semantics, return stable receipt
// shapes across repeated calls for the same hash, and preserve
// revert-reason strings.
//
// Contract:
//   - FetchNonce MUST return the next unused nonce for signer, accounting
//     for pending transactions from the same account.
//   - SubmitSignedTx MUST be safe to call once per logical submission; the
//     tx queue, not this adapter, is responsible for serialization.
//   - FetchTxReceipt MUST NOT block; it is a point-in-time peek.
//   - WaitForConfirmation MAY block up to its caller's context deadline.
type Adapter interface {
	FetchNonce(ctx context.Context, signer string) (uint64, error)
	SubmitSignedTx(ctx context.Context, signer string, req TxRequest) (txHash string, err error)
	FetchTxReceipt(ctx context.Context, hash string) (Receipt, error)
	WaitForConfirmation(ctx context.Context, hash string, minConfirmations int) (Receipt, error)
}

// PrimaryLedgerPredicate reports whether work for (studio, dataHash) exists
// on the primary ledger.
type PrimaryLedgerPredicate interface {
	WorkExists(ctx context.Context, studio, dataHash string) (bool, error)
}

// SecondaryRegistrationPredicate reports whether (studio, epoch, dataHash)
// has been registered in the secondary ledger.
type SecondaryRegistrationPredicate interface {
	IsWorkRegistered(ctx context.Context, studio string, epoch int64, dataHash string) (bool, error)
}

// CommitRevealPredicate reports commit/reveal existence for a validator on
// a data hash, for ScoreSubmission's commit-reveal mode.
type CommitRevealPredicate interface {
	CommitExists(ctx context.Context, studio, dataHash, validator string) (bool, error)
	RevealExists(ctx context.Context, studio, dataHash, validator string) (bool, error)
}

// DirectScorePredicate reports direct-score existence for a worker, for
// ScoreSubmission's direct mode.
type DirectScorePredicate interface {
	ScoreExists(ctx context.Context, studio, dataHash, worker string) (bool, error)
}

// ValidatorRegistrationPredicate reports whether a validator has been
// registered in the secondary ledger for an epoch -- ScoreSubmission's
// analog of SecondaryRegistrationPredicate.
type ValidatorRegistrationPredicate interface {
	IsValidatorRegistered(ctx context.Context, studio string, epoch int64, validator string) (bool, error)
}

// EpochClosedPredicate reports whether an epoch has been closed.
type EpochClosedPredicate interface {
	IsEpochClosed(ctx context.Context, studio string, epoch int64) (bool, error)
}
