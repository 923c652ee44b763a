package chain

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter is an in-memory Adapter implementation for tests and demos
// (the storage-network mock is blob.MockAdapter). Tx hashes are assigned sequentially; receipts and
// predicate results are entirely driven by the test via SetReceipt /
// SetPredicate so scenarios like "not_found then confirmed" or "reverted
// with a specific reason" can be scripted deterministically.
type MockAdapter struct {
	mu sync.Mutex

	nonces   map[string]uint64
	receipts map[string]Receipt
	txSeq    int

	predicates map[string]bool
	submitErr  map[string]error

	autoConfirm bool
}

// NewMockAdapter creates an empty MockAdapter. All predicates default to
// false and all receipts default to StatusNotFound until scripted.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		nonces:     make(map[string]uint64),
		receipts:   make(map[string]Receipt),
		predicates: make(map[string]bool),
		submitErr:  make(map[string]error),
	}
}

func (m *MockAdapter) FetchNonce(_ context.Context, signer string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[signer], nil
}

// SetSubmitError scripts SubmitSignedTx to fail for signer on its next call.
func (m *MockAdapter) SetSubmitError(signer string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr[signer] = err
}

func (m *MockAdapter) SubmitSignedTx(_ context.Context, signer string, req TxRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.submitErr[signer]; ok && err != nil {
		delete(m.submitErr, signer)
		return "", err
	}

	m.txSeq++
	hash := fmt.Sprintf("0xmocktx%d", m.txSeq)
	m.nonces[signer] = req.Nonce + 1

	if m.autoConfirm {
		block := uint64(m.txSeq)
		m.receipts[hash] = Receipt{Status: StatusConfirmed, BlockNumber: &block, Confirmations: 1}
	} else {
		m.receipts[hash] = Receipt{Status: StatusPending}
	}
	return hash, nil
}

// SetAutoConfirm toggles whether SubmitSignedTx immediately records a
// confirmed receipt rather than leaving it pending until SetReceipt is
// called. Off by default so reconciliation tests can script pending/
// not_found/reverted sequences explicitly; demos that don't need that
// control can turn it on for a one-pass run.
func (m *MockAdapter) SetAutoConfirm(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoConfirm = on
}

func (m *MockAdapter) FetchTxReceipt(_ context.Context, hash string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[hash]
	if !ok {
		return Receipt{Status: StatusNotFound}, nil
	}
	return r, nil
}

func (m *MockAdapter) WaitForConfirmation(ctx context.Context, hash string, minConfirmations int) (Receipt, error) {
	for {
		r, err := m.FetchTxReceipt(ctx, hash)
		if err != nil {
			return Receipt{}, err
		}
		if r.Status != StatusPending {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		default:
		}
		return r, nil
	}
}

// SetReceipt scripts the receipt FetchTxReceipt/WaitForConfirmation return
// for hash.
func (m *MockAdapter) SetReceipt(hash string, r Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[hash] = r
}

func predicateKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "|"
		}
		key += p
	}
	return key
}

// SetPredicate scripts any of the narrow predicate methods below, keyed by
// the same argument tuple the predicate method receives.
func (m *MockAdapter) SetPredicate(result bool, parts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predicates[predicateKey(parts...)] = result
}

func (m *MockAdapter) predicate(parts ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predicates[predicateKey(parts...)]
}

func (m *MockAdapter) WorkExists(_ context.Context, studio, dataHash string) (bool, error) {
	return m.predicate("primary", studio, dataHash), nil
}

func (m *MockAdapter) IsWorkRegistered(_ context.Context, studio string, epoch int64, dataHash string) (bool, error) {
	return m.predicate("secondary", studio, fmt.Sprint(epoch), dataHash), nil
}

func (m *MockAdapter) CommitExists(_ context.Context, studio, dataHash, validator string) (bool, error) {
	return m.predicate("commit", studio, dataHash, validator), nil
}

func (m *MockAdapter) RevealExists(_ context.Context, studio, dataHash, validator string) (bool, error) {
	return m.predicate("reveal", studio, dataHash, validator), nil
}

func (m *MockAdapter) ScoreExists(_ context.Context, studio, dataHash, worker string) (bool, error) {
	return m.predicate("score", studio, dataHash, worker), nil
}

func (m *MockAdapter) IsValidatorRegistered(_ context.Context, studio string, epoch int64, validator string) (bool, error) {
	return m.predicate("validator_registered", studio, fmt.Sprint(epoch), validator), nil
}

func (m *MockAdapter) IsEpochClosed(_ context.Context, studio string, epoch int64) (bool, error) {
	return m.predicate("epoch_closed", studio, fmt.Sprint(epoch)), nil
}
