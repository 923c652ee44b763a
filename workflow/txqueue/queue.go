// Package txqueue serializes on-chain submissions per signing address.
// Concurrent transactions from the same account race on nonces and produce
// spurious reverts; this package is the single place that enforces
// strict ordering for a given signer, grounded on the locking discipline
// of a public-transaction manager: acquire before nonce fetch, release only
// after confirmation or failure.
package txqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
)

// signerLock tracks one signer's exclusive hold plus the reentrancy hint:
// the workflow id currently holding it, so a retried step in the same
// workflow can observe "I already hold this" and skip re-acquisition.
type signerLock struct {
	mu         sync.Mutex
	heldBy     string // workflow id, "" when free
	lockedSema chan struct{}
}

func newSignerLock() *signerLock {
	return &signerLock{lockedSema: make(chan struct{}, 1)}
}

// Queue is the per-signer transaction queue described in §4.3. One Queue
// instance should be shared by every step executor that submits
// transactions through a given chain.Adapter.
type Queue struct {
	adapter chain.Adapter
	metrics *workflow.Metrics

	mu    sync.Mutex
	locks map[string]*signerLock
}

// New creates a Queue backed by adapter. metrics may be nil.
func New(adapter chain.Adapter, metrics *workflow.Metrics) *Queue {
	return &Queue{adapter: adapter, metrics: metrics, locks: make(map[string]*signerLock)}
}

func (q *Queue) lockFor(signer string) *signerLock {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[signer]
	if !ok {
		l = newSignerLock()
		q.locks[signer] = l
	}
	return l
}

// acquire blocks until the signer lock is free or ctx is done, honoring the
// reentrancy hint: if workflowID already holds the lock, it returns
// immediately without re-acquiring the semaphore.
func (q *Queue) acquire(ctx context.Context, signer, workflowID string) error {
	l := q.lockFor(signer)

	l.mu.Lock()
	if l.heldBy == workflowID && workflowID != "" {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	start := time.Now()
	select {
	case l.lockedSema <- struct{}{}:
	case <-ctx.Done():
		return workflow.ErrSignerBusy
	}
	if q.metrics != nil {
		q.metrics.RecordSignerLockWait(signer, time.Since(start))
	}

	l.mu.Lock()
	l.heldBy = workflowID
	l.mu.Unlock()
	return nil
}

// ReleaseSignerLock releases signer's lock. Idempotent: releasing a lock
// that isn't held is a no-op.
func (q *Queue) ReleaseSignerLock(signer string) {
	l := q.lockFor(signer)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heldBy == "" {
		return
	}
	l.heldBy = ""
	select {
	case <-l.lockedSema:
	default:
	}
}

// IsLocked reports whether signer's lock is currently held.
func (q *Queue) IsLocked(signer string) bool {
	l := q.lockFor(signer)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldBy != ""
}

// SubmitOnly acquires the signer lock (blocking up to ctx's deadline),
// fetches the current nonce, submits via the chain adapter, and returns the
// hash. The lock is NOT released on success -- the caller must release it
// after confirmation via ReleaseSignerLock. If submission fails, the lock is
// released before the error is returned.
func (q *Queue) SubmitOnly(ctx context.Context, workflowID, signer string, req chain.TxRequest) (string, error) {
	if err := q.acquire(ctx, signer, workflowID); err != nil {
		return "", err
	}

	nonce, err := q.adapter.FetchNonce(ctx, signer)
	if err != nil {
		q.ReleaseSignerLock(signer)
		return "", err
	}
	req.Nonce = nonce

	hash, err := q.adapter.SubmitSignedTx(ctx, signer, req)
	if err != nil {
		q.ReleaseSignerLock(signer)
		return "", err
	}
	return hash, nil
}

// WaitForTx delegates to the chain adapter's WaitForConfirmation and returns
// its receipt (per §4.3, waiting until confirmed, reverted, or not_found
// after a deadline is the adapter's job). It does not touch any signer lock.
func (q *Queue) WaitForTx(ctx context.Context, hash string, minConfirmations int) (chain.Receipt, error) {
	return q.adapter.WaitForConfirmation(ctx, hash, minConfirmations)
}

// CheckTxStatus is a non-blocking peek at a receipt, used by reconciliation.
func (q *Queue) CheckTxStatus(ctx context.Context, hash string) (chain.Receipt, error) {
	return q.adapter.FetchTxReceipt(ctx, hash)
}

// SubmitAndWait submits, awaits confirmation, and releases the lock
// regardless of outcome.
func (q *Queue) SubmitAndWait(ctx context.Context, workflowID, signer string, req chain.TxRequest, minConfirmations int) (string, chain.Receipt, error) {
	hash, err := q.SubmitOnly(ctx, workflowID, signer, req)
	if err != nil {
		return "", chain.Receipt{}, err
	}
	defer q.ReleaseSignerLock(signer)

	receipt, err := q.WaitForTx(ctx, hash, minConfirmations)
	if err != nil {
		return hash, receipt, err
	}
	return hash, receipt, nil
}
