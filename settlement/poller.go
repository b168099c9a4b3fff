package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
	"github.com/jupiterxyz/zkbridge/retryutil"
)

// ErrLostRace is returned when a conditional UpdateWhere fails to
// apply because the record no longer holds the expected status. §4.1
// names updateWhere the sole primitive guarding against concurrent
// writers and restart-races; a miss here means some other writer has
// already moved the record, so this call must stop rather than carry
// on submitting to L1 using state that was never made durable.
var ErrLostRace = errors.New("settlement: conditional update did not apply, another writer raced this record")

// BundleSource is the L2 RPC surface the poller consumes: the
// "ready-to-settle" bundle query of spec §4.5.
type BundleSource interface {
	ReadyBundles(ctx context.Context) ([]bridgedomain.Bundle, error)
}

// TrackingStore is the subset of store.SettlementStore the poller
// depends on, named as an interface here so tests substitute an
// in-memory fake.
type TrackingStore interface {
	InsertIfAbsent(ctx context.Context, rec *bridgedomain.SettlementRecord) error
	UpdateWhere(ctx context.Context, taskID uint64, expectedStatus bridgedomain.SettleStatus, update bridgedomain.SettlementUpdate) (bool, error)
	PendingInOrder(ctx context.Context) ([]*bridgedomain.SettlementRecord, error)
}

// L1Settler is the narrow slice of l1chain.L1Settler the poller needs.
type L1Settler interface {
	SubmitSettlement(ctx context.Context, p bridgedomain.SettlementPayload) (common.Hash, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Poller is the SettlementPoller of spec §4.5. Its own wake-up cadence
// doubles as the "next round" spec.md §4.5 step 4 defers a reverted
// bundle's retry to.
type Poller struct {
	bundles BundleSource
	store   TrackingStore
	l1      L1Settler

	pollInterval    time.Duration
	bundlesByTaskID map[uint64]bridgedomain.Bundle
}

// New builds a Poller. pollInterval is config.Config's
// SettlementRetryDelaySeconds (spec §9 Open Question, resolved in
// DESIGN.md as an operator-configurable fixed delay, default 10s).
func New(bundles BundleSource, store TrackingStore, l1 L1Settler, pollInterval time.Duration) *Poller {
	return &Poller{bundles: bundles, store: store, l1: l1, pollInterval: pollInterval}
}

// RunOnce executes one poll round: fetch ready bundles, register any
// unseen ones as unsubmitted records, then walk every non-confirmed
// record in ascending taskId order, stopping at the first one that
// isn't confirmed by the end of this round (spec §4.5, §5: "a blocked
// bundle blocks the queue").
func (p *Poller) RunOnce(ctx context.Context) error {
	ready, err := p.bundles.ReadyBundles(ctx)
	if err != nil {
		return err
	}

	p.bundlesByTaskID = make(map[uint64]bridgedomain.Bundle, len(ready))
	for _, b := range ready {
		p.bundlesByTaskID[b.TaskID] = b
		if err := p.store.InsertIfAbsent(ctx, &bridgedomain.SettlementRecord{
			TaskID:        b.TaskID,
			MerkleRoot:    b.MerkleRoot,
			SettleStatus:  bridgedomain.SettleUnsubmitted,
			WithdrawArray: b.WithdrawArray,
		}); err != nil {
			return err
		}
	}

	pending, err := p.store.PendingInOrder(ctx)
	if err != nil {
		return err
	}

	for _, rec := range pending {
		confirmed, err := p.processOne(ctx, rec)
		if err != nil {
			log.Error("settlement: bundle processing failed, blocking queue", "taskId", rec.TaskID, "err", err)
			return err
		}
		if !confirmed {
			log.Debug("settlement: bundle not yet confirmed, blocking queue until next round", "taskId", rec.TaskID)
			return nil
		}
	}
	return nil
}

// RunLoop runs RunOnce on pollInterval until ctx is cancelled.
func (p *Poller) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				log.Error("settlement: poll round failed", "err", err)
			}
		}
	}
}

// processOne advances one record by at most one step and reports
// whether it ended this round confirmed.
func (p *Poller) processOne(ctx context.Context, rec *bridgedomain.SettlementRecord) (bool, error) {
	bundle, ok := p.bundlesByTaskID[rec.TaskID]
	if !ok {
		// Not re-offered by the L2 RPC this round; treat as
		// non-blocking until it reappears.
		return true, nil
	}

	switch rec.SettleStatus {
	case bridgedomain.SettleConfirmed:
		return true, nil
	case bridgedomain.SettleUnsubmitted, bridgedomain.SettleFailed:
		return p.submit(ctx, rec.SettleStatus, bundle)
	case bridgedomain.SettleSubmitted:
		return p.awaitReceipt(ctx, bundle, rec.SettleTxHash)
	default:
		log.Error("settlement: unexpected settleStatus, treating as unsubmitted", "taskId", rec.TaskID, "status", rec.SettleStatus)
		return p.submit(ctx, bridgedomain.SettleUnsubmitted, bundle)
	}
}

// submit reduces the instance array, submits to L1, and makes the
// settleTxHash + submitted state durable before checking for a
// receipt, per spec §5's durability ordering.
func (p *Poller) submit(ctx context.Context, expected bridgedomain.SettleStatus, bundle bridgedomain.Bundle) (bool, error) {
	payload, err := ReducePayload(bundle)
	if err != nil {
		return false, err
	}

	var txHash common.Hash
	err = retryutil.ThreeAttempts(ctx, func() error {
		h, submitErr := p.l1.SubmitSettlement(ctx, payload)
		if submitErr != nil {
			return submitErr
		}
		txHash = h
		return nil
	})
	if err != nil {
		return false, err
	}

	submitted := bridgedomain.SettleSubmitted
	hashHex := txHash.Hex()
	if err := p.durableUpdate(ctx, bundle.TaskID, expected, bridgedomain.SettlementUpdate{
		SettleStatus: &submitted,
		SettleTxHash: &hashHex,
	}); err != nil {
		return false, err
	}

	return p.awaitReceipt(ctx, bundle, hashHex)
}

// awaitReceipt checks once per round whether the settlement
// transaction has landed, transitioning submitted -> confirmed on
// success or submitted -> failed on revert (spec §4.5 step 4). A tx
// still pending is not an error: the bundle stays submitted and
// blocks the queue until a later round finds it mined.
func (p *Poller) awaitReceipt(ctx context.Context, bundle bridgedomain.Bundle, txHash string) (bool, error) {
	hash := common.HexToHash(txHash)

	// A not-yet-mined receipt is an expected outcome, not a transient
	// failure: check once before reaching for the retry policy, so a
	// merely-pending tx doesn't cost this round 4s of backoff sleep.
	receipt, err := p.l1.TransactionReceipt(ctx, hash)
	if errors.Is(err, geth.NotFound) {
		return false, nil
	}
	if err != nil {
		err = retryutil.ThreeAttempts(ctx, func() error {
			r, rerr := p.l1.TransactionReceipt(ctx, hash)
			if rerr != nil {
				return rerr
			}
			receipt = r
			return nil
		})
		if errors.Is(err, geth.NotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		confirmed := bridgedomain.SettleConfirmed
		if err := p.durableUpdate(ctx, bundle.TaskID, bridgedomain.SettleSubmitted, bridgedomain.SettlementUpdate{SettleStatus: &confirmed}); err != nil {
			return false, err
		}
		return true, nil
	}

	failed := bridgedomain.SettleFailed
	if err := p.durableUpdate(ctx, bundle.TaskID, bridgedomain.SettleSubmitted, bridgedomain.SettlementUpdate{SettleStatus: &failed}); err != nil {
		return false, err
	}
	return false, nil
}

// durableUpdate applies update and treats a miss as a hard stop, the
// same conditional-update discipline depositfsm.Machine applies on
// the deposit side.
func (p *Poller) durableUpdate(ctx context.Context, taskID uint64, expected bridgedomain.SettleStatus, update bridgedomain.SettlementUpdate) error {
	applied, err := p.store.UpdateWhere(ctx, taskID, expected, update)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: taskId=%d expectedStatus=%s", ErrLostRace, taskID, expected)
	}
	return nil
}
