// Package depositfsm implements the DepositStateMachine of spec §4.4:
// given a decoded L1 TopUp event, it resolves the target token, scales
// the amount, and drives the deposit record through its transition
// table to completion.
package depositfsm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	gethlog "github.com/ethereum/go-ethereum/log"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
	"github.com/jupiterxyz/zkbridge/l1chain"
)

// TrackingStore is the subset of store.DepositStore the machine
// depends on, kept as an interface here so tests can substitute an
// in-memory fake without dialing Mongo.
type TrackingStore interface {
	FindByKey(ctx context.Context, txHash string) (*bridgedomain.DepositRecord, error)
	InsertIfAbsent(ctx context.Context, rec *bridgedomain.DepositRecord) error
	UpdateWhere(ctx context.Context, txHash string, expectedState bridgedomain.DepositState, update bridgedomain.DepositUpdate) (bool, error)
}

// TokenLister resolves tokenIndex for an observed l1token address.
type TokenLister interface {
	AllTokens(ctx context.Context) ([]bridgedomain.TokenRecord, error)
}

// NonceGetter hands out the next nonce the L2 RPC will accept.
type NonceGetter interface {
	NextNonce(ctx context.Context) (uint64, error)
}

// L2Client is the subset of l2client.L2Client the machine submits
// deposits and verifies them through.
type L2Client interface {
	Deposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) error
	CheckDeposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) (bool, error)
}

// Logger is the narrow slice of go-ethereum's log.Logger the machine
// needs for its fatal tier. Abstracted so machine_test.go can assert
// on invariant violations without the process actually exiting.
type Logger interface {
	Crit(msg string, ctx ...interface{})
}

type gethCritLogger struct{}

func (gethCritLogger) Crit(msg string, ctx ...interface{}) { gethlog.Crit(msg, ctx...) }

// Machine is the DepositStateMachine of spec §4.4.
type Machine struct {
	store   TrackingStore
	tokens  TokenLister
	nonces  NonceGetter
	l2      L2Client
	divisor uint64
	logger  Logger

	submitMu sync.Mutex

	tokenCacheMu sync.Mutex
	tokenCache   []bridgedomain.TokenRecord
}

// Option customizes a Machine at construction time.
type Option func(*Machine)

// WithLogger overrides the default go-ethereum log.Crit-backed Logger.
func WithLogger(l Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New builds a Machine. divisor is config.Config.AmountDivisor(),
// applied to amountWei to obtain the whole-unit amount (spec §4.4
// step 2).
func New(store TrackingStore, tokens TokenLister, nonces NonceGetter, l2 L2Client, divisor uint64, opts ...Option) *Machine {
	m := &Machine{
		store:   store,
		tokens:  tokens,
		nonces:  nonces,
		l2:      l2,
		divisor: divisor,
		logger:  gethCritLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleTopUp implements l1scan.DepositHandler: it decodes the raw
// log, resolves its token and amount, and dispatches the resulting
// event into the transition table.
func (m *Machine) HandleTopUp(ctx context.Context, lg types.Log) error {
	event, err := l1chain.DecodeTopUp(lg)
	if err != nil {
		return err
	}
	return m.Handle(ctx, event)
}

// Handle runs one decoded TopUp event through the transition table of
// spec §4.4. It is idempotent: redelivering the same event (e.g. via
// the historical-sweep restart convention) always converges on the
// same terminal outcome.
func (m *Machine) Handle(ctx context.Context, event bridgedomain.TopUpEvent) error {
	tokenIndex, found, err := m.resolveTokenIndex(ctx, event.L1Token)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: l1token=%s txHash=%s", ErrUnknownToken, event.L1Token, event.TxHash)
	}

	amount := new(big.Int).Div(new(big.Int).SetBytes(event.AmountWei), new(big.Int).SetUint64(m.divisor)).Uint64()

	if !m.submitMu.TryLock() {
		m.logger.Crit(ErrReentrantSubmission.Error(), "txHash", event.TxHash)
		return ErrReentrantSubmission
	}
	defer m.submitMu.Unlock()

	return m.dispatch(ctx, event, tokenIndex, amount)
}

// dispatch implements the transition table of spec §4.4, called with
// the single-submission lock already held.
func (m *Machine) dispatch(ctx context.Context, event bridgedomain.TopUpEvent, tokenIndex uint32, amount uint64) error {
	rec, err := m.store.FindByKey(ctx, event.TxHash)
	if errors.Is(err, bridgedomain.ErrNotFound) {
		return m.handleNone(ctx, event, tokenIndex, amount)
	}
	if err != nil {
		return err
	}

	switch rec.State {
	case bridgedomain.DepositCompleted:
		return nil
	case bridgedomain.DepositPending:
		return m.submitFromPending(ctx, event, tokenIndex, amount)
	case bridgedomain.DepositInProgress, bridgedomain.DepositFailed:
		if rec.Nonce == nil {
			m.logger.Crit(ErrNonceUnsetPostPending.Error(), "txHash", event.TxHash, "state", rec.State)
			return ErrNonceUnsetPostPending
		}
		return m.verifyThenRetry(ctx, event, tokenIndex, amount, rec)
	default:
		m.logger.Crit(ErrUnknownStateValue.Error(), "txHash", event.TxHash, "state", rec.State)
		return ErrUnknownStateValue
	}
}

// handleNone inserts the first record for a txHash never seen before
// (spec §4.4 "(none)" rows).
func (m *Machine) handleNone(ctx context.Context, event bridgedomain.TopUpEvent, tokenIndex uint32, amount uint64) error {
	if amount < 1 {
		if err := m.store.InsertIfAbsent(ctx, &bridgedomain.DepositRecord{
			TxHash:  event.TxHash,
			State:   bridgedomain.DepositCompleted,
			L1Token: event.L1Token,
			Address: event.Address,
			PID1:    event.PID1,
			PID2:    event.PID2,
			Amount:  amount,
		}); err != nil {
			return err
		}
		return fmt.Errorf("%w: txHash=%s", ErrDust, event.TxHash)
	}

	if err := m.store.InsertIfAbsent(ctx, &bridgedomain.DepositRecord{
		TxHash:  event.TxHash,
		State:   bridgedomain.DepositPending,
		L1Token: event.L1Token,
		Address: event.Address,
		PID1:    event.PID1,
		PID2:    event.PID2,
		Amount:  amount,
	}); err != nil {
		return err
	}
	return m.submitFromPending(ctx, event, tokenIndex, amount)
}

// submitFromPending assigns a nonce, marks in-progress, and submits
// (spec §4.4 "pending" row). Nonce and state=in-progress are made
// durable before the L2 submission call, per spec §5's durability
// ordering.
func (m *Machine) submitFromPending(ctx context.Context, event bridgedomain.TopUpEvent, tokenIndex uint32, amount uint64) error {
	if amount < 1 {
		if err := m.durableUpdate(ctx, event.TxHash, bridgedomain.DepositPending, completedUpdate()); err != nil {
			return err
		}
		return fmt.Errorf("%w: txHash=%s", ErrDust, event.TxHash)
	}

	nonce, err := m.nonces.NextNonce(ctx)
	if err != nil {
		return err
	}

	inProgress := bridgedomain.DepositInProgress
	if err := m.durableUpdate(ctx, event.TxHash, bridgedomain.DepositPending, bridgedomain.DepositUpdate{
		State: &inProgress,
		Nonce: &nonce,
	}); err != nil {
		return err
	}

	return m.submitAndFinalize(ctx, event, tokenIndex, amount, nonce, bridgedomain.DepositInProgress)
}

// verifyThenRetry implements the "verify first on restart" rule of
// spec §4.4: checkDeposit is consulted before any resubmission, so a
// crash between submit and mark can never double-credit.
func (m *Machine) verifyThenRetry(ctx context.Context, event bridgedomain.TopUpEvent, tokenIndex uint32, amount uint64, rec *bridgedomain.DepositRecord) error {
	verified, err := m.l2.CheckDeposit(ctx, *rec.Nonce, event.PID1, event.PID2, tokenIndex, amount)
	if err != nil {
		return err
	}
	if verified {
		return m.durableUpdate(ctx, event.TxHash, rec.State, completedUpdate())
	}

	nonce, err := m.nonces.NextNonce(ctx)
	if err != nil {
		return err
	}
	retryCount := rec.RetryCount + 1
	now := time.Now().UTC()
	inProgress := bridgedomain.DepositInProgress
	if err := m.durableUpdate(ctx, event.TxHash, rec.State, bridgedomain.DepositUpdate{
		State:         &inProgress,
		Nonce:         &nonce,
		RetryCount:    &retryCount,
		LastRetryTime: &now,
	}); err != nil {
		return err
	}

	return m.submitAndFinalize(ctx, event, tokenIndex, amount, nonce, bridgedomain.DepositInProgress)
}

// submitAndFinalize calls L2Client.Deposit and transitions the record
// to completed on success or failed otherwise (spec §4.4: "on success
// -> completed; on failure -> failed"). fromState is whatever state
// the caller just made durable, and is also the expected state for
// the closing conditional update.
func (m *Machine) submitAndFinalize(ctx context.Context, event bridgedomain.TopUpEvent, tokenIndex uint32, amount, nonce uint64, fromState bridgedomain.DepositState) error {
	err := m.l2.Deposit(ctx, nonce, event.PID1, event.PID2, tokenIndex, amount)
	if err != nil {
		failed := bridgedomain.DepositFailed
		if updateErr := m.durableUpdate(ctx, event.TxHash, fromState, bridgedomain.DepositUpdate{State: &failed}); updateErr != nil {
			return updateErr
		}
		return err
	}
	return m.durableUpdate(ctx, event.TxHash, fromState, completedUpdate())
}

// resolveTokenIndex looks up l1token in an in-process cache of the
// contract's token list, refreshing once on a miss so a token added
// after process start still resolves (spec §4.4 expansion note).
func (m *Machine) resolveTokenIndex(ctx context.Context, l1token string) (uint32, bool, error) {
	m.tokenCacheMu.Lock()
	defer m.tokenCacheMu.Unlock()

	if idx, ok := l1chain.ResolveTokenIndex(m.tokenCache, l1token); ok {
		return idx, true, nil
	}

	fresh, err := m.tokens.AllTokens(ctx)
	if err != nil {
		return 0, false, err
	}
	m.tokenCache = fresh

	idx, ok := l1chain.ResolveTokenIndex(m.tokenCache, l1token)
	return idx, ok, nil
}

func completedUpdate() bridgedomain.DepositUpdate {
	completed := bridgedomain.DepositCompleted
	return bridgedomain.DepositUpdate{State: &completed}
}

// durableUpdate applies update and treats a miss as a hard stop: per
// §4.1, updateWhere is the sole primitive protecting against
// concurrent writers and restart-races, and single-writer deployment
// is a deployment assumption, not something this package enforces. A
// lost race means some other writer already moved the record past
// expected, so the caller must not proceed as though this step made
// anything durable.
func (m *Machine) durableUpdate(ctx context.Context, txHash string, expected bridgedomain.DepositState, update bridgedomain.DepositUpdate) error {
	applied, err := m.store.UpdateWhere(ctx, txHash, expected, update)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: txHash=%s expectedState=%s", ErrLostRace, txHash, expected)
	}
	return nil
}
