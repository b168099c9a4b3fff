package depositfsm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*bridgedomain.DepositRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*bridgedomain.DepositRecord{}}
}

func (s *fakeStore) FindByKey(ctx context.Context, txHash string) (*bridgedomain.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[txHash]
	if !ok {
		return nil, bridgedomain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) InsertIfAbsent(ctx context.Context, rec *bridgedomain.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.TxHash]; ok {
		return nil
	}
	cp := *rec
	s.records[rec.TxHash] = &cp
	return nil
}

func (s *fakeStore) UpdateWhere(ctx context.Context, txHash string, expectedState bridgedomain.DepositState, update bridgedomain.DepositUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[txHash]
	if !ok || rec.State != expectedState {
		return false, nil
	}
	if update.State != nil {
		rec.State = *update.State
	}
	if update.Nonce != nil {
		rec.Nonce = update.Nonce
	}
	if update.RetryCount != nil {
		rec.RetryCount = *update.RetryCount
	}
	if update.LastRetryTime != nil {
		rec.LastRetryTime = update.LastRetryTime
	}
	return true, nil
}

func (s *fakeStore) get(txHash string) *bridgedomain.DepositRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[txHash]
}

type fakeTokens struct {
	tokens []bridgedomain.TokenRecord
}

func (f *fakeTokens) AllTokens(ctx context.Context) ([]bridgedomain.TokenRecord, error) {
	return f.tokens, nil
}

type sequentialNonces struct {
	mu   sync.Mutex
	next uint64
}

func (n *sequentialNonces) NextNonce(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.next
	n.next++
	return v, nil
}

type fakeL2 struct {
	mu            sync.Mutex
	depositErr    error
	depositCalls  int
	checkVerified bool
	checkErr      error
}

func (f *fakeL2) Deposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depositCalls++
	return f.depositErr
}

func (f *fakeL2) CheckDeposit(ctx context.Context, nonce, pid1, pid2 uint64, tokenIndex uint32, amount uint64) (bool, error) {
	return f.checkVerified, f.checkErr
}

// recordingLogger stands in for Logger so fatal-tier tests can observe
// the call instead of the process exiting.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Crit(msg string, ctx ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func newEvent(txHash string, amountWei []byte) bridgedomain.TopUpEvent {
	return bridgedomain.TopUpEvent{
		TxHash:    txHash,
		L1Token:   "0xToken",
		Address:   "0xUser",
		PID1:      1,
		PID2:      2,
		AmountWei: amountWei,
	}
}

var knownTokens = []bridgedomain.TokenRecord{{TokenUID: "0xToken", TokenIndex: 3}}

// weiFor encodes a whole-unit amount back into 10^18-scaled
// big-endian wei, matching the default TokenPrecision=0 divisor.
func weiFor(whole uint64) []byte {
	const weiPerUnit = 1_000_000_000_000_000_000
	amount := whole * weiPerUnit
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(amount)
		amount >>= 8
	}
	return out
}

func TestHandle_FreshCreditCompletesExactlyOnce(t *testing.T) {
	store := newFakeStore()
	m := New(store, &fakeTokens{tokens: knownTokens}, &sequentialNonces{}, &fakeL2{}, 1_000_000_000_000_000_000)

	event := newEvent("0xabc", weiFor(5))
	require.NoError(t, m.Handle(context.Background(), event))

	rec := store.get("0xabc")
	require.NotNil(t, rec)
	require.Equal(t, bridgedomain.DepositCompleted, rec.State)
	require.Equal(t, uint64(5), rec.Amount)

	// Redelivering the same event must not submit a second deposit.
	l2 := m.l2.(*fakeL2)
	callsAfterFirst := l2.depositCalls
	require.NoError(t, m.Handle(context.Background(), event))
	require.Equal(t, callsAfterFirst, l2.depositCalls)
}

func TestHandle_DustIsCreditedNeverButRecordedCompleted(t *testing.T) {
	store := newFakeStore()
	l2 := &fakeL2{}
	m := New(store, &fakeTokens{tokens: knownTokens}, &sequentialNonces{}, l2, 1_000_000_000_000_000_000)

	event := newEvent("0xdust", []byte{0}) // amountWei = 0 -> amount = 0
	err := m.Handle(context.Background(), event)
	require.ErrorIs(t, err, ErrDust)

	rec := store.get("0xdust")
	require.NotNil(t, rec)
	require.Equal(t, bridgedomain.DepositCompleted, rec.State)
	require.Equal(t, 0, l2.depositCalls)
}

func TestHandle_UnknownTokenIsIgnoredPermanently(t *testing.T) {
	store := newFakeStore()
	m := New(store, &fakeTokens{tokens: nil}, &sequentialNonces{}, &fakeL2{}, 1_000_000_000_000_000_000)

	event := newEvent("0xghost", weiFor(5))
	err := m.Handle(context.Background(), event)
	require.ErrorIs(t, err, ErrUnknownToken)
	require.Nil(t, store.get("0xghost"))
}

func TestHandle_CrashBetweenSubmitAndMarkVerifiesBeforeRetry(t *testing.T) {
	store := newFakeStore()
	nonce := uint64(42)
	store.records["0xcrash"] = &bridgedomain.DepositRecord{
		TxHash: "0xcrash", State: bridgedomain.DepositInProgress, Nonce: &nonce,
	}
	l2 := &fakeL2{checkVerified: true}
	m := New(store, &fakeTokens{tokens: knownTokens}, &sequentialNonces{}, l2, 1_000_000_000_000_000_000)

	event := newEvent("0xcrash", weiFor(5))
	require.NoError(t, m.Handle(context.Background(), event))

	rec := store.get("0xcrash")
	require.Equal(t, bridgedomain.DepositCompleted, rec.State)
	require.Equal(t, 0, l2.depositCalls) // verified, never resubmitted
}

func TestHandle_TransientFailureMarksFailedAndRetriesWithFreshNonce(t *testing.T) {
	store := newFakeStore()
	nonces := &sequentialNonces{next: 10}
	l2 := &fakeL2{depositErr: errors.New("rpc timeout")}
	m := New(store, &fakeTokens{tokens: knownTokens}, nonces, l2, 1_000_000_000_000_000_000)

	event := newEvent("0xflaky", weiFor(5))
	require.Error(t, m.Handle(context.Background(), event))

	rec := store.get("0xflaky")
	require.Equal(t, bridgedomain.DepositFailed, rec.State)
	require.NotNil(t, rec.Nonce)
	require.Equal(t, uint64(10), *rec.Nonce)

	// Next round: still not verified, retries with a fresh nonce and a
	// bumped retryCount.
	l2.checkVerified = false
	l2.depositErr = nil
	require.NoError(t, m.Handle(context.Background(), event))

	rec = store.get("0xflaky")
	require.Equal(t, bridgedomain.DepositCompleted, rec.State)
	require.Equal(t, uint32(1), rec.RetryCount)
	require.Equal(t, uint64(11), *rec.Nonce)
}

// racedStore simulates a second writer having already moved the
// record past whatever UpdateWhere's caller still believes is current:
// every conditional update misses.
type racedStore struct {
	*fakeStore
}

func (s *racedStore) UpdateWhere(ctx context.Context, txHash string, expectedState bridgedomain.DepositState, update bridgedomain.DepositUpdate) (bool, error) {
	return false, nil
}

func TestHandle_LostRaceOnConditionalUpdateIsAHardStop(t *testing.T) {
	inner := newFakeStore()
	inner.records["0xrace"] = &bridgedomain.DepositRecord{TxHash: "0xrace", State: bridgedomain.DepositPending}
	store := &racedStore{fakeStore: inner}
	l2 := &fakeL2{}
	m := New(store, &fakeTokens{tokens: knownTokens}, &sequentialNonces{}, l2, 1_000_000_000_000_000_000)

	err := m.Handle(context.Background(), newEvent("0xrace", weiFor(5)))
	require.ErrorIs(t, err, ErrLostRace)
	require.Equal(t, 0, l2.depositCalls) // never submits on top of state that was never made durable
}

func TestHandle_ReentrantSubmissionIsFatal(t *testing.T) {
	store := newFakeStore()
	logger := &recordingLogger{}
	m := New(store, &fakeTokens{tokens: knownTokens}, &sequentialNonces{}, &fakeL2{}, 1_000_000_000_000_000_000, WithLogger(logger))

	m.submitMu.Lock() // simulate a submission already in flight
	err := m.Handle(context.Background(), newEvent("0xreentrant", weiFor(5)))
	m.submitMu.Unlock()

	require.ErrorIs(t, err, ErrReentrantSubmission)
	require.Len(t, logger.msgs, 1)
}

func TestHandle_UnknownStateValueIsFatal(t *testing.T) {
	store := newFakeStore()
	store.records["0xweird"] = &bridgedomain.DepositRecord{TxHash: "0xweird", State: bridgedomain.DepositState("corrupted")}
	logger := &recordingLogger{}
	m := New(store, &fakeTokens{tokens: knownTokens}, &sequentialNonces{}, &fakeL2{}, 1_000_000_000_000_000_000, WithLogger(logger))

	err := m.Handle(context.Background(), newEvent("0xweird", weiFor(5)))
	require.ErrorIs(t, err, ErrUnknownStateValue)
	require.Len(t, logger.msgs, 1)
}

func TestHandle_NonceUnsetPostPendingIsFatal(t *testing.T) {
	store := newFakeStore()
	store.records["0xbroken"] = &bridgedomain.DepositRecord{TxHash: "0xbroken", State: bridgedomain.DepositInProgress}
	logger := &recordingLogger{}
	m := New(store, &fakeTokens{tokens: knownTokens}, &sequentialNonces{}, &fakeL2{}, 1_000_000_000_000_000_000, WithLogger(logger))

	err := m.Handle(context.Background(), newEvent("0xbroken", weiFor(5)))
	require.ErrorIs(t, err, ErrNonceUnsetPostPending)
	require.Len(t, logger.msgs, 1)
}
