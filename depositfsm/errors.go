package depositfsm

import "errors"

// ErrUnknownToken and ErrDust are the two permanent, terminal outcomes
// of spec §4.4 step 1-2. ErrUnknownToken means no record is ever
// written: the event is never seen again. ErrDust means a record is
// written straight to completed, with no L2 submission. Handle returns
// both wrapped so the l1scan call site logs a distinguishable reason
// rather than a bare nil.
var (
	ErrUnknownToken = errors.New("depositfsm: l1token not present in contract token list")
	ErrDust         = errors.New("depositfsm: amount below the whole-unit threshold")
)

// ErrNonceUnsetPostPending, ErrReentrantSubmission and
// ErrUnknownStateValue are the fatal tier of spec §7: each is handed
// to Logger.Crit, which aborts the process.
var (
	ErrNonceUnsetPostPending = errors.New("depositfsm: nonce unset on a record past pending")
	ErrReentrantSubmission   = errors.New("depositfsm: concurrent submission attempted while one was in flight")
	ErrUnknownStateValue     = errors.New("depositfsm: record holds a state value outside the known enum")
)

// ErrLostRace is returned when a conditional UpdateWhere fails to
// apply because the record no longer holds the expected state. §4.1
// names updateWhere the sole primitive guarding against concurrent
// writers and restart-races; a miss here means some other writer has
// already moved the record, so this call must stop rather than carry
// on using state that was never made durable.
var ErrLostRace = errors.New("depositfsm: conditional update did not apply, another writer raced this record")
