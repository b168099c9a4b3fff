// Package bridgedomain holds the persisted record shapes shared by the
// deposit and settlement services: the data model of the bridging core.
package bridgedomain

import (
	"errors"
	"time"
)

// ErrNotFound is the sentinel TrackingStore implementations return
// from findByKey when no record exists for the given key (spec §4.1).
// Living here, rather than in store/, lets depositfsm and settlement
// recognize it without depending on a concrete storage driver.
var ErrNotFound = errors.New("bridgedomain: record not found")

// DepositState is the finite set of states a DepositRecord walks
// through. The zero value never appears in a stored record — a record
// is only ever inserted directly into Pending or Completed.
type DepositState string

const (
	DepositPending    DepositState = "pending"
	DepositInProgress DepositState = "in-progress"
	DepositCompleted  DepositState = "completed"
	DepositFailed     DepositState = "failed"
)

// DepositRecord is one per observed L1 TopUp event, keyed uniquely by
// TxHash. See spec §3.1.
type DepositRecord struct {
	TxHash        string       `bson:"_id" json:"txHash"`
	State         DepositState `bson:"state" json:"state"`
	L1Token       string       `bson:"l1token" json:"l1token"`
	Address       string       `bson:"address" json:"address"`
	PID1          uint64       `bson:"pid_1" json:"pid_1"`
	PID2          uint64       `bson:"pid_2" json:"pid_2"`
	Amount        uint64       `bson:"amount" json:"amount"`
	Nonce         *uint64      `bson:"nonce,omitempty" json:"nonce,omitempty"`
	RetryCount    uint32       `bson:"retryCount" json:"retryCount"`
	LastRetryTime *time.Time   `bson:"lastRetryTime,omitempty" json:"lastRetryTime,omitempty"`
	Timestamp     time.Time    `bson:"timestamp" json:"timestamp"`
}

// TopUpEvent is the decoded form of the L1 TopUp log, before any
// lookup against the tracking store has happened.
type TopUpEvent struct {
	TxHash    string
	L1Token   string
	Address   string
	PID1      uint64
	PID2      uint64
	AmountWei []byte // big-endian uint256, as emitted on-chain
	BlockNum  uint64
	LogIndex  uint
}

// TokenRecord is one entry of the L1 contract's allTokens() result.
type TokenRecord struct {
	TokenUID   string
	TokenIndex uint32
}

// DepositUpdate is a partial update applied by TrackingStore.UpdateWhere
// (spec §4.1): only non-nil fields are written.
type DepositUpdate struct {
	State         *DepositState
	Nonce         *uint64
	RetryCount    *uint32
	LastRetryTime *time.Time
}

