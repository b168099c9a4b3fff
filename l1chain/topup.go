// Package l1chain is the L1 side of the bridge: log filtering for
// TopUp events, the allTokens() read, and settlement submission. It
// is a thin ethclient-backed implementation of the L1Reader /
// L1TokenLister / L1Settler interfaces the rest of the core depends
// on (spec §6, SPEC_FULL.md "Concrete interfaces").
package l1chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

// TopUpEventSignature is the event signature whose keccak256 forms
// the topic hash logs are filtered against (spec §6).
const TopUpEventSignature = "TopUp(address,address,uint256,uint256,uint256)"

// TopUpTopic is computed once at init, the way a long-running chain
// client precomputes its watched topic hashes rather than re-hashing
// per filter call.
var TopUpTopic = crypto.Keccak256Hash([]byte(TopUpEventSignature))

var topUpArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// DecodeTopUp decodes a matched TopUp log into the domain event shape.
// All five event fields are non-indexed in the source ABI, so they
// are unpacked from log.Data in declaration order.
func DecodeTopUp(log types.Log) (bridgedomain.TopUpEvent, error) {
	if len(log.Topics) == 0 || log.Topics[0] != TopUpTopic {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: log does not match TopUp topic")
	}
	vals, err := topUpArgs.Unpack(log.Data)
	if err != nil {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: unpack TopUp: %w", err)
	}
	if len(vals) != 5 {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: decoded TopUp shape invalid")
	}

	l1token, ok := vals[0].(common.Address)
	if !ok {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: decoded TopUp shape invalid (l1token)")
	}
	user, ok := vals[1].(common.Address)
	if !ok {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: decoded TopUp shape invalid (user)")
	}
	pid1, ok := vals[2].(*big.Int)
	if !ok || !pid1.IsUint64() {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: decoded TopUp shape invalid (pid_1)")
	}
	pid2, ok := vals[3].(*big.Int)
	if !ok || !pid2.IsUint64() {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: decoded TopUp shape invalid (pid_2)")
	}
	amount, ok := vals[4].(*big.Int)
	if !ok {
		return bridgedomain.TopUpEvent{}, fmt.Errorf("l1chain: decoded TopUp shape invalid (amount)")
	}

	return bridgedomain.TopUpEvent{
		TxHash:    log.TxHash.Hex(),
		L1Token:   l1token.Hex(),
		Address:   user.Hex(),
		PID1:      pid1.Uint64(),
		PID2:      pid2.Uint64(),
		AmountWei: amount.Bytes(),
		BlockNum:  log.BlockNumber,
		LogIndex:  log.Index,
	}, nil
}

// L1Reader is the minimal surface the scanner needs from an L1 node:
// current head, and a ranged log filter over the TopUp topic.
type L1Reader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EthClientReader adapts *ethclient.Client to L1Reader.
type EthClientReader struct {
	client *ethclient.Client
}

// NewReader wraps an already-dialed client, letting the orchestrator
// share one *ethclient.Client across the reader, token lister, and
// settler built on top of it.
func NewReader(client *ethclient.Client) *EthClientReader {
	return &EthClientReader{client: client}
}

func DialReader(ctx context.Context, rpcURL string) (*EthClientReader, error) {
	c, err := Dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewReader(c), nil
}

// Dial connects a raw *ethclient.Client, the shared handle the
// orchestrator hands to the reader, token lister, and settler alike.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("l1chain: dial %s: %w", rpcURL, err)
	}
	return c, nil
}

func (r *EthClientReader) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return r.client.HeaderByNumber(ctx, number)
}

func (r *EthClientReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return r.client.FilterLogs(ctx, q)
}
