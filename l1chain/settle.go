package l1chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

const settleABI = `[{"constant":false,"inputs":[{"name":"txData","type":"bytes"},{"name":"proofArr","type":"bytes"},{"name":"verifyInstanceArr","type":"bytes"},{"name":"auxArr","type":"bytes"},{"name":"instArr","type":"uint256[]"}],"name":"verifyAndSettle","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}]`

// L1Settler submits a reduced SettlementPayload to the L1 settlement
// contract and awaits its receipt (spec §4.5 steps 3-4).
type L1Settler interface {
	SubmitSettlement(ctx context.Context, p bridgedomain.SettlementPayload) (common.Hash, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ContractSettler signs and sends the settlement transaction with the
// configured settler private key.
type ContractSettler struct {
	client          *ethclient.Client
	contractAddress common.Address
	chainID         *big.Int
	privateKey      *ecdsa.PrivateKey
	parsedABI       abi.ABI
}

func NewContractSettler(client *ethclient.Client, contractAddress string, chainID uint64, privateKeyHex string) (*ContractSettler, error) {
	parsed, err := abi.JSON(strings.NewReader(settleABI))
	if err != nil {
		return nil, fmt.Errorf("l1chain: parse settlement ABI: %w", err)
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("l1chain: parse settler private key: %w", err)
	}
	return &ContractSettler{
		client:          client,
		contractAddress: common.HexToAddress(contractAddress),
		chainID:         new(big.Int).SetUint64(chainID),
		privateKey:      pk,
		parsedABI:       parsed,
	}, nil
}

func (s *ContractSettler) SubmitSettlement(ctx context.Context, p bridgedomain.SettlementPayload) (common.Hash, error) {
	input, err := s.parsedABI.Pack("verifyAndSettle", p.TxData, p.ProofArr, p.VerifyInstanceArr, p.AuxArr, toBigIntSlice(p.InstArr))
	if err != nil {
		return common.Hash{}, fmt.Errorf("l1chain: pack settlement call: %w", err)
	}

	from := crypto.PubkeyToAddress(s.privateKey.PublicKey)
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("l1chain: fetch settler nonce: %w", err)
	}
	gasTip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("l1chain: suggest gas tip: %w", err)
	}
	gasFeeCap, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("l1chain: suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTip,
		GasFeeCap: gasFeeCap,
		Gas:       3_000_000,
		To:        &s.contractAddress,
		Data:      input,
	})
	signed, err := types.SignTx(tx, types.NewLondonSigner(s.chainID), s.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("l1chain: sign settlement tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("l1chain: send settlement tx: %w", err)
	}
	return signed.Hash(), nil
}

func (s *ContractSettler) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return s.client.TransactionReceipt(ctx, txHash)
}

func toBigIntSlice(limbs []uint64) []*big.Int {
	out := make([]*big.Int, len(limbs))
	for i, l := range limbs {
		out[i] = new(big.Int).SetUint64(l)
	}
	return out
}
