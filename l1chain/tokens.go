package l1chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

const allTokensABI = `[{"constant":true,"inputs":[],"name":"allTokens","outputs":[{"components":[{"name":"token_uid","type":"address"}],"name":"","type":"tuple[]"}],"payable":false,"stateMutability":"view","type":"function"}]`

// L1TokenLister resolves the L1 contract's token list, used by the
// deposit state machine to map an observed l1token address to the
// tokenIndex the L2 RPC expects (spec §4.4 step 1).
type L1TokenLister interface {
	AllTokens(ctx context.Context) ([]bridgedomain.TokenRecord, error)
}

// ContractTokenLister calls allTokens() against the settlement
// contract via eth_call, the way contractverifier's own tests drive
// contract reads through common/core/abi.
type ContractTokenLister struct {
	client          *ethclient.Client
	contractAddress common.Address
	parsedABI       abi.ABI
}

func NewContractTokenLister(client *ethclient.Client, contractAddress string) (*ContractTokenLister, error) {
	parsed, err := abi.JSON(strings.NewReader(allTokensABI))
	if err != nil {
		return nil, fmt.Errorf("l1chain: parse allTokens ABI: %w", err)
	}
	return &ContractTokenLister{
		client:          client,
		contractAddress: common.HexToAddress(contractAddress),
		parsedABI:       parsed,
	}, nil
}

func (l *ContractTokenLister) AllTokens(ctx context.Context) ([]bridgedomain.TokenRecord, error) {
	input, err := l.parsedABI.Pack("allTokens")
	if err != nil {
		return nil, fmt.Errorf("l1chain: pack allTokens call: %w", err)
	}
	out, err := l.client.CallContract(ctx, ethereum.CallMsg{
		To:   &l.contractAddress,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("l1chain: call allTokens: %w", err)
	}

	var result []struct {
		TokenUID common.Address `abi:"token_uid"`
	}
	if err := l.parsedABI.UnpackIntoInterface(&result, "allTokens", out); err != nil {
		return nil, fmt.Errorf("l1chain: unpack allTokens: %w", err)
	}

	tokens := make([]bridgedomain.TokenRecord, len(result))
	for i, r := range result {
		tokens[i] = bridgedomain.TokenRecord{
			TokenUID:   r.TokenUID.Hex(),
			TokenIndex: uint32(i),
		}
	}
	return tokens, nil
}

// ResolveTokenIndex finds the tokenIndex matching l1token within an
// already-fetched token list (spec §4.4 step 1: "if not found, the
// event is ignored").
func ResolveTokenIndex(tokens []bridgedomain.TokenRecord, l1token string) (uint32, bool) {
	target := common.HexToAddress(l1token)
	for _, t := range tokens {
		if common.HexToAddress(t.TokenUID) == target {
			return t.TokenIndex, true
		}
	}
	return 0, false
}
