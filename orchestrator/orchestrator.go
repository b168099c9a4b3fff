// Package orchestrator implements the Orchestrator of spec §4.6: mode
// selection, component wiring, and cooperative shutdown for the two
// bridging daemons.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/jupiterxyz/zkbridge/config"
	"github.com/jupiterxyz/zkbridge/depositfsm"
	"github.com/jupiterxyz/zkbridge/l1chain"
	"github.com/jupiterxyz/zkbridge/l1scan"
	"github.com/jupiterxyz/zkbridge/l2client"
	"github.com/jupiterxyz/zkbridge/settlement"
	"github.com/jupiterxyz/zkbridge/store"
)

// Run wires up and starts the daemon selected by cfg.Mode, blocking
// until ctx is cancelled (spec §4.6: "exits cleanly on shutdown after
// the current round completes").
func Run(ctx context.Context, cfg *config.Config) error {
	switch cfg.Mode {
	case config.ModeDeposit:
		return runDeposit(ctx, cfg)
	case config.ModeSettlement:
		return runSettlement(ctx, cfg)
	default:
		return fmt.Errorf("orchestrator: unknown mode %q", cfg.Mode)
	}
}

func runDeposit(ctx context.Context, cfg *config.Config) error {
	depositStore, err := store.NewDepositStore(ctx, cfg.MongoURI, cfg.DatabaseName())
	if err != nil {
		return fmt.Errorf("orchestrator: connect deposit store: %w", err)
	}

	l1client, err := l1chain.Dial(ctx, cfg.RPCProvider)
	if err != nil {
		return fmt.Errorf("orchestrator: dial L1: %w", err)
	}
	reader := l1chain.NewReader(l1client)
	tokens, err := l1chain.NewContractTokenLister(l1client, cfg.SettlementContractAddress)
	if err != nil {
		return fmt.Errorf("orchestrator: build token lister: %w", err)
	}

	l2 := l2client.NewHTTPClient(cfg.ZkwasmRPCURL, cfg.ServerAdminKey, cfg.DepositOpcode, cfg.WithdrawOpcode)
	nonces := l2client.NewNonceSource(l2)

	// Install the admin player before anything else can submit deposits
	// on its behalf (spec §4.6 step b).
	if err := l2.CreatePlayer(ctx, 0); err != nil {
		return fmt.Errorf("orchestrator: install admin player: %w", err)
	}

	machine := depositfsm.New(depositStore, tokens, nonces, l2, cfg.AmountDivisor())
	scanner := l1scan.New(reader, common.HexToAddress(cfg.SettlementContractAddress), machine)

	log.Info("orchestrator: running historical sweep", "startBlock", cfg.StartBlock)
	if err := scanner.RunHistoricalSweep(ctx, cfg.StartBlock); err != nil {
		return fmt.Errorf("orchestrator: historical sweep: %w", err)
	}

	log.Info("orchestrator: entering tail poll loop")
	scanner.RunTailPollLoop(ctx)
	log.Info("orchestrator: deposit service shut down")
	return nil
}

func runSettlement(ctx context.Context, cfg *config.Config) error {
	settlementStore, err := store.NewSettlementStore(ctx, cfg.MongoURI, cfg.DatabaseName())
	if err != nil {
		return fmt.Errorf("orchestrator: connect settlement store: %w", err)
	}

	l1client, err := l1chain.Dial(ctx, cfg.RPCProvider)
	if err != nil {
		return fmt.Errorf("orchestrator: dial L1: %w", err)
	}
	settler, err := l1chain.NewContractSettler(l1client, cfg.SettlementContractAddress, cfg.ChainID, cfg.SettlerPrivateKey)
	if err != nil {
		return fmt.Errorf("orchestrator: build settler: %w", err)
	}

	l2 := l2client.NewHTTPClient(cfg.ZkwasmRPCURL, cfg.ServerAdminKey, cfg.DepositOpcode, cfg.WithdrawOpcode)

	pollInterval := time.Duration(cfg.SettlementRetryDelaySeconds) * time.Second
	poller := settlement.New(l2, settlementStore, settler, pollInterval)

	log.Info("orchestrator: entering settlement poll loop", "interval", pollInterval)
	poller.RunLoop(ctx)
	log.Info("orchestrator: settlement service shut down")
	return nil
}
