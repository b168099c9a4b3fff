// Package l1scan implements the L1Scanner of spec §4.3: a paginated
// historical sweep plus a periodic tail poller over L1 logs matching
// the TopUp event signature, handing each matching log to a
// DepositHandler in block/log order.
package l1scan

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/jupiterxyz/zkbridge/l1chain"
	"github.com/jupiterxyz/zkbridge/retryutil"
)

const (
	// MaxBatchBlocks bounds a single getLogs call, per spec §4.3.
	MaxBatchBlocks = 25_000
	// DefaultLookback bounds how far back a sweep with no configured
	// start block reaches, per spec §4.3.
	DefaultLookback = 200_000
	// TailPollInterval is how often the tail poller wakes up, per
	// spec §4.3.
	TailPollInterval = 30 * time.Second
)

// DepositHandler is handed each raw TopUp log, one at a time, in
// block/log order (spec §5); decoding is the handler's job.
type DepositHandler interface {
	HandleTopUp(ctx context.Context, log types.Log) error
}

// Scanner is the L1Scanner of spec §4.3.
type Scanner struct {
	reader          l1chain.L1Reader
	contractAddress common.Address
	handler         DepositHandler

	lastProcessed uint64
	busy          sync.Mutex
}

// New builds a scanner. The configuredStartBlock of spec §4.3 is not
// set here; it is passed to RunHistoricalSweep.
func New(reader l1chain.L1Reader, contractAddress common.Address, handler DepositHandler) *Scanner {
	return &Scanner{reader: reader, contractAddress: contractAddress, handler: handler}
}

// RunHistoricalSweep walks from configuredStart (or head-200_000) to
// the current head in <=25_000-block batches, per spec §4.3. A nil
// configuredStart, or one beyond head, causes the sweep to start at
// head-200_000 / to be skipped entirely (spec §8 boundary: "startBlock
// > head -> historical sweep is skipped").
func (s *Scanner) RunHistoricalSweep(ctx context.Context, configuredStart *uint64) error {
	head, err := s.headNumber(ctx)
	if err != nil {
		return err
	}

	start := uint64(0)
	if head > DefaultLookback {
		start = head - DefaultLookback
	}
	if configuredStart != nil {
		if *configuredStart > head {
			log.Info("l1scan: configured start block beyond head, skipping historical sweep", "configuredStart", *configuredStart, "head", head)
			s.lastProcessed = head
			return nil
		}
		start = *configuredStart
	}

	roundID := uuid.NewString()
	log.Info("l1scan: starting historical sweep", "round", roundID, "from", start, "to", head)

	for from := start; from <= head; from += MaxBatchBlocks {
		to := from + MaxBatchBlocks - 1
		if to > head {
			to = head
		}
		if err := s.processBatch(ctx, from, to); err != nil {
			// Per-batch failures log and continue to the next batch (spec §4.3).
			log.Error("l1scan: batch failed, continuing", "round", roundID, "from", from, "to", to, "err", err)
			continue
		}
		s.lastProcessed = to
	}
	return nil
}

// RunTailPollOnce executes one tail-poll round: scan
// (lastProcessed, head] in sub-batches. Returns immediately with no
// error if a round is already in flight (the busy guard of spec §4.3
// and §5 — skipped, not queued).
func (s *Scanner) RunTailPollOnce(ctx context.Context) error {
	if !s.busy.TryLock() {
		log.Debug("l1scan: tail poll round already in flight, skipping")
		return nil
	}
	defer s.busy.Unlock()

	roundID := uuid.NewString()
	return retryutil.ThreeAttempts(ctx, func() error {
		head, err := s.headNumber(ctx)
		if err != nil {
			return err
		}
		if head <= s.lastProcessed {
			return nil
		}
		for from := s.lastProcessed + 1; from <= head; from += MaxBatchBlocks {
			to := from + MaxBatchBlocks - 1
			if to > head {
				to = head
			}
			if err := s.processBatch(ctx, from, to); err != nil {
				return err
			}
			s.lastProcessed = to
		}
		log.Debug("l1scan: tail poll round complete", "round", roundID, "lastProcessed", s.lastProcessed)
		return nil
	})
}

// RunTailPollLoop runs RunTailPollOnce on a TailPollInterval ticker
// until ctx is cancelled. Shutdown is cooperative: the current round
// (if any) is allowed to finish before the loop returns (spec §5).
func (s *Scanner) RunTailPollLoop(ctx context.Context) {
	ticker := time.NewTicker(TailPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunTailPollOnce(ctx); err != nil {
				log.Error("l1scan: tail poll round failed", "err", err)
			}
		}
	}
}

// processBatch fetches and hands off every TopUp log in [from, to],
// in ascending (block, logIndex) order. lastProcessed is only
// advanced by the caller once every event in the range has returned
// from the handler (spec §4.3, §5).
func (s *Scanner) processBatch(ctx context.Context, from, to uint64) error {
	logs, err := s.reader.FilterLogs(ctx, geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.contractAddress},
		Topics:    [][]common.Hash{{l1chain.TopUpTopic}},
	})
	if err != nil {
		return err
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for _, lg := range logs {
		if err := s.handler.HandleTopUp(ctx, lg); err != nil {
			// Per-event failures log and continue to the next event (spec §4.3).
			log.Error("l1scan: event handling failed, continuing", "txHash", lg.TxHash.Hex(), "logIndex", lg.Index, "err", err)
		}
	}
	return nil
}

func (s *Scanner) headNumber(ctx context.Context) (uint64, error) {
	header, err := s.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

// LastProcessed reports the highest block number whose events have
// all been handed to the handler.
func (s *Scanner) LastProcessed() uint64 {
	return s.lastProcessed
}
