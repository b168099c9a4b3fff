// Package config loads and validates the bridging core's configuration
// record. Loading itself is treated as an opaque external concern;
// this package owns only the record shape and its validation.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Mode selects which of the two daemons the orchestrator runs.
type Mode string

const (
	ModeDeposit    Mode = "deposit"
	ModeSettlement Mode = "settlement"
)

// Config is the enumerated configuration record of spec §6.
type Config struct {
	Mode Mode

	RPCProvider               string
	ServerAdminKey            string
	SettlementContractAddress string
	MongoURI                  string
	ZkwasmRPCURL              string
	SettlerPrivateKey         string
	ChainID                   uint64

	WithdrawOpcode uint64
	DepositOpcode  uint64

	StartBlock *uint64

	// TokenPrecision parameterizes the wei->whole-unit divisor as
	// 10^(18-TokenPrecision). Defaults to 0, i.e. the historical
	// "always divide by 10^18" behavior. See DESIGN.md, Open
	// Question 1.
	TokenPrecision uint8

	// SettlementRetryDelaySeconds is the fixed delay between
	// resubmission attempts of a reverted settlement (spec §9, Open
	// Question: unbounded retries, fixed delay). Defaults to 10s.
	SettlementRetryDelaySeconds uint32
}

// DatabaseName returns the persisted store name of spec §6:
// "<settlementContractAddress>_deposit" for the deposit service, and
// an analogous "<settlementContractAddress>_settlement" name for the
// settlement service.
func (c *Config) DatabaseName() string {
	suffix := "_deposit"
	if c.Mode == ModeSettlement {
		suffix = "_settlement"
	}
	return strings.ToLower(c.SettlementContractAddress) + suffix
}

// AmountDivisor returns the divisor applied to amountWei to obtain the
// whole-unit amount credited on L2 (spec §4.4 step 2, parameterized
// per DESIGN.md Open Question 1).
func (c *Config) AmountDivisor() uint64 {
	exp := 18 - int(c.TokenPrecision)
	div := uint64(1)
	for i := 0; i < exp; i++ {
		div *= 10
	}
	return div
}

// Load reads the configuration record from the environment (and an
// optional config file set via ZKBRIDGE_CONFIG) using viper, then
// validates it.
func Load(mode Mode) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZKBRIDGE")
	v.AutomaticEnv()
	if cfgFile := v.GetString("CONFIG"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{
		Mode:                        mode,
		RPCProvider:                 v.GetString("RPC_PROVIDER"),
		ServerAdminKey:              v.GetString("SERVER_ADMIN_KEY"),
		SettlementContractAddress:   v.GetString("SETTLEMENT_CONTRACT_ADDRESS"),
		MongoURI:                    v.GetString("MONGO_URI"),
		ZkwasmRPCURL:                v.GetString("ZKWASM_RPC_URL"),
		SettlerPrivateKey:           v.GetString("SETTLER_PRIVATE_KEY"),
		ChainID:                     v.GetUint64("CHAIN_ID"),
		TokenPrecision:              uint8(v.GetUint32("TOKEN_PRECISION")),
		SettlementRetryDelaySeconds: v.GetUint32("SETTLEMENT_RETRY_DELAY_SECONDS"),
	}
	if cfg.ZkwasmRPCURL == "" {
		cfg.ZkwasmRPCURL = "http://localhost:3000"
	}
	if cfg.SettlementRetryDelaySeconds == 0 {
		cfg.SettlementRetryDelaySeconds = 10
	}

	depositOpcode, err := parseOpcode(v.GetString("DEPOSIT_OPCODE"))
	if err != nil {
		return nil, fmt.Errorf("config: depositOpcode: %w", err)
	}
	cfg.DepositOpcode = depositOpcode

	withdrawOpcode, err := parseOpcode(v.GetString("WITHDRAW_OPCODE"))
	if err != nil {
		return nil, fmt.Errorf("config: withdrawOpcode: %w", err)
	}
	cfg.WithdrawOpcode = withdrawOpcode

	if sb := v.GetString("START_BLOCK"); sb != "" {
		n, err := strconv.ParseUint(sb, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: startBlock: %w", err)
		}
		cfg.StartBlock = &n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseOpcode(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("opcode not configured")
	}
	return strconv.ParseUint(s, 10, 64)
}

// Validate enforces the invariants the rest of the core assumes hold
// of a configuration record.
func (c *Config) Validate() error {
	if c.Mode != ModeDeposit && c.Mode != ModeSettlement {
		return fmt.Errorf("config: invalid mode %q", c.Mode)
	}
	if c.RPCProvider == "" {
		return fmt.Errorf("config: rpcProvider is required")
	}
	if c.SettlementContractAddress == "" {
		return fmt.Errorf("config: settlementContractAddress is required")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("config: mongoUri is required")
	}
	if c.TokenPrecision > 18 {
		return fmt.Errorf("config: tokenPrecision must be in [0,18], got %d", c.TokenPrecision)
	}
	if c.Mode == ModeDeposit {
		if c.ServerAdminKey == "" {
			return fmt.Errorf("config: serverAdminKey is required in deposit mode")
		}
	}
	if c.Mode == ModeSettlement {
		if c.SettlerPrivateKey == "" {
			return fmt.Errorf("config: settlerPrivateKey is required in settlement mode")
		}
	}
	return nil
}
