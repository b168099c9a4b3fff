package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig(mode Mode) *Config {
	c := &Config{
		Mode:                      mode,
		RPCProvider:               "https://l1.example/rpc",
		SettlementContractAddress: "0xAbCd",
		MongoURI:                  "mongodb://localhost:27017",
		DepositOpcode:             2,
		WithdrawOpcode:            3,
	}
	if mode == ModeDeposit {
		c.ServerAdminKey = "admin-key"
	}
	if mode == ModeSettlement {
		c.SettlerPrivateKey = "settler-key"
	}
	return c
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig(ModeDeposit).Validate())
	require.NoError(t, validConfig(ModeSettlement).Validate())
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
	}{
		{"missing rpcProvider", func(c *Config) { c.RPCProvider = "" }},
		{"missing settlementContractAddress", func(c *Config) { c.SettlementContractAddress = "" }},
		{"missing mongoUri", func(c *Config) { c.MongoURI = "" }},
		{"bad mode", func(c *Config) { c.Mode = "bogus" }},
		{"tokenPrecision out of range", func(c *Config) { c.TokenPrecision = 19 }},
		{"missing admin key in deposit mode", func(c *Config) { c.ServerAdminKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(ModeDeposit)
			tt.mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestDatabaseName(t *testing.T) {
	c := validConfig(ModeDeposit)
	c.SettlementContractAddress = "0xABCDEF"
	require.Equal(t, "0xabcdef_deposit", c.DatabaseName())

	c2 := validConfig(ModeSettlement)
	c2.SettlementContractAddress = "0xABCDEF"
	require.Equal(t, "0xabcdef_settlement", c2.DatabaseName())
}

func TestAmountDivisor(t *testing.T) {
	tests := []struct {
		precision uint8
		want      uint64
	}{
		{0, 1_000_000_000_000_000_000},
		{1, 100_000_000_000_000_000},
		{18, 1},
	}
	for _, tt := range tests {
		c := &Config{TokenPrecision: tt.precision}
		require.Equal(t, tt.want, c.AmountDivisor())
	}
}
