package params

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Fees.Percent != 10 {
		t.Errorf("fee percent = %d, want 10", cfg.Fees.Percent)
	}
	if cfg.Fees.Account == (common.Address{}) {
		t.Error("fee account must not be the zero address")
	}
	if len(cfg.Tokens) == 0 {
		t.Error("default config carries no genesis tokens")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("FEE_ACCOUNT", "0x00000000000000000000000000000000000000F2")
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("GENESIS_TOKENS", "Test Token:TST:1000")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := LoadFromEnv("")

	if cfg.Fees.Account != common.HexToAddress("0x00000000000000000000000000000000000000F2") {
		t.Errorf("fee account = %s", cfg.Fees.Account)
	}
	if cfg.Fees.Percent != 3 {
		t.Errorf("fee percent = %d, want 3", cfg.Fees.Percent)
	}
	if cfg.API.ListenAddr != ":9999" {
		t.Errorf("listen addr = %s", cfg.API.ListenAddr)
	}
	if len(cfg.Tokens) != 1 || cfg.Tokens[0].Symbol != "TST" || cfg.Tokens[0].Supply != "1000" {
		t.Errorf("tokens = %+v", cfg.Tokens)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("FEE_ACCOUNT", "not-an-address")
	t.Setenv("FEE_PERCENT", "250") // over 100

	cfg := LoadFromEnv("")

	def := Default()
	if cfg.Fees.Account != def.Fees.Account {
		t.Errorf("bad address accepted: %s", cfg.Fees.Account)
	}
	if cfg.Fees.Percent != def.Fees.Percent {
		t.Errorf("out-of-range percent accepted: %d", cfg.Fees.Percent)
	}
}
