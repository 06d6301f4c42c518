package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Fees is the immutable fee configuration of the exchange, fixed at startup.
type Fees struct {
	Account common.Address
	Percent uint64 // whole-number percentage of every trade's get-amount
}

type API struct {
	ListenAddr     string
	AllowedOrigins []string
}

type Storage struct {
	EventDBPath string
}

// Logging configures the process-wide zap logger.
type Logging struct {
	File  string // tee target alongside stdout; empty disables the file sink
	Level string // zap level name: debug, info, warn, error
}

// GenesisToken describes a token ledger deployed at startup. The full supply
// (a decimal string in base units, 18 decimals) is credited to the deployer.
type GenesisToken struct {
	Name   string
	Symbol string
	Supply string
}

type Config struct {
	ExchangeAddress common.Address
	Deployer        common.Address
	Fees            Fees
	API             API
	Storage         Storage
	Logging         Logging
	Tokens          []GenesisToken
}

func Default() Config {
	return Config{
		ExchangeAddress: common.HexToAddress("0xE000000000000000000000000000000000000001"),
		Deployer:        common.HexToAddress("0xD000000000000000000000000000000000000001"),
		Fees: Fees{
			Account: common.HexToAddress("0xF000000000000000000000000000000000000001"),
			Percent: 10,
		},
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Storage: Storage{
			EventDBPath: "data/events.db",
		},
		Logging: Logging{
			File:  "data/exchange.log",
			Level: "info",
		},
		Tokens: []GenesisToken{
			{Name: "Dapp Token", Symbol: "DAPP", Supply: "1000000000000000000000000"},
			{Name: "Mock Dai", Symbol: "mDAI", Supply: "1000000000000000000000000"},
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("EXCHANGE_ADDRESS"); common.IsHexAddress(v) {
		cfg.ExchangeAddress = common.HexToAddress(v)
	}
	if v := os.Getenv("DEPLOYER"); common.IsHexAddress(v) {
		cfg.Deployer = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Fees.Account = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 64); err == nil && p <= 100 {
			cfg.Fees.Percent = p
		}
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("EVENT_DB"); v != "" {
		cfg.Storage.EventDBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	// Genesis tokens: "Name:SYMBOL:supply,Name:SYMBOL:supply"
	if v := os.Getenv("GENESIS_TOKENS"); v != "" {
		var tokens []GenesisToken
		for _, spec := range strings.Split(v, ",") {
			parts := strings.Split(spec, ":")
			if len(parts) != 3 {
				continue
			}
			tokens = append(tokens, GenesisToken{Name: parts[0], Symbol: parts[1], Supply: parts[2]})
		}
		if len(tokens) > 0 {
			cfg.Tokens = tokens
		}
	}

	return cfg
}
