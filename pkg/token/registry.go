package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/custodex/custodex/pkg/crypto"
	"github.com/custodex/custodex/pkg/events"
)

var ErrUnknownToken = errors.New("token: unknown token")

// Registry manages the deployed token ledgers, keyed by address.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
	log    *events.Log
}

func NewRegistry(log *events.Log) *Registry {
	return &Registry{
		tokens: make(map[common.Address]*Token),
		log:    log,
	}
}

// Deploy creates a token ledger with a deterministic address derived from
// the deployer and symbol, and credits the full supply to the deployer.
func (r *Registry) Deploy(name, symbol string, totalSupply *big.Int, deployer common.Address) (*Token, error) {
	addr := DeriveAddress(deployer, symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[addr]; exists {
		return nil, fmt.Errorf("token %s already deployed at %s", symbol, addr)
	}

	t := New(addr, name, symbol, totalSupply, deployer, r.log)
	r.tokens[addr] = t
	return t, nil
}

// Get returns the token ledger at addr.
func (r *Registry) Get(addr common.Address) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr)
	}
	return t, nil
}

// List returns all deployed tokens.
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}

// DeriveAddress computes the ledger address for a deployment,
// keccak256(deployer || symbol) truncated to 20 bytes.
func DeriveAddress(deployer common.Address, symbol string) common.Address {
	sum := crypto.Keccak256(deployer[:], []byte(symbol))
	return common.BytesToAddress(sum[12:])
}
