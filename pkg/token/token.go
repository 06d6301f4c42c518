// Package token implements the fungible-token ledger the exchange settles
// against. Each Token keeps per-account balances and allowances with the
// standard semantics: transfers revert on insufficient funds, the zero
// address is never a valid recipient or spender, and every successful
// mutation appends a Transfer or Approval event to the shared log.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/custodex/custodex/pkg/events"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidRecipient      = errors.New("token: invalid recipient")
	ErrInvalidAmount         = errors.New("token: invalid amount")
)

// checkAmount rejects nil and negative amounts before any state is read.
// The ledger is unsigned; a negative transfer would move funds in reverse.
func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}
	return nil
}

// Decimals is the fixed-point precision of every ledger amount.
// 1.0 token unit == 10^18.
const Decimals = 18

// Token is an in-memory fungible-token ledger.
type Token struct {
	address     common.Address
	name        string
	symbol      string
	totalSupply *big.Int

	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	log *events.Log
}

// New creates a token ledger and credits the full initial supply to deployer.
func New(addr common.Address, name, symbol string, totalSupply *big.Int, deployer common.Address, log *events.Log) *Token {
	t := &Token{
		address:     addr,
		name:        name,
		symbol:      symbol,
		totalSupply: new(big.Int).Set(totalSupply),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		log:         log,
	}
	t.balances[deployer] = new(big.Int).Set(totalSupply)
	return t
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return Decimals }

func (t *Token) TotalSupply() *big.Int {
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf returns the ledger balance of account (0 if absent).
func (t *Token) BalanceOf(account common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may move out of owner's balance.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner]; ok {
		if v, ok := a[spender]; ok {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

// Transfer moves amount from `from` to `to`.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

// Approve lets spender move up to amount out of owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("approve %s for %s: %w", amount, spender, ErrInvalidRecipient)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.allowances[owner]
	if !ok {
		a = make(map[common.Address]*big.Int)
		t.allowances[owner] = a
	}
	a[spender] = new(big.Int).Set(amount)

	t.emit(ApprovalEvent{
		Token:   t.address,
		Owner:   owner,
		Spender: spender,
		Value:   new(big.Int).Set(amount),
	})
	return nil
}

// TransferFrom moves amount from `from` to `to` on behalf of spender,
// consuming spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := new(big.Int)
	if a, ok := t.allowances[from]; ok {
		if v, ok := a[spender]; ok {
			allowance = v
		}
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("transferFrom %s of %s by %s: %w", amount, t.symbol, spender, ErrInsufficientAllowance)
	}

	if err := t.transferLocked(from, to, amount); err != nil {
		return err
	}

	// Allowance shrinks only after the transfer is known to succeed.
	t.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	return nil
}

// transferLocked applies a balance move and emits Transfer. Caller holds mu.
func (t *Token) transferLocked(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer %s of %s to zero address: %w", amount, t.symbol, ErrInvalidRecipient)
	}

	bal := t.balances[from]
	if bal == nil {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s of %s from %s: %w", amount, t.symbol, from, ErrInsufficientBalance)
	}

	t.balances[from] = new(big.Int).Sub(bal, amount)
	toBal := t.balances[to]
	if toBal == nil {
		toBal = new(big.Int)
	}
	t.balances[to] = new(big.Int).Add(toBal, amount)

	t.emit(TransferEvent{
		Token: t.address,
		From:  from,
		To:    to,
		Value: new(big.Int).Set(amount),
	})
	return nil
}

func (t *Token) emit(evt events.Event) {
	if t.log == nil {
		return
	}
	// Marshal errors cannot occur for these payloads.
	_, _ = t.log.Append(evt)
}
