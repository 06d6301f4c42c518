// Package exchange implements the settlement core of the custodial
// multi-token exchange: custody balances per (token, account), the limit
// order book, and atomic fills with a maker/taker fee split.
//
// Every state-changing operation is serialized through one mutex and either
// fully applies or leaves state untouched. External token ledgers are
// collaborators reached through a LedgerResolver; the exchange never
// reimplements their accounting.
package exchange

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/custodex/custodex/pkg/events"
	"github.com/custodex/custodex/pkg/util"
)

// TokenLedger is the external per-asset ledger contract the exchange settles
// against. *token.Token satisfies it.
type TokenLedger interface {
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	BalanceOf(account common.Address) *big.Int
}

// LedgerResolver maps a token address to its ledger.
type LedgerResolver func(token common.Address) (TokenLedger, error)

// Config carries the immutable construction parameters.
type Config struct {
	// Address identifies the exchange itself on the external ledgers; custody
	// deposits land on this address.
	Address common.Address

	// FeeAccount receives FeePercent of every filled trade's get-amount.
	// Both are fixed for the process lifetime.
	FeeAccount common.Address
	FeePercent uint64 // whole-number percentage, 10 means 10%

	Clock  util.Clock
	Logger *zap.SugaredLogger
}

// Exchange is the single owned aggregate: custody balances, order table,
// order counter, and fee config.
type Exchange struct {
	cfg     Config
	resolve LedgerResolver
	log     *events.Log
	clock   util.Clock
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int // token -> account -> amount
	orders   map[uint64]*Order
	counter  uint64
}

func New(cfg Config, resolve LedgerResolver, log *events.Log) *Exchange {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Exchange{
		cfg:      cfg,
		resolve:  resolve,
		log:      log,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		balances: make(map[common.Address]map[common.Address]*big.Int),
		orders:   make(map[uint64]*Order),
	}
}

func (x *Exchange) Address() common.Address    { return x.cfg.Address }
func (x *Exchange) FeeAccount() common.Address { return x.cfg.FeeAccount }
func (x *Exchange) FeePercent() uint64         { return x.cfg.FeePercent }

// DepositToken pulls amount from caller's external-ledger balance into
// exchange custody. Requires a prior approval of at least amount for the
// exchange address. The ledger's Transfer event lands in the log before the
// Deposit event.
func (x *Exchange) DepositToken(tokenAddr, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("deposit: %w", ErrInvalidAmount)
	}
	ledger, err := x.resolve(tokenAddr)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// The pull happens first; on ledger failure (balance or allowance) no
	// custody state has been touched.
	if err := ledger.TransferFrom(x.cfg.Address, caller, x.cfg.Address, amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	balance := x.creditLocked(tokenAddr, caller, amount)
	x.emit(DepositEvent{
		Token:   tokenAddr,
		User:    caller,
		Amount:  new(big.Int).Set(amount),
		Balance: balance,
	})
	x.logger.Infow("deposit", "token", tokenAddr, "user", caller, "amount", amount, "balance", balance)
	return nil
}

// WithdrawToken pushes amount from exchange custody back to caller on the
// external ledger.
func (x *Exchange) WithdrawToken(tokenAddr, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("withdraw: %w", ErrInvalidAmount)
	}
	ledger, err := x.resolve(tokenAddr)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.balanceLocked(tokenAddr, caller).Cmp(amount) < 0 {
		return fmt.Errorf("withdraw %s: %w", amount, ErrInsufficientBalance)
	}

	balance := x.debitLocked(tokenAddr, caller, amount)
	if err := ledger.Transfer(x.cfg.Address, caller, amount); err != nil {
		// Conservation guarantees the exchange's external balance covers all
		// custody, so this only fires on a misbehaving ledger. Restore and
		// report.
		x.creditLocked(tokenAddr, caller, amount)
		return fmt.Errorf("withdraw: %w", err)
	}

	x.emit(WithdrawEvent{
		Token:   tokenAddr,
		User:    caller,
		Amount:  new(big.Int).Set(amount),
		Balance: balance,
	})
	x.logger.Infow("withdraw", "token", tokenAddr, "user", caller, "amount", amount, "balance", balance)
	return nil
}

// BalanceOf returns the custody balance for (token, account), 0 if absent.
func (x *Exchange) BalanceOf(tokenAddr, account common.Address) *big.Int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.balanceLocked(tokenAddr, account)
}

// MakeOrder places a limit order. The creator must hold at least amountGive
// of tokenGive in custody at call time; the amount is checked but not
// reserved, so it can be spent before the order fills. A fill against an
// order whose backing was spent fails at fill time instead.
func (x *Exchange) MakeOrder(caller, tokenGet common.Address, amountGet *big.Int, tokenGive common.Address, amountGive *big.Int) (Order, error) {
	if amountGet == nil || amountGet.Sign() < 0 || amountGive == nil || amountGive.Sign() < 0 {
		return Order{}, fmt.Errorf("make order: %w", ErrInvalidAmount)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.balanceLocked(tokenGive, caller).Cmp(amountGive) < 0 {
		return Order{}, fmt.Errorf("make order: give %s: %w", amountGive, ErrInsufficientBalance)
	}

	x.counter++
	o := &Order{
		ID:         x.counter,
		User:       caller,
		TokenGet:   tokenGet,
		AmountGet:  new(big.Int).Set(amountGet),
		TokenGive:  tokenGive,
		AmountGive: new(big.Int).Set(amountGive),
		CreatedAt:  x.clock.Now().Unix(),
	}
	x.orders[o.ID] = o

	x.emit(OrderEvent{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Timestamp:  o.CreatedAt,
	})
	x.logger.Infow("order", "id", o.ID, "user", caller,
		"tokenGet", tokenGet, "amountGet", amountGet,
		"tokenGive", tokenGive, "amountGive", amountGive)
	return o.clone(), nil
}

// CancelOrder marks caller's own open order as cancelled (terminal).
func (x *Exchange) CancelOrder(caller common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("cancel order %d: %w", id, ErrInvalidOrderID)
	}
	if o.User != caller {
		return fmt.Errorf("cancel order %d by %s: %w", id, caller, ErrUnauthorized)
	}
	if o.Filled {
		return fmt.Errorf("cancel order %d: %w", id, ErrAlreadyFilled)
	}
	if o.Cancelled {
		return fmt.Errorf("cancel order %d: %w", id, ErrAlreadyCancelled)
	}

	o.Cancelled = true

	x.emit(CancelEvent{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Timestamp:  x.clock.Now().Unix(),
	})
	x.logger.Infow("cancel", "id", id, "user", caller)
	return nil
}

// FillOrder executes a trade against one open order. The taker pays
// amountGet plus the fee in tokenGet and receives amountGive in tokenGive;
// the fee account is credited floor(amountGet*feePercent/100) in tokenGet.
// All balance moves and the filled flag apply as one atomic unit.
func (x *Exchange) FillOrder(caller common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("fill order %d: %w", id, ErrInvalidOrderID)
	}
	if o.Filled {
		return fmt.Errorf("fill order %d: %w", id, ErrAlreadyFilled)
	}
	if o.Cancelled {
		return fmt.Errorf("fill order %d: %w", id, ErrAlreadyCancelled)
	}

	fee := new(big.Int).Mul(o.AmountGet, new(big.Int).SetUint64(x.cfg.FeePercent))
	fee.Quo(fee, big.NewInt(100))
	cost := new(big.Int).Add(o.AmountGet, fee)

	// Every precondition is checked before the first balance move so a
	// failure discovered here leaves no partial settlement.
	if x.balanceLocked(o.TokenGet, caller).Cmp(cost) < 0 {
		return fmt.Errorf("fill order %d: taker needs %s: %w", id, cost, ErrInsufficientBalance)
	}
	// The creator's give-side backing was only checked at order creation and
	// may have been spent since; re-validate rather than settle partially.
	if x.balanceLocked(o.TokenGive, o.User).Cmp(o.AmountGive) < 0 {
		return fmt.Errorf("fill order %d: creator backing spent: %w", id, ErrInsufficientBalance)
	}

	x.debitLocked(o.TokenGet, caller, cost)
	x.creditLocked(o.TokenGet, o.User, o.AmountGet)
	x.creditLocked(o.TokenGet, x.cfg.FeeAccount, fee)
	x.debitLocked(o.TokenGive, o.User, o.AmountGive)
	x.creditLocked(o.TokenGive, caller, o.AmountGive)
	o.Filled = true

	x.emit(TradeEvent{
		ID:         o.ID,
		User:       caller,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Creator:    o.User,
		Timestamp:  x.clock.Now().Unix(),
	})
	x.logger.Infow("trade", "id", id, "taker", caller, "creator", o.User, "fee", fee)
	return nil
}

// OrderCount returns the number of orders ever created.
func (x *Exchange) OrderCount() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.counter
}

// OrderFilled reports whether id exists and has been filled.
func (x *Exchange) OrderFilled(id uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	o, ok := x.orders[id]
	return ok && o.Filled
}

// OrderCancelled reports whether id exists and has been cancelled.
func (x *Exchange) OrderCancelled(id uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	o, ok := x.orders[id]
	return ok && o.Cancelled
}

// Order returns a copy of the order with the given id.
func (x *Exchange) Order(id uint64) (Order, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	o, ok := x.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// Orders returns copies of all orders, oldest first.
func (x *Exchange) Orders() []Order {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Order, 0, len(x.orders))
	for _, o := range x.orders {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// balanceLocked returns a copy of the custody balance. Caller holds mu.
func (x *Exchange) balanceLocked(tokenAddr, account common.Address) *big.Int {
	if accounts, ok := x.balances[tokenAddr]; ok {
		if b, ok := accounts[account]; ok {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

// creditLocked adds amount to (token, account) and returns the new balance.
func (x *Exchange) creditLocked(tokenAddr, account common.Address, amount *big.Int) *big.Int {
	accounts, ok := x.balances[tokenAddr]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		x.balances[tokenAddr] = accounts
	}
	b, ok := accounts[account]
	if !ok {
		b = new(big.Int)
	}
	accounts[account] = new(big.Int).Add(b, amount)
	return new(big.Int).Set(accounts[account])
}

// debitLocked subtracts amount from (token, account) and returns the new
// balance. Callers must have verified the balance covers the amount; a
// missing entry counts as zero, so a zero debit against an untouched
// account settles to zero.
func (x *Exchange) debitLocked(tokenAddr, account common.Address, amount *big.Int) *big.Int {
	accounts, ok := x.balances[tokenAddr]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		x.balances[tokenAddr] = accounts
	}
	b, ok := accounts[account]
	if !ok {
		b = new(big.Int)
	}
	accounts[account] = new(big.Int).Sub(b, amount)
	return new(big.Int).Set(accounts[account])
}

func (x *Exchange) emit(evt events.Event) {
	if x.log == nil {
		return
	}
	if _, err := x.log.Append(evt); err != nil {
		x.logger.Errorw("event_append_failed", "type", evt.Type(), "err", err)
	}
}
