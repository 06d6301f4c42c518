package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order is a limit order pairing a wanted (get) amount against an offered
// (give) amount. Orders are never deleted; once Filled or Cancelled is set
// the order is terminal and stays queryable as history.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // creator (maker)
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	CreatedAt  int64          `json:"createdAt"` // unix seconds
	Filled     bool           `json:"filled"`
	Cancelled  bool           `json:"cancelled"`
}

// Open reports whether the order can still be cancelled or filled.
func (o *Order) Open() bool {
	return !o.Filled && !o.Cancelled
}

// clone returns a copy safe to hand out without holding the exchange lock.
func (o *Order) clone() Order {
	c := *o
	c.AmountGet = new(big.Int).Set(o.AmountGet)
	c.AmountGive = new(big.Int).Set(o.AmountGive)
	return c
}
