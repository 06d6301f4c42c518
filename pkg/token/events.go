package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEvent is appended on every successful Transfer/TransferFrom.
type TransferEvent struct {
	Token common.Address `json:"token"`
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

func (TransferEvent) Type() string { return "Transfer" }

// ApprovalEvent is appended on every successful Approve.
type ApprovalEvent struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *big.Int       `json:"value"`
}

func (ApprovalEvent) Type() string { return "Approval" }
