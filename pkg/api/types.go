package api

// Request and response types for REST endpoints and WebSocket messages.
// Amounts travel as decimal strings in base units (18 decimals); addresses
// are EIP-55 checksummed hex.

type ConfigResponse struct {
	Exchange   string `json:"exchange"`
	FeeAccount string `json:"feeAccount"`
	FeePercent uint64 `json:"feePercent"`
}

type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

type BalanceResponse struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type OrderInfo struct {
	ID         uint64 `json:"id"`
	User       string `json:"user"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	CreatedAt  int64  `json:"createdAt"`
	Filled     bool   `json:"filled"`
	Cancelled  bool   `json:"cancelled"`
}

type DepositRequest struct {
	Token  string `json:"token"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type WithdrawRequest struct {
	Token  string `json:"token"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type OrderRequest struct {
	User       string `json:"user"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
}

// OrderActionRequest identifies the caller of a cancel or fill.
type OrderActionRequest struct {
	User string `json:"user"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// WSSubscribeRequest is the client -> server subscription control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEventMessage wraps an event-log record for the stream.
type WSEventMessage struct {
	Channel string `json:"channel"`
	Seq     uint64 `json:"seq"`
	Time    int64  `json:"time"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
