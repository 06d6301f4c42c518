// Package api exposes the exchange over REST and streams the event log over
// WebSocket. The HTTP layer is a thin adapter: it parses addresses and
// amounts, delegates to the exchange, and maps the failure taxonomy onto
// status codes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/custodex/custodex/pkg/crypto"
	"github.com/custodex/custodex/pkg/events"
	"github.com/custodex/custodex/pkg/exchange"
	"github.com/custodex/custodex/pkg/token"
)

// channelFor maps an event type to its stream channel.
var channelFor = map[string]string{
	"Transfer": "transfers",
	"Approval": "approvals",
	"Deposit":  "deposits",
	"Withdraw": "withdrawals",
	"Order":    "orders",
	"Cancel":   "cancels",
	"Trade":    "trades",
}

type Server struct {
	ex     *exchange.Exchange
	reg    *token.Registry
	log    *events.Log
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

func NewServer(ex *exchange.Exchange, reg *token.Registry, log *events.Log, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		ex:     ex,
		reg:    reg,
		log:    log,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Reads
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{address}", s.handleGetToken).Methods("GET")
	api.HandleFunc("/balances/{token}/{account}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// State-changing operations
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server and the event stream; it blocks.
func (s *Server) Start(addr string, allowedOrigins []string) error {
	go s.hub.Run()
	go s.streamEvents()

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.logger.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// streamEvents forwards event-log records to websocket subscribers.
func (s *Server) streamEvents() {
	for rec := range s.log.Subscribe(1024) {
		channel, ok := channelFor[rec.Type]
		if !ok {
			continue
		}
		var payload any
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			continue
		}
		msg := WSEventMessage{
			Channel: channel,
			Seq:     rec.Seq,
			Time:    rec.Time,
			Type:    rec.Type,
			Payload: payload,
		}
		s.hub.BroadcastToChannel(channel, msg)
	}
}

// ---- handlers ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConfigResponse{
		Exchange:   crypto.ChecksumAddress(s.ex.Address()),
		FeeAccount: crypto.ChecksumAddress(s.ex.FeeAccount()),
		FeePercent: s.ex.FeePercent(),
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.reg.List()
	out := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenInfo(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.reg.Get(addr)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenInfo(t))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tokenAddr, err := parseAddress(vars["token"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAddress(vars["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Token:   crypto.ChecksumAddress(tokenAddr),
		Account: crypto.ChecksumAddress(account),
		Balance: s.ex.BalanceOf(tokenAddr, account).String(),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.ex.Orders()
	out := make([]OrderInfo, 0, len(orders))
	for i := range orders {
		out = append(out, orderInfo(&orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, ok := s.ex.Order(id)
	if !ok {
		writeError(w, http.StatusNotFound, exchange.ErrInvalidOrderID)
		return
	}
	writeJSON(w, http.StatusOK, orderInfo(&o))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	from := uint64(1)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from: %q", v))
			return
		}
		from = parsed
	}
	writeJSON(w, http.StatusOK, s.log.RecordsFrom(from))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenAddr, user, amount, err := parseMove(req.Token, req.User, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ex.DepositToken(tokenAddr, user, amount); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Token:   crypto.ChecksumAddress(tokenAddr),
		Account: crypto.ChecksumAddress(user),
		Balance: s.ex.BalanceOf(tokenAddr, user).String(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenAddr, user, amount, err := parseMove(req.Token, req.User, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ex.WithdrawToken(tokenAddr, user, amount); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Token:   crypto.ChecksumAddress(tokenAddr),
		Account: crypto.ChecksumAddress(user),
		Balance: s.ex.BalanceOf(tokenAddr, user).String(),
	})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenGet, err := parseAddress(req.TokenGet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenGive, err := parseAddress(req.TokenGive)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountGet, err := parseAmount(req.AmountGet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountGive, err := parseAmount(req.AmountGive)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := s.ex.MakeOrder(user, tokenGet, amountGet, tokenGive, amountGive)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderInfo(&o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, user, err := s.parseOrderAction(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ex.CancelOrder(user, id); err != nil {
		writeFailure(w, err)
		return
	}
	o, _ := s.ex.Order(id)
	writeJSON(w, http.StatusOK, orderInfo(&o))
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, user, err := s.parseOrderAction(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ex.FillOrder(user, id); err != nil {
		writeFailure(w, err)
		return
	}
	o, _ := s.ex.Order(id)
	writeJSON(w, http.StatusOK, orderInfo(&o))
}

func (s *Server) parseOrderAction(r *http.Request) (uint64, common.Address, error) {
	id, err := parseOrderID(mux.Vars(r)["id"])
	if err != nil {
		return 0, common.Address{}, err
	}
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, common.Address{}, err
	}
	user, err := parseAddress(req.User)
	if err != nil {
		return 0, common.Address{}, err
	}
	return id, user, nil
}

// ---- helpers ----

func tokenInfo(t *token.Token) TokenInfo {
	return TokenInfo{
		Address:     crypto.ChecksumAddress(t.Address()),
		Name:        t.Name(),
		Symbol:      t.Symbol(),
		Decimals:    t.Decimals(),
		TotalSupply: t.TotalSupply().String(),
	}
}

func orderInfo(o *exchange.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		User:       crypto.ChecksumAddress(o.User),
		TokenGet:   crypto.ChecksumAddress(o.TokenGet),
		AmountGet:  o.AmountGet.String(),
		TokenGive:  crypto.ChecksumAddress(o.TokenGive),
		AmountGive: o.AmountGive.String(),
		CreatedAt:  o.CreatedAt,
		Filled:     o.Filled,
		Cancelled:  o.Cancelled,
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	return v, nil
}

func parseOrderID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id: %q", s)
	}
	return id, nil
}

func parseMove(tokenStr, userStr, amountStr string) (common.Address, common.Address, *big.Int, error) {
	tokenAddr, err := parseAddress(tokenStr)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	user, err := parseAddress(userStr)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	return tokenAddr, user, amount, nil
}

// writeFailure maps the failure taxonomy onto HTTP status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrInvalidOrderID), errors.Is(err, token.ErrUnknownToken):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, exchange.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, exchange.ErrAlreadyFilled), errors.Is(err, exchange.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInvalidRecipient),
		errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Router exposes the underlying mux for tests.
func (s *Server) Router() http.Handler { return s.router }
