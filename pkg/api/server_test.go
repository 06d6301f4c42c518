package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/custodex/custodex/pkg/events"
	"github.com/custodex/custodex/pkg/exchange"
	"github.com/custodex/custodex/pkg/token"
	"github.com/custodex/custodex/pkg/util"
)

var (
	deployer     = common.HexToAddress("0xD000000000000000000000000000000000000001")
	feeAccount   = common.HexToAddress("0xF000000000000000000000000000000000000001")
	exchangeAddr = common.HexToAddress("0xE000000000000000000000000000000000000001")
	user1        = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	user2        = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type testEnv struct {
	server *Server
	reg    *token.Registry
	ex     *exchange.Exchange
	token1 *token.Token
	token2 *token.Token
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	elog := events.NewLog(util.NewManualClock(time.Unix(1_700_000_000, 0)))
	reg := token.NewRegistry(elog)

	token1, err := reg.Deploy("Dapp Token", "DAPP", units(1_000_000), deployer)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	token2, err := reg.Deploy("Mock Dai", "mDAI", units(1_000_000), deployer)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	ex := exchange.New(exchange.Config{
		Address:    exchangeAddr,
		FeeAccount: feeAccount,
		FeePercent: 10,
	}, func(addr common.Address) (exchange.TokenLedger, error) {
		return reg.Get(addr)
	}, elog)

	if err := token1.Transfer(deployer, user1, units(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := token2.Transfer(deployer, user2, units(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	return &testEnv{
		server: NewServer(ex, reg, elog, nil),
		reg:    reg,
		ex:     ex,
		token1: token1,
		token2: token2,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleGetConfig(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ConfigResponse
	decodeInto(t, w, &resp)
	if resp.FeePercent != 10 {
		t.Errorf("feePercent = %d, want 10", resp.FeePercent)
	}
	if common.HexToAddress(resp.FeeAccount) != feeAccount {
		t.Errorf("feeAccount = %s", resp.FeeAccount)
	}
}

func TestHandleGetTokens(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/tokens", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp []TokenInfo
	decodeInto(t, w, &resp)
	if len(resp) != 2 {
		t.Errorf("got %d tokens, want 2", len(resp))
	}
}

func TestHandleDeposit(t *testing.T) {
	env := newTestServer(t)
	if err := env.token1.Approve(user1, exchangeAddr, units(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/deposits", DepositRequest{
		Token:  env.token1.Address().Hex(),
		User:   user1.Hex(),
		Amount: units(10).String(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp BalanceResponse
	decodeInto(t, w, &resp)
	if resp.Balance != units(10).String() {
		t.Errorf("balance = %s, want %s", resp.Balance, units(10))
	}
	if env.ex.BalanceOf(env.token1.Address(), user1).Cmp(units(10)) != 0 {
		t.Error("custody balance not updated")
	}
}

func TestHandleDepositWithoutApproval(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/deposits", DepositRequest{
		Token:  env.token1.Address().Hex(),
		User:   user1.Hex(),
		Amount: units(10).String(),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestHandleOrderLifecycle(t *testing.T) {
	env := newTestServer(t)

	// Deposit backing for both sides through the ledger directly.
	if err := env.token1.Approve(user1, exchangeAddr, units(1)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := env.ex.DepositToken(env.token1.Address(), user1, units(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.token2.Approve(user2, exchangeAddr, units(2)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := env.ex.DepositToken(env.token2.Address(), user2, units(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Place the order over HTTP.
	w := env.do(t, http.MethodPost, "/api/v1/orders", OrderRequest{
		User:       user1.Hex(),
		TokenGet:   env.token2.Address().Hex(),
		AmountGet:  units(1).String(),
		TokenGive:  env.token1.Address().Hex(),
		AmountGive: units(1).String(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var created OrderInfo
	decodeInto(t, w, &created)
	if created.ID != 1 {
		t.Errorf("order id = %d, want 1", created.ID)
	}

	// A stranger cannot cancel it.
	w = env.do(t, http.MethodPost, "/api/v1/orders/1/cancel", OrderActionRequest{User: user2.Hex()})
	if w.Code != http.StatusForbidden {
		t.Errorf("cancel status = %d, want 403", w.Code)
	}

	// The taker fills it.
	w = env.do(t, http.MethodPost, "/api/v1/orders/1/fill", OrderActionRequest{User: user2.Hex()})
	if w.Code != http.StatusOK {
		t.Fatalf("fill status = %d, body = %s", w.Code, w.Body)
	}
	var filled OrderInfo
	decodeInto(t, w, &filled)
	if !filled.Filled {
		t.Error("order not marked filled")
	}

	// A repeat fill conflicts.
	w = env.do(t, http.MethodPost, "/api/v1/orders/1/fill", OrderActionRequest{User: user2.Hex()})
	if w.Code != http.StatusConflict {
		t.Errorf("repeat fill status = %d, want 409", w.Code)
	}
}

func TestHandleFillUnknownOrder(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/orders/9999/fill", OrderActionRequest{User: user2.Hex()})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleGetBalanceBadAddress(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/balances/nonsense/alsononsense", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleGetEvents(t *testing.T) {
	env := newTestServer(t)
	if err := env.token1.Approve(user1, exchangeAddr, units(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := env.ex.DepositToken(env.token1.Address(), user1, units(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var recs []events.Record
	decodeInto(t, w, &recs)
	// Two seed Transfers, then Approval, Transfer, Deposit.
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}
	if recs[3].Type != "Transfer" || recs[4].Type != "Deposit" {
		t.Errorf("order = %s, %s; want Transfer, Deposit", recs[3].Type, recs[4].Type)
	}
}
