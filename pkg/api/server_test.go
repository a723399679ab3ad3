package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/carbonledger/pkg/abci"
	"github.com/uhyunpark/carbonledger/pkg/app/carbon"
	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
	"github.com/uhyunpark/carbonledger/pkg/app/core/transaction"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

var (
	minter = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob    = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func tok(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), token.Unit) }

type fixture struct {
	t      *testing.T
	ledger *ledger.Ledger
	app    *carbon.App
	srv    *Server
	h      http.Handler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := util.NewManualClock(time.Unix(1_730_000_000, 0))
	store, err := ledger.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	l, err := ledger.Open(ledger.Config{Clock: clock}, store)
	require.NoError(t, err)

	app := carbon.NewApp(l, carbon.Config{MempoolSize: 10, Clock: clock})
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	cfg.Minter = minter
	cfg.Clock = clock
	srv := NewServer(l, app, cfg)
	l.SetHooks(srv.LedgerHooks())
	return &fixture{t: t, ledger: l, app: app, srv: srv, h: srv.Handler()}
}

func (f *fixture) token(addr common.Address) string {
	f.t.Helper()
	tok, _, err := f.srv.Auth().Issue(addr)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) do(method, path string, as *common.Address, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(*as))
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// fund mints through the API and approves the escrow for the full balance.
// Plain integers are wei, so amounts are written with a decimal point.
func (f *fixture) fund(who common.Address, asset string, amount string) {
	f.t.Helper()
	m := minter
	rec := f.do(http.MethodPost, "/api/v1/mint", &m, MintRequest{Asset: asset, To: who.Hex(), Amount: amount})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/api/v1/accounts/approve", &who, ApproveRequest{Asset: asset, Amount: amount})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
}

func ptr(a common.Address) *common.Address { return &a }

func TestHealthAndNextIDs(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil, nil).Code)

	rec := f.do(http.MethodGet, "/api/v1/orders/next", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(0), decode[map[string]uint64](t, rec)["nextOrderId"])

	rec = f.do(http.MethodGet, "/api/v1/listings/next", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(0), decode[map[string]uint64](t, rec)["nextListingId"])
}

func TestMintRequiresMinter(t *testing.T) {
	f := newFixture(t, Config{})
	body := MintRequest{Asset: "base", To: alice.Hex(), Amount: "5"}

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/v1/mint", nil, body).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/mint", ptr(bob), body).Code)

	rec := f.do(http.MethodPost, "/api/v1/mint", ptr(minter), MintRequest{Asset: "base", To: alice.Hex(), Amount: "5 cct"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bal := decode[AssetBalance](t, rec)
	assert.Equal(t, "CCT", bal.Symbol)
	assert.Equal(t, tok(5).String(), bal.Balance)
	assert.Equal(t, "5", bal.BalanceEther)
}

func TestPlaceAndMatchOrders(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(alice, "base", "10.0")
	f.fund(bob, "quote", "30.0")

	rec := f.do(http.MethodPost, "/api/v1/orders", ptr(alice), PlaceOrderRequest{Side: "sell", Amount: "10.0", Price: "2.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sell := decode[PlaceOrderResponse](t, rec)
	assert.Equal(t, "open", sell.Order.Status)
	assert.Equal(t, "2.5", sell.Order.PriceEther)
	assert.Empty(t, sell.Trades)

	rec = f.do(http.MethodPost, "/api/v1/orders", ptr(bob), PlaceOrderRequest{Side: "buy", Amount: "4.0", Price: "3.0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	buy := decode[PlaceOrderResponse](t, rec)
	assert.Equal(t, "filled", buy.Order.Status)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, "2.5", buy.Trades[0].PriceEther, "executes at the resting price")
	assert.Equal(t, "4", buy.Trades[0].AmountEther)

	rec = f.do(http.MethodGet, "/api/v1/orders/0", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	o := decode[OrderInfo](t, rec)
	assert.Equal(t, "partially_filled", o.Status)
	assert.Equal(t, "6", o.AmountEther)

	rec = f.do(http.MethodGet, "/api/v1/orderbook?depth=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[OrderbookSnapshot](t, rec)
	assert.Empty(t, book.Bids)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "6", book.Asks[0].SizeEther)

	rec = f.do(http.MethodGet, "/api/v1/trades?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TradeInfo](t, rec), 1)

	rec = f.do(http.MethodGet, "/api/v1/traders/"+bob.Hex()+"/reputation", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[ReputationInfo](t, rec)
	assert.Equal(t, uint64(1), rep.Total)
	assert.Equal(t, uint64(1), rep.Successful)

	rec = f.do(http.MethodGet, "/api/v1/accounts/"+bob.Hex()+"/balances", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bals := decode[BalancesInfo](t, rec)
	assert.Equal(t, "4", bals.Base.BalanceEther)
	assert.Equal(t, "20", bals.Quote.BalanceEther)

	rec = f.do(http.MethodGet, "/api/v1/traders/"+alice.Hex()+"/orders", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]OrderInfo](t, rec), 1)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(alice, "base", "10.0")

	tests := []struct {
		name   string
		method string
		path   string
		as     *common.Address
		body   interface{}
		want   int
	}{
		{"zero amount", http.MethodPost, "/api/v1/orders", ptr(alice), PlaceOrderRequest{Side: "sell", Amount: "0", Price: "1.0"}, http.StatusBadRequest},
		{"bad side", http.MethodPost, "/api/v1/orders", ptr(alice), PlaceOrderRequest{Side: "hold", Amount: "1.0", Price: "1.0"}, http.StatusBadRequest},
		{"bad number", http.MethodPost, "/api/v1/orders", ptr(alice), PlaceOrderRequest{Side: "sell", Amount: "ten", Price: "1.0"}, http.StatusBadRequest},
		{"no quote", http.MethodPost, "/api/v1/orders", ptr(bob), PlaceOrderRequest{Side: "buy", Amount: "1.0", Price: "1.0"}, http.StatusPaymentRequired},
		{"unknown order", http.MethodGet, "/api/v1/orders/42", nil, nil, http.StatusNotFound},
		{"bad address", http.MethodGet, "/api/v1/traders/0x123/reputation", nil, nil, http.StatusBadRequest},
		{"cancel unauthenticated", http.MethodDelete, "/api/v1/orders/0", nil, nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.as, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(alice, "base", "10.0")
	rec := f.do(http.MethodPost, "/api/v1/orders", ptr(alice), PlaceOrderRequest{Side: "sell", Amount: "10.0", Price: "1.0"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodDelete, "/api/v1/orders/0", ptr(bob), nil).Code)

	rec = f.do(http.MethodDelete, "/api/v1/orders/0", ptr(alice), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[OrderInfo](t, rec).Status)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodDelete, "/api/v1/orders/0", ptr(alice), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/orders/7", ptr(alice), nil).Code)
	assert.Equal(t, tok(10).String(), f.ledger.BalanceOf(ledger.Base, alice).String())
}

func TestListings(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(alice, "base", "10.0")
	f.fund(bob, "quote", "5.0")

	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodPost, "/api/v1/listings", nil, CreateListingRequest{Amount: "10.0", PricePerToken: "2.0"}).Code)

	rec := f.do(http.MethodPost, "/api/v1/listings", ptr(alice), CreateListingRequest{Amount: "10.0", PricePerToken: "2.0"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ListingInfo](t, rec)
	assert.True(t, created.Available)

	rec = f.do(http.MethodPost, "/api/v1/listings/0/buy", ptr(bob), BuyListingRequest{Value: "3.0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[PurchaseResponse](t, rec)
	assert.Equal(t, "1.5", p.Trade.AmountEther)
	assert.Equal(t, "3", p.SpentEther)
	assert.Equal(t, "8.5", p.Listing.AmountEther)

	rec = f.do(http.MethodGet, "/api/v1/listings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ListingInfo](t, rec), 1)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodDelete, "/api/v1/listings/0", ptr(bob), nil).Code)
	rec = f.do(http.MethodDelete, "/api/v1/listings/0", ptr(alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ListingInfo](t, rec).Cancelled)

	rec = f.do(http.MethodGet, "/api/v1/listings/0", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ListingInfo](t, rec).Available)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/listings/0/buy", ptr(bob), BuyListingRequest{Value: "1.0"}).Code)
}

func TestSignedTransactionFlow(t *testing.T) {
	f := newFixture(t, Config{})
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	f.fund(key.Address(), "base", "3.0")

	tx, err := transaction.NewBuilder(crypto.DefaultDomain(), key).PlaceOrder(ledger.Sell, tok(3), tok(1), 1, 0)
	require.NoError(t, err)
	raw, err := tx.Serialize()
	require.NoError(t, err)

	// no session: POST /orders takes the signed form
	rec := f.do(http.MethodPost, "/api/v1/orders", nil, raw)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	queued := decode[SubmitTxResponse](t, rec)
	assert.Equal(t, "queued", queued.Status)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/tx", nil, raw).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/tx/"+queued.Hash, nil, nil).Code)

	prop := f.app.PrepareProposal(abci.RequestPrepareProposal{Height: 1})
	_, err = f.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 1_730_000_000, Txs: prop.Txs})
	require.NoError(t, err)

	rec = f.do(http.MethodGet, "/api/v1/tx/"+queued.Hash, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[abci.TxResult](t, rec)
	assert.Equal(t, carbon.CodeOK, res.Code)
	require.NotNil(t, res.OrderID)

	rec = f.do(http.MethodGet, "/api/v1/chain/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[ChainStatus](t, rec)
	assert.Equal(t, int64(1), st.Height)
	assert.Equal(t, "31337", st.ChainID)

	rec = f.do(http.MethodGet, "/api/v1/accounts/"+key.Address().Hex()+"/nonce", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(2), decode[NonceInfo](t, rec).Next)

	// replay is refused once the nonce is spent
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/tx", nil, raw).Code)
	tx.Order.Amount = tok(1).String()
	tampered, err := tx.Serialize()
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/tx", nil, tampered).Code)
}

func TestWalletLogin(t *testing.T) {
	f := newFixture(t, Config{})
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := key.Address()

	// login without a challenge
	rec := f.do(http.MethodPost, "/api/v1/auth/login", nil, LoginRequest{Address: addr.Hex(), Signature: "0x00"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/auth/challenge", nil, ChallengeRequest{Address: addr.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)
	msg := decode[ChallengeResponse](t, rec).Message
	assert.Contains(t, msg, addr.Hex())

	sig, err := key.SignPersonal([]byte(msg))
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/api/v1/auth/login", nil, LoginRequest{Address: addr.Hex(), Signature: "0x" + common.Bytes2Hex(sig)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[LoginResponse](t, rec)

	got, err := f.srv.Auth().Validate(login.Token)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	// the challenge is single use
	rec = f.do(http.MethodPost, "/api/v1/auth/login", nil, LoginRequest{Address: addr.Hex(), Signature: "0x" + common.Bytes2Hex(sig)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a token signed with another secret is refused
	other := NewAuth("other-secret", time.Hour, nil)
	forged, _, err := other.Issue(addr)
	require.NoError(t, err)
	_, err = f.srv.Auth().Validate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, RateBurst: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(http.MethodGet, "/health", nil, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.0.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
}

func TestRateLimitClientKey(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.NoError(t, rl.TrustProxies([]string{"10.0.0.0/8", "192.168.1.4"}))
	require.Error(t, rl.TrustProxies([]string{"proxy.local"}))

	tests := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"untrusted peer", "203.0.113.9:5000", []string{"1.2.3.4"}, "203.0.113.9"},
		{"trusted peer without header", "10.0.0.1:5000", nil, "10.0.0.1"},
		{"trusted peer", "10.0.0.1:5000", []string{"1.2.3.4"}, "1.2.3.4"},
		{"exact trusted ip", "192.168.1.4:80", []string{"1.2.3.4"}, "1.2.3.4"},
		{"spoofed left hops", "10.0.0.1:5000", []string{"6.6.6.6, 1.2.3.4, 10.0.0.2"}, "1.2.3.4"},
		{"repeated headers", "10.0.0.1:5000", []string{"6.6.6.6", "1.2.3.4"}, "1.2.3.4"},
		{"only proxies", "10.0.0.1:5000", []string{"10.0.0.5, 10.0.0.2"}, "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, rl.clientKey(req))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.do(http.MethodGet, "/api/v1/orders/next", nil, nil)

	rec := f.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "carbon_api_requests_total")
	assert.Contains(t, body, `route="/api/v1/orders/next"`)
}

func TestWebSocketTradeFeed(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(alice, "base", "1.0")
	f.fund(bob, "quote", "1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.Hub().Run(ctx)

	ts := httptest.NewServer(f.h)
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"trades:" + bob.Hex()}}))
	var ack WSMessage
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)

	_, err = f.ledger.PlaceOrder(alice, tok(1), tok(1), ledger.Sell)
	require.NoError(t, err)
	_, err = f.ledger.PlaceOrder(bob, tok(1), tok(1), ledger.Buy)
	require.NoError(t, err)

	var msg struct {
		Type    string    `json:"type"`
		Channel string    `json:"channel"`
		Data    TradeInfo `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "trade", msg.Type)
	assert.Equal(t, "trades:"+strings.ToLower(bob.Hex()), msg.Channel)
	assert.Equal(t, bob.Hex(), msg.Data.Buyer)
	assert.Equal(t, "1", msg.Data.AmountEther)
}

func TestHubShutdownDropsClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	c := &Client{hub: hub, send: make(chan []byte, 1), subscriptions: make(map[string]bool)}
	require.True(t, hub.add(c))
	require.Equal(t, 1, hub.Clients())

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	// a subscribe frame racing shutdown must not write to the closed channel
	require.NotPanics(t, func() { c.ack("subscribe", []string{"trades"}) })
	_, open := <-c.send
	assert.False(t, open)

	removed := make(chan struct{})
	go func() {
		hub.remove(c)
		close(removed)
	}()
	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("remove blocked after shutdown")
	}

	late := &Client{hub: hub, send: make(chan []byte, 1), subscriptions: make(map[string]bool)}
	assert.False(t, hub.add(late))
	assert.Equal(t, 0, hub.Clients())
}

func TestChallengesExpireAndAreCapped(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_730_000_000, 0))
	a := NewAuth("test-secret", time.Hour, clock)
	a.maxPending = 3
	addr := func(i int64) common.Address { return common.BigToAddress(big.NewInt(i + 1)) }

	for i := int64(0); i < 3; i++ {
		_, err := a.Challenge(addr(i))
		require.NoError(t, err)
	}
	_, err := a.Challenge(addr(3))
	require.ErrorIs(t, err, ErrTooManyChallenges)
	// a pending address may always ask again
	_, err = a.Challenge(addr(0))
	require.NoError(t, err)
	assert.Equal(t, 3, a.Pending())

	clock.Advance(challengeTTL + time.Second)
	_, err = a.Challenge(addr(3))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Pending())

	clock.Advance(challengeTTL + time.Second)
	a.Prune()
	assert.Equal(t, 0, a.Pending())
}

func TestChallengeEndpointBusy(t *testing.T) {
	f := newFixture(t, Config{})
	f.srv.Auth().maxPending = 1

	rec := f.do(http.MethodPost, "/api/v1/auth/challenge", nil, ChallengeRequest{Address: alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/api/v1/auth/challenge", nil, ChallengeRequest{Address: bob.Hex()})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestPlaceOrderRejectsBadSession(t *testing.T) {
	f := newFixture(t, Config{SessionTTL: time.Minute})
	f.fund(alice, "base", "1.0")
	body := PlaceOrderRequest{Side: "sell", Amount: "1.0", Price: "1.0"}
	expired := f.token(alice)
	f.srv.cfg.Clock.(*util.ManualClock).Advance(2 * time.Minute)

	for name, header := range map[string]string{
		"garbage": "Bearer not-a-token",
		"expired": "Bearer " + expired,
		"scheme":  "Basic YWxpY2U6cHc=",
	} {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(data))
			req.Header.Set("Authorization", header)
			rec := httptest.NewRecorder()
			f.h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
			assert.Equal(t, "unauthenticated", decode[ErrorResponse](t, rec).Error)
		})
	}
	assert.Empty(t, f.ledger.OrdersByTrader(alice))
}
