package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/carbonledger/pkg/app/carbon"
	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/consensus"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/units"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

const (
	maxBodyBytes   = 1 << 20
	defaultDepth   = 20
	defaultTrades  = 50
	maxQueryLimit  = 1000
	shutdownGrace  = 5 * time.Second
	visitorIdle    = 3 * time.Minute
	visitorSweep   = time.Minute
	readHeaderWait = 5 * time.Second
)

type Config struct {
	Addr           string
	AllowedOrigins []string
	JWTSecret      string
	SessionTTL     time.Duration
	RateLimit      float64 // per client per second, 0 disables
	RateBurst      int
	TrustedProxies []string       // IPs or CIDRs whose X-Forwarded-For is honoured
	Minter         common.Address // zero disables POST /mint
	Clock          util.Clock
	Logger         *zap.SugaredLogger
}

// Chain is the sequencer view the status endpoint reports
type Chain interface {
	Head() (consensus.Height, consensus.Hash)
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg     Config
	ledger  *ledger.Ledger
	app     *carbon.App // nil disables the signed-tx routes
	chain   Chain
	peers   func() int
	router  *mux.Router
	hub     *Hub
	auth    *Auth
	limiter *RateLimiter
	metrics *Metrics
	log     *zap.SugaredLogger
}

func NewServer(l *ledger.Ledger, app *carbon.App, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	s := &Server{
		cfg:     cfg,
		ledger:  l,
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(cfg.Logger),
		auth:    NewAuth(cfg.JWTSecret, cfg.SessionTTL, cfg.Clock),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics: NewMetrics(),
		log:     cfg.Logger,
	}
	if err := s.limiter.TrustProxies(cfg.TrustedProxies); err != nil {
		s.log.Warnw("trusted_proxies_ignored", "err", err)
	}
	s.hub.onCount = func(n int) { s.metrics.wsConns.Set(float64(n)) }
	s.setupRoutes()
	return s
}

// SetChain attaches the sequencer and peer count reported by /chain/status
func (s *Server) SetChain(c Chain, peers func() int) {
	s.chain = c
	s.peers = peers
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Auth() *Auth { return s.auth }

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) setupRoutes() {
	s.router.Use(s.metrics.Middleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Orders
	api.HandleFunc("/orders/next", s.handleNextOrderID).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id:[0-9]+}", s.auth.Require(s.handleCancelOrder)).Methods(http.MethodDelete)

	// Traders and accounts
	api.HandleFunc("/traders/{address}/reputation", s.handleGetReputation).Methods(http.MethodGet)
	api.HandleFunc("/traders/{address}/orders", s.handleGetTraderOrders).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods(http.MethodGet)
	api.HandleFunc("/accounts/approve", s.auth.Require(s.handleApprove)).Methods(http.MethodPost)
	api.HandleFunc("/mint", s.auth.Require(s.handleMint)).Methods(http.MethodPost)

	// Market data
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleGetTrades).Methods(http.MethodGet)

	// Listings
	api.HandleFunc("/listings", s.handleGetListings).Methods(http.MethodGet)
	api.HandleFunc("/listings/next", s.handleNextListingID).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id:[0-9]+}", s.handleGetListing).Methods(http.MethodGet)
	api.HandleFunc("/listings", s.auth.Require(s.handleCreateListing)).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id:[0-9]+}/buy", s.auth.Require(s.handleBuyListing)).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id:[0-9]+}", s.auth.Require(s.handleCancelListing)).Methods(http.MethodDelete)

	// Signed transactions and chain
	api.HandleFunc("/tx", s.handleSubmitTx).Methods(http.MethodPost)
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods(http.MethodGet)
	api.HandleFunc("/chain/status", s.handleChainStatus).Methods(http.MethodGet)

	// Wallet sessions
	api.HandleFunc("/auth/challenge", s.handleChallenge).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// Handler is the full middleware stack: CORS, rate limiting, then routing.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.limiter.Middleware(s.router))
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.limiter.Cleanup(ctx, visitorSweep, visitorIdle)
	go s.auth.Cleanup(ctx, visitorSweep)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderWait,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		s.log.Infow("api_stopped")
		return nil
	}
}

// ==============================
// Request helpers
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", err.Error())
		return 0, false
	}
	return id, true
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := crypto.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	if v > maxQueryLimit {
		return maxQueryLimit
	}
	return v
}

// parseAmount reports malformed numbers as invalid orders so they map to 400
func parseAmount(field, s string) (*big.Int, error) {
	v, err := units.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrInvalidOrder, field, err)
	}
	return v, nil
}

func parseSide(s string) (ledger.Side, error) {
	side, err := crypto.SideFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ledger.ErrInvalidOrder, err)
	}
	if side == crypto.SideSell {
		return ledger.Sell, nil
	}
	return ledger.Buy, nil
}

// ==============================
// Order handlers
// ==============================

func (s *Server) handleNextOrderID(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]uint64{"nextOrderId": s.ledger.NextOrderID()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := s.ledger.GetOrderDetails(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, newOrderInfo(o))
}

// handlePlaceOrder places directly for a session holder; without a session the
// body must be a signed transaction, which is queued for the next block.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		s.handleSubmitTx(w, r)
		return
	}
	caller, ok := s.auth.bearer(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "a valid bearer token is required")
		return
	}

	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondErr(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		respondErr(w, err)
		return
	}

	p, err := s.ledger.Place(caller, amount, price, side)
	if err != nil {
		respondErr(w, err)
		return
	}
	resp := PlaceOrderResponse{Order: newOrderInfo(&p.Order), Trades: make([]TradeInfo, 0, len(p.Trades))}
	for _, t := range p.Trades {
		resp.Trades = append(resp.Trades, newTradeInfo(t))
	}
	respondJSON(w, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.CancelOrder(id, callerFrom(r.Context())); err != nil {
		respondErr(w, err)
		return
	}
	o, err := s.ledger.GetOrderDetails(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, newOrderInfo(o))
}

// ==============================
// Trader and account handlers
// ==============================

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	rep := s.ledger.GetUserReputation(addr)
	respondJSON(w, ReputationInfo{Address: addr.Hex(), Total: rep.Total, Successful: rep.Successful})
}

func (s *Server) handleGetTraderOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	orders := s.ledger.OrdersByTrader(addr)
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderInfo(o))
	}
	respondJSON(w, out)
}

func (s *Server) assetBalance(a ledger.Asset, addr common.Address) AssetBalance {
	bal := s.ledger.BalanceOf(a, addr)
	return AssetBalance{
		Symbol:       s.ledger.Symbol(a),
		Balance:      bal.String(),
		BalanceEther: units.FormatEther(bal),
		Allowance:    s.ledger.Allowance(a, addr, s.ledger.EscrowAddress()).String(),
	}
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	respondJSON(w, BalancesInfo{
		Address: addr.Hex(),
		Base:    s.assetBalance(ledger.Base, addr),
		Quote:   s.assetBalance(ledger.Quote, addr),
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	n, err := s.ledger.LoadNonce(addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: n, Next: n + 1})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	spender := s.ledger.EscrowAddress()
	if req.Spender != "" {
		if spender, err = crypto.ParseAddress(req.Spender); err != nil {
			respondError(w, http.StatusBadRequest, "invalid spender", err.Error())
			return
		}
	}
	caller := callerFrom(r.Context())
	if err := s.ledger.Approve(asset, caller, spender, amount); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, s.assetBalance(asset, caller))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	if s.cfg.Minter == (common.Address{}) || caller != s.cfg.Minter {
		respondError(w, http.StatusForbidden, "unauthorized", "caller is not the minter")
		return
	}
	var req MintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}
	to, err := crypto.ParseAddress(req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid recipient", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.ledger.Mint(asset, to, amount); err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("minted", "asset", asset, "to", to.Hex(), "amount", amount.String())
	respondJSON(w, s.assetBalance(asset, to))
}

// ==============================
// Market data handlers
// ==============================

func (s *Server) orderbookSnapshot(depth int) OrderbookSnapshot {
	bids, asks := s.ledger.Depth(depth)
	bestBid, bestAsk := s.ledger.BestPrices()
	return OrderbookSnapshot{
		Base:      s.ledger.Symbol(ledger.Base),
		Quote:     s.ledger.Symbol(ledger.Quote),
		Bids:      newPriceLevels(bids),
		Asks:      newPriceLevels(asks),
		BestBid:   bigString(bestBid),
		BestAsk:   bigString(bestAsk),
		Timestamp: s.cfg.Clock.Now().UnixMilli(),
	}
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.orderbookSnapshot(queryInt(r, "depth", defaultDepth)))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.ledger.RecentTrades(queryInt(r, "limit", defaultTrades))
	out := make([]TradeInfo, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeInfo(t))
	}
	respondJSON(w, out)
}

// ==============================
// Listing handlers
// ==============================

func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	listings := s.ledger.AvailableListings()
	out := make([]ListingInfo, 0, len(listings))
	for _, l := range listings {
		out = append(out, newListingInfo(l))
	}
	respondJSON(w, out)
}

func (s *Server) handleNextListingID(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]uint64{"nextListingId": s.ledger.NextListingID()})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.ledger.GetListing(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, newListingInfo(l))
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	price, err := parseAmount("pricePerToken", req.PricePerToken)
	if err != nil {
		respondErr(w, err)
		return
	}
	id, err := s.ledger.CreateListing(callerFrom(r.Context()), amount, price)
	if err != nil {
		respondErr(w, err)
		return
	}
	l, err := s.ledger.GetListing(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondStatus(w, http.StatusCreated, newListingInfo(l))
}

func (s *Server) handleBuyListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req BuyListingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		respondErr(w, err)
		return
	}
	p, err := s.ledger.BuyTokens(id, callerFrom(r.Context()), value)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, PurchaseResponse{
		Listing:    newListingInfo(&p.Listing),
		Trade:      newTradeInfo(p.Trade),
		Spent:      p.Spent.String(),
		SpentEther: units.FormatEther(p.Spent),
	})
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.CancelListing(id, callerFrom(r.Context())); err != nil {
		respondErr(w, err)
		return
	}
	l, err := s.ledger.GetListing(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, newListingInfo(l))
}

// ==============================
// Signed transactions and chain
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	if s.app == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "signed transactions are not enabled")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	hash, err := s.app.Submit(body)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.metrics.pending.Set(float64(s.app.Status().Pending))
	respondStatus(w, http.StatusAccepted, SubmitTxResponse{Status: "queued", Hash: hash.Hex()})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	if s.app == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "signed transactions are not enabled")
		return
	}
	raw := mux.Vars(r)["hash"]
	if len(strings.TrimPrefix(raw, "0x")) != 64 {
		respondError(w, http.StatusBadRequest, "invalid hash", raw)
		return
	}
	res, ok := s.app.Receipt(common.HexToHash(raw))
	if !ok {
		respondError(w, http.StatusNotFound, "not found", "no receipt for "+raw)
		return
	}
	respondJSON(w, res)
}

func (s *Server) handleChainStatus(w http.ResponseWriter, r *http.Request) {
	var st ChainStatus
	if s.app != nil {
		as := s.app.Status()
		st.Height, st.AppHash, st.Pending = as.Height, as.AppHash.Hex(), as.Pending
		st.ChainID = s.app.Domain().ChainID.String()
	}
	if s.chain != nil {
		h, head := s.chain.Head()
		st.Height, st.Head = int64(h), head.Hex()
	}
	if s.peers != nil {
		st.Peers = s.peers()
	}
	respondJSON(w, st)
}

// ==============================
// Auth handlers
// ==============================

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := crypto.ParseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	msg, err := s.auth.Challenge(addr)
	if errors.Is(err, ErrTooManyChallenges) {
		w.Header().Set("Retry-After", "60")
		respondError(w, http.StatusServiceUnavailable, "busy", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	respondJSON(w, ChallengeResponse{Message: msg})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := crypto.ParseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	token, exp, err := s.auth.Login(addr, req.Signature)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, ErrNoChallenge) && !errors.Is(err, ErrBadLogin) {
			status = http.StatusInternalServerError
		}
		respondError(w, status, "login failed", err.Error())
		return
	}
	s.log.Infow("session_issued", "address", addr.Hex())
	respondJSON(w, LoginResponse{Token: token, Address: addr.Hex(), ExpiresAt: exp.UnixMilli()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}
