package api

import (
	"math/big"

	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/carbonledger/pkg/units"
)

// Integers travel as base-10 strings; the *Ether fields repeat them scaled by 10^18.

// ==============================
// REST Response Types
// ==============================

type OrderInfo struct {
	ID          uint64 `json:"id"`
	Trader      string `json:"trader"`
	Side        string `json:"side"`
	Price       string `json:"price"` // quote wei per whole token
	PriceEther  string `json:"priceEther"`
	Amount      string `json:"amount"` // remaining base units
	AmountEther string `json:"amountEther"`
	Original    string `json:"original"`
	Filled      string `json:"filled"`
	Escrowed    string `json:"escrowed"`
	Status      string `json:"status"` // open | partially_filled | filled | cancelled
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func newOrderInfo(o *ledger.Order) OrderInfo {
	return OrderInfo{
		ID:          o.ID,
		Trader:      o.Trader.Hex(),
		Side:        o.Side.String(),
		Price:       o.Price.String(),
		PriceEther:  units.FormatEther(o.Price),
		Amount:      o.Amount.String(),
		AmountEther: units.FormatEther(o.Amount),
		Original:    o.Original.String(),
		Filled:      o.Filled.String(),
		Escrowed:    o.Escrowed.String(),
		Status:      o.Status.String(),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

type TradeInfo struct {
	ID          string `json:"id"`
	Seq         uint64 `json:"seq"`
	Kind        string `json:"kind"` // book | listing
	BuyOrderID  uint64 `json:"buyOrderId,omitempty"`
	SellOrderID uint64 `json:"sellOrderId,omitempty"`
	ListingID   uint64 `json:"listingId,omitempty"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Price       string `json:"price"`
	PriceEther  string `json:"priceEther"`
	Amount      string `json:"amount"`
	AmountEther string `json:"amountEther"`
	Quote       string `json:"quote"`
	TakerSide   string `json:"takerSide"`
	Timestamp   int64  `json:"timestamp"` // Unix milliseconds
}

func newTradeInfo(t ledger.Trade) TradeInfo {
	return TradeInfo{
		ID:          t.ID,
		Seq:         t.Seq,
		Kind:        string(t.Kind),
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		ListingID:   t.ListingID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		Price:       t.Price.String(),
		PriceEther:  units.FormatEther(t.Price),
		Amount:      t.Amount.String(),
		AmountEther: units.FormatEther(t.Amount),
		Quote:       t.Quote.String(),
		TakerSide:   t.TakerSide.String(),
		Timestamp:   t.Timestamp,
	}
}

type ListingInfo struct {
	ID                 uint64 `json:"id"`
	Seller             string `json:"seller"`
	Amount             string `json:"amount"`
	AmountEther        string `json:"amountEther"`
	Original           string `json:"original"`
	PricePerToken      string `json:"pricePerToken"`
	PricePerTokenEther string `json:"pricePerTokenEther"`
	Available          bool   `json:"available"`
	Cancelled          bool   `json:"cancelled"`
	CreatedAt          int64  `json:"createdAt"`
	UpdatedAt          int64  `json:"updatedAt"`
}

func newListingInfo(l *ledger.Listing) ListingInfo {
	return ListingInfo{
		ID:                 l.ID,
		Seller:             l.Seller.Hex(),
		Amount:             l.Amount.String(),
		AmountEther:        units.FormatEther(l.Amount),
		Original:           l.Original.String(),
		PricePerToken:      l.PricePerToken.String(),
		PricePerTokenEther: units.FormatEther(l.PricePerToken),
		Available:          l.Available(),
		Cancelled:          l.Cancelled,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

// PriceLevel aggregates resting orders at one price
type PriceLevel struct {
	Price      string `json:"price"`
	PriceEther string `json:"priceEther"`
	Size       string `json:"size"`
	SizeEther  string `json:"sizeEther"`
	Orders     int    `json:"orders"`
}

func newPriceLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{
			Price:      l.Price.String(),
			PriceEther: units.FormatEther(l.Price),
			Size:       l.Qty.String(),
			SizeEther:  units.FormatEther(l.Qty),
			Orders:     l.Orders,
		}
	}
	return out
}

type OrderbookSnapshot struct {
	Base      string       `json:"base"`
	Quote     string       `json:"quote"`
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	BestBid   string       `json:"bestBid,omitempty"`
	BestAsk   string       `json:"bestAsk,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

type ReputationInfo struct {
	Address    string `json:"address"`
	Total      uint64 `json:"total"`
	Successful uint64 `json:"successful"`
}

type AssetBalance struct {
	Symbol       string `json:"symbol"`
	Balance      string `json:"balance"`
	BalanceEther string `json:"balanceEther"`
	Allowance    string `json:"allowance"` // granted to the escrow account
}

type BalancesInfo struct {
	Address string       `json:"address"`
	Base    AssetBalance `json:"base"`
	Quote   AssetBalance `json:"quote"`
}

// NonceInfo reports the last nonce consumed by an address
type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Next    uint64 `json:"next"`
}

type PlaceOrderResponse struct {
	Order  OrderInfo   `json:"order"`
	Trades []TradeInfo `json:"trades"`
}

type PurchaseResponse struct {
	Listing    ListingInfo `json:"listing"`
	Trade      TradeInfo   `json:"trade"`
	Spent      string      `json:"spent"`
	SpentEther string      `json:"spentEther"`
}

type SubmitTxResponse struct {
	Status string `json:"status"` // "queued"
	Hash   string `json:"hash"`
}

type ChainStatus struct {
	Height    int64  `json:"height"`
	Head      string `json:"head,omitempty"`
	AppHash   string `json:"appHash"`
	Pending   int    `json:"pending"`
	ChainID   string `json:"chainId"`
	Peers     int    `json:"peers"`
	Sequencer string `json:"sequencer,omitempty"`
}

type ChallengeResponse struct {
	Message string `json:"message"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	ExpiresAt int64  `json:"expiresAt"` // Unix milliseconds
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// REST Request Types
// ==============================

// Amount fields accept wei integers or ether-style decimals ("1.5", "2 eth").

type PlaceOrderRequest struct {
	Side   string `json:"side"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

type ApproveRequest struct {
	Asset   string `json:"asset"` // base | quote
	Amount  string `json:"amount"`
	Spender string `json:"spender,omitempty"` // defaults to the escrow account
}

type MintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type CreateListingRequest struct {
	Amount        string `json:"amount"`
	PricePerToken string `json:"pricePerToken"`
}

type BuyListingRequest struct {
	Value string `json:"value"` // quote offered
}

type ChallengeRequest struct {
	Address string `json:"address"`
}

type LoginRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage wraps every pushed event
type WSMessage struct {
	Type    string      `json:"type"` // trade | order | listing | block
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // subscribe | unsubscribe
	Channels []string `json:"channels"` // e.g. ["trades", "orderbook", "orders:0x..."]
}

type BlockUpdate struct {
	Height  uint64 `json:"height"`
	Hash    string `json:"hash"`
	AppHash string `json:"appHash"`
	Txs     int    `json:"txs"`
	Time    int64  `json:"time"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
