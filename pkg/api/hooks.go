package api

import (
	"math/big"
	"strings"

	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
	"github.com/uhyunpark/carbonledger/pkg/consensus"
)

// Channel names pushed over /ws
const (
	ChannelTrades    = "trades"
	ChannelOrders    = "orders" // every order; "orders:<address>" for one trader
	ChannelListings  = "listings"
	ChannelBlocks    = "blocks"
	ChannelOrderbook = "orderbook"
)

// LedgerHooks feeds ledger events to websocket clients and metrics
func (s *Server) LedgerHooks() ledger.Hooks {
	return ledger.Hooks{
		OnTrade:   s.onTrade,
		OnOrder:   s.onOrder,
		OnListing: s.onListing,
	}
}

func (s *Server) onTrade(t ledger.Trade) {
	s.metrics.trades.Inc()
	whole, _ := new(big.Rat).SetFrac(t.Amount, token.Unit).Float64()
	s.metrics.volume.Add(whole)

	info := newTradeInfo(t)
	s.hub.BroadcastToChannel(ChannelTrades, "trade", info)
	s.hub.BroadcastToChannel(traderChannel(ChannelTrades, t.Buyer.Hex()), "trade", info)
	if t.Seller != t.Buyer {
		s.hub.BroadcastToChannel(traderChannel(ChannelTrades, t.Seller.Hex()), "trade", info)
	}
}

func (s *Server) onOrder(o ledger.Order) {
	s.metrics.orders.WithLabelValues(o.Status.String()).Inc()
	info := newOrderInfo(&o)
	s.hub.BroadcastToChannel(ChannelOrders, "order", info)
	s.hub.BroadcastToChannel(traderChannel(ChannelOrders, o.Trader.Hex()), "order", info)
	s.hub.BroadcastToChannel(ChannelOrderbook, "orderbook", s.orderbookSnapshot(defaultDepth))
}

func (s *Server) onListing(l ledger.Listing) {
	s.hub.BroadcastToChannel(ChannelListings, "listing", newListingInfo(&l))
}

// OnBlock is registered with the sequencer
func (s *Server) OnBlock(b consensus.Block, c consensus.Certificate) {
	s.metrics.height.Set(float64(b.Height))
	if s.app != nil {
		s.metrics.pending.Set(float64(s.app.Status().Pending))
	}
	s.hub.BroadcastToChannel(ChannelBlocks, "block", BlockUpdate{
		Height:  uint64(b.Height),
		Hash:    c.H.Hex(),
		AppHash: b.AppHash.Hex(),
		Txs:     len(b.Txs),
		Time:    b.Time.UnixMilli(),
	})
}

func traderChannel(base, addr string) string {
	return base + ":" + strings.ToLower(addr)
}
