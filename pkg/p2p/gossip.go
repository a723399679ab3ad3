package p2p

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/carbonledger/pkg/consensus"
)

const (
	DefaultTopic   = "carbon/blocks/1"
	protocolBlocks = protocol.ID("/carbon/blocks/1.0.0")
	fetchTimeout   = 5 * time.Second
)

// ErrBlockUnavailable is returned by FetchBlock when the peer does not have the height
var ErrBlockUnavailable = errors.New("block unavailable")

// BlockSource serves block lookups to peers
type BlockSource interface {
	GetBlock(h consensus.Height) (consensus.Block, bool, error)
	GetCert(h consensus.Height) (consensus.Certificate, bool, error)
}

// Gossip publishes committed blocks on a pubsub topic and serves past blocks
// over a request stream. Inbound blocks are only delivered after their
// certificate verifies.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	muH     sync.RWMutex
	handler func(consensus.Block, consensus.Certificate)
	source  BlockSource

	cancel context.CancelFunc
}

type Config struct {
	ListenAddrs []string
	Bootstrap   []string
	Topic       string
	Logger      *zap.SugaredLogger
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	for _, a := range cfg.ListenAddrs {
		maddr, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("listen addr %q: %w", a, err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}
	g := &Gossip{h: h, ps: ps, log: log, cancel: cancel}

	if g.topic, err = ps.Join(cfg.Topic); err != nil {
		g.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		g.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	h.SetStreamHandler(protocolBlocks, g.handleBlockStream)
	go g.readLoop(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "addrs", g.Addrs(), "topic", cfg.Topic)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable multiaddrs including the /p2p/ peer suffix
func (g *Gossip) Addrs() []string {
	var out []string
	for _, a := range g.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.h.ID()))
	}
	return out
}

func (g *Gossip) Peers() int { return len(g.h.Network().Peers()) }

// SetHandler registers the callback for verified inbound blocks
func (g *Gossip) SetHandler(f func(consensus.Block, consensus.Certificate)) {
	g.muH.Lock()
	g.handler = f
	g.muH.Unlock()
}

// Serve answers block requests from src
func (g *Gossip) Serve(src BlockSource) {
	g.muH.Lock()
	g.source = src
	g.muH.Unlock()
}

// Publish gossips a committed block
func (g *Gossip) Publish(ctx context.Context, b consensus.Block, c consensus.Certificate) error {
	data, err := encodeBlockWire(b, c)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Height, err)
	}
	return g.topic.Publish(ctx, data)
}

func (g *Gossip) readLoop(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		if err := g.deliver(msg.Data); err != nil {
			g.log.Warnw("gossip_block_rejected", "from", msg.ReceivedFrom.String(), "err", err)
		}
	}
}

func (g *Gossip) deliver(data []byte) error {
	b, c, err := decodeBlockWire(data)
	if err != nil {
		return err
	}
	if err := consensus.VerifyCertificate(b, c); err != nil {
		return err
	}
	g.muH.RLock()
	f := g.handler
	g.muH.RUnlock()
	if f != nil {
		f(b, c)
	}
	return nil
}

// handleBlockStream reads an 8-byte height and answers with the encoded block,
// or closes without writing when the height is unknown.
func (g *Gossip) handleBlockStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(fetchTimeout))

	var buf [8]byte
	if _, err := io.ReadFull(s, buf[:]); err != nil {
		return
	}
	h := consensus.Height(binary.BigEndian.Uint64(buf[:]))

	g.muH.RLock()
	src := g.source
	g.muH.RUnlock()
	if src == nil {
		return
	}
	b, ok, err := src.GetBlock(h)
	if err != nil || !ok {
		return
	}
	c, ok, err := src.GetCert(h)
	if err != nil || !ok {
		return
	}
	data, err := encodeBlockWire(b, c)
	if err != nil {
		g.log.Warnw("block_encode_failed", "height", h, "err", err)
		return
	}
	_, _ = s.Write(data)
}

// FetchBlock asks peer p for the block at height h and verifies it.
func (g *Gossip) FetchBlock(ctx context.Context, p peer.ID, h consensus.Height) (consensus.Block, consensus.Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	s, err := g.h.NewStream(ctx, p, protocolBlocks)
	if err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	if _, err := s.Write(encodeHeight(h)); err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	if err := s.CloseWrite(); err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	data, err := io.ReadAll(s)
	if err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	if len(data) == 0 {
		return consensus.Block{}, consensus.Certificate{}, fmt.Errorf("%w: height %d", ErrBlockUnavailable, h)
	}
	b, c, err := decodeBlockWire(data)
	if err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	if err := consensus.VerifyCertificate(b, c); err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	return b, c, nil
}

func (g *Gossip) Close() error {
	g.cancel()
	if g.sub != nil {
		g.sub.Cancel()
	}
	if g.topic != nil {
		_ = g.topic.Close()
	}
	return g.h.Close()
}
