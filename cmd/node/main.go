package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/carbonledger/params"
	"github.com/uhyunpark/carbonledger/pkg/abci"
	"github.com/uhyunpark/carbonledger/pkg/api"
	"github.com/uhyunpark/carbonledger/pkg/app/carbon"
	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/consensus"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/events"
	"github.com/uhyunpark/carbonledger/pkg/p2p"
	"github.com/uhyunpark/carbonledger/pkg/storage"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default: ./.env if present)")
	flag.Parse()

	cfg, err := params.LoadFromEnv(*envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFile := cfg.Node.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.Storage.Dir, "node.log")
	}
	logger, err := util.NewLoggerWithFile(logFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Ledger ----
	escrow := ledger.DefaultEscrowAddress
	if cfg.Ledger.EscrowAddress != "" {
		addr, err := crypto.ParseAddress(cfg.Ledger.EscrowAddress)
		if err != nil {
			return err
		}
		escrow = addr
	}
	var minter common.Address
	if cfg.Ledger.MinterAddress != "" {
		addr, err := crypto.ParseAddress(cfg.Ledger.MinterAddress)
		if err != nil {
			return err
		}
		minter = addr
	}

	ledgerStore, err := ledger.NewStore(filepath.Join(cfg.Storage.Dir, "ledger"))
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	clock := util.RealClock{}
	l, err := ledger.Open(ledger.Config{
		EscrowAddress: escrow,
		BaseSymbol:    cfg.Ledger.BaseSymbol,
		QuoteSymbol:   cfg.Ledger.QuoteSymbol,
		RecentTrades:  cfg.Ledger.RecentTrades,
		Clock:         clock,
		Logger:        sugar.Named("ledger"),
	}, ledgerStore)
	if err != nil {
		return err
	}

	// ---- App ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Node.ChainID)
	app := carbon.NewApp(l, carbon.Config{
		MempoolSize: cfg.Node.MempoolSize,
		Domain:      domain,
		Clock:       clock,
		Logger:      sugar.Named("app"),
	})

	// ---- Sequencer ----
	blockStore, err := storage.NewPebbleStore(filepath.Join(cfg.Storage.Dir, "blocks"))
	if err != nil {
		return err
	}
	defer blockStore.Close()

	wal, err := storage.NewFileWAL(filepath.Join(cfg.Storage.Dir, "wal.log"))
	if err != nil {
		return err
	}
	defer wal.Close()

	attestor, err := newAttestor(cfg.Node.AttestKeySeed)
	if err != nil {
		return err
	}
	if cfg.Node.AttestKeySeed == "" {
		sugar.Warn("attest_key_random - set CARBON_NODE_ATTEST_KEY_SEED for a stable identity")
	}

	seq := &consensus.Sequencer{
		ID:       hex.EncodeToString(attestor.PublicKeyBytes()[:8]),
		App:      &abci.Bridge{App: app, MaxTxs: cfg.Node.MaxBlockTxs},
		Store:    blockStore,
		WAL:      wal,
		Attestor: attestor,
		Clock:    clock,
		Interval: cfg.Node.BlockTime(),
		Logger:   sugar.Named("sequencer"),
	}
	if err := seq.Restore(); err != nil {
		return err
	}
	height, head := seq.Head()
	app.SetHeight(int64(height))

	// ---- API Server ----
	server := api.NewServer(l, app, api.Config{
		Addr:           cfg.API.Addr,
		AllowedOrigins: cfg.API.AllowedOrigins,
		JWTSecret:      cfg.API.JWTSecret,
		SessionTTL:     cfg.API.SessionTTL(),
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
		TrustedProxies: cfg.API.TrustedProxies,
		Minter:         minter,
		Clock:          clock,
		Logger:         sugar.Named("api"),
	})
	hooks := server.LedgerHooks()
	seq.OnCommit(server.OnBlock)

	// ---- Event stream (optional) ----
	if len(cfg.Events.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, sugar.Named("events"))
		if err != nil {
			return err
		}
		defer pub.Close()
		apiTrade := hooks.OnTrade
		hooks.OnTrade = func(t ledger.Trade) {
			apiTrade(t)
			if err := pub.PublishTrade(t); err != nil {
				sugar.Warnw("trade_publish_failed", "trade", t.ID, "err", err)
			}
		}
		seq.OnCommit(func(b consensus.Block, c consensus.Certificate) {
			if err := pub.PublishBlock(b, c); err != nil {
				sugar.Warnw("block_publish_failed", "height", b.Height, "err", err)
			}
		})
		sugar.Infow("events_enabled", "brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
	}
	l.SetHooks(hooks)

	// ---- Gossip (optional) ----
	peers := func() int { return 0 }
	if cfg.Gossip.Enabled {
		g, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddrs: cfg.Gossip.ListenAddr,
			Bootstrap:   cfg.Gossip.Bootstrap,
			Topic:       cfg.Gossip.Topic,
			Logger:      sugar.Named("p2p"),
		})
		if err != nil {
			return err
		}
		defer g.Close()
		g.Serve(blockStore)
		// Gossip is publish-only: a peer's certified blocks are checked and logged but
		// never stored or applied, since each node sequences its own chain.
		g.SetHandler(func(b consensus.Block, c consensus.Certificate) {
			sugar.Debugw("peer_block", "height", b.Height, "hash", c.H.Hex())
		})
		seq.OnCommit(func(b consensus.Block, c consensus.Certificate) {
			if err := g.Publish(ctx, b, c); err != nil {
				sugar.Warnw("gossip_publish_failed", "height", b.Height, "err", err)
			}
		})
		peers = g.Peers
		sugar.Infow("gossip_enabled", "addrs", g.Addrs(), "topic", cfg.Gossip.Topic)
	}
	server.SetChain(seq, peers)

	sugar.Infow("node_starting",
		"sequencer", seq.ID,
		"height", height,
		"head", head.Hex(),
		"block_time_ms", cfg.Node.BlockTimeMS,
		"chain_id", cfg.Node.ChainID,
		"base", cfg.Ledger.BaseSymbol,
		"quote", cfg.Ledger.QuoteSymbol,
	)

	// Stores are closed by the defers above, so both writers must be done first.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := seq.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func newAttestor(seedHex string) (*crypto.Attestor, error) {
	if seedHex == "" {
		return crypto.NewRandomAttestor()
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	return crypto.NewAttestorFromSeed(seed)
}
