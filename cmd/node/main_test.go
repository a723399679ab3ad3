package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/carbonledger/params"
	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/storage"
)

func TestRunStopsCleanly(t *testing.T) {
	cfg := params.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Node.BlockTimeMS = 10

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zap.NewNop().Sugar()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	// both stores were closed, so their directory locks are free again
	ls, err := ledger.NewStore(filepath.Join(cfg.Storage.Dir, "ledger"))
	require.NoError(t, err)
	require.NoError(t, ls.Close())
	bs, err := storage.NewPebbleStore(filepath.Join(cfg.Storage.Dir, "blocks"))
	require.NoError(t, err)
	require.NoError(t, bs.Close())
}
