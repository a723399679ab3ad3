package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/carbonledger/pkg/consensus"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/storage"
)

func signedBlock(t *testing.T, h consensus.Height) (consensus.Block, consensus.Certificate) {
	t.Helper()
	a, err := crypto.NewAttestorFromSeed([]byte("carbon-ledger-gossip-test-seed-0"))
	require.NoError(t, err)
	b := consensus.Block{
		Height:   h,
		AppHash:  consensus.Hash{0xaa, byte(h)},
		Txs:      [][]byte{[]byte(`{"type":"order"}`)},
		Proposer: "node-1",
		Time:     time.Unix(1_730_000_000, 0).UTC(),
	}
	bh := consensus.HashOfBlock(b)
	return b, consensus.Certificate{
		Height:  h,
		H:       bh,
		AppHash: b.AppHash,
		Sig:     a.Sign(consensus.CertMessage(bh, b.AppHash)),
		PubKey:  a.PublicKeyBytes(),
	}
}

func newTestGossip(t *testing.T) *Gossip {
	t.Helper()
	g, err := NewGossip(context.Background(), Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestDeliverVerifiesCertificate(t *testing.T) {
	g := newTestGossip(t)
	var got []consensus.Height
	g.SetHandler(func(b consensus.Block, _ consensus.Certificate) { got = append(got, b.Height) })

	b, c := signedBlock(t, 3)
	data, err := encodeBlockWire(b, c)
	require.NoError(t, err)
	require.NoError(t, g.deliver(data))

	b.AppHash = consensus.Hash{0xff}
	forged, err := encodeBlockWire(b, c)
	require.NoError(t, err)
	assert.Error(t, g.deliver(forged))

	assert.Error(t, g.deliver([]byte("not gob")))
	assert.Equal(t, []consensus.Height{3}, got)
}

func TestFetchBlockFromPeer(t *testing.T) {
	server := newTestGossip(t)
	client := newTestGossip(t)

	store := storage.NewInMemoryBlockStore()
	b, c := signedBlock(t, 1)
	require.NoError(t, store.SaveBlock(b, c))
	server.Serve(store)

	ctx := context.Background()
	require.NoError(t, client.Host().Connect(ctx, peer.AddrInfo{ID: server.Host().ID(), Addrs: server.Host().Addrs()}))
	assert.Equal(t, 1, client.Peers())

	got, cert, err := client.FetchBlock(ctx, server.Host().ID(), 1)
	require.NoError(t, err)
	assert.Equal(t, consensus.HashOfBlock(b), consensus.HashOfBlock(got))
	assert.Equal(t, c.Sig, cert.Sig)

	_, _, err = client.FetchBlock(ctx, server.Host().ID(), 2)
	assert.ErrorIs(t, err, ErrBlockUnavailable)
}

func TestAddrsIncludePeerID(t *testing.T) {
	g := newTestGossip(t)
	addrs := g.Addrs()
	require.NotEmpty(t, addrs)
	assert.Contains(t, addrs[0], g.Host().ID().String())
}
