package consensus_test

import (
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/carbonledger/pkg/consensus"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/storage"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

// queueApp hands out queued payloads and hashes everything it has applied
type queueApp struct {
	mu      sync.Mutex
	queue   [][]byte
	applied [][]byte
	fail    error
}

func (a *queueApp) push(tx string) {
	a.mu.Lock()
	a.queue = append(a.queue, []byte(tx))
	a.mu.Unlock()
}

func (a *queueApp) PreparePayload(consensus.Height) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.queue
	a.queue = nil
	return out
}

func (a *queueApp) OnCommit(b consensus.Block) (consensus.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return consensus.Hash{}, a.fail
	}
	a.applied = append(a.applied, b.Txs...)
	h := sha256.New()
	for _, tx := range a.applied {
		h.Write(tx)
	}
	var out consensus.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

type recordingWAL struct{ lines []string }

func (w *recordingWAL) Append(line string) { w.lines = append(w.lines, line) }

func newSequencer(t *testing.T, app consensus.AppHook, store consensus.BlockStore) (*consensus.Sequencer, *recordingWAL) {
	t.Helper()
	att, err := crypto.NewAttestorFromSeed([]byte("sequencer-test-seed-0123456789ab"))
	require.NoError(t, err)
	wal := &recordingWAL{}
	seq := &consensus.Sequencer{
		ID:       "seq-1",
		App:      app,
		Store:    store,
		WAL:      wal,
		Attestor: att,
		Clock:    util.NewManualClock(time.Unix(1_730_000_000, 0)),
		Interval: time.Second,
	}
	require.NoError(t, seq.Restore())
	return seq, wal
}

func TestStepSkipsEmptyPayload(t *testing.T) {
	seq, wal := newSequencer(t, &queueApp{}, storage.NewInMemoryBlockStore())
	_, _, ok, err := seq.Step()
	require.NoError(t, err)
	assert.False(t, ok)

	h, head := seq.Head()
	assert.Equal(t, consensus.Height(0), h)
	assert.Equal(t, consensus.HashOfBlock(consensus.GenesisBlock()), head)
	assert.Empty(t, wal.lines)
}

func TestStepCommitsChain(t *testing.T) {
	app := &queueApp{}
	store := storage.NewInMemoryBlockStore()
	seq, wal := newSequencer(t, app, store)

	var seen []consensus.Height
	seq.OnCommit(func(b consensus.Block, _ consensus.Certificate) { seen = append(seen, b.Height) })

	genesis := consensus.HashOfBlock(consensus.GenesisBlock())
	app.push("a")
	app.push("b")
	b1, c1, ok, err := seq.Step()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, consensus.Height(1), b1.Height)
	assert.Equal(t, genesis, b1.Parent)
	assert.Len(t, b1.Txs, 2)
	assert.Equal(t, "seq-1", b1.Proposer)
	require.NoError(t, consensus.VerifyCertificate(b1, c1))

	app.push("c")
	b2, c2, ok, err := seq.Step()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c1.H, b2.Parent)
	assert.NotEqual(t, b1.AppHash, b2.AppHash)
	require.NoError(t, consensus.VerifyCertificate(b2, c2))

	assert.Equal(t, []consensus.Height{1, 2}, seen)
	assert.Len(t, wal.lines, 2)
	committed, ok, err := store.Committed()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, consensus.Height(2), committed)
}

func TestVerifyCertificateRejectsTampering(t *testing.T) {
	app := &queueApp{}
	seq, _ := newSequencer(t, app, storage.NewInMemoryBlockStore())
	app.push("tx")
	b, c, _, err := seq.Step()
	require.NoError(t, err)

	forged := b
	forged.Txs = [][]byte{[]byte("other")}
	assert.Error(t, consensus.VerifyCertificate(forged, c))

	wrongRoot := b
	wrongRoot.AppHash[0] ^= 0xff
	assert.Error(t, consensus.VerifyCertificate(wrongRoot, c))

	badSig := c
	badSig.Sig = append([]byte(nil), c.Sig...)
	badSig.Sig[len(badSig.Sig)-1] ^= 0x01
	assert.Error(t, consensus.VerifyCertificate(b, badSig))

	other, err := crypto.NewAttestorFromSeed([]byte("another-sequencer-seed-abcdefghij"))
	require.NoError(t, err)
	swapped := c
	swapped.PubKey = other.PublicKeyBytes()
	assert.Error(t, consensus.VerifyCertificate(b, swapped))
}

func TestRestoreResumesHead(t *testing.T) {
	app := &queueApp{}
	store := storage.NewInMemoryBlockStore()
	seq, _ := newSequencer(t, app, store)
	app.push("tx")
	_, c, _, err := seq.Step()
	require.NoError(t, err)

	restarted, _ := newSequencer(t, app, store)
	h, head := restarted.Head()
	assert.Equal(t, consensus.Height(1), h)
	assert.Equal(t, c.H, head)

	app.push("next")
	b, _, ok, err := restarted.Step()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, consensus.Height(2), b.Height)
	assert.Equal(t, c.H, b.Parent)
}

func TestStepSurfacesExecutionError(t *testing.T) {
	app := &queueApp{fail: errors.New("disk full")}
	store := storage.NewInMemoryBlockStore()
	seq, _ := newSequencer(t, app, store)
	app.push("tx")

	_, _, ok, err := seq.Step()
	require.Error(t, err)
	assert.False(t, ok)
	_, committed, err := store.Committed()
	require.NoError(t, err)
	assert.False(t, committed)
	h, _ := seq.Head()
	assert.Equal(t, consensus.Height(0), h)
}
