package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

// Sequencer is a single-node block producer. Every Interval it asks the app for
// a payload, executes it, attests the result and persists the block.
type Sequencer struct {
	ID       string
	App      AppHook
	Store    BlockStore
	WAL      WAL
	Attestor *crypto.Attestor
	Clock    util.Clock
	Interval time.Duration
	Logger   *zap.SugaredLogger

	mu        sync.Mutex
	height    Height
	head      Hash
	listeners []func(Block, Certificate)
}

// Restore resumes from the last committed block in Store.
func (s *Sequencer) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok, err := s.Store.Committed()
	if err != nil {
		return fmt.Errorf("load committed height: %w", err)
	}
	if !ok {
		s.height, s.head = 0, HashOfBlock(GenesisBlock())
		return nil
	}
	b, ok, err := s.Store.GetBlock(h)
	if err != nil {
		return fmt.Errorf("load block %d: %w", h, err)
	}
	if !ok {
		return fmt.Errorf("committed block %d missing", h)
	}
	s.height, s.head = h, HashOfBlock(b)
	if s.Logger != nil {
		s.Logger.Infow("sequencer_restored", "height", h, "head", s.head.Hex())
	}
	return nil
}

// OnCommit registers f to run after each block is persisted.
func (s *Sequencer) OnCommit(f func(Block, Certificate)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, f)
	s.mu.Unlock()
}

func (s *Sequencer) Head() (Height, Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, s.head
}

// Step produces at most one block. It returns false when there was nothing to sequence.
func (s *Sequencer) Step() (Block, Certificate, bool, error) {
	s.mu.Lock()
	next := s.height + 1
	txs := s.App.PreparePayload(next)
	if len(txs) == 0 {
		s.mu.Unlock()
		return Block{}, Certificate{}, false, nil
	}

	b := Block{
		Height:   next,
		Parent:   s.head,
		Txs:      txs,
		Proposer: s.ID,
		Time:     s.Clock.Now().UTC(),
	}
	appHash, err := s.App.OnCommit(b)
	if err != nil {
		s.mu.Unlock()
		return Block{}, Certificate{}, false, fmt.Errorf("execute block %d: %w", next, err)
	}
	b.AppHash = appHash

	h := HashOfBlock(b)
	cert := Certificate{Height: next, H: h, AppHash: appHash}
	if s.Attestor != nil {
		cert.Sig = s.Attestor.Sign(CertMessage(h, appHash))
		cert.PubKey = s.Attestor.PublicKeyBytes()
	}
	if err := s.Store.SaveBlock(b, cert); err != nil {
		s.mu.Unlock()
		return Block{}, Certificate{}, false, fmt.Errorf("persist block %d: %w", next, err)
	}
	if s.WAL != nil {
		s.WAL.Append(fmt.Sprintf("commit height=%d hash=%s app=%s txs=%d", next, h.Hex(), appHash.Hex(), len(txs)))
	}
	s.height, s.head = next, h
	listeners := append([]func(Block, Certificate){}, s.listeners...)
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.Infow("block_committed", "height", next, "hash", h.Hex(), "app_hash", appHash.Hex(), "txs", len(txs))
	}
	for _, f := range listeners {
		f(b, cert)
	}
	return b, cert, true, nil
}

// Run steps every Interval until ctx is done.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.Interval):
		}
		if _, _, _, err := s.Step(); err != nil {
			if s.Logger != nil {
				s.Logger.Errorw("block_failed", "err", err)
			}
		}
	}
}

// VerifyCertificate checks that cert signs b and that b's state root matches.
func VerifyCertificate(b Block, cert Certificate) error {
	h := HashOfBlock(b)
	if cert.H != h || cert.Height != b.Height {
		return fmt.Errorf("certificate is for block %d %s, not %d %s", cert.Height, cert.H.Hex(), b.Height, h.Hex())
	}
	if cert.AppHash != b.AppHash {
		return fmt.Errorf("certificate app hash mismatch")
	}
	pk, err := crypto.ParseBLSPublicKey(cert.PubKey)
	if err != nil {
		return err
	}
	if !crypto.VerifyAttestation(pk, cert.Sig, CertMessage(h, cert.AppHash)) {
		return fmt.Errorf("bad attestation for block %d", b.Height)
	}
	return nil
}
