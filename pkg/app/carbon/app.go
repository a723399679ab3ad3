package carbon

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/carbonledger/pkg/abci"
	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/app/core/mempool"
	"github.com/uhyunpark/carbonledger/pkg/app/core/transaction"
	"github.com/uhyunpark/carbonledger/pkg/consensus"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

const defaultReceipts = 10000

type Config struct {
	MempoolSize int
	Receipts    int // results kept for lookup by tx hash
	Domain      crypto.EIP712Domain
	Clock       util.Clock
	Logger      *zap.SugaredLogger
}

// Status is a snapshot of the app's chain position
type Status struct {
	Height  int64          `json:"height"`
	AppHash consensus.Hash `json:"-"`
	Pending int            `json:"pending"`
}

// App executes signed transactions against the ledger in sequenced blocks.
type App struct {
	ledger   *ledger.Ledger
	pool     *mempool.Mempool
	verifier *transaction.Verifier
	clock    util.Clock
	log      *zap.SugaredLogger

	mu           sync.Mutex // guards the fields below and serializes blocks
	height       int64
	appHash      consensus.Hash
	receipts     map[common.Hash]abci.TxResult
	receiptOrder []common.Hash
	maxReceipts  int
}

func NewApp(l *ledger.Ledger, cfg Config) *App {
	if cfg.Domain.ChainID == nil {
		cfg.Domain = crypto.DefaultDomain()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Receipts <= 0 {
		cfg.Receipts = defaultReceipts
	}
	return &App{
		ledger:      l,
		pool:        mempool.NewMempool(cfg.MempoolSize),
		verifier:    transaction.NewVerifier(cfg.Domain),
		clock:       cfg.Clock,
		log:         cfg.Logger,
		receipts:    make(map[common.Hash]abci.TxResult),
		maxReceipts: cfg.Receipts,
	}
}

func (a *App) Ledger() *ledger.Ledger { return a.ledger }

func (a *App) Domain() crypto.EIP712Domain { return a.verifier.Domain() }

// Submit verifies raw eagerly and queues it for the next block. The returned
// hash identifies the transaction's receipt.
func (a *App) Submit(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, err
	}
	v, err := a.verifier.Verify(tx)
	if err != nil {
		return common.Hash{}, err
	}
	stored, err := a.ledger.LoadNonce(v.Sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("load nonce: %w", err)
	}
	if v.Nonce <= stored {
		return common.Hash{}, fmt.Errorf("%w: %d, last used %d", ErrStaleNonce, v.Nonce, stored)
	}
	if expired(v.Deadline, a.clock.Now()) {
		return common.Hash{}, fmt.Errorf("%w: %d", ErrExpired, v.Deadline)
	}

	canonical, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", transaction.ErrMalformed, err)
	}
	if err := a.pool.PushRaw(canonical); err != nil {
		return common.Hash{}, err
	}
	h := ethcrypto.Keccak256Hash(canonical)
	a.log.Debugw("tx_queued", "hash", h.Hex(), "type", tx.Type, "sender", v.Sender.Hex(), "nonce", v.Nonce)
	return h, nil
}

func expired(deadline uint64, now time.Time) bool {
	return deadline != 0 && uint64(now.Unix()) > deadline
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.pool.SelectForBlock(req.MaxTxs, req.MaxTxBytes)}
}

// FinalizeBlock applies txs in order. A failing transaction only fails its own
// receipt; the returned error is reserved for storage faults.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	blockTime := time.Unix(req.Timestamp, 0)
	results := make([]abci.TxResult, 0, len(req.Txs))
	fills := 0
	for _, raw := range req.Txs {
		res, err := a.applyTx(raw, blockTime)
		if err != nil {
			return abci.ResponseFinalizeBlock{}, fmt.Errorf("tx %s: %w", res.Hash, err)
		}
		fills += res.Fills
		results = append(results, res)
		a.remember(common.HexToHash(res.Hash), res)
	}

	a.height = req.Height
	a.appHash = StateRoot(a.ledger, req.Height)
	if len(req.Txs) > 0 {
		a.log.Infow("block_finalized", "height", req.Height, "txs", len(req.Txs), "fills", fills, "app_hash", a.appHash.Hex())
	}
	return abci.ResponseFinalizeBlock{Results: results, AppHash: a.appHash}, nil
}

func (a *App) applyTx(raw []byte, blockTime time.Time) (abci.TxResult, error) {
	res := abci.TxResult{Hash: ethcrypto.Keccak256Hash(raw).Hex()}
	fail := func(err error) (abci.TxResult, error) {
		res.Code = CodeFor(err)
		res.Log = err.Error()
		a.log.Debugw("tx_failed", "hash", res.Hash, "type", res.Type, "code", res.Code, "err", err)
		return res, nil
	}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return fail(err)
	}
	res.Type = string(tx.Type)
	v, err := a.verifier.Verify(tx)
	if err != nil {
		return fail(err)
	}
	res.Sender = v.Sender.Hex()

	stored, err := a.ledger.LoadNonce(v.Sender)
	if err != nil {
		return res, fmt.Errorf("load nonce: %w", err)
	}
	if v.Nonce <= stored {
		return fail(fmt.Errorf("%w: %d, last used %d", ErrStaleNonce, v.Nonce, stored))
	}
	// The nonce is spent even when the ledger rejects the operation.
	if err := a.ledger.SaveNonce(v.Sender, v.Nonce); err != nil {
		return res, fmt.Errorf("save nonce: %w", err)
	}
	if expired(v.Deadline, blockTime) {
		return fail(fmt.Errorf("%w: %d", ErrExpired, v.Deadline))
	}

	switch v.Type {
	case transaction.TxTypeOrder:
		p, err := a.ledger.Place(v.Sender, v.Amount, v.Price, v.Side)
		if err != nil {
			return fail(err)
		}
		id := p.Order.ID
		res.OrderID = &id
		res.Fills = len(p.Trades)
	case transaction.TxTypeCancel:
		if err := a.ledger.CancelOrder(v.OrderID, v.Sender); err != nil {
			return fail(err)
		}
		id := v.OrderID
		res.OrderID = &id
	case transaction.TxTypeBuy:
		if _, err := a.ledger.BuyTokens(v.ListingID, v.Sender, v.Value); err != nil {
			return fail(err)
		}
		res.Fills = 1
	}
	return res, nil
}

func (a *App) remember(h common.Hash, res abci.TxResult) {
	if _, ok := a.receipts[h]; !ok {
		a.receiptOrder = append(a.receiptOrder, h)
	}
	a.receipts[h] = res
	for len(a.receiptOrder) > a.maxReceipts {
		delete(a.receipts, a.receiptOrder[0])
		a.receiptOrder = a.receiptOrder[1:]
	}
}

// Receipt returns the execution result of a committed transaction
func (a *App) Receipt(h common.Hash) (abci.TxResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.receipts[h]
	return res, ok
}

func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{Height: a.height, AppHash: a.appHash, Pending: a.pool.Len()}
}

// SetHeight aligns the app with a restored sequencer head
func (a *App) SetHeight(h int64) {
	a.mu.Lock()
	a.height = h
	a.appHash = StateRoot(a.ledger, h)
	a.mu.Unlock()
}

var _ abci.Application = (*App)(nil)
