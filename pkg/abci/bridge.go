package abci

import (
	"github.com/uhyunpark/carbonledger/pkg/consensus"
)

type RequestPrepareProposal struct {
	Height     int64
	MaxTxs     int
	MaxTxBytes int64
}

type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // unix seconds
	Txs       [][]byte
}

// TxResult reports what one transaction did. Code 0 is success.
type TxResult struct {
	Hash    string  `json:"hash"`
	Type    string  `json:"type"`
	Sender  string  `json:"sender,omitempty"`
	Code    uint32  `json:"code"`
	Log     string  `json:"log,omitempty"`
	OrderID *uint64 `json:"orderId,omitempty"`
	Fills   int     `json:"fills,omitempty"`
}

type ResponseFinalizeBlock struct {
	Results []TxResult
	AppHash consensus.Hash // state root after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}

// Bridge adapts an Application to the sequencer's AppHook.
type Bridge struct {
	App        Application
	MaxTxs     int
	MaxTxBytes int64
}

func (b *Bridge) PreparePayload(next consensus.Height) [][]byte {
	resp := b.App.PrepareProposal(RequestPrepareProposal{
		Height:     int64(next),
		MaxTxs:     b.MaxTxs,
		MaxTxBytes: b.MaxTxBytes,
	})
	return resp.Txs
}

func (b *Bridge) OnCommit(blk consensus.Block) (consensus.Hash, error) {
	resp, err := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(blk.Height),
		Timestamp: blk.Time.Unix(),
		Txs:       blk.Txs,
	})
	if err != nil {
		return consensus.Hash{}, err
	}
	return resp.AppHash, nil
}

var _ consensus.AppHook = (*Bridge)(nil)
