// file: pkg/consensus/types.go
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

func (h Hash) Hex() string { return "0x" + h.String() }

// Block is one sequenced batch of signed transactions.
type Block struct {
	Height   Height
	Parent   Hash
	AppHash  Hash // ledger state root after executing Txs
	Txs      [][]byte
	Proposer string
	Time     time.Time
}

// Certificate attests a committed block: the sequencer's BLS signature over
// the block hash and the resulting state root.
type Certificate struct {
	Height  Height
	H       Hash
	AppHash Hash
	Sig     []byte
	PubKey  []byte
}

// HashOfBlock commits to height, parent, txs, proposer and time.
// AppHash is excluded; it is covered by the Certificate instead.
func HashOfBlock(b Block) Hash {
	h := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	h.Write(b.Parent[:])

	binary.BigEndian.PutUint64(buf[:], uint64(len(b.Txs)))
	h.Write(buf[:])
	for _, tx := range b.Txs {
		binary.BigEndian.PutUint64(buf[:], uint64(len(tx)))
		h.Write(buf[:])
		h.Write(tx)
	}

	h.Write([]byte(b.Proposer))
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// CertMessage is the byte string the sequencer signs for a block.
func CertMessage(h, appHash Hash) []byte {
	msg := make([]byte, 0, 64+len("carbon-block"))
	msg = append(msg, "carbon-block"...)
	msg = append(msg, h[:]...)
	return append(msg, appHash[:]...)
}

func GenesisBlock() Block {
	return Block{Height: 0, Proposer: "genesis", Time: time.Unix(0, 0).UTC()}
}

// ---- Storage/WAL interfaces (impl in pkg/storage) ----

type BlockStore interface {
	SaveBlock(b Block, c Certificate) error
	GetBlock(h Height) (Block, bool, error)
	GetCert(h Height) (Certificate, bool, error)
	GetBlockByHash(h Hash) (Block, bool, error)
	Committed() (Height, bool, error)
}

type WAL interface {
	Append(line string)
}

// AppHook executes blocks. PreparePayload picks the txs for the next block;
// OnCommit applies them and returns the resulting state root.
type AppHook interface {
	PreparePayload(next Height) [][]byte
	OnCommit(b Block) (Hash, error)
}
