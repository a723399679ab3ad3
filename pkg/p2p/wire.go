package p2p

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"

	"github.com/uhyunpark/carbonledger/pkg/consensus"
	"github.com/uhyunpark/carbonledger/pkg/storage"
)

func init() {
	gob.Register(BlockWire{})
}

// BlockWire is a committed block and its certificate as gossiped between nodes
type BlockWire struct {
	Payload []byte // storage.EncodeBlock output
}

func encodeBlockWire(b consensus.Block, c consensus.Certificate) ([]byte, error) {
	payload, err := storage.EncodeBlock(b, c)
	if err != nil {
		return nil, err
	}
	return gobEncode(BlockWire{Payload: payload})
}

func decodeBlockWire(data []byte) (consensus.Block, consensus.Certificate, error) {
	var w BlockWire
	if err := gobDecode(data, &w); err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	if len(w.Payload) == 0 {
		return consensus.Block{}, consensus.Certificate{}, errors.New("empty block payload")
	}
	return storage.DecodeBlock(w.Payload)
}

func encodeHeight(h consensus.Height) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(h))
	return buf[:]
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
