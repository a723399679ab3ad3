package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/uhyunpark/carbonledger/pkg/consensus"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func heightKey(h consensus.Height) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(h))
	return k[:]
}

// EncodeBlock is the gossip and storage encoding of a committed block.
func EncodeBlock(b consensus.Block, c consensus.Certificate) ([]byte, error) {
	return encodeGob(committed{Block: b, Cert: c})
}

func DecodeBlock(data []byte) (consensus.Block, consensus.Certificate, error) {
	var c committed
	if err := decodeGob(data, &c); err != nil {
		return consensus.Block{}, consensus.Certificate{}, err
	}
	return c.Block, c.Cert, nil
}

type committed struct {
	Block consensus.Block
	Cert  consensus.Certificate
}
