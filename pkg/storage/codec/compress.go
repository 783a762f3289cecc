package codec

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Block is an optionally lz4-compressed byte payload that remembers its raw size
type Block struct {
	RawLen     int    `msgpack:"raw_len"`
	Compressed bool   `msgpack:"lz4"`
	Data       []byte `msgpack:"data"`
}

// CompressBlock compresses data into a Block. Incompressible input is stored as is.
func CompressBlock(data []byte) (Block, error) {
	if len(data) == 0 {
		return Block{}, nil
	}
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(data, compressed, hashTable[:])
	if err != nil {
		return Block{}, fmt.Errorf("failed to compress data: %w", err)
	}
	if n == 0 || n >= len(data) {
		raw := make([]byte, len(data))
		copy(raw, data)
		return Block{RawLen: len(data), Data: raw}, nil
	}
	return Block{RawLen: len(data), Compressed: true, Data: compressed[:n]}, nil
}

// Bytes returns the uncompressed payload
func (b Block) Bytes() ([]byte, error) {
	if !b.Compressed {
		return b.Data, nil
	}
	out := make([]byte, b.RawLen)
	n, err := lz4.UncompressBlock(b.Data, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	if n != b.RawLen {
		return nil, fmt.Errorf("decompressed %d bytes, expected %d", n, b.RawLen)
	}
	return out, nil
}
