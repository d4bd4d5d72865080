package export

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldVector protowire.Number = 1
	fieldLabel  protowire.Number = 2
)

// #region write-embeddings
// WriteEmbeddings writes a length-delimited stream of embedding records.
func WriteEmbeddings(path string, embs []Embedding) error {
	var b []byte
	for _, e := range embs {
		b = protowire.AppendBytes(b, encodeEmbedding(e))
	}
	if err := writeFile(path, b); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	return nil
}

func encodeEmbedding(e Embedding) []byte {
	vec := make([]byte, 0, 8*len(e.Vector))
	for _, v := range e.Vector {
		vec = protowire.AppendFixed64(vec, math.Float64bits(v))
	}
	var b []byte
	b = protowire.AppendTag(b, fieldVector, protowire.BytesType)
	b = protowire.AppendBytes(b, vec)
	b = protowire.AppendTag(b, fieldLabel, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Label)))
	return b
}

// #endregion write-embeddings

// #region read-embeddings
// ReadEmbeddings reads a file written by WriteEmbeddings.
func ReadEmbeddings(path string) ([]Embedding, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embeddings: %w", err)
	}
	var out []Embedding
	for len(b) > 0 {
		rec, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("embedding %d: %w", len(out), protowire.ParseError(n))
		}
		e, err := decodeEmbedding(rec)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", len(out), err)
		}
		out = append(out, e)
		b = b[n:]
	}
	return out, nil
}

func decodeEmbedding(b []byte) (Embedding, error) {
	var e Embedding
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Embedding{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldVector && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Embedding{}, protowire.ParseError(n)
			}
			if len(v)%8 != 0 {
				return Embedding{}, fmt.Errorf("vector length %d not a multiple of 8", len(v))
			}
			e.Vector = make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed64(v)
				if m < 0 {
					return Embedding{}, protowire.ParseError(m)
				}
				e.Vector = append(e.Vector, math.Float64frombits(bits))
				v = v[m:]
			}
			b = b[n:]
		case num == fieldLabel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Embedding{}, protowire.ParseError(n)
			}
			e.Label = int(protowire.DecodeZigZag(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Embedding{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return e, nil
}

// #endregion read-embeddings
