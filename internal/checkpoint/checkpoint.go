package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
)

// FormatTag identifies the encoding written by Encode.
const FormatTag = "vulnharness.checkpoint.v1"

// #region field-numbers
const (
	fieldFormat protowire.Number = 1
	fieldTensor protowire.Number = 2
	fieldName   protowire.Number = 1
	fieldShape  protowire.Number = 2
	fieldData   protowire.Number = 3
)

// #endregion field-numbers

// #region encode
// Encode serializes a ParamState. Output is deterministic for equal states.
func Encode(s ParamState) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFormat, protowire.BytesType)
	b = protowire.AppendString(b, FormatTag)
	for _, t := range s.Tensors {
		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTensor(t))
	}
	return b
}

func encodeTensor(t Tensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, t.Name)

	var shape []byte
	for _, d := range t.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 0, 4*len(t.Data))
	for _, v := range t.Data {
		data = protowire.AppendFixed32(data, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

// #endregion encode

// #region decode
// Decode parses bytes produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (ParamState, error) {
	var s ParamState
	sawFormat := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ParamState{}, fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldFormat && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ParamState{}, fmt.Errorf("format: %w", protowire.ParseError(n))
			}
			if v != FormatTag {
				return ParamState{}, fmt.Errorf("unsupported format %q", v)
			}
			sawFormat = true
			b = b[n:]
		case num == fieldTensor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ParamState{}, fmt.Errorf("tensor: %w", protowire.ParseError(n))
			}
			t, err := decodeTensor(v)
			if err != nil {
				return ParamState{}, fmt.Errorf("tensor %d: %w", len(s.Tensors), err)
			}
			s.Tensors = append(s.Tensors, t)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ParamState{}, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !sawFormat {
		return ParamState{}, errors.New("missing format tag")
	}
	return s, nil
}

func decodeTensor(b []byte) (Tensor, error) {
	var t Tensor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Tensor{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Tensor{}, protowire.ParseError(n)
			}
			t.Name = v
			b = b[n:]
		case num == fieldShape && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Tensor{}, protowire.ParseError(n)
			}
			for len(v) > 0 {
				d, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return Tensor{}, protowire.ParseError(m)
				}
				t.Shape = append(t.Shape, int(d))
				v = v[m:]
			}
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Tensor{}, protowire.ParseError(n)
			}
			if len(v)%4 != 0 {
				return Tensor{}, fmt.Errorf("data length %d not a multiple of 4", len(v))
			}
			t.Data = make([]float32, 0, len(v)/4)
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed32(v)
				if m < 0 {
					return Tensor{}, protowire.ParseError(m)
				}
				t.Data = append(t.Data, math.Float32frombits(bits))
				v = v[m:]
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Tensor{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if t.Size() != len(t.Data) {
		return Tensor{}, fmt.Errorf("%s: shape %v holds %d values, got %d", t.Name, t.Shape, t.Size(), len(t.Data))
	}
	return t, nil
}

// #endregion decode

// #region save-load
// Save writes a state to path, replacing any existing file atomically.
func Save(path string, s ParamState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(Encode(s)); err != nil {
		tmp.Close()
		return &IOError{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &IOError{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Load reads a state previously written by Save.
func Load(path string) (ParamState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ParamState{}, &IOError{Op: "load", Path: path, Err: err}
	}
	s, err := Decode(b)
	if err != nil {
		return ParamState{}, &IOError{Op: "decode", Path: path, Err: err}
	}
	return s, nil
}

// Restore loads the file at path into t.
func Restore(path string, t Trainable) error {
	s, err := Load(path)
	if err != nil {
		return err
	}
	if err := t.Load(s); err != nil {
		return &IOError{Op: "load", Path: path, Err: err}
	}
	return nil
}

// #endregion save-load
