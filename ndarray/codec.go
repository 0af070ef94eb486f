package ndarray

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const codecMagic = uint32(0x4C444154) // "TADL" little-endian on disk
const codecVersion = uint16(1)

// Serialize writes the array to a compact binary form:
// [magic(4)][version(2)][dtype len(2)][dtype][rank(2)][dims(8*rank)][payload].
// Real payloads are float64 little-endian; complex payloads interleave
// real/imag float64 pairs.
func (a *NDArray) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, codecMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, codecVersion); err != nil {
		return nil, err
	}
	dtype := []byte(a.DType)
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(dtype))); err != nil {
		return nil, err
	}
	buf.Write(dtype)
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(a.Shape))); err != nil {
		return nil, err
	}
	for _, dim := range a.Shape {
		if err := binary.Write(&buf, binary.LittleEndian, uint64(dim)); err != nil {
			return nil, err
		}
	}
	if a.IsComplex() {
		for _, v := range a.CData {
			if err := binary.Write(&buf, binary.LittleEndian, real(v)); err != nil {
				return nil, err
			}
			if err := binary.Write(&buf, binary.LittleEndian, imag(v)); err != nil {
				return nil, err
			}
		}
	} else {
		if err := binary.Write(&buf, binary.LittleEndian, a.Data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Deserialize reads an array previously written by Serialize.
func Deserialize(data []byte) (*NDArray, error) {
	r := bytes.NewReader(data)
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != codecMagic {
		return nil, errors.New("ndarray: bad magic")
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != codecVersion {
		return nil, fmt.Errorf("ndarray: unsupported codec version %d", version)
	}
	var dtypeLen uint16
	if err := binary.Read(r, binary.LittleEndian, &dtypeLen); err != nil {
		return nil, err
	}
	dtypeBytes := make([]byte, dtypeLen)
	if _, err := io.ReadFull(r, dtypeBytes); err != nil {
		return nil, err
	}
	var rank uint16
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return nil, err
	}
	shape := make([]int, rank)
	for i := range shape {
		var dim uint64
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, err
		}
		shape[i] = int(dim)
	}
	a := New(shape, ParseDType(string(dtypeBytes)))
	if a.IsComplex() {
		for i := range a.CData {
			var re, im float64
			if err := binary.Read(r, binary.LittleEndian, &re); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &im); err != nil {
				return nil, err
			}
			a.CData[i] = complex(re, im)
		}
	} else {
		if err := binary.Read(r, binary.LittleEndian, a.Data); err != nil {
			return nil, err
		}
	}
	return a, nil
}
