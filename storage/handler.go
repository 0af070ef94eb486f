// Package storage provides the pluggable persistence backends that map a
// data item's serialized properties and bulk array data to disk files or
// in-memory maps.
package storage

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/lumeno/docmodel/ndarray"
)

// Handler persists one item's properties dict and bulk array data.
type Handler interface {
	// Reference is a stable identifier for the backing record (a file URL
	// or a map key), used in log messages and tests.
	Reference() string
	ReadProperties() (map[string]any, error)
	ReadData() (*ndarray.NDArray, error)
	WriteProperties(properties map[string]any, fileTime time.Time) error
	WriteData(data *ndarray.NDArray, fileTime time.Time) error
	Remove() error
}

// ItemInfo is the subset of a data item the storage system needs to allocate
// a record location.
type ItemInfo interface {
	UUID() uuid.UUID
	Created() time.Time
	SessionID() string
}

// System enumerates existing records and allocates handlers for new ones.
// Multiple systems may be queried in sequence; the first system returning a
// non-nil handler for an item wins.
type System interface {
	FindDataItems() ([]Handler, error)
	MakeStorageHandler(item ItemInfo) Handler
}

const encodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

// EncodeUUID renders a UUID's 128-bit integer in the storage alphabet,
// least-significant digit first (25 characters for typical UUIDs).
func EncodeUUID(id uuid.UUID) string {
	n := new(big.Int).SetBytes(id[:])
	base := big.NewInt(int64(len(encodeAlphabet)))
	digit := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, digit)
		out = append(out, encodeAlphabet[digit.Int64()])
	}
	if len(out) == 0 {
		out = []byte{encodeAlphabet[0]}
	}
	return string(out)
}
