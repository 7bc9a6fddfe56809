package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part used when rendering an address.
type AddressPrefix string

const (
	// EscrowPrefix marks deterministically derived escrow instance addresses.
	EscrowPrefix AddressPrefix = "esc"
	// AccountPrefix marks ordinary ledger accounts (makers, resolvers).
	AccountPrefix AddressPrefix = "clk"
)

// AddressLength is the raw byte length of every ledger address.
const AddressLength = 20

// Address wraps a 20-byte ledger address with its display prefix.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress builds an address from raw bytes. The byte slice must be exactly
// 20 bytes long.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("crypto: address must be %d bytes, got %d", AddressLength, len(b))
	}
	addr := Address{prefix: prefix}
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress is NewAddress for callers holding a fixed-size array.
func MustNewAddress(prefix AddressPrefix, b [AddressLength]byte) Address {
	return Address{prefix: prefix, bytes: b}
}

// String renders the address as bech32 with its prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		return hex.EncodeToString(a.bytes[:])
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		return hex.EncodeToString(a.bytes[:])
	}
	return encoded
}

// Bytes returns a copy of the raw 20 bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the fixed-size array form used by the engines.
func (a Address) Raw() [AddressLength]byte { return a.bytes }

// Prefix returns the human-readable prefix.
func (a Address) Prefix() AddressPrefix { return a.prefix }

// DecodeAddress parses a bech32 rendering back into an Address, accepting any
// known prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid address payload: %w", err)
	}
	switch AddressPrefix(prefix) {
	case EscrowPrefix, AccountPrefix:
	default:
		return Address{}, fmt.Errorf("crypto: unknown address prefix %q", prefix)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ParseHexAddress parses a 0x-optional hex rendering into raw address bytes.
func ParseHexAddress(s string) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("crypto: invalid hex address: %w", err)
	}
	if len(raw) != AddressLength {
		return out, fmt.Errorf("crypto: hex address must be %d bytes, got %d", AddressLength, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
