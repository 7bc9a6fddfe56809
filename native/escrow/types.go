package escrow

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NativeToken is the sentinel symbol denoting the ledger's native asset. Any
// other symbol identifies an in-kind token asset.
const NativeToken = "NATIVE"

// Immutables captures the full terms of one escrow leg. The value is hashed
// into the commitment that names the deployment slot and binds the two chains
// together; any field change yields a different commitment and therefore a
// different escrow identity.
type Immutables struct {
	OrderHash     [32]byte  `json:"orderHash"`
	Hashlock      [32]byte  `json:"hashlock"`
	Maker         [20]byte  `json:"maker"`
	Taker         [20]byte  `json:"taker"`
	Token         string    `json:"token"`
	Amount        *big.Int  `json:"amount"`
	SafetyDeposit *big.Int  `json:"safetyDeposit"`
	Timelocks     Timelocks `json:"timelocks"`
}

// DstImmutablesComplement carries the destination-side terms not implied by
// the source commitment. Published with the source creation event so an
// independent observer can reconstruct and verify the destination escrow
// without trusting the resolver.
type DstImmutablesComplement struct {
	Maker         [20]byte `json:"maker"`
	Amount        *big.Int `json:"amount"`
	Token         string   `json:"token"`
	SafetyDeposit *big.Int `json:"safetyDeposit"`
	ChainID       uint64   `json:"chainId"`
}

// Clone returns a deep copy so callers can mutate without affecting stored
// instances.
func (i *Immutables) Clone() *Immutables {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Amount != nil {
		clone.Amount = new(big.Int).Set(i.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if i.SafetyDeposit != nil {
		clone.SafetyDeposit = new(big.Int).Set(i.SafetyDeposit)
	} else {
		clone.SafetyDeposit = big.NewInt(0)
	}
	return &clone
}

// Hash computes the commitment over every field using keccak256 of the
// canonical fixed-width encoding. The commitment doubles as the deployment
// salt and as the cross-chain binding value embedded in emitted events.
func (i *Immutables) Hash() [32]byte {
	amount := make([]byte, 32)
	if i.Amount != nil && i.Amount.Sign() > 0 {
		i.Amount.FillBytes(amount)
	}
	deposit := make([]byte, 32)
	if i.SafetyDeposit != nil && i.SafetyDeposit.Sign() > 0 {
		i.SafetyDeposit.FillBytes(deposit)
	}
	tokenDigest := ethcrypto.Keccak256([]byte(i.Token))
	timelocks := i.Timelocks.Bytes32()
	return [32]byte(ethcrypto.Keccak256Hash(
		i.OrderHash[:],
		i.Hashlock[:],
		i.Maker[:],
		i.Taker[:],
		tokenDigest,
		amount,
		deposit,
		timelocks[:],
	))
}

// Clone returns a deep copy of the complement.
func (c *DstImmutablesComplement) Clone() *DstImmutablesComplement {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if c.SafetyDeposit != nil {
		clone.SafetyDeposit = new(big.Int).Set(c.SafetyDeposit)
	} else {
		clone.SafetyDeposit = big.NewInt(0)
	}
	return &clone
}

// NormalizeToken canonicalises a token symbol: trimmed, uppercase, limited to
// short alphanumeric identifiers. The native sentinel passes through.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("escrow: empty token symbol")
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("escrow: token symbol too long: %s", symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("escrow: invalid token symbol: %s", symbol)
		}
	}
	return trimmed, nil
}

// SanitizeImmutables validates and normalises the supplied terms, returning a
// cloned instance with canonical token casing and non-nil amount fields. The
// original value is not mutated.
func SanitizeImmutables(i *Immutables) (*Immutables, error) {
	if i == nil {
		return nil, fmt.Errorf("escrow: nil immutables")
	}
	clone := i.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if clone.SafetyDeposit.Sign() < 0 {
		return nil, fmt.Errorf("escrow: safety deposit must be non-negative")
	}
	if clone.Hashlock == ([32]byte{}) {
		return nil, fmt.Errorf("escrow: hashlock must be set")
	}
	return clone, nil
}
