package crypto

import (
	"crypto/rand"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GenerateSecret draws a fresh 32-byte swap secret from the system CSPRNG.
// The matching hashlock is Hashlock(secret).
func GenerateSecret() ([32]byte, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return [32]byte{}, fmt.Errorf("crypto: generate secret: %w", err)
	}
	return secret, nil
}

// Hashlock computes the commitment for a secret. Presenting the preimage to a
// deployed escrow proves knowledge of the secret on either chain.
func Hashlock(secret [32]byte) [32]byte {
	return [32]byte(ethcrypto.Keccak256Hash(secret[:]))
}

// VerifySecret reports whether the secret matches the given hashlock.
func VerifySecret(hashlock, secret [32]byte) bool {
	return Hashlock(secret) == hashlock
}
