package crypto

import (
	"encoding/hex"
	"testing"
)

func TestHashlockMatchesKeccakVector(t *testing.T) {
	// keccak256 of 32 zero bytes.
	var secret [32]byte
	want := "290decd9548b62a8d60345a988386fc84ba6bc95484008f6362f93160ef3e563"
	got := Hashlock(secret)
	if hex.EncodeToString(got[:]) != want {
		t.Fatalf("hashlock = %x, want %s", got, want)
	}
}

func TestVerifySecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	lock := Hashlock(secret)
	if !VerifySecret(lock, secret) {
		t.Fatal("correct secret rejected")
	}
	wrong := secret
	wrong[0] ^= 0x01
	if VerifySecret(lock, wrong) {
		t.Fatal("wrong secret accepted")
	}
}

func TestGenerateSecretIsNotConstant(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if a == b {
		t.Fatal("two generated secrets are identical")
	}
}
