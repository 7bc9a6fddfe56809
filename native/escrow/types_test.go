package escrow

import (
	"math/big"
	"testing"
)

func testImmutables(t *testing.T) *Immutables {
	t.Helper()
	imm := &Immutables{
		Token:         "WETH",
		Amount:        big.NewInt(100),
		SafetyDeposit: big.NewInt(5),
		Timelocks:     mustTimelocks(t),
	}
	imm.OrderHash[0] = 0x11
	imm.Hashlock[0] = 0x22
	imm.Maker[0] = 0x33
	imm.Taker[0] = 0x44
	return imm
}

func TestHashDeterministic(t *testing.T) {
	a := testImmutables(t)
	b := testImmutables(t)
	if a.Hash() != b.Hash() {
		t.Fatal("identical terms must produce identical commitments")
	}
	if a.Hash() != a.Clone().Hash() {
		t.Fatal("cloning must not disturb the commitment")
	}
}

// Every field must participate in the commitment: a dead field would let two
// escrows with different unlock terms share an identity.
func TestHashFieldSensitivity(t *testing.T) {
	base := testImmutables(t).Hash()
	mutations := map[string]func(*Immutables){
		"orderHash":     func(i *Immutables) { i.OrderHash[31] ^= 1 },
		"hashlock":      func(i *Immutables) { i.Hashlock[31] ^= 1 },
		"maker":         func(i *Immutables) { i.Maker[19] ^= 1 },
		"taker":         func(i *Immutables) { i.Taker[19] ^= 1 },
		"token":         func(i *Immutables) { i.Token = "USDC" },
		"amount":        func(i *Immutables) { i.Amount = big.NewInt(101) },
		"safetyDeposit": func(i *Immutables) { i.SafetyDeposit = big.NewInt(6) },
		"timelocks":     func(i *Immutables) { i.Timelocks = i.Timelocks.WithDeployedAt(1) },
	}
	for field, mutate := range mutations {
		imm := testImmutables(t)
		mutate(imm)
		if imm.Hash() == base {
			t.Fatalf("mutating %s did not change the commitment", field)
		}
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"weth", "WETH", false},
		{"  usdc ", "USDC", false},
		{NativeToken, NativeToken, false},
		{"", "", true},
		{"with space", "", true},
		{"waaaaaaaaaaaaaaaaytoolong", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeToken(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("NormalizeToken(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeToken(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeImmutables(t *testing.T) {
	valid := testImmutables(t)
	sanitized, err := SanitizeImmutables(valid)
	if err != nil {
		t.Fatalf("sanitize valid terms: %v", err)
	}
	if sanitized == valid {
		t.Fatal("sanitize must clone, not alias")
	}

	missingAmount := testImmutables(t)
	missingAmount.Amount = big.NewInt(0)
	if _, err := SanitizeImmutables(missingAmount); err == nil {
		t.Fatal("zero amount must be rejected")
	}

	negDeposit := testImmutables(t)
	negDeposit.SafetyDeposit = big.NewInt(-1)
	if _, err := SanitizeImmutables(negDeposit); err == nil {
		t.Fatal("negative safety deposit must be rejected")
	}

	noHashlock := testImmutables(t)
	noHashlock.Hashlock = [32]byte{}
	if _, err := SanitizeImmutables(noHashlock); err == nil {
		t.Fatal("empty hashlock must be rejected")
	}
}
