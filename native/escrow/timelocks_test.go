package escrow

import (
	"encoding/json"
	"testing"
)

func mustTimelocks(t *testing.T) Timelocks {
	t.Helper()
	tl, err := NewTimelocks(10, 120, 300, 600, 10, 100, 240)
	if err != nil {
		t.Fatalf("build timelocks: %v", err)
	}
	return tl
}

func TestTimelocksPackUnpack(t *testing.T) {
	tl := mustTimelocks(t)
	cases := map[Stage]uint64{
		StageSrcWithdrawal:         10,
		StageSrcPublicWithdrawal:   120,
		StageSrcCancellation:       300,
		StageSrcPublicCancellation: 600,
		StageDstWithdrawal:         10,
		StageDstPublicWithdrawal:   100,
		StageDstCancellation:       240,
	}
	for stage, want := range cases {
		if got := tl.Offset(stage); got != want {
			t.Fatalf("stage %d: offset = %d, want %d", stage, got, want)
		}
	}
	if tl.DeployedAt() != 0 {
		t.Fatalf("fresh timelocks must have no anchor, got %d", tl.DeployedAt())
	}
}

func TestTimelocksMonotonicValidation(t *testing.T) {
	if _, err := NewTimelocks(120, 10, 300, 600, 10, 100, 240); err == nil {
		t.Fatal("expected error for non-monotonic source offsets")
	}
	if _, err := NewTimelocks(10, 120, 300, 600, 100, 10, 240); err == nil {
		t.Fatal("expected error for non-monotonic destination offsets")
	}
	// Equal adjacent offsets collapse a phase but stay legal.
	if _, err := NewTimelocks(10, 10, 300, 300, 10, 10, 240); err != nil {
		t.Fatalf("equal offsets should be accepted: %v", err)
	}
}

func TestTimelocksWithDeployedAt(t *testing.T) {
	tl := mustTimelocks(t)
	stamped := tl.WithDeployedAt(1_700_000_000)
	if got := stamped.DeployedAt(); got != 1_700_000_000 {
		t.Fatalf("anchor = %d, want 1700000000", got)
	}
	// Offsets survive stamping.
	if got := stamped.Offset(StageSrcCancellation); got != 300 {
		t.Fatalf("offset disturbed by stamping: %d", got)
	}
	// Restamping overwrites rather than accumulates.
	restamped := stamped.WithDeployedAt(1_800_000_000)
	if got := restamped.DeployedAt(); got != 1_800_000_000 {
		t.Fatalf("restamped anchor = %d, want 1800000000", got)
	}
	if got := restamped.Start(StageSrcWithdrawal); got != 1_800_000_010 {
		t.Fatalf("start = %d, want 1800000010", got)
	}
}

func TestTimelocksRescueStart(t *testing.T) {
	tl := mustTimelocks(t).WithDeployedAt(1000)
	if got := tl.RescueStart(86400); got != 87400 {
		t.Fatalf("rescue start = %d, want 87400", got)
	}
}

func TestTimelocksJSONRoundTrip(t *testing.T) {
	tl := mustTimelocks(t).WithDeployedAt(1_700_000_000)
	raw, err := json.Marshal(tl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Timelocks
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Bytes32() != tl.Bytes32() {
		t.Fatal("round trip changed packed value")
	}
}
