package escrow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// Stage identifies one phase boundary of an escrow's lifecycle. Offsets are
// seconds relative to the stamped deployment time.
type Stage uint8

const (
	StageSrcWithdrawal Stage = iota
	StageSrcPublicWithdrawal
	StageSrcCancellation
	StageSrcPublicCancellation
	StageDstWithdrawal
	StageDstPublicWithdrawal
	StageDstCancellation

	stageCount = 7
)

const (
	stageBits       = 32
	stageMask       = 0xffffffff
	deployedAtShift = 224
)

// Timelocks packs the absolute deployment anchor together with the seven
// relative stage offsets into a single 256-bit word: the anchor occupies bits
// 224-255 and each stage offset the 32-bit lane at stage*32.
type Timelocks struct {
	word uint256.Int
}

// NewTimelocks builds a packed schedule from per-side offsets. Offsets must be
// monotonically non-decreasing in phase order on each side; the anchor is left
// unset and is stamped by the factory at deployment.
func NewTimelocks(srcWithdrawal, srcPublicWithdrawal, srcCancellation, srcPublicCancellation, dstWithdrawal, dstPublicWithdrawal, dstCancellation uint32) (Timelocks, error) {
	if srcWithdrawal > srcPublicWithdrawal || srcPublicWithdrawal > srcCancellation || srcCancellation > srcPublicCancellation {
		return Timelocks{}, fmt.Errorf("escrow: source timelock offsets not monotonic")
	}
	if dstWithdrawal > dstPublicWithdrawal || dstPublicWithdrawal > dstCancellation {
		return Timelocks{}, fmt.Errorf("escrow: destination timelock offsets not monotonic")
	}
	var t Timelocks
	offsets := [stageCount]uint32{
		StageSrcWithdrawal:         srcWithdrawal,
		StageSrcPublicWithdrawal:   srcPublicWithdrawal,
		StageSrcCancellation:       srcCancellation,
		StageSrcPublicCancellation: srcPublicCancellation,
		StageDstWithdrawal:         dstWithdrawal,
		StageDstPublicWithdrawal:   dstPublicWithdrawal,
		StageDstCancellation:       dstCancellation,
	}
	for stage, offset := range offsets {
		var lane uint256.Int
		lane.SetUint64(uint64(offset))
		lane.Lsh(&lane, uint(stage)*stageBits)
		t.word.Or(&t.word, &lane)
	}
	return t, nil
}

// TimelocksFromBytes32 rebuilds a packed schedule from its canonical bytes.
func TimelocksFromBytes32(b [32]byte) Timelocks {
	var t Timelocks
	t.word.SetBytes(b[:])
	return t
}

// WithDeployedAt returns a copy with the absolute anchor replaced. Relative
// offsets are untouched. The anchor is truncated to 32 bits, matching the
// packed lane width.
func (t Timelocks) WithDeployedAt(ts uint64) Timelocks {
	var mask uint256.Int
	mask.SetUint64(stageMask)
	mask.Lsh(&mask, deployedAtShift)
	mask.Not(&mask)

	out := t
	out.word.And(&out.word, &mask)

	var anchor uint256.Int
	anchor.SetUint64(ts & stageMask)
	anchor.Lsh(&anchor, deployedAtShift)
	out.word.Or(&out.word, &anchor)
	return out
}

// DeployedAt returns the stamped absolute anchor, zero when unstamped.
func (t Timelocks) DeployedAt() uint64 {
	var v uint256.Int
	v.Rsh(&t.word, deployedAtShift)
	return v.Uint64() & stageMask
}

// Offset returns the relative offset for a stage in seconds.
func (t Timelocks) Offset(stage Stage) uint64 {
	var v uint256.Int
	v.Rsh(&t.word, uint(stage)*stageBits)
	return v.Uint64() & stageMask
}

// Start resolves the absolute boundary for a stage by adding its offset to
// the stamped anchor.
func (t Timelocks) Start(stage Stage) uint64 {
	return t.DeployedAt() + t.Offset(stage)
}

// RescueStart resolves the moment leftover funds become rescuable, the given
// delay after deployment.
func (t Timelocks) RescueStart(delay uint64) uint64 {
	return t.DeployedAt() + delay
}

// Bytes32 returns the canonical 32-byte big-endian encoding used inside the
// commitment hash.
func (t Timelocks) Bytes32() [32]byte {
	return t.word.Bytes32()
}

// MarshalJSON encodes the packed word as a hex string for storage.
func (t Timelocks) MarshalJSON() ([]byte, error) {
	b := t.Bytes32()
	return json.Marshal(hex.EncodeToString(b[:]))
}

// UnmarshalJSON decodes the hex representation produced by MarshalJSON.
func (t *Timelocks) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("escrow: invalid timelocks encoding: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("escrow: timelocks encoding must be 32 bytes, got %d", len(raw))
	}
	var b [32]byte
	copy(b[:], raw)
	*t = TimelocksFromBytes32(b)
	return nil
}
