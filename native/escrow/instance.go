package escrow

import "fmt"

// Side distinguishes the two legs of a swap.
type Side uint8

const (
	SideSrc Side = iota
	SideDst
)

// String renders the side for event payloads.
func (s Side) String() string {
	switch s {
	case SideSrc:
		return "src"
	case SideDst:
		return "dst"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether the side value is supported.
func (s Side) Valid() bool { return s == SideSrc || s == SideDst }

// InstanceStatus tracks the lifecycle of a deployed escrow instance.
type InstanceStatus uint8

const (
	InstanceActive InstanceStatus = iota
	InstanceWithdrawn
	InstanceCancelled
)

// Valid reports whether the status value is supported.
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceActive, InstanceWithdrawn, InstanceCancelled:
		return true
	default:
		return false
	}
}

// Instance is a deployed, funded escrow. Terms are the stamped Immutables the
// factory deployed with and are never mutated afterwards; only Status moves.
type Instance struct {
	Address     [20]byte       `json:"address"`
	Side        Side           `json:"side"`
	Commitment  [32]byte       `json:"commitment"`
	Terms       Immutables     `json:"terms"`
	RescueDelay uint64         `json:"rescueDelay"`
	Status      InstanceStatus `json:"status"`
}

// Clone returns a deep copy of the instance.
func (inst *Instance) Clone() *Instance {
	if inst == nil {
		return nil
	}
	clone := *inst
	clone.Terms = *inst.Terms.Clone()
	return &clone
}

// SanitizeInstance validates a stored or incoming instance record, returning
// a cloned, normalised copy.
func SanitizeInstance(inst *Instance) (*Instance, error) {
	if inst == nil {
		return nil, fmt.Errorf("escrow: nil instance")
	}
	clone := inst.Clone()
	if !clone.Side.Valid() {
		return nil, fmt.Errorf("escrow: invalid side: %d", clone.Side)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid instance status: %d", clone.Status)
	}
	terms, err := SanitizeImmutables(&clone.Terms)
	if err != nil {
		return nil, err
	}
	clone.Terms = *terms
	return clone, nil
}
