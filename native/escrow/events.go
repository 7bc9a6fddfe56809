package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"crosslock/core/types"
)

const (
	// EventTypeSrcEscrowCreated carries the full stamped terms plus the
	// destination complement; it is the record a counterpart-chain observer
	// consumes to recompute and verify the matching escrow.
	EventTypeSrcEscrowCreated = "escrow.src.created"
	// EventTypeDstEscrowCreated carries the full stamped destination terms.
	EventTypeDstEscrowCreated = "escrow.dst.created"
	// EventTypeEscrowDeployed is the lightweight lookup record: address,
	// hashlock and maker only.
	EventTypeEscrowDeployed = "escrow.deployed"

	EventTypeEscrowWithdrawn = "escrow.withdrawn"
	EventTypeEscrowCancelled = "escrow.cancelled"
	EventTypeFundsRescued    = "escrow.rescued"
)

func immutableAttrs(attrs map[string]string, imm *Immutables) {
	attrs["orderHash"] = hex.EncodeToString(imm.OrderHash[:])
	attrs["hashlock"] = hex.EncodeToString(imm.Hashlock[:])
	attrs["maker"] = hex.EncodeToString(imm.Maker[:])
	attrs["taker"] = hex.EncodeToString(imm.Taker[:])
	attrs["token"] = imm.Token
	attrs["amount"] = bigString(imm.Amount)
	attrs["safetyDeposit"] = bigString(imm.SafetyDeposit)
	packed := imm.Timelocks.Bytes32()
	attrs["timelocks"] = hex.EncodeToString(packed[:])
	attrs["deployedAt"] = strconv.FormatUint(imm.Timelocks.DeployedAt(), 10)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewSrcEscrowCreatedEvent is the commitment record for a source-side
// creation: the stamped terms plus the destination complement.
func NewSrcEscrowCreatedEvent(imm *Immutables, complement *DstImmutablesComplement) *types.Event {
	attrs := make(map[string]string)
	if imm != nil {
		immutableAttrs(attrs, imm)
	}
	if complement != nil {
		attrs["dstMaker"] = hex.EncodeToString(complement.Maker[:])
		attrs["dstAmount"] = bigString(complement.Amount)
		attrs["dstToken"] = complement.Token
		attrs["dstSafetyDeposit"] = bigString(complement.SafetyDeposit)
		attrs["dstChainId"] = strconv.FormatUint(complement.ChainID, 10)
	}
	return &types.Event{Type: EventTypeSrcEscrowCreated, Attributes: attrs}
}

// NewDstEscrowCreatedEvent is the commitment record for a destination-side
// creation.
func NewDstEscrowCreatedEvent(imm *Immutables, inst *Instance) *types.Event {
	attrs := make(map[string]string)
	if imm != nil {
		immutableAttrs(attrs, imm)
	}
	if inst != nil {
		attrs["escrow"] = hex.EncodeToString(inst.Address[:])
	}
	return &types.Event{Type: EventTypeDstEscrowCreated, Attributes: attrs}
}

// NewEscrowDeployedEvent is the convenience record exposing the escrow's
// address, hashlock and maker for lightweight off-chain indexing.
func NewEscrowDeployedEvent(inst *Instance) *types.Event {
	attrs := make(map[string]string)
	if inst != nil {
		attrs["escrow"] = hex.EncodeToString(inst.Address[:])
		attrs["hashlock"] = hex.EncodeToString(inst.Terms.Hashlock[:])
		attrs["maker"] = hex.EncodeToString(inst.Terms.Maker[:])
		attrs["side"] = inst.Side.String()
	}
	return &types.Event{Type: EventTypeEscrowDeployed, Attributes: attrs}
}

// NewEscrowWithdrawnEvent records a completed withdrawal, revealing the
// secret so the counterpart leg can be unlocked with it.
func NewEscrowWithdrawnEvent(inst *Instance, secret [32]byte, recipient [20]byte) *types.Event {
	attrs := make(map[string]string)
	if inst != nil {
		attrs["escrow"] = hex.EncodeToString(inst.Address[:])
		attrs["side"] = inst.Side.String()
	}
	attrs["secret"] = hex.EncodeToString(secret[:])
	attrs["recipient"] = hex.EncodeToString(recipient[:])
	return &types.Event{Type: EventTypeEscrowWithdrawn, Attributes: attrs}
}

// NewEscrowCancelledEvent records a refund transition.
func NewEscrowCancelledEvent(inst *Instance, caller [20]byte) *types.Event {
	attrs := make(map[string]string)
	if inst != nil {
		attrs["escrow"] = hex.EncodeToString(inst.Address[:])
		attrs["side"] = inst.Side.String()
	}
	attrs["caller"] = hex.EncodeToString(caller[:])
	return &types.Event{Type: EventTypeEscrowCancelled, Attributes: attrs}
}

// NewFundsRescuedEvent records a rescue of stranded funds.
func NewFundsRescuedEvent(inst *Instance, token string, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	if inst != nil {
		attrs["escrow"] = hex.EncodeToString(inst.Address[:])
	}
	attrs["token"] = token
	attrs["amount"] = bigString(amount)
	return &types.Event{Type: EventTypeFundsRescued, Attributes: attrs}
}
