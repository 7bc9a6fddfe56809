package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"crosslock/core/events"
	"crosslock/core/types"
)

// factoryState is the narrow state surface the creation and settlement
// engines need. The embedded Locker is the operation lock: engines hold it
// across a whole operation so concurrent callers never interleave between a
// check and the mutation it guards. EscrowGet reports an unoccupied address
// as (nil, nil); backend failures come back as errors.
type factoryState interface {
	sync.Locker
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	EscrowPut(*Instance) error
	EscrowGet(addr [20]byte) (*Instance, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Factory validates payment against declared terms, stamps the deployment
// anchor, derives the commitment address and registers the funded escrow
// instance there. Creation is all or nothing: every check runs before the
// first state mutation, so a failed creation leaves no trace.
type Factory struct {
	state       factoryState
	emitter     events.Emitter
	address     [20]byte
	srcTemplate [32]byte
	dstTemplate [32]byte
	rescueDelay uint64
	nowFn       func() int64
}

// NewFactory builds a factory identified by its own ledger address and the
// implementation seeds for each escrow side. rescueDelay is the number of
// seconds after deployment before leftover funds become rescuable.
func NewFactory(address [20]byte, srcImplementation, dstImplementation [32]byte, rescueDelay uint64) *Factory {
	return &Factory{
		emitter:     events.NoopEmitter{},
		address:     address,
		srcTemplate: ProxyTemplateHash(srcImplementation),
		dstTemplate: ProxyTemplateHash(dstImplementation),
		rescueDelay: rescueDelay,
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the factory.
func (f *Factory) SetState(state factoryState) { f.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (f *Factory) SetNowFunc(now func() int64) {
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

// Address returns the factory's own ledger address.
func (f *Factory) Address() [20]byte { return f.address }

func (f *Factory) emit(event *types.Event) {
	if f == nil || f.emitter == nil || event == nil {
		return
	}
	f.emitter.Emit(escrowEvent{evt: event})
}

func (f *Factory) now() int64 {
	if f == nil || f.nowFn == nil {
		return time.Now().Unix()
	}
	return f.nowFn()
}

func (f *Factory) template(side Side) [32]byte {
	if side == SideSrc {
		return f.srcTemplate
	}
	return f.dstTemplate
}

// AddressOfEscrowSrc derives the source-side address the given terms would
// deploy at. Pure with respect to ledger state; the caller must have stamped
// the anchor for the result to match an actual deployment. Terms are
// sanitized before hashing so the prediction covers the same normalized form
// deployment commits to.
func (f *Factory) AddressOfEscrowSrc(imm *Immutables) [20]byte {
	if sanitized, err := SanitizeImmutables(imm); err == nil {
		imm = sanitized
	}
	return DeriveAddress(f.address, imm.Hash(), f.srcTemplate)
}

// AddressOfEscrowDst derives the destination-side address for the terms.
func (f *Factory) AddressOfEscrowDst(imm *Immutables) [20]byte {
	if sanitized, err := SanitizeImmutables(imm); err == nil {
		imm = sanitized
	}
	return DeriveAddress(f.address, imm.Hash(), f.dstTemplate)
}

// RequiredDeposit returns the exact native value a creation call must attach
// for the given terms: the safety deposit, plus the amount when the locked
// asset is the native one.
func RequiredDeposit(imm *Immutables) *big.Int {
	if imm == nil {
		return big.NewInt(0)
	}
	required := big.NewInt(0)
	if imm.SafetyDeposit != nil {
		required.Add(required, imm.SafetyDeposit)
	}
	if imm.Token == NativeToken && imm.Amount != nil {
		required.Add(required, imm.Amount)
	}
	return required
}

// CreateSrcEscrow deploys and funds the source-side escrow for the supplied
// terms. value is the native payment attached by the caller and must equal
// RequiredDeposit exactly. The complement is echoed in the commitment event so
// the destination escrow can be independently verified. Returns the derived
// escrow address.
func (f *Factory) CreateSrcEscrow(caller [20]byte, imm *Immutables, complement *DstImmutablesComplement, value *big.Int) ([20]byte, error) {
	stamped, inst, err := f.deploy(SideSrc, caller, imm, value, nil)
	if err != nil {
		return [20]byte{}, err
	}
	f.emit(NewSrcEscrowCreatedEvent(stamped, complement))
	f.emit(NewEscrowDeployedEvent(inst))
	return inst.Address, nil
}

// CreateDstEscrow deploys and funds the destination-side escrow. In addition
// to the source-side checks, the destination cancellation boundary must not
// exceed the source chain's cancellation timestamp, otherwise the resolver
// could be left without a refund path on one side.
func (f *Factory) CreateDstEscrow(caller [20]byte, imm *Immutables, srcCancellation uint64, value *big.Int) ([20]byte, error) {
	stamped, inst, err := f.deploy(SideDst, caller, imm, value, &srcCancellation)
	if err != nil {
		return [20]byte{}, err
	}
	f.emit(NewDstEscrowCreatedEvent(stamped, inst))
	f.emit(NewEscrowDeployedEvent(inst))
	return inst.Address, nil
}

// deploy runs the shared creation path. Validation order matters: everything
// that can fail is checked before the first mutation so the operation never
// leaves a partially funded escrow behind. The state's operation lock is held
// throughout; without it two concurrent creations could both observe the
// commitment address vacant, or interleave on an account balance.
func (f *Factory) deploy(side Side, caller [20]byte, imm *Immutables, value *big.Int, cancellationCap *uint64) (*Immutables, *Instance, error) {
	if f == nil || f.state == nil {
		return nil, nil, ErrNilState
	}
	f.state.Lock()
	defer f.state.Unlock()

	sanitized, err := SanitizeImmutables(imm)
	if err != nil {
		return nil, nil, err
	}

	required := RequiredDeposit(sanitized)
	if value == nil || value.Cmp(required) != 0 {
		return nil, nil, ErrInsufficientEscrowBalance
	}

	// The anchor is stamped here, never taken from the caller: a forged
	// anchor would let the resolver shift phase boundaries in its favour.
	stamped := sanitized.Clone()
	stamped.Timelocks = stamped.Timelocks.WithDeployedAt(uint64(f.now()))
	if cancellationCap != nil && stamped.Timelocks.Start(StageDstCancellation) > *cancellationCap {
		return nil, nil, ErrInvalidCreationTime
	}

	commitment := stamped.Hash()
	addr := DeriveAddress(f.address, commitment, f.template(side))
	existing, err := f.state.EscrowGet(addr)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, ErrEscrowAlreadyDeployed
	}

	callerAcc, err := f.state.GetAccount(caller[:])
	if err != nil {
		return nil, nil, err
	}
	callerAcc = callerAcc.EnsureDefaults()
	if callerAcc.BalanceNative.Cmp(value) < 0 {
		return nil, nil, fmt.Errorf("escrow: insufficient native balance for deposit")
	}
	if stamped.Token != NativeToken {
		if callerAcc.TokenBalance(stamped.Token).Cmp(stamped.Amount) < 0 {
			return nil, nil, fmt.Errorf("escrow: insufficient %s balance for amount", stamped.Token)
		}
	}

	escrowAcc, err := f.state.GetAccount(addr[:])
	if err != nil {
		return nil, nil, err
	}
	escrowAcc = escrowAcc.EnsureDefaults()

	inst := &Instance{
		Address:     addr,
		Side:        side,
		Commitment:  commitment,
		Terms:       *stamped.Clone(),
		RescueDelay: f.rescueDelay,
		Status:      InstanceActive,
	}
	if err := f.state.EscrowPut(inst); err != nil {
		return nil, nil, err
	}

	// Native payment first so the instance is funded-ready, then the
	// in-kind amount targets the now-registered address.
	callerAcc.BalanceNative = new(big.Int).Sub(callerAcc.BalanceNative, value)
	escrowAcc.BalanceNative = new(big.Int).Add(escrowAcc.BalanceNative, value)
	if stamped.Token != NativeToken {
		callerTokens := callerAcc.TokenBalance(stamped.Token)
		callerAcc.SetTokenBalance(stamped.Token, callerTokens.Sub(callerTokens, stamped.Amount))
		escrowTokens := escrowAcc.TokenBalance(stamped.Token)
		escrowAcc.SetTokenBalance(stamped.Token, escrowTokens.Add(escrowTokens, stamped.Amount))
	}
	if err := f.state.PutAccount(caller[:], callerAcc); err != nil {
		return nil, nil, err
	}
	if err := f.state.PutAccount(addr[:], escrowAcc); err != nil {
		return nil, nil, err
	}
	return stamped, inst, nil
}
