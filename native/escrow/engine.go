package escrow

import (
	"fmt"
	"math/big"
	"time"

	"crosslock/core/events"
	"crosslock/core/types"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Engine executes the unlock and refund transitions over deployed escrow
// instances. Eligibility is always recomputed locally from the stamped anchor
// and the locally observed clock; a counterpart chain's notion of time is
// never trusted.
type Engine struct {
	state   factoryState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an instance engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state factoryState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn())
}

// loadActive fetches an instance still open for transitions. Callers must
// already hold the state's operation lock.
func (e *Engine) loadActive(addr [20]byte) (*Instance, error) {
	inst, err := e.state.EscrowGet(addr)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, ErrEscrowNotFound
	}
	if inst.Status != InstanceActive {
		return nil, ErrEscrowNotActive
	}
	return inst, nil
}

func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureDefaults()
	toAcc = toAcc.EnsureDefaults()
	if fromAcc.BalanceNative.Cmp(amount) < 0 {
		return fmt.Errorf("escrow: insufficient native balance")
	}
	fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amount)
	toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if token == NativeToken {
		return e.transferNative(from, to, amount)
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureDefaults()
	toAcc = toAcc.EnsureDefaults()
	fromBal := fromAcc.TokenBalance(token)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("escrow: insufficient %s balance", token)
	}
	fromAcc.SetTokenBalance(token, fromBal.Sub(fromBal, amount))
	toBal := toAcc.TokenBalance(token)
	toAcc.SetTokenBalance(token, toBal.Add(toBal, amount))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// beneficiary returns who receives the locked amount on withdrawal for the
// instance's side: the taker collects on the source chain, the maker on the
// destination chain.
func beneficiary(inst *Instance) [20]byte {
	if inst.Side == SideSrc {
		return inst.Terms.Taker
	}
	return inst.Terms.Maker
}

// refundee returns who the locked amount goes back to on cancellation.
func refundee(inst *Instance) [20]byte {
	if inst.Side == SideSrc {
		return inst.Terms.Maker
	}
	return inst.Terms.Taker
}

func (inst *Instance) withdrawWindow() (start, end uint64) {
	if inst.Side == SideSrc {
		return inst.Terms.Timelocks.Start(StageSrcWithdrawal), inst.Terms.Timelocks.Start(StageSrcCancellation)
	}
	return inst.Terms.Timelocks.Start(StageDstWithdrawal), inst.Terms.Timelocks.Start(StageDstCancellation)
}

func (inst *Instance) publicWithdrawStart() uint64 {
	if inst.Side == SideSrc {
		return inst.Terms.Timelocks.Start(StageSrcPublicWithdrawal)
	}
	return inst.Terms.Timelocks.Start(StageDstPublicWithdrawal)
}

func (inst *Instance) cancelStart() uint64 {
	if inst.Side == SideSrc {
		return inst.Terms.Timelocks.Start(StageSrcCancellation)
	}
	return inst.Terms.Timelocks.Start(StageDstCancellation)
}

// Withdraw releases the locked amount to the side's beneficiary when the
// taker presents the correct secret inside the private withdrawal window. The
// safety deposit goes to the caller as the execution incentive.
func (e *Engine) Withdraw(addr [20]byte, caller [20]byte, secret [32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.state.Lock()
	defer e.state.Unlock()

	inst, err := e.loadActive(addr)
	if err != nil {
		return err
	}
	if caller != inst.Terms.Taker {
		return ErrInvalidCaller
	}
	start, end := inst.withdrawWindow()
	if now := e.now(); now < start || now >= end {
		return ErrInvalidTime
	}
	return e.settleWithdraw(inst, caller, secret, beneficiary(inst))
}

// WithdrawTo is Withdraw with an explicit recipient for the locked amount,
// available to the taker on the source side only.
func (e *Engine) WithdrawTo(addr [20]byte, caller [20]byte, secret [32]byte, target [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.state.Lock()
	defer e.state.Unlock()

	inst, err := e.loadActive(addr)
	if err != nil {
		return err
	}
	if inst.Side != SideSrc {
		return ErrInvalidCaller
	}
	if caller != inst.Terms.Taker {
		return ErrInvalidCaller
	}
	start, end := inst.withdrawWindow()
	if now := e.now(); now < start || now >= end {
		return ErrInvalidTime
	}
	return e.settleWithdraw(inst, caller, secret, target)
}

// PublicWithdraw lets anyone complete the withdrawal once the public window
// opens, collecting the safety deposit for their trouble. Access gating for
// public actions is the resolver-whitelist layer's concern, outside this
// engine.
func (e *Engine) PublicWithdraw(addr [20]byte, caller [20]byte, secret [32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.state.Lock()
	defer e.state.Unlock()

	inst, err := e.loadActive(addr)
	if err != nil {
		return err
	}
	_, end := inst.withdrawWindow()
	if now := e.now(); now < inst.publicWithdrawStart() || now >= end {
		return ErrInvalidTime
	}
	return e.settleWithdraw(inst, caller, secret, beneficiary(inst))
}

func (e *Engine) settleWithdraw(inst *Instance, caller [20]byte, secret [32]byte, recipient [20]byte) error {
	if [32]byte(ethcrypto.Keccak256Hash(secret[:])) != inst.Terms.Hashlock {
		return ErrInvalidSecret
	}
	if err := e.transferToken(inst.Address, recipient, inst.Terms.Token, inst.Terms.Amount); err != nil {
		return err
	}
	if err := e.transferNative(inst.Address, caller, inst.Terms.SafetyDeposit); err != nil {
		return err
	}
	inst.Status = InstanceWithdrawn
	if err := e.state.EscrowPut(inst); err != nil {
		return err
	}
	e.emit(NewEscrowWithdrawnEvent(inst, secret, recipient))
	return nil
}

// Cancel refunds the locked amount to the side's refundee once the
// cancellation window opens. Only the taker may cancel privately.
func (e *Engine) Cancel(addr [20]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.state.Lock()
	defer e.state.Unlock()

	inst, err := e.loadActive(addr)
	if err != nil {
		return err
	}
	if caller != inst.Terms.Taker {
		return ErrInvalidCaller
	}
	if e.now() < inst.cancelStart() {
		return ErrInvalidTime
	}
	return e.settleCancel(inst, caller)
}

// PublicCancel lets anyone trigger the refund once the public cancellation
// window opens. Source side only: the destination escrow has no public
// cancellation phase.
func (e *Engine) PublicCancel(addr [20]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.state.Lock()
	defer e.state.Unlock()

	inst, err := e.loadActive(addr)
	if err != nil {
		return err
	}
	if inst.Side != SideSrc {
		return ErrInvalidCaller
	}
	if e.now() < inst.Terms.Timelocks.Start(StageSrcPublicCancellation) {
		return ErrInvalidTime
	}
	return e.settleCancel(inst, caller)
}

func (e *Engine) settleCancel(inst *Instance, caller [20]byte) error {
	if err := e.transferToken(inst.Address, refundee(inst), inst.Terms.Token, inst.Terms.Amount); err != nil {
		return err
	}
	if err := e.transferNative(inst.Address, caller, inst.Terms.SafetyDeposit); err != nil {
		return err
	}
	inst.Status = InstanceCancelled
	if err := e.state.EscrowPut(inst); err != nil {
		return err
	}
	e.emit(NewEscrowCancelledEvent(inst, caller))
	return nil
}

// RescueFunds lets the taker recover assets stranded on a settled or stuck
// instance once the rescue delay has elapsed since deployment.
func (e *Engine) RescueFunds(addr [20]byte, caller [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.state.Lock()
	defer e.state.Unlock()

	inst, err := e.state.EscrowGet(addr)
	if err != nil {
		return err
	}
	if inst == nil {
		return ErrEscrowNotFound
	}
	if caller != inst.Terms.Taker {
		return ErrInvalidCaller
	}
	if e.now() < inst.Terms.Timelocks.RescueStart(inst.RescueDelay) {
		return ErrInvalidTime
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if err := e.transferToken(inst.Address, caller, normalized, amount); err != nil {
		return err
	}
	e.emit(NewFundsRescuedEvent(inst, normalized, amount))
	return nil
}
