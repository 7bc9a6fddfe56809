package escrow

import (
	"math/big"
	"sync"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crosslock/core/events"
)

const engineAnchor = int64(1_700_000_000)

type swapFixture struct {
	state    *mockState
	factory  *Factory
	engine   *Engine
	capture  *events.Capture
	resolver [20]byte
	maker    [20]byte
	secret   [32]byte
	addr     [20]byte
	now      *int64
}

// newSwapFixture deploys a funded source-side escrow: 100 WETH locked, 5
// native safety deposit, secret known to the test.
func newSwapFixture(t *testing.T, side Side) *swapFixture {
	t.Helper()
	fx := &swapFixture{
		state:    newMockState(),
		resolver: newTestAddress(0xAA),
		maker:    newTestAddress(0xBB),
	}
	fx.secret[0] = 0x5e
	now := engineAnchor
	fx.now = &now

	fundNative(fx.state, fx.resolver, 5)
	fundToken(fx.state, fx.resolver, "WETH", 100)

	fx.factory, fx.capture = newTestFactory(fx.state)
	fx.factory.SetNowFunc(func() int64 { return *fx.now })

	imm := testImmutables(t)
	imm.Maker = fx.maker
	imm.Taker = fx.resolver
	imm.Hashlock = [32]byte(ethcrypto.Keccak256Hash(fx.secret[:]))

	var (
		addr [20]byte
		err  error
	)
	if side == SideSrc {
		addr, err = fx.factory.CreateSrcEscrow(fx.resolver, imm, nil, big.NewInt(5))
	} else {
		addr, err = fx.factory.CreateDstEscrow(fx.resolver, imm, uint64(engineAnchor)+240, big.NewInt(5))
	}
	if err != nil {
		t.Fatalf("deploy fixture escrow: %v", err)
	}
	fx.addr = addr

	fx.engine = NewEngine()
	fx.engine.SetState(fx.state)
	fx.engine.SetEmitter(fx.capture)
	fx.engine.SetNowFunc(func() int64 { return *fx.now })
	return fx
}

func (fx *swapFixture) advance(seconds int64) { *fx.now = engineAnchor + seconds }

func nativeBalance(t *testing.T, state *mockState, addr [20]byte) *big.Int {
	t.Helper()
	acc, err := state.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	return acc.BalanceNative
}

func tokenBalance(t *testing.T, state *mockState, addr [20]byte, token string) *big.Int {
	t.Helper()
	acc, err := state.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	return acc.TokenBalance(token)
}

func TestWithdrawSrcHappyPath(t *testing.T) {
	fx := newSwapFixture(t, SideSrc)
	fx.advance(15) // inside the private window (offset 10..300)

	if err := fx.engine.Withdraw(fx.addr, fx.resolver, fx.secret); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// Source side: the taker collects the locked amount, the caller the
	// safety deposit; here both are the resolver.
	if tokenBalance(t, fx.state, fx.resolver, "WETH").Cmp(big.NewInt(100)) != 0 {
		t.Fatal("taker did not receive the locked amount")
	}
	if nativeBalance(t, fx.state, fx.resolver).Cmp(big.NewInt(5)) != 0 {
		t.Fatal("caller did not receive the safety deposit")
	}
	inst, _ := fx.state.EscrowGet(fx.addr)
	if inst.Status != InstanceWithdrawn {
		t.Fatalf("status = %d, want withdrawn", inst.Status)
	}

	attrs := eventAttrs(t, fx.capture, EventTypeEscrowWithdrawn)
	if attrs["secret"] == "" {
		t.Fatal("withdrawal event must reveal the secret")
	}

	// Terminal states accept no further transitions.
	if err := fx.engine.Withdraw(fx.addr, fx.resolver, fx.secret); err != ErrEscrowNotActive {
		t.Fatalf("second withdraw err = %v, want ErrEscrowNotActive", err)
	}
}

func TestWithdrawDstPaysMaker(t *testing.T) {
	fx := newSwapFixture(t, SideDst)
	fx.advance(15)

	if err := fx.engine.Withdraw(fx.addr, fx.resolver, fx.secret); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if tokenBalance(t, fx.state, fx.maker, "WETH").Cmp(big.NewInt(100)) != 0 {
		t.Fatal("maker did not receive the destination amount")
	}
	if nativeBalance(t, fx.state, fx.resolver).Cmp(big.NewInt(5)) != 0 {
		t.Fatal("caller did not receive the safety deposit")
	}
}

func TestWithdrawGuards(t *testing.T) {
	fx := newSwapFixture(t, SideSrc)

	// Before the private window opens.
	fx.advance(5)
	if err := fx.engine.Withdraw(fx.addr, fx.resolver, fx.secret); err != ErrInvalidTime {
		t.Fatalf("early withdraw err = %v, want ErrInvalidTime", err)
	}

	// Wrong secret inside the window.
	fx.advance(15)
	var wrong [32]byte
	wrong[0] = 0xFF
	if err := fx.engine.Withdraw(fx.addr, fx.resolver, wrong); err != ErrInvalidSecret {
		t.Fatalf("wrong secret err = %v, want ErrInvalidSecret", err)
	}

	// Non-taker caller.
	if err := fx.engine.Withdraw(fx.addr, fx.maker, fx.secret); err != ErrInvalidCaller {
		t.Fatalf("non-taker err = %v, want ErrInvalidCaller", err)
	}

	// After the cancellation boundary the withdrawal path is closed.
	fx.advance(300)
	if err := fx.engine.Withdraw(fx.addr, fx.resolver, fx.secret); err != ErrInvalidTime {
		t.Fatalf("late withdraw err = %v, want ErrInvalidTime", err)
	}
}

func TestPublicWithdrawWindow(t *testing.T) {
	fx := newSwapFixture(t, SideSrc)
	stranger := newTestAddress(0xCC)

	fx.advance(15) // private window, public not yet open
	if err := fx.engine.PublicWithdraw(fx.addr, stranger, fx.secret); err != ErrInvalidTime {
		t.Fatalf("early public withdraw err = %v, want ErrInvalidTime", err)
	}

	fx.advance(150) // public window (offset 120..300)
	if err := fx.engine.PublicWithdraw(fx.addr, stranger, fx.secret); err != nil {
		t.Fatalf("public withdraw: %v", err)
	}
	// The stranger collects the deposit, the taker the amount.
	if nativeBalance(t, fx.state, stranger).Cmp(big.NewInt(5)) != 0 {
		t.Fatal("public caller did not receive the safety deposit")
	}
	if tokenBalance(t, fx.state, fx.resolver, "WETH").Cmp(big.NewInt(100)) != 0 {
		t.Fatal("taker did not receive the locked amount")
	}
}

func TestCancelReturnsFundsToMaker(t *testing.T) {
	fx := newSwapFixture(t, SideSrc)

	fx.advance(15)
	if err := fx.engine.Cancel(fx.addr, fx.resolver); err != ErrInvalidTime {
		t.Fatalf("early cancel err = %v, want ErrInvalidTime", err)
	}

	fx.advance(301) // past the cancellation boundary (offset 300)
	if err := fx.engine.Cancel(fx.addr, fx.resolver); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if tokenBalance(t, fx.state, fx.maker, "WETH").Cmp(big.NewInt(100)) != 0 {
		t.Fatal("maker did not get the locked amount back")
	}
	if nativeBalance(t, fx.state, fx.resolver).Cmp(big.NewInt(5)) != 0 {
		t.Fatal("caller did not receive the safety deposit")
	}
	inst, _ := fx.state.EscrowGet(fx.addr)
	if inst.Status != InstanceCancelled {
		t.Fatalf("status = %d, want cancelled", inst.Status)
	}
}

func TestPublicCancelSrcOnly(t *testing.T) {
	fx := newSwapFixture(t, SideSrc)
	stranger := newTestAddress(0xCC)

	fx.advance(400) // cancellation open, public cancellation not yet (offset 600)
	if err := fx.engine.PublicCancel(fx.addr, stranger); err != ErrInvalidTime {
		t.Fatalf("early public cancel err = %v, want ErrInvalidTime", err)
	}
	fx.advance(601)
	if err := fx.engine.PublicCancel(fx.addr, stranger); err != nil {
		t.Fatalf("public cancel: %v", err)
	}
	if nativeBalance(t, fx.state, stranger).Cmp(big.NewInt(5)) != 0 {
		t.Fatal("public caller did not receive the safety deposit")
	}

	dst := newSwapFixture(t, SideDst)
	dst.advance(601)
	if err := dst.engine.PublicCancel(dst.addr, stranger); err != ErrInvalidCaller {
		t.Fatalf("dst public cancel err = %v, want ErrInvalidCaller", err)
	}
}

func TestRescueFunds(t *testing.T) {
	fx := newSwapFixture(t, SideSrc)

	// Settle the escrow, then strand extra funds on its account.
	fx.advance(15)
	if err := fx.engine.Withdraw(fx.addr, fx.resolver, fx.secret); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	fundToken(fx.state, fx.addr, "DAI", 7)

	if err := fx.engine.RescueFunds(fx.addr, fx.resolver, "DAI", big.NewInt(7)); err != ErrInvalidTime {
		t.Fatalf("early rescue err = %v, want ErrInvalidTime", err)
	}
	fx.advance(86401) // past the rescue delay
	if err := fx.engine.RescueFunds(fx.addr, fx.maker, "DAI", big.NewInt(7)); err != ErrInvalidCaller {
		t.Fatalf("non-taker rescue err = %v, want ErrInvalidCaller", err)
	}
	if err := fx.engine.RescueFunds(fx.addr, fx.resolver, "DAI", big.NewInt(7)); err != nil {
		t.Fatalf("rescue: %v", err)
	}
	if tokenBalance(t, fx.state, fx.resolver, "DAI").Cmp(big.NewInt(7)) != 0 {
		t.Fatal("rescued funds did not reach the taker")
	}
}

func TestWithdrawToExplicitTarget(t *testing.T) {
	fx := newSwapFixture(t, SideSrc)
	target := newTestAddress(0xDD)

	fx.advance(15)
	if err := fx.engine.WithdrawTo(fx.addr, fx.resolver, fx.secret, target); err != nil {
		t.Fatalf("withdraw to: %v", err)
	}
	if tokenBalance(t, fx.state, target, "WETH").Cmp(big.NewInt(100)) != 0 {
		t.Fatal("explicit target did not receive the locked amount")
	}

	dst := newSwapFixture(t, SideDst)
	dst.advance(15)
	if err := dst.engine.WithdrawTo(dst.addr, dst.resolver, dst.secret, target); err != ErrInvalidCaller {
		t.Fatalf("dst withdrawTo err = %v, want ErrInvalidCaller", err)
	}
}

// Concurrent settlement attempts on one escrow must resolve to a single
// effective transition: one payout, every other caller sees the terminal
// state.
func TestConcurrentWithdrawSingleSettlement(t *testing.T) {
	const workers = 8
	fx := newSwapFixture(t, SideSrc)
	fx.advance(15)

	start := make(chan struct{})
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fx.engine.Withdraw(fx.addr, fx.resolver, fx.secret)
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for i, err := range errs {
		switch err {
		case nil:
			successes++
		case ErrEscrowNotActive:
		default:
			t.Fatalf("worker %d: unexpected error %v", i, err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
	// The locked amount and deposit were paid out exactly once.
	if tokenBalance(t, fx.state, fx.resolver, "WETH").Cmp(big.NewInt(100)) != 0 {
		t.Fatal("locked amount not paid out exactly once")
	}
	if nativeBalance(t, fx.state, fx.resolver).Cmp(big.NewInt(5)) != 0 {
		t.Fatal("safety deposit not paid out exactly once")
	}
	escrowAcc, err := fx.state.GetAccount(fx.addr[:])
	if err != nil {
		t.Fatalf("load escrow account: %v", err)
	}
	if escrowAcc.BalanceNative.Sign() != 0 || escrowAcc.TokenBalance("WETH").Sign() != 0 {
		t.Fatal("escrow account not fully drained")
	}
}
