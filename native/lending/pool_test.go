package lending

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "sterling/native/common"
	"sterling/native/position"
)

type mockState struct {
	pools  map[string]*Pool
	shares map[string]map[common.Address]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		pools:  make(map[string]*Pool),
		shares: make(map[string]map[common.Address]*big.Int),
	}
}

func (m *mockState) GetPool(poolID string) (*Pool, error) {
	return m.pools[poolID], nil
}

func (m *mockState) PutPool(poolID string, pool *Pool) error {
	m.pools[poolID] = pool
	return nil
}

func (m *mockState) DepositShares(poolID string, holder common.Address) (*big.Int, error) {
	held := m.shares[poolID][holder]
	if held == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(held), nil
}

func (m *mockState) SetDepositShares(poolID string, holder common.Address, shares *big.Int) error {
	bucket, ok := m.shares[poolID]
	if !ok {
		bucket = make(map[common.Address]*big.Int)
		m.shares[poolID] = bucket
	}
	bucket[holder] = new(big.Int).Set(shares)
	return nil
}

type mockLedger struct {
	balances map[common.Address]map[common.Address]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

func (m *mockLedger) BalanceOf(addr, asset common.Address) (*big.Int, error) {
	bal := m.balances[addr][asset]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *mockLedger) set(addr, asset common.Address, amount int64) {
	bucket, ok := m.balances[addr]
	if !ok {
		bucket = make(map[common.Address]*big.Int)
		m.balances[addr] = bucket
	}
	bucket[asset] = big.NewInt(amount)
}

func (m *mockLedger) Transfer(from, to, asset common.Address, amount *big.Int) error {
	fromBal, _ := m.BalanceOf(from, asset)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance for %s", from.Hex())
	}
	toBal, _ := m.BalanceOf(to, asset)
	bucket, ok := m.balances[from]
	if !ok {
		bucket = make(map[common.Address]*big.Int)
		m.balances[from] = bucket
	}
	bucket[asset] = fromBal.Sub(fromBal, amount)
	bucket, ok = m.balances[to]
	if !ok {
		bucket = make(map[common.Address]*big.Int)
		m.balances[to] = bucket
	}
	bucket[asset] = toBal.Add(toBal, amount)
	return nil
}

var (
	testAsset = common.HexToAddress("0xaaaa")
	poolOwner = common.HexToAddress("0x0001")
	feeSink   = common.HexToAddress("0x00fe")
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockLedger) {
	t.Helper()
	state := newMockState()
	ledger := newMockLedger()
	engine := NewEngine(state, ledger)
	engine.SetClock(func() uint64 { return 1_700_000_000 })
	engine.RegisterRateModel("default", DefaultRateModel)
	return engine, state, ledger
}

func mustCreatePool(t *testing.T, engine *Engine, id string, mutate func(*Pool)) *Pool {
	t.Helper()
	pool := &Pool{
		ID:           id,
		Asset:        testAsset,
		Owner:        poolOwner,
		FeeRecipient: feeSink,
		RateModel:    "default",
	}
	if mutate != nil {
		mutate(pool)
	}
	if err := engine.CreatePool(pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

func TestCreatePoolRejectsDuplicateAndUnknownModel(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", nil)

	dup := &Pool{ID: "weth-core", Asset: testAsset, RateModel: "default"}
	if err := engine.CreatePool(dup); err != ErrPoolExists {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	bad := &Pool{ID: "weth-alt", Asset: testAsset, RateModel: "missing"}
	if err := engine.CreatePool(bad); err != ErrUnknownRateModel {
		t.Fatalf("expected unknown rate model, got %v", err)
	}
}

func TestDepositMintsSharesAndMovesAssets(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	pool := mustCreatePool(t, engine, "weth-core", nil)
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 1_000)

	shares, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Int64() != 1_000 {
		t.Fatalf("expected 1000 shares on first deposit, got %s", shares)
	}
	stored := state.pools["weth-core"]
	if stored.TotalDepositAssets.Int64() != 1_000 || stored.TotalDepositShares.Int64() != 1_000 {
		t.Fatalf("unexpected totals: assets=%s shares=%s", stored.TotalDepositAssets, stored.TotalDepositShares)
	}
	moduleBal, _ := ledger.BalanceOf(pool.ModuleAddr, testAsset)
	if moduleBal.Int64() != 1_000 {
		t.Fatalf("module should custody the deposit, got %s", moduleBal)
	}
}

func TestDepositRejectsZeroShareMint(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", func(p *Pool) {
		p.TotalDepositAssets = big.NewInt(1_000)
		p.TotalDepositShares = big.NewInt(1)
	})
	_ = state
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 100)

	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(100)); err != ErrZeroShares {
		t.Fatalf("expected zero-share rejection, got %v", err)
	}
}

func TestWithdrawAfterAccruedInterestRounding(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	pool := mustCreatePool(t, engine, "weth-core", func(p *Pool) {
		p.TotalDepositAssets = big.NewInt(101)
		p.TotalDepositShares = big.NewInt(51)
	})
	supplier := common.HexToAddress("0x10")
	if err := state.SetDepositShares("weth-core", supplier, big.NewInt(51)); err != nil {
		t.Fatalf("seed shares: %v", err)
	}
	ledger.set(pool.ModuleAddr, testAsset, 101)

	max, err := engine.MaxWithdraw("weth-core", supplier)
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	if max.Int64() != 100 {
		t.Fatalf("expected max withdraw 100, got %s", max)
	}
	// Withdrawing one more than the quoted maximum must fail.
	if _, err := engine.Withdraw("weth-core", supplier, supplier, big.NewInt(101)); err != ErrInsufficientShares {
		t.Fatalf("expected share shortfall, got %v", err)
	}
	burned, err := engine.Withdraw("weth-core", supplier, supplier, max)
	if err != nil {
		t.Fatalf("withdraw quoted max: %v", err)
	}
	if burned.Int64() != 51 {
		t.Fatalf("expected all 51 shares burned, got %s", burned)
	}
	got, _ := ledger.BalanceOf(supplier, testAsset)
	if got.Int64() != 100 {
		t.Fatalf("expected 100 assets out, got %s", got)
	}
}

func TestRedeemRoundsAssetsDown(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	pool := mustCreatePool(t, engine, "weth-core", func(p *Pool) {
		p.TotalDepositAssets = big.NewInt(101)
		p.TotalDepositShares = big.NewInt(51)
	})
	supplier := common.HexToAddress("0x10")
	if err := state.SetDepositShares("weth-core", supplier, big.NewInt(51)); err != nil {
		t.Fatalf("seed shares: %v", err)
	}
	ledger.set(pool.ModuleAddr, testAsset, 101)

	assets, err := engine.Redeem("weth-core", supplier, supplier, big.NewInt(51))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if assets.Int64() != 100 {
		t.Fatalf("expected 100 assets from full redeem, got %s", assets)
	}
}

func TestDepositCapAndBorrowCap(t *testing.T) {
	engine, _, ledger := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", func(p *Pool) {
		p.PoolCap = big.NewInt(500)
		p.BorrowCap = big.NewInt(100)
	})
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 1_000)

	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(600)); err != ErrPoolCapExceeded {
		t.Fatalf("expected pool cap, got %v", err)
	}
	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(500)); err != nil {
		t.Fatalf("deposit under cap: %v", err)
	}

	pos := position.New(common.HexToAddress("0x20"), supplier)
	if _, err := engine.Borrow("weth-core", pos, big.NewInt(101)); err != ErrBorrowCapExceeded {
		t.Fatalf("expected borrow cap, got %v", err)
	}
	if _, err := engine.Borrow("weth-core", pos, big.NewInt(100)); err != nil {
		t.Fatalf("borrow under cap: %v", err)
	}
}

func TestBorrowDisbursesNetOfOriginationFee(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	pool := mustCreatePool(t, engine, "weth-core", func(p *Pool) {
		p.OriginationFeeBps = 100 // 1%
	})
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 1_000)
	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	pos := position.New(common.HexToAddress("0x20"), supplier)
	disbursed, err := engine.Borrow("weth-core", pos, big.NewInt(100))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if disbursed.Int64() != 99 {
		t.Fatalf("expected 99 disbursed, got %s", disbursed)
	}
	posBal, _ := ledger.BalanceOf(pos.Addr, testAsset)
	if posBal.Int64() != 99 {
		t.Fatalf("position balance %s, want 99", posBal)
	}
	feeBal, _ := ledger.BalanceOf(feeSink, testAsset)
	if feeBal.Int64() != 1 {
		t.Fatalf("fee recipient balance %s, want 1", feeBal)
	}
	stored := state.pools["weth-core"]
	// Debt is booked on the gross amount, not the net disbursement.
	if stored.TotalBorrowAssets.Int64() != 100 {
		t.Fatalf("total borrow assets %s, want 100", stored.TotalBorrowAssets)
	}
	if pos.BorrowSharesOf("weth-core").Sign() == 0 {
		t.Fatalf("position should carry borrow shares")
	}
	_ = pool
}

func TestBorrowRequiresIdleLiquidity(t *testing.T) {
	engine, _, ledger := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", nil)
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 100)
	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pos := position.New(common.HexToAddress("0x20"), supplier)
	if _, err := engine.Borrow("weth-core", pos, big.NewInt(101)); err != ErrInsufficientLiquidity {
		t.Fatalf("expected liquidity error, got %v", err)
	}
}

func TestRepayClampsToDebtAndClearsDebtSet(t *testing.T) {
	engine, state, ledger := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", nil)
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 1_000)
	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pos := position.New(common.HexToAddress("0x20"), supplier)
	if _, err := engine.Borrow("weth-core", pos, big.NewInt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	payer := common.HexToAddress("0x30")
	ledger.set(payer, testAsset, 500)
	repaid, err := engine.Repay("weth-core", pos, payer, big.NewInt(500))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Int64() != 100 {
		t.Fatalf("repay should clamp to debt, got %s", repaid)
	}
	if pos.HasDebtPool("weth-core") {
		t.Fatalf("debt set should clear after full repayment")
	}
	stored := state.pools["weth-core"]
	if stored.TotalBorrowAssets.Sign() != 0 || stored.TotalBorrowShares.Sign() != 0 {
		t.Fatalf("borrow totals should be zero: assets=%s shares=%s", stored.TotalBorrowAssets, stored.TotalBorrowShares)
	}
	payerBal, _ := ledger.BalanceOf(payer, testAsset)
	if payerBal.Int64() != 400 {
		t.Fatalf("payer should keep the unclamped remainder, got %s", payerBal)
	}

	if _, err := engine.Repay("weth-core", pos, payer, big.NewInt(1)); err != ErrNoDebtToRepay {
		t.Fatalf("expected no-debt rejection, got %v", err)
	}
}

func TestPauseSwitchboardBlocksFlows(t *testing.T) {
	engine, _, ledger := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", nil)
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 1_000)

	board := nativecommon.NewSwitchboard()
	engine.SetPauses(board)
	board.SetPaused(FlowSupply, true)

	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(100)); err != nativecommon.ErrFlowPaused {
		t.Fatalf("expected paused flow, got %v", err)
	}
	board.SetPaused(FlowSupply, false)
	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(100)); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestPoolPausedBlocksDepositAndBorrow(t *testing.T) {
	engine, _, ledger := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", nil)
	supplier := common.HexToAddress("0x10")
	ledger.set(supplier, testAsset, 1_000)
	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.SetPoolPaused("weth-core", true); err != nil {
		t.Fatalf("pause pool: %v", err)
	}
	if _, err := engine.Deposit("weth-core", supplier, supplier, big.NewInt(100)); err != ErrPoolPaused {
		t.Fatalf("expected pool paused, got %v", err)
	}
	pos := position.New(common.HexToAddress("0x20"), supplier)
	if _, err := engine.Borrow("weth-core", pos, big.NewInt(10)); err != ErrPoolPaused {
		t.Fatalf("expected pool paused, got %v", err)
	}
	// Withdrawals stay live while the pool is paused.
	if _, err := engine.Withdraw("weth-core", supplier, supplier, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw while paused: %v", err)
	}
}
