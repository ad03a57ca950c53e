package risk

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/fixedpoint"
	"sterling/native/lending"
	"sterling/native/position"
)

type mockState struct {
	entries map[string]*LtvEntry
}

func newMockState() *mockState {
	return &mockState{entries: make(map[string]*LtvEntry)}
}

func ltvKey(poolID string, asset common.Address) string {
	return poolID + "/" + asset.Hex()
}

func (m *mockState) GetLtv(poolID string, asset common.Address) (*LtvEntry, error) {
	return m.entries[ltvKey(poolID, asset)], nil
}

func (m *mockState) PutLtv(poolID string, asset common.Address, entry *LtvEntry) error {
	m.entries[ltvKey(poolID, asset)] = entry
	return nil
}

type mockPools struct {
	pools map[string]*lending.Pool
}

func (m *mockPools) GetPool(poolID string) (*lending.Pool, error) {
	pool, ok := m.pools[poolID]
	if !ok {
		return nil, lending.ErrUnknownPool
	}
	return pool, nil
}

// Borrow shares convert 1:1 to assets in these tests.
func (m *mockPools) BorrowAssetsOf(poolID string, shares *big.Int) (*big.Int, error) {
	if shares == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(shares), nil
}

// mockOracle values one token unit at the configured whole-ETH price;
// unpriced assets value to zero the way a faulting source does.
type mockOracle struct {
	prices map[common.Address]int64
}

func (m *mockOracle) SafeValueInEth(asset common.Address, amount *big.Int) *big.Int {
	price, ok := m.prices[asset]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(amount, big.NewInt(price))
}

// mockBalances is the balance ledger view; keyed by account then asset.
type mockBalances struct {
	balances map[common.Address]map[common.Address]*big.Int
}

func (m *mockBalances) BalanceOf(addr, asset common.Address) (*big.Int, error) {
	bal := m.balances[addr][asset]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *mockBalances) set(addr, asset common.Address, amount int64) {
	bucket, ok := m.balances[addr]
	if !ok {
		bucket = make(map[common.Address]*big.Int)
		m.balances[addr] = bucket
	}
	bucket[asset] = big.NewInt(amount)
}

var (
	collatAsset = common.HexToAddress("0xc0")
	borrowAsset = common.HexToAddress("0xb0")
	owner       = common.HexToAddress("0x01")
	stranger    = common.HexToAddress("0x02")
)

func wadLtv(whole int64, hundredths int64) *big.Int {
	ltv := new(big.Int).Mul(big.NewInt(whole*100+hundredths), fixedpoint.Wad)
	return ltv.Quo(ltv, big.NewInt(100))
}

func newTestEngine(t *testing.T) (*Engine, *mockBalances, *mockOracle, func(uint64)) {
	t.Helper()
	state := newMockState()
	pools := &mockPools{pools: map[string]*lending.Pool{
		"weth-core": {ID: "weth-core", Asset: borrowAsset, Owner: owner},
	}}
	oracle := &mockOracle{prices: map[common.Address]int64{
		collatAsset: 1,
		borrowAsset: 2,
	}}
	balances := &mockBalances{balances: make(map[common.Address]map[common.Address]*big.Int)}
	engine := NewEngine(state, pools, oracle, balances)
	now := uint64(1_700_000_000)
	engine.SetClock(func() uint64 { return now })
	advance := func(by uint64) { now += by }
	return engine, balances, oracle, advance
}

func TestLtvBootstrapAppliesImmediately(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, wadLtv(0, 80)); err != nil {
		t.Fatalf("bootstrap request: %v", err)
	}
	ltv, err := engine.LtvFor("weth-core", collatAsset)
	if err != nil {
		t.Fatalf("ltv for: %v", err)
	}
	if ltv.Cmp(wadLtv(0, 80)) != 0 {
		t.Fatalf("bootstrap ltv %s, want 0.8 wad", ltv)
	}
}

func TestLtvUpdateHonoursTimelock(t *testing.T) {
	engine, _, _, advance := newTestEngine(t)
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, wadLtv(0, 80)); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, wadLtv(0, 50)); err != nil {
		t.Fatalf("staged request: %v", err)
	}
	// Pending value must not leak into reads before acceptance.
	ltv, _ := engine.LtvFor("weth-core", collatAsset)
	if ltv.Cmp(wadLtv(0, 80)) != 0 {
		t.Fatalf("pending ltv visible early: %s", ltv)
	}
	if err := engine.AcceptLtvUpdate("weth-core", collatAsset); err != ErrTimelockPending {
		t.Fatalf("expected timelock rejection, got %v", err)
	}
	advance(DefaultTimelockSeconds)
	if err := engine.AcceptLtvUpdate("weth-core", collatAsset); err != nil {
		t.Fatalf("accept after timelock: %v", err)
	}
	ltv, _ = engine.LtvFor("weth-core", collatAsset)
	if ltv.Cmp(wadLtv(0, 50)) != 0 {
		t.Fatalf("promoted ltv %s, want 0.5 wad", ltv)
	}
	if err := engine.AcceptLtvUpdate("weth-core", collatAsset); err != ErrNoPendingUpdate {
		t.Fatalf("expected no pending update, got %v", err)
	}
}

func TestLtvRequestAuthorizationAndBounds(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if err := engine.RequestLtvUpdate(stranger, "weth-core", collatAsset, wadLtv(0, 80)); err != ErrNotPoolOwner {
		t.Fatalf("expected owner check, got %v", err)
	}
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, big.NewInt(0)); err != ErrLtvBounds {
		t.Fatalf("expected bounds rejection for zero, got %v", err)
	}
	over := new(big.Int).Add(DefaultMaxLtv, big.NewInt(1))
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, over); err != ErrLtvBounds {
		t.Fatalf("expected bounds rejection above max, got %v", err)
	}
}

func TestRejectLtvUpdateClearsPending(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, wadLtv(0, 80)); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, wadLtv(0, 50)); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := engine.RejectLtvUpdate(stranger, "weth-core", collatAsset); err != ErrNotPoolOwner {
		t.Fatalf("expected owner check, got %v", err)
	}
	if err := engine.RejectLtvUpdate(owner, "weth-core", collatAsset); err != nil {
		t.Fatalf("reject: %v", err)
	}
	pending, _, err := engine.PendingLtv("weth-core", collatAsset)
	if err != nil {
		t.Fatalf("pending ltv: %v", err)
	}
	if pending != nil {
		t.Fatalf("pending should be cleared, got %s", pending)
	}
}

// 100 collateral units at 1 ETH against 200 borrowed units at 2 ETH with a
// 400% LTV sits exactly at the health boundary.
func TestHealthAtLeverageBoundary(t *testing.T) {
	engine, balances, _, _ := newTestEngine(t)
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, wadLtv(4, 0)); err != nil {
		t.Fatalf("set ltv: %v", err)
	}

	pos := position.New(common.HexToAddress("0x10"), owner)
	if err := pos.AddAsset(collatAsset); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	balances.set(pos.Addr, collatAsset, 100)
	if err := pos.SetBorrowShares("weth-core", big.NewInt(200)); err != nil {
		t.Fatalf("set debt: %v", err)
	}

	rd, err := engine.GetRiskData(pos)
	if err != nil {
		t.Fatalf("risk data: %v", err)
	}
	if rd.TotalAssetValue.Int64() != 100 || rd.TotalDebtValue.Int64() != 400 {
		t.Fatalf("values assets=%s debt=%s, want 100/400", rd.TotalAssetValue, rd.TotalDebtValue)
	}
	if rd.MinReqAssetValue.Int64() != 100 {
		t.Fatalf("min required %s, want 100", rd.MinReqAssetValue)
	}
	healthy, err := engine.IsHealthy(pos)
	if err != nil || !healthy {
		t.Fatalf("boundary position should be healthy (err=%v)", err)
	}

	// One more borrowed unit pushes past the boundary.
	if err := pos.SetBorrowShares("weth-core", big.NewInt(201)); err != nil {
		t.Fatalf("bump debt: %v", err)
	}
	healthy, err = engine.IsHealthy(pos)
	if err != nil || healthy {
		t.Fatalf("over-boundary position should be unhealthy (err=%v)", err)
	}
}

func TestZeroDebtIsHealthy(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	pos := position.New(common.HexToAddress("0x10"), owner)
	healthy, err := engine.IsHealthy(pos)
	if err != nil || !healthy {
		t.Fatalf("debt-free position should be healthy (err=%v)", err)
	}
}

func TestMissingLtvMakesPositionUnhealthy(t *testing.T) {
	engine, balances, _, _ := newTestEngine(t)
	pos := position.New(common.HexToAddress("0x10"), owner)
	_ = pos.AddAsset(collatAsset)
	balances.set(pos.Addr, collatAsset, 1_000_000)
	_ = pos.SetBorrowShares("weth-core", big.NewInt(1))

	healthy, err := engine.IsHealthy(pos)
	if err != nil || healthy {
		t.Fatalf("debt against unconfigured ltv must be unhealthy (err=%v)", err)
	}
}

func TestUnpricedCollateralMakesPositionUnhealthy(t *testing.T) {
	engine, balances, oracle, _ := newTestEngine(t)
	if err := engine.RequestLtvUpdate(owner, "weth-core", collatAsset, wadLtv(0, 80)); err != nil {
		t.Fatalf("set ltv: %v", err)
	}
	delete(oracle.prices, collatAsset)

	pos := position.New(common.HexToAddress("0x10"), owner)
	_ = pos.AddAsset(collatAsset)
	balances.set(pos.Addr, collatAsset, 1_000)
	_ = pos.SetBorrowShares("weth-core", big.NewInt(1))

	healthy, err := engine.IsHealthy(pos)
	if err != nil || healthy {
		t.Fatalf("collateral valued at zero with live debt must be unhealthy (err=%v)", err)
	}
}

func TestValidateLiquidationRejectsAssetMismatch(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	debts := []DebtTuple{
		{PoolID: "weth-core", Asset: borrowAsset, Amount: big.NewInt(10)},
		{PoolID: "weth-core", Asset: collatAsset, Amount: big.NewInt(10)},
	}
	if _, _, err := engine.ValidateLiquidation(debts, nil); err != ErrAssetMismatch {
		t.Fatalf("mismatched tuple must reject, got %v", err)
	}
}

func TestValidateLiquidationSeizureBound(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	// Repaying 100 borrow units at 2 ETH = 200 ETH; with a 10% discount the
	// seizable bound is 220 ETH = 220 collateral units at 1 ETH.
	debts := []DebtTuple{{PoolID: "weth-core", Asset: borrowAsset, Amount: big.NewInt(100)}}

	within := []SeizureTuple{{Asset: collatAsset, Amount: big.NewInt(220)}}
	repaid, seized, err := engine.ValidateLiquidation(debts, within)
	if err != nil {
		t.Fatalf("within-bound seizure: %v", err)
	}
	if repaid.Int64() != 200 || seized.Int64() != 220 {
		t.Fatalf("values repaid=%s seized=%s, want 200/220", repaid, seized)
	}

	over := []SeizureTuple{{Asset: collatAsset, Amount: big.NewInt(221)}}
	if _, _, err := engine.ValidateLiquidation(debts, over); err != ErrSeizureExceedsBound {
		t.Fatalf("expected bound rejection, got %v", err)
	}
}

func TestValidateLiquidationRejectsUnknownPoolAndZeroAmounts(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	unknown := []DebtTuple{{PoolID: "ghost", Asset: borrowAsset, Amount: big.NewInt(1)}}
	if _, _, err := engine.ValidateLiquidation(unknown, nil); err != lending.ErrUnknownPool {
		t.Fatalf("expected unknown pool, got %v", err)
	}
	zero := []DebtTuple{{PoolID: "weth-core", Asset: borrowAsset, Amount: big.NewInt(0)}}
	if _, _, err := engine.ValidateLiquidation(zero, nil); err != ErrInvalidTuple {
		t.Fatalf("expected invalid tuple, got %v", err)
	}
}
