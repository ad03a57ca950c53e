package lending

import (
	"math/big"
	"testing"
)

func TestAccrueMintsInterestAndFeeShares(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := NewEngine(state, ledger)
	engine.RegisterRateModel("fixed-10", NewFixedRateModel(0.10))

	now := uint64(1_700_000_000)
	engine.SetClock(func() uint64 { return now })

	pool := &Pool{
		ID:             "weth-core",
		Asset:          testAsset,
		Owner:          poolOwner,
		FeeRecipient:   feeSink,
		RateModel:      "fixed-10",
		InterestFeeBps: 1_000, // 10% of interest
	}
	if err := engine.CreatePool(pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	stored := state.pools["weth-core"]
	stored.TotalDepositAssets = big.NewInt(1_000_000)
	stored.TotalDepositShares = big.NewInt(1_000_000)
	stored.TotalBorrowAssets = big.NewInt(500_000)
	stored.TotalBorrowShares = big.NewInt(500_000)

	now += secondsPerYear
	if err := engine.Accrue("weth-core"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	stored = state.pools["weth-core"]
	// 10% APR on 500k over a full year.
	if stored.TotalBorrowAssets.Int64() != 550_000 {
		t.Fatalf("total borrow assets %s, want 550000", stored.TotalBorrowAssets)
	}
	if stored.TotalDepositAssets.Int64() != 1_050_000 {
		t.Fatalf("total deposit assets %s, want 1050000", stored.TotalDepositAssets)
	}
	// Fee shares priced at the pre-fee rate:
	// floor(5000 * (1000000+1) / (1050000-5000+1)) = 4784.
	feeShares, err := engine.DepositSharesOf("weth-core", feeSink)
	if err != nil {
		t.Fatalf("fee shares: %v", err)
	}
	if feeShares.Int64() != 4_784 {
		t.Fatalf("fee shares %s, want 4784", feeShares)
	}
	if stored.TotalDepositShares.Int64() != 1_004_784 {
		t.Fatalf("total deposit shares %s, want 1004784", stored.TotalDepositShares)
	}
	if stored.LastUpdated != now {
		t.Fatalf("last updated %d, want %d", stored.LastUpdated, now)
	}
}

func TestAccrueNoOpWithoutElapsedTime(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	mustCreatePool(t, engine, "weth-core", func(p *Pool) {
		p.TotalDepositAssets = big.NewInt(1_000)
		p.TotalDepositShares = big.NewInt(1_000)
		p.TotalBorrowAssets = big.NewInt(500)
		p.TotalBorrowShares = big.NewInt(500)
	})
	if err := engine.Accrue("weth-core"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	stored := state.pools["weth-core"]
	if stored.TotalBorrowAssets.Int64() != 500 || stored.TotalDepositAssets.Int64() != 1_000 {
		t.Fatalf("totals changed without elapsed time")
	}
}

func TestAccrueAdvancesClockWithZeroBorrow(t *testing.T) {
	state := newMockState()
	engine := NewEngine(state, newMockLedger())
	engine.RegisterRateModel("default", DefaultRateModel)
	now := uint64(1_700_000_000)
	engine.SetClock(func() uint64 { return now })

	pool := &Pool{ID: "weth-core", Asset: testAsset, FeeRecipient: feeSink, RateModel: "default"}
	if err := engine.CreatePool(pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	now += 3_600
	if err := engine.Accrue("weth-core"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if state.pools["weth-core"].LastUpdated != now {
		t.Fatalf("clock should advance even when nothing is borrowed")
	}
}

func TestInterestForRoundsDown(t *testing.T) {
	apr := big.NewRat(1, 10)
	if got := interestFor(big.NewInt(1_000), apr, secondsPerYear/2); got.Int64() != 50 {
		t.Fatalf("half-year interest %s, want 50", got)
	}
	if got := interestFor(big.NewInt(1_000), apr, 1); got.Sign() != 0 {
		t.Fatalf("one-second interest should floor to zero, got %s", got)
	}
	if got := interestFor(big.NewInt(0), apr, secondsPerYear); got.Sign() != 0 {
		t.Fatalf("zero principal accrues nothing, got %s", got)
	}
}

func TestAccrualCompoundsAcrossCalls(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := NewEngine(state, ledger)
	engine.RegisterRateModel("fixed-10", NewFixedRateModel(0.10))
	now := uint64(1_700_000_000)
	engine.SetClock(func() uint64 { return now })

	pool := &Pool{ID: "weth-core", Asset: testAsset, FeeRecipient: feeSink, RateModel: "fixed-10"}
	if err := engine.CreatePool(pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	stored := state.pools["weth-core"]
	stored.TotalDepositAssets = big.NewInt(1_000_000)
	stored.TotalDepositShares = big.NewInt(1_000_000)
	stored.TotalBorrowAssets = big.NewInt(500_000)
	stored.TotalBorrowShares = big.NewInt(500_000)

	// Two half-year accruals compound, unlike one full-year accrual.
	now += secondsPerYear / 2
	if err := engine.Accrue("weth-core"); err != nil {
		t.Fatalf("first accrue: %v", err)
	}
	afterFirst := new(big.Int).Set(state.pools["weth-core"].TotalBorrowAssets)
	if afterFirst.Int64() != 525_000 {
		t.Fatalf("half-year borrow total %s, want 525000", afterFirst)
	}
	now += secondsPerYear / 2
	if err := engine.Accrue("weth-core"); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	afterSecond := state.pools["weth-core"].TotalBorrowAssets
	if afterSecond.Int64() != 551_250 {
		t.Fatalf("compounded borrow total %s, want 551250", afterSecond)
	}
}
