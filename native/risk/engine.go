package risk

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/fixedpoint"
	"sterling/native/lending"
	"sterling/native/position"
)

// Default risk parameters; all adjustable after construction.
const (
	DefaultTimelockSeconds        = 86_400
	DefaultLiquidationDiscountBps = 1_000
)

// DefaultMaxLtv permits up to 5x leverage against a single collateral asset.
var DefaultMaxLtv = new(big.Int).Mul(big.NewInt(5), fixedpoint.Wad)

// PoolView is the slice of the lending engine the risk engine prices debt
// through.
type PoolView interface {
	GetPool(poolID string) (*lending.Pool, error)
	BorrowAssetsOf(poolID string, shares *big.Int) (*big.Int, error)
}

// OracleView values token amounts in wad ETH, returning zero on any source
// fault so health checks never abort on a misbehaving oracle.
type OracleView interface {
	SafeValueInEth(asset common.Address, amount *big.Int) *big.Int
}

// BalanceView reads the balance ledger. Collateral is whatever the position
// account actually holds in its tracked assets, borrowed disbursements
// included.
type BalanceView interface {
	BalanceOf(addr, asset common.Address) (*big.Int, error)
}

// Engine owns the LTV table and the health and liquidation predicates.
type Engine struct {
	state       State
	pools       PoolView
	oracle      OracleView
	balances    BalanceView
	minLtv      *big.Int
	maxLtv      *big.Int
	timelock    uint64
	discountBps uint64
	clock       func() uint64
}

func NewEngine(state State, pools PoolView, oracle OracleView, balances BalanceView) *Engine {
	return &Engine{
		state:       state,
		pools:       pools,
		oracle:      oracle,
		balances:    balances,
		minLtv:      big.NewInt(0),
		maxLtv:      new(big.Int).Set(DefaultMaxLtv),
		timelock:    DefaultTimelockSeconds,
		discountBps: DefaultLiquidationDiscountBps,
		clock:       func() uint64 { return uint64(time.Now().Unix()) },
	}
}

func (e *Engine) SetClock(clock func() uint64) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

func (e *Engine) SetTimelock(seconds uint64) {
	if e == nil {
		return
	}
	e.timelock = seconds
}

func (e *Engine) SetLtvBounds(min, max *big.Int) {
	if e == nil {
		return
	}
	if min != nil {
		e.minLtv = new(big.Int).Set(min)
	}
	if max != nil && max.Sign() > 0 {
		e.maxLtv = new(big.Int).Set(max)
	}
}

func (e *Engine) SetLiquidationDiscountBps(bps uint64) {
	if e == nil {
		return
	}
	e.discountBps = bps
}

func (e *Engine) LiquidationDiscountBps() uint64 {
	if e == nil {
		return 0
	}
	return e.discountBps
}

// RiskData is a position's priced exposure. MinReqAssetValue is the smallest
// total collateral value at which the position is considered healthy;
// MissingLtv marks a debt priced against collateral with no configured LTV,
// which makes the position unconditionally unhealthy.
type RiskData struct {
	TotalAssetValue  *big.Int
	TotalDebtValue   *big.Int
	MinReqAssetValue *big.Int
	MissingLtv       bool
}

// GetRiskData prices every tracked collateral asset and every open debt pool
// in wad ETH. The minimum requirement weights each pool's own LTV by the
// pool's share of total debt and each asset's share of total collateral, so
// a pool is never double-counted across the collateral basket:
//
//	minReq = sum over (pool i, asset j) of
//	         debtValue_i * (assetValue_j / totalAssetValue) / ltv[i][j]
//
// Each term is rounded up.
func (e *Engine) GetRiskData(pos *position.Position) (*RiskData, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if pos == nil {
		return nil, position.ErrInvalidOperation
	}
	rd := &RiskData{
		TotalAssetValue:  big.NewInt(0),
		TotalDebtValue:   big.NewInt(0),
		MinReqAssetValue: big.NewInt(0),
	}

	assetValues := make([]*big.Int, len(pos.CollateralAssets))
	for i, asset := range pos.CollateralAssets {
		balance, err := e.balances.BalanceOf(pos.Addr, asset)
		if err != nil {
			return nil, err
		}
		value := e.oracle.SafeValueInEth(asset, balance)
		assetValues[i] = value
		rd.TotalAssetValue = new(big.Int).Add(rd.TotalAssetValue, value)
	}

	for _, poolID := range pos.DebtPools {
		pool, err := e.pools.GetPool(poolID)
		if err != nil {
			return nil, err
		}
		debtAssets, err := e.pools.BorrowAssetsOf(poolID, pos.BorrowSharesOf(poolID))
		if err != nil {
			return nil, err
		}
		debtValue := e.oracle.SafeValueInEth(pool.Asset, debtAssets)
		rd.TotalDebtValue = new(big.Int).Add(rd.TotalDebtValue, debtValue)
		if debtValue.Sign() == 0 {
			continue
		}
		if rd.TotalAssetValue.Sign() == 0 {
			rd.MissingLtv = true
			continue
		}
		for i, asset := range pos.CollateralAssets {
			if assetValues[i].Sign() == 0 {
				continue
			}
			ltv, err := e.LtvFor(poolID, asset)
			if err != nil {
				return nil, err
			}
			if ltv.Sign() == 0 {
				rd.MissingLtv = true
				continue
			}
			// debtValue * assetValue * WAD / (totalAssetValue * ltv), up.
			num := new(big.Int).Mul(debtValue, assetValues[i])
			den := new(big.Int).Mul(rd.TotalAssetValue, ltv)
			term := fixedpoint.MulDiv(num, fixedpoint.Wad, den, fixedpoint.RoundUp)
			rd.MinReqAssetValue = new(big.Int).Add(rd.MinReqAssetValue, term)
		}
	}
	return rd, nil
}

// IsHealthy reports whether the position's collateral value covers the
// LTV-derived minimum. A position with no open debt pools is always healthy.
// The comparison is a direct Cmp on non-negative values, never a
// subtraction.
func (e *Engine) IsHealthy(pos *position.Position) (bool, error) {
	if pos == nil {
		return false, position.ErrInvalidOperation
	}
	if len(pos.DebtPools) == 0 {
		return true, nil
	}
	rd, err := e.GetRiskData(pos)
	if err != nil {
		return false, err
	}
	if rd.MissingLtv {
		return false, nil
	}
	return rd.TotalAssetValue.Cmp(rd.MinReqAssetValue) >= 0, nil
}

// DebtTuple is one liquidation repayment leg. Asset must match the named
// pool's configured asset.
type DebtTuple struct {
	PoolID string
	Asset  common.Address
	Amount *big.Int
}

// SeizureTuple is one collateral leg taken by the liquidator.
type SeizureTuple struct {
	Asset  common.Address
	Amount *big.Int
}

// EnsureLiquidatable is the liquidation entry guard: healthy positions may
// not be liquidated.
func (e *Engine) EnsureLiquidatable(pos *position.Position) error {
	healthy, err := e.IsHealthy(pos)
	if err != nil {
		return err
	}
	if healthy {
		return ErrPositionHealthy
	}
	return nil
}

// ValidateLiquidation checks the economics of a proposed liquidation before
// any balance moves. Every repayment tuple is validated against its pool's
// configured asset; a single mismatched tuple rejects the whole proposal.
// The seized collateral value may not exceed the repaid debt value plus the
// liquidation discount. Returns the repaid and seized values in wad ETH.
func (e *Engine) ValidateLiquidation(debts []DebtTuple, seizures []SeizureTuple) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	repaidValue := big.NewInt(0)
	for _, tuple := range debts {
		if tuple.Amount == nil || tuple.Amount.Sign() <= 0 {
			return nil, nil, ErrInvalidTuple
		}
		pool, err := e.pools.GetPool(tuple.PoolID)
		if err != nil {
			return nil, nil, err
		}
		if pool.Asset != tuple.Asset {
			return nil, nil, ErrAssetMismatch
		}
		repaidValue = new(big.Int).Add(repaidValue, e.oracle.SafeValueInEth(pool.Asset, tuple.Amount))
	}
	seizedValue := big.NewInt(0)
	for _, tuple := range seizures {
		if tuple.Amount == nil || tuple.Amount.Sign() <= 0 {
			return nil, nil, ErrInvalidTuple
		}
		seizedValue = new(big.Int).Add(seizedValue, e.oracle.SafeValueInEth(tuple.Asset, tuple.Amount))
	}
	maxSeized := new(big.Int).Add(repaidValue, fixedpoint.BpsOf(repaidValue, e.discountBps, fixedpoint.RoundDown))
	if seizedValue.Cmp(maxSeized) > 0 {
		return nil, nil, ErrSeizureExceedsBound
	}
	return repaidValue, seizedValue, nil
}

// EnsureHealthyAfter is the liquidation exit guard and the batch-end health
// assertion.
func (e *Engine) EnsureHealthyAfter(pos *position.Position) error {
	healthy, err := e.IsHealthy(pos)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrPositionUnhealthy
	}
	return nil
}
