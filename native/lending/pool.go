package lending

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "sterling/native/common"
	"sterling/native/fixedpoint"
	"sterling/native/position"
)

// Flow names used with the pause switchboard.
const (
	FlowSupply   = "lending.supply"
	FlowWithdraw = "lending.withdraw"
	FlowBorrow   = "lending.borrow"
	FlowRepay    = "lending.repay"
)

// Pool is the accounting state of a single-asset lending market. Deposit and
// borrow sides are tracked as separate share classes over the same asset.
type Pool struct {
	ID                string         `json:"id"`
	Asset             common.Address `json:"asset"`
	Owner             common.Address `json:"owner"`
	ModuleAddr        common.Address `json:"moduleAddr"`
	FeeRecipient      common.Address `json:"feeRecipient"`
	TotalDepositAssets *big.Int      `json:"totalDepositAssets"`
	TotalDepositShares *big.Int      `json:"totalDepositShares"`
	TotalBorrowAssets  *big.Int      `json:"totalBorrowAssets"`
	TotalBorrowShares  *big.Int      `json:"totalBorrowShares"`
	LastUpdated        uint64        `json:"lastUpdated"`
	RateModel          string        `json:"rateModel"`
	PoolCap            *big.Int      `json:"poolCap"`
	BorrowCap          *big.Int      `json:"borrowCap"`
	InterestFeeBps     uint64        `json:"interestFeeBps"`
	OriginationFeeBps  uint64        `json:"originationFeeBps"`
	Paused             bool          `json:"paused"`
}

// ModuleAddress derives the custody account holding a pool's liquidity.
func ModuleAddress(poolID string) common.Address {
	preimage := append([]byte("sterling/pool/"), []byte(poolID)...)
	return common.BytesToAddress(ethcrypto.Keccak256(preimage)[12:])
}

func (p *Pool) ensureDefaults() {
	if p.TotalDepositAssets == nil {
		p.TotalDepositAssets = big.NewInt(0)
	}
	if p.TotalDepositShares == nil {
		p.TotalDepositShares = big.NewInt(0)
	}
	if p.TotalBorrowAssets == nil {
		p.TotalBorrowAssets = big.NewInt(0)
	}
	if p.TotalBorrowShares == nil {
		p.TotalBorrowShares = big.NewInt(0)
	}
	if p.PoolCap == nil {
		p.PoolCap = big.NewInt(0)
	}
	if p.BorrowCap == nil {
		p.BorrowCap = big.NewInt(0)
	}
}

// IdleLiquidity is the asset amount available for withdrawal or borrowing.
func (p *Pool) IdleLiquidity() *big.Int {
	return fixedpoint.SatSub(p.TotalDepositAssets, p.TotalBorrowAssets)
}

var one = big.NewInt(1)

// The four share/asset conversions. Each call site picks the rounding
// direction that cannot be exploited to extract value from the pool. The +1
// virtual share and +1 virtual asset pad the exchange ratio so donating
// assets to an empty pool cannot inflate the first depositor's share price.

func (p *Pool) ConvertToDepositShares(assets *big.Int, rounding fixedpoint.Rounding) *big.Int {
	return fixedpoint.MulDiv(assets,
		new(big.Int).Add(p.TotalDepositShares, one),
		new(big.Int).Add(p.TotalDepositAssets, one), rounding)
}

func (p *Pool) ConvertToDepositAssets(shares *big.Int, rounding fixedpoint.Rounding) *big.Int {
	return fixedpoint.MulDiv(shares,
		new(big.Int).Add(p.TotalDepositAssets, one),
		new(big.Int).Add(p.TotalDepositShares, one), rounding)
}

func (p *Pool) ConvertToBorrowShares(assets *big.Int, rounding fixedpoint.Rounding) *big.Int {
	return fixedpoint.MulDiv(assets,
		new(big.Int).Add(p.TotalBorrowShares, one),
		new(big.Int).Add(p.TotalBorrowAssets, one), rounding)
}

func (p *Pool) ConvertToBorrowAssets(shares *big.Int, rounding fixedpoint.Rounding) *big.Int {
	return fixedpoint.MulDiv(shares,
		new(big.Int).Add(p.TotalBorrowAssets, one),
		new(big.Int).Add(p.TotalBorrowShares, one), rounding)
}

// State is the persistence surface for pools and depositor share balances.
// GetPool returns nil (without error) for unknown pool identifiers.
type State interface {
	GetPool(poolID string) (*Pool, error)
	PutPool(poolID string, pool *Pool) error
	DepositShares(poolID string, holder common.Address) (*big.Int, error)
	SetDepositShares(poolID string, holder common.Address, shares *big.Int) error
}

// Ledger is the balance-moving surface the engine drives.
type Ledger interface {
	BalanceOf(addr, asset common.Address) (*big.Int, error)
	Transfer(from, to, asset common.Address, amount *big.Int) error
}

// Engine orchestrates the state transitions of every lending pool. Interest
// accrues at the start of each mutating call so exchange rates always reflect
// elapsed time before shares are minted or burned.
type Engine struct {
	state  State
	ledger Ledger
	models map[string]RateModel
	pauses nativecommon.PauseView
	clock  func() uint64
}

func NewEngine(state State, ledger Ledger) *Engine {
	return &Engine{
		state:  state,
		ledger: ledger,
		models: make(map[string]RateModel),
		clock:  func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the time source, mainly for tests.
func (e *Engine) SetClock(clock func() uint64) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// RegisterRateModel makes a model available under the given key.
func (e *Engine) RegisterRateModel(key string, model RateModel) {
	if e == nil || model == nil {
		return
	}
	e.models[strings.TrimSpace(key)] = model
}

// CreatePool registers a new market. The module custody address is derived
// from the pool identifier and the accrual clock starts now.
func (e *Engine) CreatePool(pool *Pool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if pool == nil || strings.TrimSpace(pool.ID) == "" {
		return ErrUnknownPool
	}
	existing, err := e.state.GetPool(pool.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrPoolExists
	}
	if _, ok := e.models[pool.RateModel]; !ok {
		return ErrUnknownRateModel
	}
	pool.ensureDefaults()
	pool.ModuleAddr = ModuleAddress(pool.ID)
	pool.LastUpdated = e.clock()
	return e.state.PutPool(pool.ID, pool)
}

// GetPool loads a pool, failing for unknown identifiers.
func (e *Engine) GetPool(poolID string) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.state.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrUnknownPool
	}
	pool.ensureDefaults()
	return pool, nil
}

// Accrue folds elapsed interest into the pool totals and mints the protocol
// fee. Callable standalone and invoked at the start of every mutating call.
func (e *Engine) Accrue(poolID string) error {
	pool, err := e.GetPool(poolID)
	if err != nil {
		return err
	}
	changed, err := e.accrue(pool)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.state.PutPool(poolID, pool)
}

func (e *Engine) accrue(pool *Pool) (bool, error) {
	now := e.clock()
	if now <= pool.LastUpdated {
		return false, nil
	}
	elapsed := now - pool.LastUpdated
	pool.LastUpdated = now
	if pool.TotalBorrowAssets.Sign() == 0 {
		return true, nil
	}
	model, ok := e.models[pool.RateModel]
	if !ok {
		return false, ErrUnknownRateModel
	}
	apr := model.BorrowAPR(pool.TotalBorrowAssets, pool.TotalDepositAssets)
	interest := interestFor(pool.TotalBorrowAssets, apr, elapsed)
	if interest.Sign() == 0 {
		return true, nil
	}

	newTotalAssets := new(big.Int).Add(pool.TotalDepositAssets, interest)
	feeAssets := fixedpoint.BpsOf(interest, pool.InterestFeeBps, fixedpoint.RoundDown)
	if feeAssets.Sign() > 0 {
		// Fee shares priced at the pre-fee exchange rate: the fee assets are
		// excluded from the denominator so minting them cannot re-dilute the
		// rate they were priced at.
		feeShares := fixedpoint.MulDiv(feeAssets,
			new(big.Int).Add(pool.TotalDepositShares, one),
			new(big.Int).Add(new(big.Int).Sub(newTotalAssets, feeAssets), one),
			fixedpoint.RoundDown)
		if feeShares.Sign() > 0 {
			held, err := e.state.DepositShares(pool.ID, pool.FeeRecipient)
			if err != nil {
				return false, err
			}
			if err := e.state.SetDepositShares(pool.ID, pool.FeeRecipient, new(big.Int).Add(held, feeShares)); err != nil {
				return false, err
			}
			pool.TotalDepositShares = new(big.Int).Add(pool.TotalDepositShares, feeShares)
		}
	}
	pool.TotalBorrowAssets = new(big.Int).Add(pool.TotalBorrowAssets, interest)
	pool.TotalDepositAssets = newTotalAssets
	return true, nil
}

// Deposit pulls assets from the supplier and mints deposit shares to the
// receiver, rounding the minted shares down.
func (e *Engine) Deposit(poolID string, from, receiver common.Address, assets *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, FlowSupply); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Paused {
		return nil, ErrPoolPaused
	}
	if _, err := e.accrue(pool); err != nil {
		return nil, err
	}
	shares := pool.ConvertToDepositShares(assets, fixedpoint.RoundDown)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if pool.PoolCap.Sign() > 0 {
		projected := new(big.Int).Add(pool.TotalDepositAssets, assets)
		if projected.Cmp(pool.PoolCap) > 0 {
			return nil, ErrPoolCapExceeded
		}
	}
	if err := e.ledger.Transfer(from, pool.ModuleAddr, pool.Asset, assets); err != nil {
		return nil, err
	}
	if err := e.mintDepositShares(pool, receiver, shares); err != nil {
		return nil, err
	}
	pool.TotalDepositAssets = new(big.Int).Add(pool.TotalDepositAssets, assets)
	if err := e.state.PutPool(poolID, pool); err != nil {
		return nil, err
	}
	return shares, nil
}

// Mint issues an exact share amount, charging the supplier the asset cost
// rounded up.
func (e *Engine) Mint(poolID string, from, receiver common.Address, shares *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, FlowSupply); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroShares
	}
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Paused {
		return nil, ErrPoolPaused
	}
	if _, err := e.accrue(pool); err != nil {
		return nil, err
	}
	assets := pool.ConvertToDepositAssets(shares, fixedpoint.RoundUp)
	if assets.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if pool.PoolCap.Sign() > 0 {
		projected := new(big.Int).Add(pool.TotalDepositAssets, assets)
		if projected.Cmp(pool.PoolCap) > 0 {
			return nil, ErrPoolCapExceeded
		}
	}
	if err := e.ledger.Transfer(from, pool.ModuleAddr, pool.Asset, assets); err != nil {
		return nil, err
	}
	if err := e.mintDepositShares(pool, receiver, shares); err != nil {
		return nil, err
	}
	pool.TotalDepositAssets = new(big.Int).Add(pool.TotalDepositAssets, assets)
	if err := e.state.PutPool(poolID, pool); err != nil {
		return nil, err
	}
	return assets, nil
}

// Withdraw releases an exact asset amount, burning the owner's shares
// rounded up so the vault never gives away value.
func (e *Engine) Withdraw(poolID string, owner, receiver common.Address, assets *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, FlowWithdraw); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(pool); err != nil {
		return nil, err
	}
	shares := pool.ConvertToDepositShares(assets, fixedpoint.RoundUp)
	if err := e.redeemInternal(pool, owner, receiver, shares, assets); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns an exact share amount, releasing the asset value rounded
// down.
func (e *Engine) Redeem(poolID string, owner, receiver common.Address, shares *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, FlowWithdraw); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroShares
	}
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(pool); err != nil {
		return nil, err
	}
	assets := pool.ConvertToDepositAssets(shares, fixedpoint.RoundDown)
	if assets.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.redeemInternal(pool, owner, receiver, shares, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (e *Engine) redeemInternal(pool *Pool, owner, receiver common.Address, shares, assets *big.Int) error {
	held, err := e.state.DepositShares(pool.ID, owner)
	if err != nil {
		return err
	}
	if held == nil || held.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	if pool.IdleLiquidity().Cmp(assets) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.state.SetDepositShares(pool.ID, owner, new(big.Int).Sub(held, shares)); err != nil {
		return err
	}
	pool.TotalDepositShares = new(big.Int).Sub(pool.TotalDepositShares, shares)
	pool.TotalDepositAssets = new(big.Int).Sub(pool.TotalDepositAssets, assets)
	if err := e.ledger.Transfer(pool.ModuleAddr, receiver, pool.Asset, assets); err != nil {
		return err
	}
	return e.state.PutPool(pool.ID, pool)
}

func (e *Engine) mintDepositShares(pool *Pool, receiver common.Address, shares *big.Int) error {
	held, err := e.state.DepositShares(pool.ID, receiver)
	if err != nil {
		return err
	}
	if held == nil {
		held = big.NewInt(0)
	}
	if err := e.state.SetDepositShares(pool.ID, receiver, new(big.Int).Add(held, shares)); err != nil {
		return err
	}
	pool.TotalDepositShares = new(big.Int).Add(pool.TotalDepositShares, shares)
	return nil
}

// MaxWithdraw reports the largest asset amount the owner can withdraw right
// now: the value of their shares rounded down, capped by idle liquidity.
func (e *Engine) MaxWithdraw(poolID string, owner common.Address) (*big.Int, error) {
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(pool); err != nil {
		return nil, err
	}
	held, err := e.state.DepositShares(poolID, owner)
	if err != nil {
		return nil, err
	}
	assets := pool.ConvertToDepositAssets(held, fixedpoint.RoundDown)
	return fixedpoint.Min(assets, pool.IdleLiquidity()), nil
}

// DepositSharesOf returns the holder's deposit-share balance.
func (e *Engine) DepositSharesOf(poolID string, holder common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	held, err := e.state.DepositShares(poolID, holder)
	if err != nil {
		return nil, err
	}
	if held == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(held), nil
}

// Borrow disburses assets from the pool to the position. Borrow shares are
// minted with ceiling rounding so the position always owes at least the
// assets taken. The origination fee is deducted from the disbursement while
// debt is booked on the full amount. Called only by the protocol
// orchestrator on behalf of a position.
func (e *Engine) Borrow(poolID string, pos *position.Position, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, FlowBorrow); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if pos == nil {
		return nil, position.ErrInvalidOperation
	}
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool.Paused {
		return nil, ErrPoolPaused
	}
	if _, err := e.accrue(pool); err != nil {
		return nil, err
	}
	if pool.IdleLiquidity().Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	if pool.BorrowCap.Sign() > 0 {
		projected := new(big.Int).Add(pool.TotalBorrowAssets, amount)
		if projected.Cmp(pool.BorrowCap) > 0 {
			return nil, ErrBorrowCapExceeded
		}
	}
	shares := pool.ConvertToBorrowShares(amount, fixedpoint.RoundUp)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	newShares := new(big.Int).Add(pos.BorrowSharesOf(poolID), shares)
	if err := pos.SetBorrowShares(poolID, newShares); err != nil {
		return nil, err
	}

	fee := fixedpoint.BpsOf(amount, pool.OriginationFeeBps, fixedpoint.RoundDown)
	disbursed := new(big.Int).Sub(amount, fee)
	if disbursed.Sign() > 0 {
		if err := e.ledger.Transfer(pool.ModuleAddr, pos.Addr, pool.Asset, disbursed); err != nil {
			return nil, err
		}
	}
	if fee.Sign() > 0 {
		if err := e.ledger.Transfer(pool.ModuleAddr, pool.FeeRecipient, pool.Asset, fee); err != nil {
			return nil, err
		}
	}

	pool.TotalBorrowAssets = new(big.Int).Add(pool.TotalBorrowAssets, amount)
	pool.TotalBorrowShares = new(big.Int).Add(pool.TotalBorrowShares, shares)
	if err := e.state.PutPool(poolID, pool); err != nil {
		return nil, err
	}
	return disbursed, nil
}

// Repay settles position debt with assets supplied by payer. The share burn
// rounds up so rounding drift can never leave discharged debt unpaid; when
// the burn clears the position's shares the pool leaves its debt set. The
// amount actually repaid is returned.
func (e *Engine) Repay(poolID string, pos *position.Position, payer common.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, FlowRepay); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if pos == nil {
		return nil, position.ErrInvalidOperation
	}
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(pool); err != nil {
		return nil, err
	}
	owedShares := pos.BorrowSharesOf(poolID)
	if owedShares.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	owedAssets := pool.ConvertToBorrowAssets(owedShares, fixedpoint.RoundUp)
	repaid := fixedpoint.Min(amount, owedAssets)

	burnShares := pool.ConvertToBorrowShares(repaid, fixedpoint.RoundUp)
	if burnShares.Cmp(owedShares) > 0 || repaid.Cmp(owedAssets) == 0 {
		burnShares = owedShares
	}

	if err := e.ledger.Transfer(payer, pool.ModuleAddr, pool.Asset, repaid); err != nil {
		return nil, err
	}
	if err := pos.SetBorrowShares(poolID, new(big.Int).Sub(owedShares, burnShares)); err != nil {
		return nil, err
	}
	pool.TotalBorrowAssets = fixedpoint.SatSub(pool.TotalBorrowAssets, repaid)
	pool.TotalBorrowShares = fixedpoint.SatSub(pool.TotalBorrowShares, burnShares)
	if err := e.state.PutPool(poolID, pool); err != nil {
		return nil, err
	}
	return repaid, nil
}

// BorrowAssetsOf values a borrow-share balance in pool assets. Debt owed is
// rounded up.
func (e *Engine) BorrowAssetsOf(poolID string, shares *big.Int) (*big.Int, error) {
	pool, err := e.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return pool.ConvertToBorrowAssets(shares, fixedpoint.RoundUp), nil
}

// SetPoolPaused freezes or resumes a single pool.
func (e *Engine) SetPoolPaused(poolID string, paused bool) error {
	pool, err := e.GetPool(poolID)
	if err != nil {
		return err
	}
	pool.Paused = paused
	return e.state.PutPool(poolID, pool)
}

// SetPoolCaps adjusts the deposit and borrow caps; a zero cap removes the
// limit, capping to a value below current totals freezes new activity.
func (e *Engine) SetPoolCaps(poolID string, poolCap, borrowCap *big.Int) error {
	pool, err := e.GetPool(poolID)
	if err != nil {
		return err
	}
	pool.PoolCap = fixedpoint.Clone(poolCap)
	pool.BorrowCap = fixedpoint.Clone(borrowCap)
	return e.state.PutPool(poolID, pool)
}
