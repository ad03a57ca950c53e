package position

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAssetLimit       = errors.New("position: collateral asset limit reached")
	ErrDebtPoolLimit    = errors.New("position: debt pool limit reached")
	ErrAssetNotEmpty    = errors.New("position: collateral balance not zero")
	ErrUnknownDebtPool  = errors.New("position: pool not in debt set")
	ErrDebtOutstanding  = errors.New("position: borrow shares outstanding")
	ErrNotAuthorized    = errors.New("position: caller not owner or authorized")
	ErrInvalidOperation = errors.New("position: invalid operation")
)

const (
	// MaxCollateralAssets bounds the tracked collateral set so risk-engine
	// iteration stays cheap.
	MaxCollateralAssets = 20
	// MaxDebtPools bounds the number of simultaneously open debt pools.
	MaxDebtPools = 10
)

// Position is an isolated collateral/debt account. Collateral funds live on
// the position's own balance-ledger account; the position itself only tracks
// WHICH assets count as collateral. The debt set invariant is maintained by
// the lending engine: a pool appears in DebtPools iff the position's
// borrow-share balance for that pool is nonzero.
type Position struct {
	Addr             common.Address          `json:"addr"`
	Owner            common.Address          `json:"owner"`
	Authorized       map[common.Address]bool `json:"authorized,omitempty"`
	CollateralAssets []common.Address        `json:"collateralAssets,omitempty"`
	DebtPools        []string                `json:"debtPools,omitempty"`
	BorrowShares     map[string]*big.Int     `json:"borrowShares,omitempty"`
}

// New returns an empty position owned by owner at addr.
func New(addr, owner common.Address) *Position {
	return &Position{
		Addr:         addr,
		Owner:        owner,
		Authorized:   make(map[common.Address]bool),
		BorrowShares: make(map[string]*big.Int),
	}
}

func (p *Position) ensureMaps() {
	if p.Authorized == nil {
		p.Authorized = make(map[common.Address]bool)
	}
	if p.BorrowShares == nil {
		p.BorrowShares = make(map[string]*big.Int)
	}
}

// IsOperator reports whether caller may act on the position.
func (p *Position) IsOperator(caller common.Address) bool {
	if p == nil {
		return false
	}
	if caller == p.Owner {
		return true
	}
	return p.Authorized[caller]
}

// Authorize grants or revokes operator rights for spender.
func (p *Position) Authorize(spender common.Address, allowed bool) {
	if p == nil {
		return
	}
	p.ensureMaps()
	if allowed {
		p.Authorized[spender] = true
		return
	}
	delete(p.Authorized, spender)
}

// HasAsset reports whether the asset is in the tracked collateral set.
func (p *Position) HasAsset(asset common.Address) bool {
	if p == nil {
		return false
	}
	for _, tracked := range p.CollateralAssets {
		if tracked == asset {
			return true
		}
	}
	return false
}

// AddAsset upserts the asset into the bounded collateral set. Re-adding a
// tracked asset is a no-op.
func (p *Position) AddAsset(asset common.Address) error {
	if p == nil {
		return ErrInvalidOperation
	}
	if p.HasAsset(asset) {
		return nil
	}
	if len(p.CollateralAssets) >= MaxCollateralAssets {
		return ErrAssetLimit
	}
	p.CollateralAssets = append(p.CollateralAssets, asset)
	return nil
}

// RemoveAsset drops the asset from tracking. Callers must verify the
// position's ledger balance of the asset is zero first; untracking funded
// collateral would let it escape risk accounting.
func (p *Position) RemoveAsset(asset common.Address) error {
	if p == nil {
		return ErrInvalidOperation
	}
	for i, tracked := range p.CollateralAssets {
		if tracked == asset {
			p.CollateralAssets = append(p.CollateralAssets[:i], p.CollateralAssets[i+1:]...)
			return nil
		}
	}
	return nil
}

// HasDebtPool reports whether the pool is in the debt set.
func (p *Position) HasDebtPool(poolID string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.DebtPools {
		if id == poolID {
			return true
		}
	}
	return false
}

// BorrowSharesOf returns the position's borrow-share balance for the pool.
func (p *Position) BorrowSharesOf(poolID string) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	if shares, ok := p.BorrowShares[poolID]; ok && shares != nil {
		return new(big.Int).Set(shares)
	}
	return big.NewInt(0)
}

// SetBorrowShares updates the borrow-share balance and keeps the debt set in
// lockstep: the pool is registered while shares are nonzero and removed the
// moment they reach zero. Only the lending engine's borrow/repay/liquidate
// paths call this.
func (p *Position) SetBorrowShares(poolID string, shares *big.Int) error {
	if p == nil {
		return ErrInvalidOperation
	}
	p.ensureMaps()
	if shares == nil || shares.Sign() == 0 {
		delete(p.BorrowShares, poolID)
		for i, id := range p.DebtPools {
			if id == poolID {
				p.DebtPools = append(p.DebtPools[:i], p.DebtPools[i+1:]...)
				break
			}
		}
		return nil
	}
	if !p.HasDebtPool(poolID) {
		if len(p.DebtPools) >= MaxDebtPools {
			return ErrDebtPoolLimit
		}
		p.DebtPools = append(p.DebtPools, poolID)
	}
	p.BorrowShares[poolID] = new(big.Int).Set(shares)
	return nil
}

// Clone returns a deep copy, used when simulating liquidation outcomes.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := New(p.Addr, p.Owner)
	for spender, allowed := range p.Authorized {
		if allowed {
			clone.Authorized[spender] = true
		}
	}
	clone.CollateralAssets = append([]common.Address(nil), p.CollateralAssets...)
	clone.DebtPools = append([]string(nil), p.DebtPools...)
	for id, shares := range p.BorrowShares {
		if shares != nil {
			clone.BorrowShares[id] = new(big.Int).Set(shares)
		}
	}
	return clone
}
