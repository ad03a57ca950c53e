package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/lending"
	"sterling/native/position"
	"sterling/native/risk"
	"sterling/storage"
)

// Read-only surface. Views run against a throwaway overlay so in-memory
// accrual projections never touch the durable state.

func (p *Protocol) GetPool(poolID string) (*lending.Pool, error) {
	var pool *lending.Pool
	err := p.view(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		loaded, err := lend.GetPool(poolID)
		if err != nil {
			return err
		}
		pool = loaded
		return nil
	})
	return pool, err
}

func (p *Protocol) ListPools() ([]string, error) {
	var ids []string
	err := p.view(func(store *storage.Store) error {
		listed, err := store.ListPools()
		if err != nil {
			return err
		}
		ids = listed
		return nil
	})
	return ids, err
}

func (p *Protocol) GetPosition(addr common.Address) (*position.Position, error) {
	var pos *position.Position
	err := p.view(func(store *storage.Store) error {
		_, _, _, positions := p.engines(store)
		loaded, err := positions.Get(addr)
		if err != nil {
			return err
		}
		pos = loaded
		return nil
	})
	return pos, err
}

func (p *Protocol) IsHealthy(addr common.Address) (bool, error) {
	var healthy bool
	err := p.view(func(store *storage.Store) error {
		_, _, riskEng, positions := p.engines(store)
		pos, err := positions.Get(addr)
		if err != nil {
			return err
		}
		healthy, err = riskEng.IsHealthy(pos)
		return err
	})
	return healthy, err
}

func (p *Protocol) RiskData(addr common.Address) (*risk.RiskData, error) {
	var rd *risk.RiskData
	err := p.view(func(store *storage.Store) error {
		_, _, riskEng, positions := p.engines(store)
		pos, err := positions.Get(addr)
		if err != nil {
			return err
		}
		rd, err = riskEng.GetRiskData(pos)
		return err
	})
	return rd, err
}

func (p *Protocol) LtvFor(poolID string, asset common.Address) (*big.Int, error) {
	var ltv *big.Int
	err := p.view(func(store *storage.Store) error {
		_, _, riskEng, _ := p.engines(store)
		loaded, err := riskEng.LtvFor(poolID, asset)
		if err != nil {
			return err
		}
		ltv = loaded
		return nil
	})
	return ltv, err
}

func (p *Protocol) PendingLtv(poolID string, asset common.Address) (*big.Int, uint64, error) {
	var (
		pending *big.Int
		validAt uint64
	)
	err := p.view(func(store *storage.Store) error {
		_, _, riskEng, _ := p.engines(store)
		loaded, at, err := riskEng.PendingLtv(poolID, asset)
		if err != nil {
			return err
		}
		pending, validAt = loaded, at
		return nil
	})
	return pending, validAt, err
}

// OracleFor reports the active price-source name for the asset.
func (p *Protocol) OracleFor(asset common.Address) (string, bool) {
	return p.oracle.SourceFor(asset)
}

func (p *Protocol) BalanceOf(addr, asset common.Address) (*big.Int, error) {
	var bal *big.Int
	err := p.view(func(store *storage.Store) error {
		ledger, _, _, _ := p.engines(store)
		loaded, err := ledger.BalanceOf(addr, asset)
		if err != nil {
			return err
		}
		bal = loaded
		return nil
	})
	return bal, err
}

func (p *Protocol) DepositSharesOf(poolID string, holder common.Address) (*big.Int, error) {
	var shares *big.Int
	err := p.view(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		loaded, err := lend.DepositSharesOf(poolID, holder)
		if err != nil {
			return err
		}
		shares = loaded
		return nil
	})
	return shares, err
}

func (p *Protocol) MaxWithdraw(poolID string, owner common.Address) (*big.Int, error) {
	var assets *big.Int
	err := p.view(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		loaded, err := lend.MaxWithdraw(poolID, owner)
		if err != nil {
			return err
		}
		assets = loaded
		return nil
	})
	return assets, err
}
