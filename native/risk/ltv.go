package risk

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/fixedpoint"
)

// LtvEntry is the loan-to-value configuration for one (pool, asset) pair.
// Ltv is wad-scaled: 8e17 is 80%, values above 1e18 permit leverage beyond
// the collateral's own value. A zero Ltv means borrowing against the asset
// is disabled for that pool.
type LtvEntry struct {
	Ltv        *big.Int `json:"ltv"`
	PendingLtv *big.Int `json:"pendingLtv,omitempty"`
	ValidAt    uint64   `json:"validAt,omitempty"`
}

// State persists LTV entries. GetLtv returns nil (without error) for
// unconfigured pairs.
type State interface {
	GetLtv(poolID string, asset common.Address) (*LtvEntry, error)
	PutLtv(poolID string, asset common.Address, entry *LtvEntry) error
}

// LtvFor reports the active LTV for the pair, zero when unset or when an
// update is still pending. Pending values are never visible here before
// acceptance.
func (e *Engine) LtvFor(poolID string, asset common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	entry, err := e.state.GetLtv(poolID, asset)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Ltv == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(entry.Ltv), nil
}

// RequestLtvUpdate stages a new LTV for the pair. Only the pool owner may
// request. The first configuration for a pair applies immediately; any
// change to a live value waits out the timelock so borrowers can react
// before their positions are re-margined.
func (e *Engine) RequestLtvUpdate(caller common.Address, poolID string, asset common.Address, ltv *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	pool, err := e.pools.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool.Owner != caller {
		return ErrNotPoolOwner
	}
	if ltv == nil || ltv.Sign() <= 0 || ltv.Cmp(e.maxLtv) > 0 {
		return ErrLtvBounds
	}
	if e.minLtv.Sign() > 0 && ltv.Cmp(e.minLtv) < 0 {
		return ErrLtvBounds
	}
	entry, err := e.state.GetLtv(poolID, asset)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &LtvEntry{}
	}
	if entry.Ltv == nil || entry.Ltv.Sign() == 0 {
		// Bootstrap: nothing was borrowable against this pair yet, so the
		// timelock protects nobody.
		entry.Ltv = new(big.Int).Set(ltv)
		entry.PendingLtv = nil
		entry.ValidAt = 0
		return e.state.PutLtv(poolID, asset, entry)
	}
	entry.PendingLtv = new(big.Int).Set(ltv)
	entry.ValidAt = e.clock() + e.timelock
	return e.state.PutLtv(poolID, asset, entry)
}

// AcceptLtvUpdate promotes a pending LTV once its timelock has elapsed.
// Anyone may call: the owner committed to the value at request time.
func (e *Engine) AcceptLtvUpdate(poolID string, asset common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	entry, err := e.state.GetLtv(poolID, asset)
	if err != nil {
		return err
	}
	if entry == nil || entry.PendingLtv == nil {
		return ErrNoPendingUpdate
	}
	if e.clock() < entry.ValidAt {
		return ErrTimelockPending
	}
	entry.Ltv = entry.PendingLtv
	entry.PendingLtv = nil
	entry.ValidAt = 0
	return e.state.PutLtv(poolID, asset, entry)
}

// RejectLtvUpdate discards a pending LTV. Owner only.
func (e *Engine) RejectLtvUpdate(caller common.Address, poolID string, asset common.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	pool, err := e.pools.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool.Owner != caller {
		return ErrNotPoolOwner
	}
	entry, err := e.state.GetLtv(poolID, asset)
	if err != nil {
		return err
	}
	if entry == nil || entry.PendingLtv == nil {
		return ErrNoPendingUpdate
	}
	entry.PendingLtv = nil
	entry.ValidAt = 0
	return e.state.PutLtv(poolID, asset, entry)
}

// PendingLtv reports a staged update and its activation time, if any.
func (e *Engine) PendingLtv(poolID string, asset common.Address) (*big.Int, uint64, error) {
	if e == nil || e.state == nil {
		return nil, 0, ErrNilState
	}
	entry, err := e.state.GetLtv(poolID, asset)
	if err != nil {
		return nil, 0, err
	}
	if entry == nil || entry.PendingLtv == nil {
		return nil, 0, nil
	}
	return fixedpoint.Clone(entry.PendingLtv), entry.ValidAt, nil
}
