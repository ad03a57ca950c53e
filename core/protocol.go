package core

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/bank"
	nativecommon "sterling/native/common"
	"sterling/native/lending"
	"sterling/native/oracle"
	"sterling/native/position"
	"sterling/native/risk"
	"sterling/observability"
	"sterling/storage"
)

var (
	ErrEmptyBatch       = errors.New("core: batch contains no operations")
	ErrUnknownOperation = errors.New("core: unknown operation kind")
	ErrUnknownAsset     = errors.New("core: asset not on the known-asset list")
	ErrMisplacedCreate  = errors.New("core: newPosition must be the first operation")
	ErrNoPosition       = errors.New("core: batch addressed no position")
)

// Liquidation pause flow, guarded in addition to the lending repay flow.
const FlowLiquidate = "protocol.liquidate"

// OpKind names a batch operation. Exec-style arbitrary calls are not a kind;
// anything unrecognized is rejected.
type OpKind string

const (
	OpNewPosition OpKind = "newPosition"
	OpDeposit     OpKind = "deposit"
	OpTransfer    OpKind = "transfer"
	OpApprove     OpKind = "approve"
	OpRepay       OpKind = "repay"
	OpBorrow      OpKind = "borrow"
	OpAddToken    OpKind = "addToken"
	OpRemoveToken OpKind = "removeToken"
)

// Operation is one typed step in a position batch.
type Operation struct {
	Kind   OpKind         `json:"kind"`
	PoolID string         `json:"poolId,omitempty"`
	Asset  common.Address `json:"asset,omitempty"`
	Amount *big.Int       `json:"amount,omitempty"`
	Target common.Address `json:"target,omitempty"`
	Salt   [32]byte       `json:"salt,omitempty"`
	Revoke bool           `json:"revoke,omitempty"`
}

// Protocol is the single-writer orchestrator over the whole state. Every
// mutating entry point runs against a storage overlay and commits only on
// success, so each call is atomic: it fully applies or leaves no trace.
type Protocol struct {
	mu          sync.Mutex
	db          storage.Database
	oracle      *oracle.Registry
	models      map[string]lending.RateModel
	pauses      *nativecommon.Switchboard
	knownAssets map[common.Address]bool
	timelock    uint64
	discountBps uint64
	minLtv      *big.Int
	maxLtv      *big.Int
	clock       func() uint64
	logger      *slog.Logger
	metrics     *observability.ProtocolMetrics
}

func NewProtocol(db storage.Database, oracleReg *oracle.Registry, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		db:          db,
		oracle:      oracleReg,
		models:      map[string]lending.RateModel{"default": lending.DefaultRateModel},
		pauses:      nativecommon.NewSwitchboard(),
		knownAssets: make(map[common.Address]bool),
		timelock:    risk.DefaultTimelockSeconds,
		discountBps: risk.DefaultLiquidationDiscountBps,
		clock:       func() uint64 { return uint64(time.Now().Unix()) },
		logger:      logger.With("component", "protocol"),
		metrics:     observability.Protocol(),
	}
}

func (p *Protocol) SetClock(clock func() uint64) {
	if p == nil || clock == nil {
		return
	}
	p.clock = clock
}

// RegisterRateModel exposes a rate model to pools under key.
func (p *Protocol) RegisterRateModel(key string, model lending.RateModel) {
	if p == nil || model == nil {
		return
	}
	p.mu.Lock()
	p.models[key] = model
	p.mu.Unlock()
}

// AllowAsset adds the asset to the known-asset list batch transfers are
// restricted to.
func (p *Protocol) AllowAsset(asset common.Address) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.knownAssets[asset] = true
	p.mu.Unlock()
}

// SetRiskParams configures the LTV timelock, liquidation discount and LTV
// bounds used by per-call risk engines. Nil bounds keep defaults.
func (p *Protocol) SetRiskParams(timelockSeconds, discountBps uint64, minLtv, maxLtv *big.Int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.timelock = timelockSeconds
	p.discountBps = discountBps
	if minLtv != nil {
		p.minLtv = new(big.Int).Set(minLtv)
	}
	if maxLtv != nil {
		p.maxLtv = new(big.Int).Set(maxLtv)
	}
	p.mu.Unlock()
}

// SetPaused toggles a named flow on the pause switchboard.
func (p *Protocol) SetPaused(flow string, paused bool) {
	if p == nil {
		return
	}
	p.pauses.SetPaused(flow, paused)
}

// engines wires a fresh engine set against the given store. Engines are
// cheap per-call structs; all durable state lives behind the store.
func (p *Protocol) engines(store *storage.Store) (*bank.Ledger, *lending.Engine, *risk.Engine, *position.Registry) {
	ledger := bank.NewLedger(store)
	lend := lending.NewEngine(store, ledger)
	lend.SetClock(p.clock)
	lend.SetPauses(p.pauses)
	for key, model := range p.models {
		lend.RegisterRateModel(key, model)
	}
	riskEng := risk.NewEngine(store, lend, p.oracle, ledger)
	riskEng.SetClock(p.clock)
	riskEng.SetTimelock(p.timelock)
	riskEng.SetLiquidationDiscountBps(p.discountBps)
	riskEng.SetLtvBounds(p.minLtv, p.maxLtv)
	positions := position.NewRegistry(store)
	return ledger, lend, riskEng, positions
}

// mutate runs fn against an overlay and commits it when fn succeeds.
func (p *Protocol) mutate(fn func(store *storage.Store) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	overlay := storage.NewOverlay(p.db)
	if err := fn(storage.NewStore(overlay)); err != nil {
		return err
	}
	return overlay.Commit()
}

// view runs fn against the live state read-only.
func (p *Protocol) view(fn func(store *storage.Store) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(storage.NewStore(storage.NewOverlay(p.db)))
}

// CreatePool registers a lending market and marks its asset as known.
func (p *Protocol) CreatePool(pool *lending.Pool) error {
	err := p.mutate(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		return lend.CreatePool(pool)
	})
	if err != nil {
		return err
	}
	p.AllowAsset(pool.Asset)
	p.logger.Info("pool created", "pool", pool.ID, "asset", pool.Asset.Hex())
	return nil
}

// NewPosition creates a position for owner at its deterministic address.
func (p *Protocol) NewPosition(owner common.Address, salt [32]byte) (common.Address, error) {
	var addr common.Address
	err := p.mutate(func(store *storage.Store) error {
		_, _, _, positions := p.engines(store)
		pos, err := positions.Create(owner, salt)
		if err != nil {
			return err
		}
		addr = pos.Addr
		return nil
	})
	return addr, err
}

// Credit funds an account directly. Genesis/faucet surface, not reachable
// from the batch entry point.
func (p *Protocol) Credit(addr, asset common.Address, amount *big.Int) error {
	return p.mutate(func(store *storage.Store) error {
		ledger, _, _, _ := p.engines(store)
		return ledger.Credit(addr, asset, amount)
	})
}

// ProcessBatch applies a typed operation batch to one position and asserts
// the position is healthy at batch end. Any failure discards every step.
func (p *Protocol) ProcessBatch(caller, posAddr common.Address, ops []Operation) error {
	if len(ops) == 0 {
		return ErrEmptyBatch
	}
	if !p.oracle.Ready() {
		return oracle.ErrSequencerDown
	}
	err := p.mutate(func(store *storage.Store) error {
		ledger, lend, riskEng, positions := p.engines(store)
		var pos *position.Position
		for i, op := range ops {
			if op.Kind == OpNewPosition {
				if i != 0 {
					return ErrMisplacedCreate
				}
				created, err := positions.Create(caller, op.Salt)
				if err != nil {
					return err
				}
				pos = created
				continue
			}
			if pos == nil {
				loaded, err := positions.Get(posAddr)
				if err != nil {
					return err
				}
				if !loaded.IsOperator(caller) {
					return position.ErrNotAuthorized
				}
				pos = loaded
			}
			if err := p.applyOperation(ledger, lend, caller, pos, op); err != nil {
				return err
			}
		}
		if pos == nil {
			return ErrNoPosition
		}
		if err := positions.Put(pos); err != nil {
			return err
		}
		if err := riskEng.EnsureHealthyAfter(pos); err != nil {
			p.metrics.HealthCheckFailures.Inc()
			return err
		}
		return nil
	})
	if err != nil {
		p.metrics.Batches.WithLabelValues("rejected").Inc()
		return err
	}
	p.metrics.Batches.WithLabelValues("applied").Inc()
	return nil
}

func (p *Protocol) applyOperation(ledger *bank.Ledger, lend *lending.Engine, caller common.Address, pos *position.Position, op Operation) error {
	switch op.Kind {
	case OpDeposit:
		if !p.knownAssets[op.Asset] {
			return ErrUnknownAsset
		}
		return ledger.Transfer(caller, pos.Addr, op.Asset, op.Amount)
	case OpTransfer:
		if !p.knownAssets[op.Asset] {
			return ErrUnknownAsset
		}
		return ledger.Transfer(pos.Addr, op.Target, op.Asset, op.Amount)
	case OpApprove:
		if caller != pos.Owner {
			return position.ErrNotAuthorized
		}
		pos.Authorize(op.Target, !op.Revoke)
		return nil
	case OpAddToken:
		if !p.knownAssets[op.Asset] {
			return ErrUnknownAsset
		}
		return pos.AddAsset(op.Asset)
	case OpRemoveToken:
		bal, err := ledger.BalanceOf(pos.Addr, op.Asset)
		if err != nil {
			return err
		}
		if bal.Sign() != 0 {
			return position.ErrAssetNotEmpty
		}
		return pos.RemoveAsset(op.Asset)
	case OpBorrow:
		_, err := lend.Borrow(op.PoolID, pos, op.Amount)
		return err
	case OpRepay:
		_, err := lend.Repay(op.PoolID, pos, pos.Addr, op.Amount)
		return err
	default:
		return ErrUnknownOperation
	}
}

// Liquidate runs the atomic repay-and-seize sequence: entry guard, tuple
// validation, repayments funded by the liquidator, collateral seizures, then
// the exit guard on the post state. A liquidation of bad debt (debt value
// above collateral value) is allowed to finish unhealthy; it is logged and
// counted, never silent.
func (p *Protocol) Liquidate(liquidator, posAddr common.Address, debts []risk.DebtTuple, seizures []risk.SeizureTuple) error {
	if err := nativecommon.Guard(p.pauses, FlowLiquidate); err != nil {
		return err
	}
	if !p.oracle.Ready() {
		return oracle.ErrSequencerDown
	}
	if len(debts) == 0 {
		return risk.ErrInvalidTuple
	}
	err := p.mutate(func(store *storage.Store) error {
		ledger, lend, riskEng, positions := p.engines(store)
		pos, err := positions.Get(posAddr)
		if err != nil {
			return err
		}
		if err := riskEng.EnsureLiquidatable(pos); err != nil {
			return err
		}
		if _, _, err := riskEng.ValidateLiquidation(debts, seizures); err != nil {
			return err
		}
		before, err := riskEng.GetRiskData(pos)
		if err != nil {
			return err
		}
		badDebt := before.TotalAssetValue.Cmp(before.TotalDebtValue) < 0

		// Repay clamps to the outstanding debt; the seizure bound below is
		// re-checked against what was actually repaid so an inflated proposal
		// cannot widen it.
		actual := make([]risk.DebtTuple, 0, len(debts))
		for _, tuple := range debts {
			repaid, err := lend.Repay(tuple.PoolID, pos, liquidator, tuple.Amount)
			if err != nil {
				return err
			}
			actual = append(actual, risk.DebtTuple{PoolID: tuple.PoolID, Asset: tuple.Asset, Amount: repaid})
		}
		for _, tuple := range seizures {
			if err := ledger.Transfer(pos.Addr, liquidator, tuple.Asset, tuple.Amount); err != nil {
				return err
			}
		}
		if _, _, err := riskEng.ValidateLiquidation(actual, seizures); err != nil {
			return err
		}
		if err := positions.Put(pos); err != nil {
			return err
		}
		if err := riskEng.EnsureHealthyAfter(pos); err != nil {
			if !badDebt {
				return err
			}
			p.metrics.BadDebtEvents.Inc()
			p.logger.Warn("bad debt liquidation left position unhealthy",
				"position", pos.Addr.Hex(),
				"assetValue", before.TotalAssetValue.String(),
				"debtValue", before.TotalDebtValue.String())
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.metrics.Liquidations.Inc()
	p.logger.Info("position liquidated", "position", posAddr.Hex(), "liquidator", liquidator.Hex())
	return nil
}

// Accrue folds elapsed interest into the pool and records the accrued amount.
func (p *Protocol) Accrue(poolID string) error {
	var (
		interest    *big.Int
		utilisation float64
	)
	err := p.mutate(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		before, err := lend.GetPool(poolID)
		if err != nil {
			return err
		}
		if err := lend.Accrue(poolID); err != nil {
			return err
		}
		after, err := lend.GetPool(poolID)
		if err != nil {
			return err
		}
		interest = new(big.Int).Sub(after.TotalBorrowAssets, before.TotalBorrowAssets)
		utilisation, _ = lending.Utilisation(after.TotalBorrowAssets, after.TotalDepositAssets).Float64()
		return nil
	})
	if err != nil {
		return err
	}
	p.metrics.Accruals.Inc()
	observability.AddBig(p.metrics.InterestAccrued, interest)
	p.metrics.PoolUtilisation.WithLabelValues(poolID).Set(utilisation)
	return nil
}

// DepositLiquidity supplies pool liquidity for deposit shares.
func (p *Protocol) DepositLiquidity(from common.Address, poolID string, assets *big.Int) (*big.Int, error) {
	var shares *big.Int
	err := p.mutate(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		minted, err := lend.Deposit(poolID, from, from, assets)
		if err != nil {
			return err
		}
		shares = minted
		return nil
	})
	return shares, err
}

// MintLiquidity issues an exact share amount against pool liquidity.
func (p *Protocol) MintLiquidity(from common.Address, poolID string, shares *big.Int) (*big.Int, error) {
	var assets *big.Int
	err := p.mutate(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		charged, err := lend.Mint(poolID, from, from, shares)
		if err != nil {
			return err
		}
		assets = charged
		return nil
	})
	return assets, err
}

// WithdrawLiquidity withdraws an exact asset amount from the pool.
func (p *Protocol) WithdrawLiquidity(owner common.Address, poolID string, assets *big.Int) (*big.Int, error) {
	var shares *big.Int
	err := p.mutate(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		burned, err := lend.Withdraw(poolID, owner, owner, assets)
		if err != nil {
			return err
		}
		shares = burned
		return nil
	})
	return shares, err
}

// RedeemLiquidity burns an exact share amount for pool assets.
func (p *Protocol) RedeemLiquidity(owner common.Address, poolID string, shares *big.Int) (*big.Int, error) {
	var assets *big.Int
	err := p.mutate(func(store *storage.Store) error {
		_, lend, _, _ := p.engines(store)
		released, err := lend.Redeem(poolID, owner, owner, shares)
		if err != nil {
			return err
		}
		assets = released
		return nil
	})
	return assets, err
}

// RequestLtvUpdate stages (or bootstraps) an LTV for a (pool, asset) pair.
func (p *Protocol) RequestLtvUpdate(caller common.Address, poolID string, asset common.Address, ltv *big.Int) error {
	return p.mutate(func(store *storage.Store) error {
		_, _, riskEng, _ := p.engines(store)
		return riskEng.RequestLtvUpdate(caller, poolID, asset, ltv)
	})
}

// AcceptLtvUpdate promotes a pending LTV after its timelock.
func (p *Protocol) AcceptLtvUpdate(poolID string, asset common.Address) error {
	return p.mutate(func(store *storage.Store) error {
		_, _, riskEng, _ := p.engines(store)
		return riskEng.AcceptLtvUpdate(poolID, asset)
	})
}

// RejectLtvUpdate discards a pending LTV.
func (p *Protocol) RejectLtvUpdate(caller common.Address, poolID string, asset common.Address) error {
	return p.mutate(func(store *storage.Store) error {
		_, _, riskEng, _ := p.engines(store)
		return riskEng.RejectLtvUpdate(caller, poolID, asset)
	})
}
