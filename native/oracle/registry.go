package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/fixedpoint"
)

var (
	ErrNotAllowListed = errors.New("oracle: source not allow-listed for asset")
	ErrNoSource       = errors.New("oracle: no source configured for asset")
	ErrStaleQuote     = errors.New("oracle: quote outside freshness window")
	ErrSequencerDown  = errors.New("oracle: sequencer unavailable")
)

// SequencerProbe reports whether the environment feeding the price sources is
// live. When it is not, mutating actions must be blocked rather than priced
// against stale data.
type SequencerProbe interface {
	Ready() bool
}

// Registry maps assets to their active price source. A source may only be
// activated for an asset when the (asset, source) pair is on the allow-list:
// scoping the grant by asset prevents a source that legitimately prices one
// token from being swapped onto a differently valued one.
type Registry struct {
	mu        sync.RWMutex
	allow     map[common.Address]map[string]struct{}
	active    map[common.Address]Source
	maxAge    uint64
	sequencer SequencerProbe
	now       func() uint64
}

// NewRegistry constructs a registry enforcing the supplied freshness window
// in seconds. A zero maxAge disables staleness checks.
func NewRegistry(maxAge uint64, now func() uint64) *Registry {
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	return &Registry{
		allow:  make(map[common.Address]map[string]struct{}),
		active: make(map[common.Address]Source),
		maxAge: maxAge,
		now:    now,
	}
}

// SetSequencerProbe wires the optional sequencer-uptime check.
func (r *Registry) SetSequencerProbe(probe SequencerProbe) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sequencer = probe
	r.mu.Unlock()
}

// Allow adds the (asset, source name) pair to the allow-list.
func (r *Registry) Allow(asset common.Address, sourceName string) {
	if r == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(sourceName))
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allow[asset] == nil {
		r.allow[asset] = make(map[string]struct{})
	}
	r.allow[asset][name] = struct{}{}
}

// SetSource activates a source for the asset. The source must already be
// allow-listed for that specific asset.
func (r *Registry) SetSource(asset common.Address, source Source) error {
	if r == nil || source == nil {
		return ErrNoSource
	}
	name := strings.ToLower(strings.TrimSpace(source.Name()))
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed, ok := r.allow[asset]
	if !ok {
		return ErrNotAllowListed
	}
	if _, ok := allowed[name]; !ok {
		return ErrNotAllowListed
	}
	r.active[asset] = source
	return nil
}

// SourceFor reports the active source name for the asset.
func (r *Registry) SourceFor(asset common.Address) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.active[asset]
	if !ok {
		return "", false
	}
	return source.Name(), true
}

// Ready reports whether the sequencer probe (when configured) is live.
func (r *Registry) Ready() bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	probe := r.sequencer
	r.mu.RUnlock()
	if probe == nil {
		return true
	}
	return probe.Ready()
}

// ValueInEth prices amount base units of the asset in wad ETH. Stale quotes,
// missing sources and a down sequencer all fail: action paths must block
// rather than price against bad data.
func (r *Registry) ValueInEth(asset common.Address, amount *big.Int) (*big.Int, error) {
	if r == nil {
		return nil, ErrNoSource
	}
	if !r.Ready() {
		return nil, ErrSequencerDown
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	r.mu.RLock()
	source, ok := r.active[asset]
	maxAge := r.maxAge
	nowFn := r.now
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoSource
	}
	quote, err := source.Quote(asset)
	if err != nil {
		return nil, err
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, ErrNoQuote
	}
	if maxAge > 0 {
		now := nowFn()
		if quote.Timestamp+maxAge < now {
			return nil, ErrStaleQuote
		}
	}
	return fixedpoint.MulWad(amount, quote.Price, fixedpoint.RoundDown), nil
}

// SafeValueInEth prices the asset but maps every source fault to a zero
// value. View and liquidation aggregation paths use this so a misbehaving
// source can never make a position unpriceable; a down sequencer still
// surfaces through Ready on the action paths.
func (r *Registry) SafeValueInEth(asset common.Address, amount *big.Int) *big.Int {
	value, err := r.ValueInEth(asset, amount)
	if err != nil {
		return big.NewInt(0)
	}
	return value
}
