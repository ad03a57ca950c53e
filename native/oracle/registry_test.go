package oracle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/fixedpoint"
)

var (
	weth = common.HexToAddress("0x0a")
	usdc = common.HexToAddress("0x0b")
)

func fixedClock(ts uint64) func() uint64 {
	return func() uint64 { return ts }
}

type stubProbe struct{ up bool }

func (p stubProbe) Ready() bool { return p.up }

func TestSetSourceRequiresAssetScopedAllowList(t *testing.T) {
	registry := NewRegistry(0, fixedClock(1000))
	source := NewFixedSource("manual", fixedClock(1000))
	source.Set(weth, fixedpoint.Wad)

	if err := registry.SetSource(weth, source); err != ErrNotAllowListed {
		t.Fatalf("expected allow-list rejection, got %v", err)
	}

	// Allowing the source for a DIFFERENT asset must not unlock this one.
	registry.Allow(usdc, "manual")
	if err := registry.SetSource(weth, source); err != ErrNotAllowListed {
		t.Fatalf("expected allow-list rejection for unrelated asset, got %v", err)
	}

	registry.Allow(weth, "manual")
	if err := registry.SetSource(weth, source); err != nil {
		t.Fatalf("set source: %v", err)
	}
	name, ok := registry.SourceFor(weth)
	if !ok || name != "manual" {
		t.Fatalf("unexpected active source: %q %v", name, ok)
	}
}

func TestValueInEthScalesByPrice(t *testing.T) {
	registry := NewRegistry(0, fixedClock(1000))
	source := NewFixedSource("manual", fixedClock(1000))
	// 2 ETH per whole token.
	source.Set(weth, new(big.Int).Mul(big.NewInt(2), fixedpoint.Wad))
	registry.Allow(weth, "manual")
	if err := registry.SetSource(weth, source); err != nil {
		t.Fatalf("set source: %v", err)
	}

	amount := new(big.Int).Mul(big.NewInt(5), fixedpoint.Wad)
	value, err := registry.ValueInEth(weth, amount)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(10), fixedpoint.Wad)
	if value.Cmp(want) != 0 {
		t.Fatalf("unexpected value: got %s want %s", value, want)
	}
}

func TestStaleQuoteBlocksActionPath(t *testing.T) {
	registry := NewRegistry(300, fixedClock(10_000))
	feed := NewFeedSource("feed")
	if err := feed.Push(weth, fixedpoint.Wad, 9_000); err != nil {
		t.Fatalf("push: %v", err)
	}
	registry.Allow(weth, "feed")
	if err := registry.SetSource(weth, feed); err != nil {
		t.Fatalf("set source: %v", err)
	}

	if _, err := registry.ValueInEth(weth, fixedpoint.Wad); err != ErrStaleQuote {
		t.Fatalf("expected stale quote error, got %v", err)
	}
	// The safe path degrades to zero instead of failing.
	if value := registry.SafeValueInEth(weth, fixedpoint.Wad); value.Sign() != 0 {
		t.Fatalf("expected zero value on stale quote, got %s", value)
	}

	// A fresh push clears the block.
	if err := feed.Push(weth, fixedpoint.Wad, 9_800); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := registry.ValueInEth(weth, fixedpoint.Wad); err != nil {
		t.Fatalf("expected fresh quote to price, got %v", err)
	}
}

func TestSequencerDownBlocksPricing(t *testing.T) {
	registry := NewRegistry(0, fixedClock(1000))
	source := NewFixedSource("manual", fixedClock(1000))
	source.Set(weth, fixedpoint.Wad)
	registry.Allow(weth, "manual")
	if err := registry.SetSource(weth, source); err != nil {
		t.Fatalf("set source: %v", err)
	}
	registry.SetSequencerProbe(stubProbe{up: false})

	if _, err := registry.ValueInEth(weth, fixedpoint.Wad); err != ErrSequencerDown {
		t.Fatalf("expected sequencer down error, got %v", err)
	}
	if registry.Ready() {
		t.Fatalf("expected registry not ready")
	}

	registry.SetSequencerProbe(stubProbe{up: true})
	if _, err := registry.ValueInEth(weth, fixedpoint.Wad); err != nil {
		t.Fatalf("expected pricing to resume, got %v", err)
	}
}

func TestMissingSourceYieldsZeroOnSafePath(t *testing.T) {
	registry := NewRegistry(0, fixedClock(1000))
	if _, err := registry.ValueInEth(weth, fixedpoint.Wad); err != ErrNoSource {
		t.Fatalf("expected no source error, got %v", err)
	}
	if value := registry.SafeValueInEth(weth, fixedpoint.Wad); value.Sign() != 0 {
		t.Fatalf("expected zero, got %s", value)
	}
}
