package lending

import (
	"math/big"
	"testing"
)

func TestUtilisation(t *testing.T) {
	if Utilisation(big.NewInt(0), big.NewInt(100)).Sign() != 0 {
		t.Fatalf("zero borrow should be zero utilisation")
	}
	if Utilisation(big.NewInt(50), big.NewInt(0)).Sign() != 0 {
		t.Fatalf("empty pool should be zero utilisation")
	}
	got := Utilisation(big.NewInt(40), big.NewInt(100))
	if got.Cmp(big.NewRat(2, 5)) != 0 {
		t.Fatalf("utilisation %s, want 2/5", got)
	}
}

func TestKinkedRateModelBelowAndAboveKink(t *testing.T) {
	model := &KinkedRateModel{
		BaseRate: big.NewRat(1, 50), // 2%
		Slope1:   big.NewRat(3, 20), // 15%
		Slope2:   big.NewRat(3, 5),  // 60%
		Kink:     big.NewRat(4, 5),  // 80%
	}

	idle := model.BorrowAPR(big.NewInt(0), big.NewInt(1_000))
	if idle.Cmp(big.NewRat(1, 50)) != 0 {
		t.Fatalf("idle pool APR %s, want base rate 1/50", idle)
	}

	// U = 40%: base + slope1*U = 2% + 6% = 8%.
	below := model.BorrowAPR(big.NewInt(400), big.NewInt(1_000))
	if below.Cmp(big.NewRat(2, 25)) != 0 {
		t.Fatalf("below-kink APR %s, want 2/25", below)
	}

	// U = 90%: base + slope1*kink + slope2*(U-kink) = 2% + 12% + 6% = 20%.
	above := model.BorrowAPR(big.NewInt(900), big.NewInt(1_000))
	if above.Cmp(big.NewRat(1, 5)) != 0 {
		t.Fatalf("above-kink APR %s, want 1/5", above)
	}

	// Exactly at the kink the steep slope does not apply yet.
	atKink := model.BorrowAPR(big.NewInt(800), big.NewInt(1_000))
	want := big.NewRat(7, 50) // 2% + 12%
	if atKink.Cmp(want) != 0 {
		t.Fatalf("at-kink APR %s, want 7/50", atKink)
	}
}

func TestFixedRateModelIgnoresUtilisation(t *testing.T) {
	model := NewFixedRateModel(0.05)
	low := model.BorrowAPR(big.NewInt(1), big.NewInt(1_000_000))
	high := model.BorrowAPR(big.NewInt(999_999), big.NewInt(1_000_000))
	if low.Cmp(high) != 0 {
		t.Fatalf("fixed model must not vary with utilisation: %s vs %s", low, high)
	}
}
