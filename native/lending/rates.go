package lending

import "math/big"

const secondsPerYear = 31_536_000

// RateModel derives the per-year borrow rate from current pool utilisation.
// The returned rate is a plain ratio, e.g. 2% APR is 1/50.
type RateModel interface {
	BorrowAPR(totalBorrowAssets, totalDepositAssets *big.Int) *big.Rat
}

// Utilisation computes U = borrowed / deposited, zero when the pool is empty.
func Utilisation(totalBorrowAssets, totalDepositAssets *big.Int) *big.Rat {
	if totalBorrowAssets == nil || totalBorrowAssets.Sign() == 0 {
		return new(big.Rat)
	}
	if totalDepositAssets == nil || totalDepositAssets.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowAssets, totalDepositAssets)
}

// KinkedRateModel is a two-slope curve: rates climb gently until the kink
// utilisation and steeply beyond it to pull liquidity back.
type KinkedRateModel struct {
	BaseRate *big.Rat
	Slope1   *big.Rat
	Slope2   *big.Rat
	Kink     *big.Rat
}

// NewKinkedRateModel constructs the model from decimal inputs, e.g. a 2%
// base rate is 0.02 and an 80% kink is 0.8.
func NewKinkedRateModel(baseRate, slope1, slope2, kink float64) *KinkedRateModel {
	model := &KinkedRateModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

func (m *KinkedRateModel) BorrowAPR(totalBorrowAssets, totalDepositAssets *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := Utilisation(totalBorrowAssets, totalDepositAssets)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// FixedRateModel charges the same borrow APR at every utilisation.
type FixedRateModel struct {
	Rate *big.Rat
}

func NewFixedRateModel(rate float64) *FixedRateModel {
	model := &FixedRateModel{Rate: new(big.Rat)}
	model.Rate.SetFloat64(rate)
	return model
}

func (m *FixedRateModel) BorrowAPR(*big.Int, *big.Int) *big.Rat {
	if m == nil || m.Rate == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(m.Rate)
}

// interestFor converts an annual rate into the interest owed on the borrowed
// total over elapsed seconds, rounded down: the fractional unit a borrower
// saves in aggregate is never recoverable by any single caller.
func interestFor(totalBorrowAssets *big.Int, apr *big.Rat, elapsed uint64) *big.Int {
	if totalBorrowAssets == nil || totalBorrowAssets.Sign() == 0 || apr == nil || apr.Sign() == 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	accrued := new(big.Rat).Set(apr)
	accrued.Mul(accrued, new(big.Rat).SetUint64(elapsed))
	accrued.Quo(accrued, new(big.Rat).SetUint64(secondsPerYear))
	accrued.Mul(accrued, new(big.Rat).SetInt(totalBorrowAssets))
	if accrued.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(accrued.Num(), accrued.Denom())
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultRateModel is a reasonable starting curve with a modest base rate.
var DefaultRateModel = NewKinkedRateModel(0.02, 0.15, 0.6, 0.8)
