package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sentinel/internal/domain"
)

const hoursPerYear = 24 * 365.25

// computeMetrics accumulates the statistics spec §4.8 requires per
// completed run, grounded on the teacher's gonum-based portfolio
// evaluation modules (stat.Mean/stat.StdDev over a return series).
func computeMetrics(curve []domain.EquityPoint, trades []domain.BacktestTrade, initialCapital domain.Money, tf domain.Timeframe) domain.BacktestMetrics {
	var m domain.BacktestMetrics
	if len(curve) == 0 {
		return m
	}

	initial, _ := initialCapital.Float64()
	final, _ := curve[len(curve)-1].Equity.Float64()
	if initial != 0 {
		m.TotalReturn = (final - initial) / initial
	}

	years := curve[len(curve)-1].TS.Sub(curve[0].TS).Hours() / hoursPerYear
	if years > 0 && initial > 0 && final > 0 {
		m.CAGR = math.Pow(final/initial, 1/years) - 1
	}

	m.MaxDrawdown = maxDrawdown(curve)

	returns := barReturns(curve)
	periodsPerYear := annualizationFactor(tf, curve)
	if len(returns) > 1 {
		mean := stat.Mean(returns, nil)
		sd := stat.StdDev(returns, nil)
		if sd > 0 {
			m.Sharpe = mean / sd * math.Sqrt(periodsPerYear)
		}
		downside := downsideDeviation(returns)
		if downside > 0 {
			m.Sortino = mean / downside * math.Sqrt(periodsPerYear)
		}
	}
	if m.MaxDrawdown != 0 {
		m.Calmar = m.CAGR / math.Abs(m.MaxDrawdown)
	}

	m.TradeCount = len(trades)
	m.TotalCommission = domain.Zero()
	var wins, losses int
	var grossWin, grossLoss, sumWin, sumLoss float64
	for _, t := range trades {
		pnl, _ := t.PnL.Float64()
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
		if pnl > 0 {
			wins++
			grossWin += pnl
			sumWin += pnl
		} else if pnl < 0 {
			losses++
			grossLoss += -pnl
			sumLoss += pnl
		}
	}
	if m.TradeCount > 0 {
		m.WinRate = float64(wins) / float64(m.TradeCount)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
	if wins > 0 {
		m.AvgWin = sumWin / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = sumLoss / float64(losses)
	}
	return m
}

func barReturns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

func downsideDeviation(returns []float64) float64 {
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	return stat.StdDev(negatives, nil)
}

func maxDrawdown(curve []domain.EquityPoint) float64 {
	peak, _ := curve[0].Equity.Float64()
	var worst float64
	for _, p := range curve {
		v, _ := p.Equity.Float64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (v - peak) / peak
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// annualizationFactor estimates bars-per-year from the replay's own
// timeframe and bar count rather than a hardcoded 252, so Sharpe/Sortino
// stay meaningful across daily, hourly and monthly strategy timeframes.
func annualizationFactor(tf domain.Timeframe, curve []domain.EquityPoint) float64 {
	dur := tf.Duration()
	if dur <= 0 {
		// Weekly/monthly: derive an average bar width from the curve itself.
		if len(curve) > 1 {
			span := curve[len(curve)-1].TS.Sub(curve[0].TS)
			avg := span / time.Duration(len(curve)-1)
			if avg > 0 {
				return hoursPerYear * float64(time.Hour) / float64(avg)
			}
		}
		return 12 // monthly fallback
	}
	return hoursPerYear * float64(time.Hour) / float64(dur)
}
