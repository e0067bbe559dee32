// Package perf derives performance statistics from an equity curve and
// trade log.
//
// All statistics are ratios or normalized quantities derived from exact
// decimal inputs, so float64 is acceptable here. Ratios whose
// denominator can legitimately vanish (Sortino without downside
// periods, Calmar without a drawdown, profit factor without losses) are
// reported as nil rather than NaN or an arbitrary sentinel.
package perf

import (
	"math"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

// DefaultPeriodsPerYear annualizes daily bars on a trading-day calendar.
const DefaultPeriodsPerYear = 252.0

// Analyzer computes statistics. The zero value uses DefaultPeriodsPerYear
// and a zero risk-free rate.
type Analyzer struct {
	// PeriodsPerYear is the number of equity samples per year, used to
	// annualize returns, volatility, and risk-adjusted ratios.
	PeriodsPerYear float64

	// RiskFree is the annual risk-free rate subtracted in Sharpe and
	// Sortino.
	RiskFree float64
}

// Analyze computes the full statistic suite. Curves with fewer than two
// samples produce all-zero curve statistics; trade statistics still
// reflect the trade log.
func (a Analyzer) Analyze(equity []model.EquitySample, trades []model.Trade) model.Stats {
	periods := a.PeriodsPerYear
	if periods <= 0 {
		periods = DefaultPeriodsPerYear
	}

	var stats model.Stats
	a.curveStats(&stats, equity, periods)
	tradeStats(&stats, trades)
	return stats
}

func (a Analyzer) curveStats(stats *model.Stats, equity []model.EquitySample, periods float64) {
	if len(equity) < 2 {
		return
	}

	first, _ := equity[0].Equity.Float64()
	last, _ := equity[len(equity)-1].Equity.Float64()
	if first <= 0 {
		return
	}

	returns := periodicReturns(equity)

	stats.TotalReturn = last/first - 1
	n := float64(len(returns))
	if last > 0 {
		stats.CAGR = math.Pow(last/first, periods/n) - 1
	} else {
		stats.CAGR = -1
	}

	mean, stdev := meanStdev(returns)
	stats.Volatility = stdev * math.Sqrt(periods)

	rfPerPeriod := a.RiskFree / periods
	if stdev > 0 {
		stats.Sharpe = (mean - rfPerPeriod) / stdev * math.Sqrt(periods)
	}

	if dd := downsideDeviation(returns); dd > 0 {
		sortino := (mean - rfPerPeriod) / dd * math.Sqrt(periods)
		stats.Sortino = &sortino
	}

	stats.MaxDrawdown, stats.MaxDrawdownDuration = maxDrawdown(equity)
	if stats.MaxDrawdown > 0 {
		calmar := stats.CAGR / stats.MaxDrawdown
		stats.Calmar = &calmar
	}

	stats.VaR95, stats.CVaR95 = historicalVaR(returns, 0.95)
	stats.VaR99, stats.CVaR99 = historicalVaR(returns, 0.99)
}

func tradeStats(stats *model.Stats, trades []model.Trade) {
	stats.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var (
		wins, losses              int
		grossWin, grossLoss       float64
		largestWin, largestLoss   float64
		streak, maxWinStreak      int
		lossStreak, maxLossStreak int
	)
	for _, tr := range trades {
		pnl, _ := tr.RealizedPnL.Float64()
		switch {
		case pnl > 0:
			wins++
			grossWin += pnl
			largestWin = math.Max(largestWin, pnl)
			streak++
			lossStreak = 0
			maxWinStreak = max(maxWinStreak, streak)
		case pnl < 0:
			losses++
			grossLoss += -pnl
			largestLoss = math.Max(largestLoss, -pnl)
			lossStreak++
			streak = 0
			maxLossStreak = max(maxLossStreak, lossStreak)
		default:
			streak = 0
			lossStreak = 0
		}
	}

	stats.WinRate = float64(wins) / float64(len(trades))
	stats.LargestWin = largestWin
	stats.LargestLoss = -largestLoss
	stats.MaxConsecutiveWins = maxWinStreak
	stats.MaxConsecutiveLosses = maxLossStreak

	if wins > 0 {
		stats.AvgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = -grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		pf := grossWin / grossLoss
		stats.ProfitFactor = &pf
	}
}

// periodicReturns converts the equity curve into simple per-period
// returns. A non-positive sample yields a zero return for that period to
// keep later quantile math finite.
func periodicReturns(equity []model.EquitySample) []float64 {
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev, _ := equity[i-1].Equity.Float64()
		cur, _ := equity[i].Equity.Float64()
		if prev <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	return returns
}

func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// downsideDeviation is the root mean square of negative returns,
// measured over all periods.
func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var ss float64
	for _, r := range returns {
		if r < 0 {
			ss += r * r
		}
	}
	return math.Sqrt(ss / float64(len(returns)))
}

// maxDrawdown returns the deepest peak-to-trough decline as a positive
// fraction, and the longest stretch of consecutive steps spent below a
// prior peak.
func maxDrawdown(equity []model.EquitySample) (float64, int) {
	peak, _ := equity[0].Equity.Float64()
	var worst float64
	var below, longest int

	for _, s := range equity[1:] {
		e, _ := s.Equity.Float64()
		if e >= peak {
			peak = e
			below = 0
			continue
		}
		below++
		if below > longest {
			longest = below
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst, longest
}
