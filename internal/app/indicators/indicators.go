// Package indicators implements the technical indicator math used when the
// upstream indicator endpoints are unavailable. All functions are pure: they
// operate on in-memory series and never touch the network.
package indicators

import "math"

// Default periods used across the application.
const (
	MACDFastPeriod    = 12
	MACDSlowPeriod    = 26
	RSIPeriod         = 14
	StochasticPeriodK = 14
	StochasticPeriodD = 3
	BollingerPeriod   = 20
	SMA200Period      = 200
)

// SMA returns the arithmetic mean of the last period values. ok is false when
// the series is shorter than the period.
func SMA(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}
	var sum float64
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average over the whole series, seeded
// with the SMA of the first period values.
func EMA(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}
	ema, _ := SMA(series[:period], period)
	k := 2 / float64(period+1)
	for _, price := range series[period:] {
		ema = (price-ema)*k + ema
	}
	return ema, true
}

// MACD returns EMA(12) - EMA(26) over the close series. At least 26 points
// are required.
func MACD(series []float64) (float64, bool) {
	if len(series) < MACDSlowPeriod {
		return 0, false
	}
	fast, _ := EMA(series, MACDFastPeriod)
	slow, _ := EMA(series, MACDSlowPeriod)
	return fast - slow, true
}

// RSI computes the relative strength index with Wilder smoothing. When the
// window contains no losses the value is exactly 100.
func RSI(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period+1 {
		return 0, false
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := series[i] - series[i-1]
		if change >= 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(series); i++ {
		change := series[i] - series[i-1]
		if change >= 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - change) / float64(period)
		}
	}

	if avgLoss == 0 {
		return 100, true
	}
	return 100 - 100/(1+avgGain/avgLoss), true
}

// StochasticResult holds the %K and, when enough %K samples exist, the %D
// smoothing of the oscillator.
type StochasticResult struct {
	K float64
	D *float64
}

// Stochastic computes the stochastic oscillator over parallel high/low/close
// series. A flat window (high == low) yields the neutral value 50 rather than
// a division by zero. %D is nil until periodD %K samples exist.
func Stochastic(highs, lows, closes []float64, periodK, periodD int) (StochasticResult, bool) {
	if periodK <= 0 || periodD <= 0 {
		return StochasticResult{}, false
	}
	n := len(closes)
	if len(highs) < n {
		n = len(highs)
	}
	if len(lows) < n {
		n = len(lows)
	}
	if n < periodK {
		return StochasticResult{}, false
	}

	kValues := make([]float64, 0, n-periodK+1)
	for i := periodK - 1; i < n; i++ {
		windowHigh := math.Inf(-1)
		windowLow := math.Inf(1)
		for j := i - periodK + 1; j <= i; j++ {
			if highs[j] > windowHigh {
				windowHigh = highs[j]
			}
			if lows[j] < windowLow {
				windowLow = lows[j]
			}
		}
		if windowHigh == windowLow {
			kValues = append(kValues, 50)
			continue
		}
		kValues = append(kValues, (closes[i]-windowLow)/(windowHigh-windowLow)*100)
	}

	res := StochasticResult{K: kValues[len(kValues)-1]}
	if len(kValues) >= periodD {
		var sum float64
		for _, k := range kValues[len(kValues)-periodD:] {
			sum += k
		}
		d := sum / float64(periodD)
		res.D = &d
	}
	return res, true
}

// BollingerPercent reports where the latest price sits inside a 2-sigma band
// around the period SMA, as a 0-100 percentage. A zero-variance window yields
// the neutral value 50.
func BollingerPercent(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}
	window := series[len(series)-period:]
	sma, _ := SMA(window, period)

	var variance float64
	for _, v := range window {
		variance += (v - sma) * (v - sma)
	}
	variance /= float64(period)
	stdDev := math.Sqrt(variance)

	current := series[len(series)-1]
	upper := sma + 2*stdDev
	lower := sma - 2*stdDev
	if upper == lower {
		return 50, true
	}
	return (current - lower) / (upper - lower) * 100, true
}
