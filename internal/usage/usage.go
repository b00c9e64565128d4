// Package usage holds the monthly token-ledger arithmetic: month keys,
// aggregate totals, threshold crossings and cost estimation.
package usage

import "time"

// Totals is the cumulative token consumption for one user in one month.
type Totals struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// MonthKey formats the YYYY-MM grouping key. Always UTC so the ledger and the
// transcript grouping can never disagree across a month boundary.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CrossedThreshold reports whether a single call moved the total from below
// the limit to at-or-above it. The caller compares pre-call against post-call
// totals, so the crossing is reported exactly once per month.
func CrossedThreshold(pre, post, limit int) bool {
	return pre < limit && limit <= post
}

// Rates are per-token dollar prices.
type Rates struct {
	Input  float64
	Output float64
}

// RatesPerMillion converts the conventional per-1M-token pricing into
// per-token rates.
func RatesPerMillion(input, output float64) Rates {
	return Rates{
		Input:  input / 1_000_000,
		Output: output / 1_000_000,
	}
}

// Cost is a best-effort monetary estimate for one completion call.
func Cost(inputTokens, outputTokens int, r Rates) float64 {
	return float64(inputTokens)*r.Input + float64(outputTokens)*r.Output
}
