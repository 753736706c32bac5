// Package matcher provides the subset-sum matching engine and its configuration.
//
// The engine reconciles bills against payments that share a normalized
// counterparty name. Inside each name bucket it runs three greedy phases:
//  1. One-to-one: first bill/payment pair whose amounts agree
//  2. N-to-1: combinations of bills against a single payment
//  3. 1-to-N: combinations of payments against a single bill
//
// Amounts agree when |sum(bills) - sum(payments)| <= Tolerance. Combination
// sizes are bounded by MaxCombinationSize; a valid combination larger than
// the bound is never found.
//
// Example usage:
//
//	config := matcher.LooseMatchingConfig()
//	buckets := matcher.GroupRecords(bills, payments, previous, nil)
//
//	engine := matcher.NewSubsetMatcher(config, nil)
//	result, err := engine.Match(ctx, buckets)
//	residue := matcher.ComputeResidual(buckets, result.Matched)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode names a predefined matching configuration.
type Mode string

const (
	// ModeStrict requires exact amount equality.
	ModeStrict Mode = "strict"
	// ModeLoose accepts a fixed absolute difference, used on the residue of
	// a strict run.
	ModeLoose Mode = "loose"
)

// String returns the string representation of Mode
func (m Mode) String() string {
	return string(m)
}

const (
	// DefaultSearchSpaceWarnThreshold is the estimated number of combinations
	// per target above which the matcher logs a warning.
	DefaultSearchSpaceWarnThreshold = 5_000_000

	maxAllowedCombinationSize = 64
)

// MatchingConfig holds the parameters of one reconciliation pass.
//
// Use the provided factory functions for the standard passes:
//   - StrictMatchingConfig(): tolerance 0, combinations up to 10
//   - LooseMatchingConfig(): tolerance 900, combinations up to 20
type MatchingConfig struct {
	Mode Mode `json:"mode"`

	// Tolerance is the maximum absolute difference between the two sides
	// of a group.
	Tolerance decimal.Decimal `json:"tolerance"`

	// MaxCombinationSize bounds the number of records combined on the
	// many side of an N-to-1 or 1-to-N group.
	MaxCombinationSize int `json:"max_combination_size"`

	// SearchSpaceWarnThreshold triggers a warning when the estimated number
	// of combinations for a single target exceeds it. Zero disables it.
	SearchSpaceWarnThreshold float64 `json:"search_space_warn_threshold"`
}

// DefaultMatchingConfig returns the strict configuration.
func DefaultMatchingConfig() *MatchingConfig {
	return StrictMatchingConfig()
}

// StrictMatchingConfig returns the configuration of the first, exact pass.
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		Mode:                     ModeStrict,
		Tolerance:                decimal.Zero,
		MaxCombinationSize:       10,
		SearchSpaceWarnThreshold: DefaultSearchSpaceWarnThreshold,
	}
}

// LooseMatchingConfig returns the configuration of the relaxed second pass.
func LooseMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		Mode:                     ModeLoose,
		Tolerance:                decimal.NewFromInt(900),
		MaxCombinationSize:       20,
		SearchSpaceWarnThreshold: DefaultSearchSpaceWarnThreshold,
	}
}

// ConfigForMode returns the predefined configuration for a mode name.
func ConfigForMode(mode string) (*MatchingConfig, error) {
	switch Mode(mode) {
	case ModeStrict:
		return StrictMatchingConfig(), nil
	case ModeLoose:
		return LooseMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching mode %q: must be strict or loose", mode)
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance cannot be negative: %s", mc.Tolerance)
	}

	if mc.MaxCombinationSize < 1 || mc.MaxCombinationSize > maxAllowedCombinationSize {
		return fmt.Errorf("max combination size must be between 1 and %d: %d",
			maxAllowedCombinationSize, mc.MaxCombinationSize)
	}

	if mc.SearchSpaceWarnThreshold < 0 {
		return fmt.Errorf("search space warn threshold cannot be negative: %f", mc.SearchSpaceWarnThreshold)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// Agrees reports whether two totals are within the configured tolerance.
func (mc *MatchingConfig) Agrees(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(mc.Tolerance)
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Mode: %s, Tolerance: %s, MaxCombination: %d}",
		mc.Mode, mc.Tolerance.String(), mc.MaxCombinationSize)
}
