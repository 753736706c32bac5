package reconciler

import (
	"fmt"
	"strings"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"
)

// DataPreprocessor cleans parsed rows before they are stored
type DataPreprocessor struct {
	config *PreprocessingConfig
}

// PreprocessingConfig contains configuration for data preprocessing
type PreprocessingConfig struct {
	TrimWhitespace bool `json:"trim_whitespace" mapstructure:"trim-whitespace"`

	// RejectNonPositive drops rows whose amount is zero or negative.
	RejectNonPositive bool `json:"reject_non_positive" mapstructure:"reject-non-positive"`

	// RemoveDuplicates drops rows identical to an earlier row of the same file.
	RemoveDuplicates bool `json:"remove_duplicates" mapstructure:"remove-duplicates"`

	// MaxIssues caps the number of rejected rows kept for reporting.
	MaxIssues int `json:"max_issues" mapstructure:"max-issues"`
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:    true,
		RejectNonPositive: false,
		RemoveDuplicates:  false,
		MaxIssues:         100,
	}
}

// PreprocessingStats reports what the preprocessor changed.
type PreprocessingStats struct {
	Input       int               `json:"input"`
	Output      int               `json:"output"`
	Trimmed     int               `json:"trimmed"`
	NonPositive int               `json:"non_positive"`
	Duplicates  int               `json:"duplicates"`
	Issues      []errors.RowIssue `json:"issues,omitempty"`
}

// Dropped returns the number of rows removed.
func (s *PreprocessingStats) Dropped() int {
	return s.Input - s.Output
}

// NewDataPreprocessor creates a new data preprocessor
func NewDataPreprocessor(config *PreprocessingConfig) *DataPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	return &DataPreprocessor{config: config}
}

// PreprocessBills cleans bill rows parsed from file.
func (dp *DataPreprocessor) PreprocessBills(file string, bills []models.BillInput) ([]models.BillInput, *PreprocessingStats) {
	stats := &PreprocessingStats{Input: len(bills)}
	issues := errors.NewRowIssueCollector(dp.config.MaxIssues)
	seen := make(map[string]struct{})

	out := make([]models.BillInput, 0, len(bills))
	for _, b := range bills {
		if dp.config.TrimWhitespace {
			if trimmed := strings.TrimSpace(b.CustomerName); trimmed != b.CustomerName {
				b.CustomerName = trimmed
				stats.Trimmed++
			}
		}

		if dp.config.RejectNonPositive && !b.Amount.IsPositive() {
			stats.NonPositive++
			issues.Add(errors.RowIssue{File: file, Line: b.Line, Column: "amount", Value: b.Amount.String(), Code: errors.CodeInvalidAmount})
			continue
		}

		if dp.config.RemoveDuplicates {
			key := fmt.Sprintf("%s\x00%s", b.CustomerName, b.Amount.String())
			if _, dup := seen[key]; dup {
				stats.Duplicates++
				issues.Add(errors.RowIssue{File: file, Line: b.Line, Column: "row", Value: b.CustomerName, Code: errors.CodeDataInconsistent})
				continue
			}
			seen[key] = struct{}{}
		}

		out = append(out, b)
	}

	stats.Output = len(out)
	stats.Issues = issues.Issues()
	return out, stats
}

// PreprocessPayments cleans payment rows parsed from file.
func (dp *DataPreprocessor) PreprocessPayments(file string, payments []models.PaymentInput) ([]models.PaymentInput, *PreprocessingStats) {
	stats := &PreprocessingStats{Input: len(payments)}
	issues := errors.NewRowIssueCollector(dp.config.MaxIssues)
	seen := make(map[string]struct{})

	out := make([]models.PaymentInput, 0, len(payments))
	for _, p := range payments {
		if dp.config.TrimWhitespace {
			payer, raw := strings.TrimSpace(p.PayerName), strings.TrimSpace(p.RawName)
			if payer != p.PayerName || raw != p.RawName {
				p.PayerName, p.RawName = payer, raw
				stats.Trimmed++
			}
		}

		if dp.config.RejectNonPositive && !p.Amount.IsPositive() {
			stats.NonPositive++
			issues.Add(errors.RowIssue{File: file, Line: p.Line, Column: "amount", Value: p.Amount.String(), Code: errors.CodeInvalidAmount})
			continue
		}

		if dp.config.RemoveDuplicates {
			key := fmt.Sprintf("%s\x00%s\x00%s", p.PayerName, p.RawName, p.Amount.String())
			if _, dup := seen[key]; dup {
				stats.Duplicates++
				issues.Add(errors.RowIssue{File: file, Line: p.Line, Column: "row", Value: p.PayerName, Code: errors.CodeDataInconsistent})
				continue
			}
			seen[key] = struct{}{}
		}

		out = append(out, p)
	}

	stats.Output = len(out)
	stats.Issues = issues.Issues()
	return out, stats
}
