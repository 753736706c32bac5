package parsers

import (
	"context"
	"sync"

	"ledger-matching-service/internal/models"
)

// LedgerFiles names the two exports of one import. Either path may be empty.
type LedgerFiles struct {
	BillFile      string
	PaymentFile   string
	BillConfig    *BillParserConfig
	PaymentConfig *PaymentParserConfig
}

// LedgerParseResult holds the outcome of parsing both exports.
type LedgerParseResult struct {
	Bills        []models.BillInput
	Payments     []models.PaymentInput
	BillStats    *ParseStats
	PaymentStats *ParseStats
	BillErr      error
	PaymentErr   error
}

// Err returns the first parse failure, bills first.
func (r *LedgerParseResult) Err() error {
	if r.BillErr != nil {
		return r.BillErr
	}
	return r.PaymentErr
}

// ParseLedgerFiles parses the bill and payment files concurrently. The
// files are independent, so a failure on one side does not stop the other.
func ParseLedgerFiles(ctx context.Context, files LedgerFiles) *LedgerParseResult {
	result := &LedgerParseResult{}
	var wg sync.WaitGroup

	if files.BillFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			parser, err := NewBillParser(files.BillConfig)
			if err != nil {
				result.BillErr = err
				return
			}
			result.Bills, result.BillStats, result.BillErr = parser.ParseFile(ctx, files.BillFile)
		}()
	}

	if files.PaymentFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			parser, err := NewPaymentParser(files.PaymentConfig)
			if err != nil {
				result.PaymentErr = err
				return
			}
			result.Payments, result.PaymentStats, result.PaymentErr = parser.ParseFile(ctx, files.PaymentFile)
		}()
	}

	wg.Wait()
	return result
}
