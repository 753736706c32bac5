package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	billCSV = `変換後発注者名（ｶﾅ）,請求額
ｱｸﾒ,1000
ｱｸﾒ,500
,700
ｸﾞﾛｰﾌﾞ,300
`
	paymentCSV = `照会口座,変換後発注者名,入金金額（円）
ACME BANK,ｱｸﾒ,1000
ACME BANK,ｱｸﾒ,-50
GLOBE BANK,ｸﾞﾛｰﾌﾞ,300
`
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewImportOrchestrator_RequiresImporter(t *testing.T) {
	_, err := NewImportOrchestrator(nil, nil, logger.Discard())
	require.Error(t, err)
}

func TestImport_StoresBothFiles(t *testing.T) {
	store := openStore(t)
	orchestrator, err := NewImportOrchestrator(store, nil, logger.Discard())
	require.NoError(t, err)

	var steps []string
	orchestrator.AddProgressCallback(func(p *ImportProgress) {
		steps = append(steps, p.CurrentStep)
	})

	result, err := orchestrator.Import(context.Background(), &ImportRequest{
		BillFile:    writeFile(t, "bills.csv", billCSV),
		PaymentFile: writeFile(t, "payments.csv", paymentCSV),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.BillsStored)
	assert.Equal(t, 3, result.PaymentsStored)
	assert.Equal(t, 1, result.BillStats.Skipped)
	assert.Equal(t, 0, result.PaymentStats.Skipped)

	assert.Equal(t, []string{
		"Parsing files", "Preprocessing rows", "Storing bills", "Storing payments", "Completed",
	}, steps)

	progress := orchestrator.Progress()
	assert.Equal(t, 3, progress.BillsParsed)
	assert.Equal(t, 3, progress.PaymentsParsed)
	assert.InDelta(t, 100.0, progress.PercentComplete, 1e-9)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Bills)
	assert.Equal(t, 3, stats.Payments)
	assert.Equal(t, 2, stats.Customers)
	assert.Equal(t, 2, stats.Payers)
}

func TestImport_RejectNonPositive(t *testing.T) {
	store := openStore(t)
	config := DefaultPreprocessingConfig()
	config.RejectNonPositive = true

	orchestrator, err := NewImportOrchestrator(store, config, logger.Discard())
	require.NoError(t, err)

	result, err := orchestrator.Import(context.Background(), &ImportRequest{
		PaymentFile: writeFile(t, "payments.csv", paymentCSV),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.PaymentsStored)
	assert.Nil(t, result.BillPreprocessing)
	require.NotNil(t, result.PaymentPreprocessing)
	assert.Equal(t, 1, result.PaymentPreprocessing.NonPositive)
	require.Len(t, result.PaymentPreprocessing.Issues, 1)
	assert.Equal(t, errors.CodeInvalidAmount, result.PaymentPreprocessing.Issues[0].Code)
	assert.Equal(t, 3, result.PaymentPreprocessing.Issues[0].Line)
	assert.Contains(t, orchestrator.Progress().Warnings, "rows dropped during preprocessing")
}

func TestImport_RequestValidation(t *testing.T) {
	orchestrator, err := NewImportOrchestrator(openStore(t), nil, logger.Discard())
	require.NoError(t, err)

	_, err = orchestrator.Import(context.Background(), &ImportRequest{})
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryValidation, rerr.Category)
}

func TestImport_ParseFailureStoresNothing(t *testing.T) {
	store := openStore(t)
	orchestrator, err := NewImportOrchestrator(store, nil, logger.Discard())
	require.NoError(t, err)

	_, err = orchestrator.Import(context.Background(), &ImportRequest{
		BillFile:    writeFile(t, "bills.csv", "name,amount\nx,1\n"),
		PaymentFile: writeFile(t, "payments.csv", paymentCSV),
	})
	require.Error(t, err)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Bills)
	assert.Zero(t, stats.Payments)
}

type failingImporter struct {
	bills []models.BillInput
}

func (f *failingImporter) ImportBills(_ context.Context, bills []models.BillInput) (int, error) {
	f.bills = append(f.bills, bills...)
	return len(bills), nil
}

func (f *failingImporter) ImportPayments(context.Context, []models.PaymentInput) (int, error) {
	return 0, errors.StorageError(errors.CodeStoreFailure, "import payments", fmt.Errorf("database is locked"))
}

func TestImport_StoreFailure(t *testing.T) {
	importer := &failingImporter{}
	orchestrator, err := NewImportOrchestrator(importer, nil, logger.Discard())
	require.NoError(t, err)

	_, err = orchestrator.Import(context.Background(), &ImportRequest{
		BillFile:    writeFile(t, "bills.csv", billCSV),
		PaymentFile: writeFile(t, "payments.csv", paymentCSV),
	})
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryStorage, rerr.Category)
	assert.Len(t, importer.bills, 3)
}

func TestDataPreprocessor_Bills(t *testing.T) {
	dp := NewDataPreprocessor(&PreprocessingConfig{
		TrimWhitespace:    true,
		RejectNonPositive: true,
		RemoveDuplicates:  true,
		MaxIssues:         10,
	})

	out, stats := dp.PreprocessBills("bills.csv", []models.BillInput{
		{CustomerName: " ｱｸﾒ ", Amount: decimal.NewFromInt(100), Line: 2},
		{CustomerName: "ｱｸﾒ", Amount: decimal.NewFromInt(100), Line: 3},
		{CustomerName: "ｸﾞﾛｰﾌﾞ", Amount: decimal.Zero, Line: 4},
		{CustomerName: "ｸﾞﾛｰﾌﾞ", Amount: decimal.NewFromInt(5), Line: 5},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "ｱｸﾒ", out[0].CustomerName)
	assert.Equal(t, 5, out[1].Line)

	assert.Equal(t, 4, stats.Input)
	assert.Equal(t, 2, stats.Output)
	assert.Equal(t, 2, stats.Dropped())
	assert.Equal(t, 1, stats.Trimmed)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.NonPositive)
	assert.Len(t, stats.Issues, 2)
}

func TestDataPreprocessor_PaymentsDefaultsKeepEverything(t *testing.T) {
	dp := NewDataPreprocessor(nil)

	in := []models.PaymentInput{
		{PayerName: "ACME BANK ", RawName: "ｱｸﾒ", Amount: decimal.NewFromInt(-10)},
		{PayerName: "ACME BANK", RawName: "ｱｸﾒ", Amount: decimal.NewFromInt(-10)},
	}
	out, stats := dp.PreprocessPayments("payments.csv", in)

	require.Len(t, out, 2)
	assert.Equal(t, "ACME BANK", out[0].PayerName)
	assert.Equal(t, 1, stats.Trimmed)
	assert.Zero(t, stats.Dropped())
	assert.Empty(t, stats.Issues)
}
