package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"ledger-matching-service/internal/matcher"
	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/storage"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedLedger stores:
//
//	bills:    1 ｱｸﾒ 1000, 2 ｱｸﾒ 500, 3 ｸﾞﾛｰﾌﾞ 300, 4 ﾃﾞﾙﾀ 10000, 5 （本社） 700
//	payments: 1 ｱｸﾒ 1000, 2 ｱｸﾒ 250, 3 ｸﾞﾛｰﾌﾞ 300, 4 ﾃﾞﾙﾀ deltaPayment
func seedLedger(t *testing.T, store *storage.Store, deltaPayment int64) {
	t.Helper()
	ctx := context.Background()

	_, err := store.ImportBills(ctx, []models.BillInput{
		{CustomerName: "ｱｸﾒ", Amount: decimal.NewFromInt(1000)},
		{CustomerName: "ｱｸﾒ", Amount: decimal.NewFromInt(500)},
		{CustomerName: "ｸﾞﾛｰﾌﾞ", Amount: decimal.NewFromInt(300)},
		{CustomerName: "ﾃﾞﾙﾀ", Amount: decimal.NewFromInt(10000)},
		{CustomerName: "（本社）", Amount: decimal.NewFromInt(700)},
	})
	require.NoError(t, err)

	_, err = store.ImportPayments(ctx, []models.PaymentInput{
		{PayerName: "ACME BANK", RawName: "ｱｸﾒ", Amount: decimal.NewFromInt(1000)},
		{PayerName: "ACME BANK", RawName: "ｱｸﾒ", Amount: decimal.NewFromInt(250)},
		{PayerName: "GLOBE BANK", RawName: "ｸﾞﾛｰﾌﾞ", Amount: decimal.NewFromInt(300)},
		{PayerName: "DELTA BANK", RawName: "ﾃﾞﾙﾀ", Amount: decimal.NewFromInt(deltaPayment)},
	})
	require.NoError(t, err)
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()

	svc, err := NewService(store, DefaultConfig(), logger.Discard())
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, nil, logger.Discard())
	require.Error(t, err)

	bad := DefaultConfig()
	bad.Loose.MaxCombinationSize = 0
	_, err = NewService(openStore(t), bad, logger.Discard())
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidConfig, rerr.Code)
}

func TestReconcileStrict(t *testing.T) {
	store := openStore(t)
	seedLedger(t, store, 9100)
	svc := newTestService(t, store)

	result, err := svc.ReconcileStrict(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.Restricted)
	assert.Equal(t, matcher.ModeStrict, result.Config.Mode)

	require.Len(t, result.Groups, 2)
	assert.Equal(t, models.MatchGroup{
		ID: 1, Kind: models.MatchKindOneToOne, Key: "ｱｸﾒ",
		BillIDs: []int64{1}, PaymentIDs: []int64{1},
	}, result.Groups[0])
	assert.Equal(t, models.MatchGroup{
		ID: 2, Kind: models.MatchKindOneToOne, Key: "ｸﾞﾛｰﾌﾞ",
		BillIDs: []int64{3}, PaymentIDs: []int64{3},
	}, result.Groups[1])

	assert.Equal(t, []int64{2, 4, 5}, result.Unmatched.BillIDs)
	assert.Equal(t, []int64{2, 4}, result.Unmatched.PaymentIDs)

	require.Len(t, result.Rows, 2)
	assert.Equal(t, "ｱｸﾒ", result.Rows[0].CustomerName)
	assert.Equal(t, "ACME BANK", result.Rows[0].PayerName)
	assert.Equal(t, int64(2), result.Rows[1].GroupID)

	s := result.Summary
	assert.Equal(t, 5, s.TotalBills)
	assert.Equal(t, 4, s.TotalPayments)
	assert.Equal(t, 2, s.MatchedBills)
	assert.Equal(t, 3, s.UnmatchedBills)
	assert.Equal(t, 2, s.OneToOne)
	assert.True(t, s.MatchedBillAmount.Equal(decimal.NewFromInt(1300)))
	assert.True(t, s.UnmatchedBillAmount.Equal(decimal.NewFromInt(11200)))
	assert.True(t, s.Difference().IsZero())
	assert.InDelta(t, 0.4, s.MatchRate, 1e-9)

	require.NotNil(t, result.EdgeCases)
	assert.Equal(t, []int64{5}, result.EdgeCases.EmptyKeyBills)
}

func TestReconcileStrict_IsIdempotent(t *testing.T) {
	store := openStore(t)
	seedLedger(t, store, 9100)
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.ReconcileStrict(ctx)
	require.NoError(t, err)
	second, err := svc.ReconcileStrict(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.Unmatched, second.Unmatched)
	assert.NotEqual(t, first.RunID, second.RunID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Groups)
	assert.Equal(t, 2, stats.MatchResults)
}

func TestReconcileLoose_OnStrictResidue(t *testing.T) {
	store := openStore(t)
	seedLedger(t, store, 9100)
	svc := newTestService(t, store)
	ctx := context.Background()

	strict, err := svc.ReconcileStrict(ctx)
	require.NoError(t, err)

	loose, err := svc.ReconcileLoose(ctx, &strict.Unmatched)
	require.NoError(t, err)
	assert.True(t, loose.Restricted)

	require.Len(t, loose.Groups, 2)
	assert.Equal(t, []int64{2}, loose.Groups[0].BillIDs)
	assert.Equal(t, []int64{2}, loose.Groups[0].PaymentIDs)
	assert.Equal(t, []int64{4}, loose.Groups[1].BillIDs)
	assert.Equal(t, []int64{4}, loose.Groups[1].PaymentIDs)

	// The empty-key bill can never match.
	assert.Equal(t, []int64{5}, loose.Unmatched.BillIDs)
	assert.Empty(t, loose.Unmatched.PaymentIDs)
	assert.Equal(t, 3, loose.Summary.TotalBills)

	// A run replaces the stored groups; ids restart at 1.
	rows, err := store.ReportRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].GroupID)
	assert.Equal(t, int64(2), rows[0].BillID)
}

func TestReconcileLoose_ToleranceBoundary(t *testing.T) {
	tests := []struct {
		name         string
		deltaPayment int64
		wantMatched  bool
	}{
		{"difference equals tolerance", 9100, true},
		{"difference exceeds tolerance", 9099, false},
		{"overpayment within tolerance", 10900, true},
		{"overpayment beyond tolerance", 10901, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			seedLedger(t, store, tt.deltaPayment)
			svc := newTestService(t, store)

			result, err := svc.ReconcileLoose(context.Background(), &models.UnmatchedSet{
				BillIDs:    []int64{4},
				PaymentIDs: []int64{4},
			})
			require.NoError(t, err)

			if tt.wantMatched {
				require.Len(t, result.Groups, 1)
				assert.Equal(t, "ﾃﾞﾙﾀ", result.Groups[0].Key)
				assert.True(t, result.Unmatched.IsEmpty())
			} else {
				assert.Empty(t, result.Groups)
				assert.Equal(t, []int64{4}, result.Unmatched.BillIDs)
			}
		})
	}
}

func TestReconcileLoose_NilPreviousUsesWholeLedger(t *testing.T) {
	store := openStore(t)
	seedLedger(t, store, 9100)
	svc := newTestService(t, store)

	result, err := svc.ReconcileLoose(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Restricted)
	assert.Equal(t, 5, result.Summary.TotalBills)
	// ｱｸﾒ: 1000/1000 exact, then 500/250 within tolerance.
	assert.Equal(t, 4, result.Summary.Groups)
}

func TestRun_ManyToOne(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.ImportBills(ctx, []models.BillInput{
		{CustomerName: "ﾔﾏﾀﾞ", Amount: decimal.NewFromInt(400)},
		{CustomerName: "ﾔﾏﾀﾞ", Amount: decimal.NewFromInt(600)},
	})
	require.NoError(t, err)
	_, err = store.ImportPayments(ctx, []models.PaymentInput{
		{PayerName: "YAMADA", RawName: "ﾔﾏﾀﾞ", Amount: decimal.NewFromInt(1000)},
	})
	require.NoError(t, err)

	svc := newTestService(t, store)
	result, err := svc.ReconcileStrict(ctx)
	require.NoError(t, err)

	require.Len(t, result.Groups, 1)
	assert.Equal(t, models.MatchKindManyToOne, result.Groups[0].Kind)
	assert.Equal(t, []int64{1, 2}, result.Groups[0].BillIDs)
	assert.Len(t, result.Rows, 2)

	detail, err := store.GroupDetail(ctx, result.Groups[0].ID)
	require.NoError(t, err)
	assert.True(t, detail.BillTotal().Equal(detail.PaymentTotal()))
}

func TestRun_InvalidConfig(t *testing.T) {
	store := openStore(t)
	svc := newTestService(t, store)

	cfg := matcher.LooseMatchingConfig()
	cfg.Tolerance = decimal.NewFromInt(-1)

	_, err := svc.Run(context.Background(), cfg, nil)
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryConfiguration, rerr.Category)
}

func TestRun_CancelledKeepsPreviousResults(t *testing.T) {
	store := openStore(t)
	seedLedger(t, store, 9100)
	svc := newTestService(t, store)

	_, err := svc.ReconcileStrict(context.Background())
	require.NoError(t, err)
	before, err := store.ReportRows(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.ReconcileLoose(ctx, nil)
	require.Error(t, err)

	after, err := store.ReportRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_WaitsForSlot(t *testing.T) {
	store := openStore(t)
	seedLedger(t, store, 9100)
	svc := newTestService(t, store)

	// Hold the slot as if another run were active.
	svc.slot <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.ReconcileStrict(ctx)
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeRunInProgress, rerr.Code)
	assert.Equal(t, 409, rerr.HTTPStatus())

	done := make(chan error, 1)
	go func() {
		_, err := svc.ReconcileStrict(context.Background())
		done <- err
	}()
	<-svc.slot

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start after the slot was released")
	}
}

type failingStore struct {
	*storage.Store
	failAfter int
}

func (f *failingStore) BeginRun(ctx context.Context) (storage.RunWriter, error) {
	run, err := f.Store.BeginRun(ctx)
	if err != nil {
		return nil, err
	}
	return &failingRun{RunWriter: run, remaining: f.failAfter}, nil
}

type failingRun struct {
	storage.RunWriter
	remaining int
}

func (r *failingRun) CreateGroup(ctx context.Context, kind models.MatchKind, billIDs, paymentIDs []int64) (int64, error) {
	if r.remaining == 0 {
		return 0, fmt.Errorf("disk full")
	}
	r.remaining--
	return r.RunWriter.CreateGroup(ctx, kind, billIDs, paymentIDs)
}

func TestRun_StoreFailureRollsBack(t *testing.T) {
	store := openStore(t)
	seedLedger(t, store, 9100)
	ctx := context.Background()

	_, err := newTestService(t, store).ReconcileLoose(ctx, nil)
	require.NoError(t, err)
	before, err := store.ReportRows(ctx)
	require.NoError(t, err)
	require.Len(t, before, 4)

	svc := newTestService(t, &failingStore{Store: store, failAfter: 1})
	_, err = svc.ReconcileStrict(ctx)
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryStorage, rerr.Category)

	after, err := store.ReportRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_EmptyLedger(t *testing.T) {
	svc := newTestService(t, openStore(t))

	result, err := svc.ReconcileStrict(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Groups)
	assert.Empty(t, result.Rows)
	assert.True(t, result.Unmatched.IsEmpty())
	assert.Zero(t, result.Summary.MatchRate)
}
