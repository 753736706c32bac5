package storage

import (
	"context"

	"ledger-matching-service/internal/models"
)

// LedgerRepository stores the imported bills and payments.
type LedgerRepository interface {
	ImportBills(ctx context.Context, bills []models.BillInput) (int, error)
	ImportPayments(ctx context.Context, payments []models.PaymentInput) (int, error)
	LoadBills(ctx context.Context) ([]models.BillRecord, error)
	LoadPayments(ctx context.Context) ([]models.PaymentRecord, error)
	ListBills(ctx context.Context) ([]models.LedgerEntry, error)
	ListPayments(ctx context.Context) ([]models.LedgerEntry, error)
	ClearLedger(ctx context.Context) error
}

// MatchRepository persists match groups. A run replaces every group
// atomically: BeginRun clears the previous results inside a transaction
// and nothing becomes visible until Commit.
type MatchRepository interface {
	BeginRun(ctx context.Context) (RunWriter, error)
}

// ReportRepository answers read-only queries over the latest results.
type ReportRepository interface {
	ReportRows(ctx context.Context) ([]models.ReportRow, error)
	GroupDetail(ctx context.Context, groupID int64) (*models.GroupDetail, error)
	UnmatchedDetail(ctx context.Context, set models.UnmatchedSet) (*models.UnmatchedDetail, error)
	Stats(ctx context.Context) (*models.LedgerStats, error)
}

// Repository combines every storage concern behind one handle.
type Repository interface {
	LedgerRepository
	MatchRepository
	ReportRepository
	Close() error
}

// RunWriter writes the groups of a single reconciliation run.
type RunWriter interface {
	// CreateGroup allocates the next group id and writes one membership row
	// per (bill, payment) pair.
	CreateGroup(ctx context.Context, kind models.MatchKind, billIDs, paymentIDs []int64) (int64, error)
	Commit() error
	Rollback() error
}
