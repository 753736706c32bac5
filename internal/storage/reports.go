package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// maxQueryParams keeps IN (...) lists well below SQLite's variable limit.
const maxQueryParams = 500

// ReportRows returns one row per membership row of the latest run, ordered
// by group id and then by membership row id.
func (s *Store) ReportRows(ctx context.Context) ([]models.ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT g.id, c.name, s.name, b.id, p.id, b.amount, p.amount
	FROM match_results r
	JOIN match_groups g ON r.group_id = g.id
	JOIN bills b ON r.bill_id = b.id
	JOIN customers c ON b.customer_id = c.id
	JOIN payments p ON r.payment_id = p.id
	JOIN payers s ON p.payer_id = s.id
	ORDER BY g.id, r.id`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "query report rows", err)
	}
	defer rows.Close()

	report := []models.ReportRow{}
	for rows.Next() {
		var (
			row                       models.ReportRow
			billAmount, paymentAmount string
		)
		if err := rows.Scan(&row.GroupID, &row.CustomerName, &row.PayerName,
			&row.BillID, &row.PaymentID, &billAmount, &paymentAmount); err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "query report rows", err)
		}
		if row.BillAmount, err = decimal.NewFromString(billAmount); err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "query report rows", err)
		}
		if row.PaymentAmount, err = decimal.NewFromString(paymentAmount); err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "query report rows", err)
		}
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "query report rows", err)
	}
	return report, nil
}

// GroupDetail returns the distinct bills and payments of one group. A group
// id that does not exist in the latest run is a not-found error.
func (s *Store) GroupDetail(ctx context.Context, groupID int64) (*models.GroupDetail, error) {
	detail := &models.GroupDetail{GroupID: groupID}

	var kind string
	err := s.db.QueryRowContext(ctx, "SELECT kind FROM match_groups WHERE id = ?", groupID).Scan(&kind)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.StorageError(errors.CodeNotFound, fmt.Sprintf("group %d", groupID), nil).
			WithContext("group_id", groupID)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "query group", err)
	}
	detail.Kind = models.MatchKind(kind)

	detail.Bills, err = s.queryEntries(ctx, models.SideBill, billEntrySelect+`
	WHERE b.id IN (SELECT DISTINCT bill_id FROM match_results WHERE group_id = ?)
	ORDER BY b.id`, groupID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "query group bills", err)
	}

	detail.Payments, err = s.queryEntries(ctx, models.SidePayment, paymentEntrySelect+`
	WHERE p.id IN (SELECT DISTINCT payment_id FROM match_results WHERE group_id = ?)
	ORDER BY p.id`, groupID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "query group payments", err)
	}

	return detail, nil
}

// UnmatchedDetail resolves the ids of an unmatched set into named entries.
// Ids that no longer exist are silently skipped.
func (s *Store) UnmatchedDetail(ctx context.Context, set models.UnmatchedSet) (*models.UnmatchedDetail, error) {
	set = set.Canonical()
	detail := &models.UnmatchedDetail{
		Bills:    []models.LedgerEntry{},
		Payments: []models.LedgerEntry{},
	}

	for _, chunk := range chunkIDs(set.BillIDs, maxQueryParams) {
		entries, err := s.queryEntries(ctx, models.SideBill,
			billEntrySelect+" WHERE b.id IN ("+placeholders(len(chunk))+") ORDER BY b.id", int64Args(chunk)...)
		if err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "query unmatched bills", err)
		}
		detail.Bills = append(detail.Bills, entries...)
	}

	for _, chunk := range chunkIDs(set.PaymentIDs, maxQueryParams) {
		entries, err := s.queryEntries(ctx, models.SidePayment,
			paymentEntrySelect+" WHERE p.id IN ("+placeholders(len(chunk))+") ORDER BY p.id", int64Args(chunk)...)
		if err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "query unmatched payments", err)
		}
		detail.Payments = append(detail.Payments, entries...)
	}

	return detail, nil
}

// Stats counts the stored ledger and the rows of the latest run.
func (s *Store) Stats(ctx context.Context) (*models.LedgerStats, error) {
	stats := &models.LedgerStats{}
	targets := []struct {
		table string
		dst   *int
	}{
		{"customers", &stats.Customers},
		{"payers", &stats.Payers},
		{"bills", &stats.Bills},
		{"payments", &stats.Payments},
		{"match_groups", &stats.Groups},
		{"match_results", &stats.MatchResults},
	}

	for _, t := range targets {
		n, err := countRows(ctx, s.db, t.table)
		if err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "count "+t.table, err)
		}
		*t.dst = n
	}
	return stats, nil
}

func chunkIDs(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for len(ids) > 0 {
		n := size
		if len(ids) < n {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}
