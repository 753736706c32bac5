package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// ImportBills appends bills to the ledger, creating customers on first
// sight. All rows are written in one transaction.
func (s *Store) ImportBills(ctx context.Context, bills []models.BillInput) (int, error) {
	imported := 0
	err := s.withTx(ctx, "import bills", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO bills (customer_id, amount, raw_name) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		ids := make(map[string]int64)
		for _, b := range bills {
			customerID, err := insertOrGetID(ctx, tx, "customers", b.CustomerName, ids)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, customerID, b.Amount.String(), b.CustomerName); err != nil {
				return fmt.Errorf("insert bill from line %d: %w", b.Line, err)
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.WithField("bills", imported).Info("Imported bills")
	return imported, nil
}

// ImportPayments appends payments to the ledger, creating payers on first
// sight. All rows are written in one transaction.
func (s *Store) ImportPayments(ctx context.Context, payments []models.PaymentInput) (int, error) {
	imported := 0
	err := s.withTx(ctx, "import payments", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO payments (payer_id, amount, raw_name) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		ids := make(map[string]int64)
		for _, p := range payments {
			payerID, err := insertOrGetID(ctx, tx, "payers", p.PayerName, ids)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, payerID, p.Amount.String(), p.RawName); err != nil {
				return fmt.Errorf("insert payment from line %d: %w", p.Line, err)
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.WithField("payments", imported).Info("Imported payments")
	return imported, nil
}

// insertOrGetID returns the id of name in table, inserting it when missing.
// cache avoids a round trip for names already seen in this import.
func insertOrGetID(ctx context.Context, tx *sql.Tx, table, name string, cache map[string]int64) (int64, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (name) VALUES (?)", table), name); err != nil {
		return 0, fmt.Errorf("insert %s %q: %w", table, name, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM %s WHERE name = ?", table), name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup %s %q: %w", table, name, err)
	}
	cache[name] = id
	return id, nil
}

// LoadBills returns every bill ordered by id.
func (s *Store) LoadBills(ctx context.Context) ([]models.BillRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, customer_id, amount, raw_name FROM bills ORDER BY id")
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "load bills", err)
	}
	defer rows.Close()

	var bills []models.BillRecord
	for rows.Next() {
		var (
			b      models.BillRecord
			amount string
		)
		if err := rows.Scan(&b.ID, &b.CustomerID, &amount, &b.RawName); err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "load bills", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "load bills", err).
				WithContext("bill_id", b.ID)
		}
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "load bills", err)
	}
	return bills, nil
}

// LoadPayments returns every payment ordered by id.
func (s *Store) LoadPayments(ctx context.Context) ([]models.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, payer_id, amount, raw_name FROM payments ORDER BY id")
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "load payments", err)
	}
	defer rows.Close()

	var payments []models.PaymentRecord
	for rows.Next() {
		var (
			p      models.PaymentRecord
			amount string
		)
		if err := rows.Scan(&p.ID, &p.PayerID, &amount, &p.RawName); err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "load payments", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.StorageError(errors.CodeStoreFailure, "load payments", err).
				WithContext("payment_id", p.ID)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "load payments", err)
	}
	return payments, nil
}

const (
	billEntrySelect = `
	SELECT b.id, c.name, b.amount, b.raw_name
	FROM bills b
	JOIN customers c ON b.customer_id = c.id`

	paymentEntrySelect = `
	SELECT p.id, s.name, p.amount, p.raw_name
	FROM payments p
	JOIN payers s ON p.payer_id = s.id`
)

// ListBills returns every bill joined with its customer name.
func (s *Store) ListBills(ctx context.Context) ([]models.LedgerEntry, error) {
	entries, err := s.queryEntries(ctx, models.SideBill, billEntrySelect+" ORDER BY b.id")
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "list bills", err)
	}
	return entries, nil
}

// ListPayments returns every payment joined with its payer name.
func (s *Store) ListPayments(ctx context.Context) ([]models.LedgerEntry, error) {
	entries, err := s.queryEntries(ctx, models.SidePayment, paymentEntrySelect+" ORDER BY p.id")
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "list payments", err)
	}
	return entries, nil
}

func (s *Store) queryEntries(ctx context.Context, side models.Side, query string, args ...interface{}) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var (
			e      = models.LedgerEntry{Side: side}
			amount string
		)
		if err := rows.Scan(&e.ID, &e.Name, &amount, &e.RawName); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("%s %d has invalid amount %q: %w", side, e.ID, amount, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearLedger removes every record, counterparty and match result.
func (s *Store) ClearLedger(ctx context.Context) error {
	err := s.withTx(ctx, "clear ledger", func(tx *sql.Tx) error {
		for _, table := range []string{"match_results", "match_groups", "bills", "payments", "customers", "payers"} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name IN
			('customers', 'payers', 'bills', 'payments', 'match_groups', 'match_results')`)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Ledger cleared")
	return nil
}
