package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"
)

// sqliteRun is a RunWriter backed by one open transaction.
type sqliteRun struct {
	tx      *sql.Tx
	store   *Store
	groups  int
	members int
	done    bool
}

// BeginRun opens the transaction of a reconciliation run, deletes the
// previous groups and membership rows, and resets id allocation so the
// first group of the run gets id 1.
func (s *Store) BeginRun(ctx context.Context) (RunWriter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "begin run", err)
	}

	for _, stmt := range []string{
		"DELETE FROM match_results",
		"DELETE FROM match_groups",
		"DELETE FROM sqlite_sequence WHERE name IN ('match_groups', 'match_results')",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, errors.StorageError(errors.CodeStoreFailure, "clear previous results", err)
		}
	}

	return &sqliteRun{tx: tx, store: s}, nil
}

func (r *sqliteRun) CreateGroup(ctx context.Context, kind models.MatchKind, billIDs, paymentIDs []int64) (int64, error) {
	if r.done {
		return 0, errors.InternalError(errors.CodeUnexpectedError, "create group", fmt.Errorf("run already finished"))
	}

	group := models.MatchGroup{Kind: kind, BillIDs: billIDs, PaymentIDs: paymentIDs}
	if err := group.Validate(); err != nil {
		return 0, errors.ReconciliationError(errors.CodeDataInconsistent, "create group", err)
	}

	res, err := r.tx.ExecContext(ctx, "INSERT INTO match_groups (kind) VALUES (?)", string(kind))
	if err != nil {
		return 0, errors.StorageError(errors.CodeStoreFailure, "create group", err)
	}
	groupID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.StorageError(errors.CodeStoreFailure, "create group", err)
	}

	stmt, err := r.tx.PrepareContext(ctx, "INSERT INTO match_results (group_id, bill_id, payment_id) VALUES (?, ?, ?)")
	if err != nil {
		return 0, errors.StorageError(errors.CodeStoreFailure, "create membership rows", err)
	}
	defer stmt.Close()

	for _, billID := range billIDs {
		for _, paymentID := range paymentIDs {
			if _, err := stmt.ExecContext(ctx, groupID, billID, paymentID); err != nil {
				return 0, errors.StorageError(errors.CodeStoreFailure, "create membership rows", err).
					WithContext("group_id", groupID).
					WithContext("bill_id", billID).
					WithContext("payment_id", paymentID)
			}
			r.members++
		}
	}

	r.groups++
	return groupID, nil
}

func (r *sqliteRun) Commit() error {
	if r.done {
		return nil
	}
	r.done = true
	if err := r.tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStoreFailure, "commit run", err)
	}

	r.store.logger.WithFields(logger.Fields{
		"groups":          r.groups,
		"membership_rows": r.members,
	}).Debug("Run committed")
	return nil
}

// Rollback discards the run. Calling it after Commit is a no-op.
func (r *sqliteRun) Rollback() error {
	if r.done {
		return nil
	}
	r.done = true
	if err := r.tx.Rollback(); err != nil {
		return errors.StorageError(errors.CodeStoreFailure, "rollback run", err)
	}
	return nil
}
