package reconciler

import (
	"context"
	"time"

	"ledger-matching-service/internal/matcher"
	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run executes one reconciliation pass with cfg. When restrict is non-nil
// only the ids it lists are candidates. The stored groups are replaced
// only if the whole pass succeeds; on any failure the previous results
// stay visible. Records are loaded and matched before the run transaction
// opens, and the previous groups are cleared inside that transaction, so a
// failed or cancelled run does not start the next one from a clean ledger.
func (s *Service) Run(ctx context.Context, cfg *matcher.MatchingConfig, restrict *models.UnmatchedSet) (*RunResult, error) {
	if cfg == nil {
		cfg = matcher.DefaultMatchingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", cfg.String(), err)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	result := &RunResult{
		RunID:      uuid.NewString(),
		Config:     cfg.Clone(),
		Restricted: restrict != nil,
		StartedAt:  time.Now(),
	}

	op := logger.NewOperationLogger("reconcile", s.logger).
		WithField("run_id", result.RunID).
		WithField("mode", cfg.Mode).
		WithField("tolerance", cfg.Tolerance.String())

	err := s.run(ctx, op, cfg, restrict, result)
	result.Duration = op.Elapsed()
	if err != nil {
		op.Error(err, "Reconciliation failed")
		return nil, err
	}

	op.Success("Reconciliation completed", logger.Fields{
		"groups":             result.Summary.Groups,
		"unmatched_bills":    result.Summary.UnmatchedBills,
		"unmatched_payments": result.Summary.UnmatchedPayments,
	})
	return result, nil
}

func (s *Service) run(
	ctx context.Context,
	op *logger.OperationLogger,
	cfg *matcher.MatchingConfig,
	restrict *models.UnmatchedSet,
	result *RunResult,
) error {
	op.Step("load ledger")
	bills, err := s.store.LoadBills(ctx)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreFailure, "load bills")
	}
	payments, err := s.store.LoadPayments(ctx)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreFailure, "load payments")
	}

	op.Step("group records")
	buckets := matcher.GroupRecords(bills, payments, restrict, s.normalize)
	result.Buckets = buckets.Stats()

	result.EdgeCases = matcher.NewEdgeCaseHandler(cfg).Analyze(buckets)
	s.logEdgeCases(op, result.EdgeCases)

	op.Step("match buckets")
	engine, err := matcher.NewSubsetMatcher(cfg, s.logger).Match(ctx, buckets)
	if err != nil {
		return errors.ReconciliationError(errors.CodeMatchingFailed, "subset matching", err)
	}
	result.Engine = engine.Stats

	op.Step("persist groups")
	groups, err := s.persist(ctx, engine.Drafts)
	if err != nil {
		return err
	}
	result.Groups = groups

	result.Unmatched = matcher.ComputeResidual(buckets, engine.Matched)

	op.Step("build report")
	rows, err := s.store.ReportRows(ctx)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreFailure, "report rows")
	}
	result.Rows = rows
	result.Summary = summarize(buckets, engine, result.Unmatched, bills, payments)

	return nil
}

// persist replaces the stored groups with drafts inside one run transaction.
func (s *Service) persist(ctx context.Context, drafts []matcher.Draft) ([]models.MatchGroup, error) {
	run, err := s.store.BeginRun(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreFailure, "begin run")
	}

	groups := make([]models.MatchGroup, 0, len(drafts))
	for _, d := range drafts {
		billIDs, paymentIDs := d.BillIDs(), d.PaymentIDs()
		id, err := run.CreateGroup(ctx, d.Kind, billIDs, paymentIDs)
		if err != nil {
			if rbErr := run.Rollback(); rbErr != nil {
				s.logger.WithError(rbErr).Warn("Rollback after failed group write also failed")
			}
			return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreFailure, "create group")
		}
		groups = append(groups, models.MatchGroup{
			ID:         id,
			Kind:       d.Kind,
			Key:        d.Key,
			BillIDs:    billIDs,
			PaymentIDs: paymentIDs,
		})
	}

	if err := run.Commit(); err != nil {
		_ = run.Rollback()
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreFailure, "commit run")
	}
	return groups, nil
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	default:
	}

	s.logger.Debug("Waiting for the running reconciliation to finish")
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.ReconciliationError(errors.CodeRunInProgress, "reconciliation", ctx.Err())
	}
}

func (s *Service) release() {
	<-s.slot
}

func (s *Service) logEdgeCases(op *logger.OperationLogger, report *matcher.EdgeCaseReport) {
	if n := len(report.EmptyKeyBills) + len(report.EmptyKeyPayments); n > 0 {
		op.Warning("Records with an empty normalized name cannot be matched", logger.Fields{
			"bills":    len(report.EmptyKeyBills),
			"payments": len(report.EmptyKeyPayments),
		})
	}
	if len(report.BillOnlyKeys) > 0 || len(report.PaymentOnlyKeys) > 0 {
		op.Warning("Some names appear on one side only", logger.Fields{
			"bill_only":    len(report.BillOnlyKeys),
			"payment_only": len(report.PaymentOnlyKeys),
		})
	}
	for _, large := range report.LargeBuckets {
		op.Warning("Bucket has a very large combination search space", logger.Fields{
			"key":      large.Key,
			"bills":    large.Bills,
			"payments": large.Payments,
			"estimate": large.Estimate,
		})
	}
}

func summarize(
	buckets *matcher.Buckets,
	engine *matcher.EngineResult,
	unmatched models.UnmatchedSet,
	bills []models.BillRecord,
	payments []models.PaymentRecord,
) *ResultSummary {
	summary := &ResultSummary{
		TotalBills:             buckets.BillCount(),
		TotalPayments:          buckets.PaymentCount(),
		MatchedBills:           len(engine.Matched.Bills),
		MatchedPayments:        len(engine.Matched.Payments),
		UnmatchedBills:         len(unmatched.BillIDs),
		UnmatchedPayments:      len(unmatched.PaymentIDs),
		Groups:                 engine.Stats.Groups(),
		OneToOne:               engine.Stats.OneToOne,
		ManyToOne:              engine.Stats.ManyToOne,
		OneToMany:              engine.Stats.OneToMany,
		MatchedBillAmount:      decimal.Zero,
		MatchedPaymentAmount:   decimal.Zero,
		UnmatchedBillAmount:    decimal.Zero,
		UnmatchedPaymentAmount: decimal.Zero,
	}

	unmatchedBills := unmatched.BillFilter()
	for _, b := range bills {
		if engine.Matched.HasBill(b.ID) {
			summary.MatchedBillAmount = summary.MatchedBillAmount.Add(b.Amount)
		} else if _, ok := unmatchedBills[b.ID]; ok {
			summary.UnmatchedBillAmount = summary.UnmatchedBillAmount.Add(b.Amount)
		}
	}

	unmatchedPayments := unmatched.PaymentFilter()
	for _, p := range payments {
		if engine.Matched.HasPayment(p.ID) {
			summary.MatchedPaymentAmount = summary.MatchedPaymentAmount.Add(p.Amount)
		} else if _, ok := unmatchedPayments[p.ID]; ok {
			summary.UnmatchedPaymentAmount = summary.UnmatchedPaymentAmount.Add(p.Amount)
		}
	}

	if summary.TotalBills > 0 {
		summary.MatchRate = float64(summary.MatchedBills) / float64(summary.TotalBills)
	}
	return summary
}
