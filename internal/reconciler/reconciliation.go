// Package reconciler runs reconciliation passes against the stored ledger.
//
// A pass loads every bill and payment, buckets them by normalized
// counterparty name, runs the subset matcher over every shared bucket and
// replaces the stored match groups with the new ones in a single
// transaction. The ids left over are returned to the caller as an
// UnmatchedSet, which can be handed to the next, looser pass.
//
// Example usage:
//
//	svc := reconciler.NewService(store, reconciler.DefaultConfig(), log)
//	strict, err := svc.ReconcileStrict(ctx)
//	loose, err := svc.ReconcileLoose(ctx, &strict.Unmatched)
package reconciler

import (
	"context"
	"fmt"
	"time"

	"ledger-matching-service/internal/matcher"
	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/normalizer"
	"ledger-matching-service/internal/storage"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Store is the part of the storage layer a reconciliation run needs.
type Store interface {
	LoadBills(ctx context.Context) ([]models.BillRecord, error)
	LoadPayments(ctx context.Context) ([]models.PaymentRecord, error)
	BeginRun(ctx context.Context) (storage.RunWriter, error)
	ReportRows(ctx context.Context) ([]models.ReportRow, error)
}

// Service runs reconciliation passes. Runs against one Service are
// serialized; a caller waiting for a slot gives up when its context ends.
type Service struct {
	store     Store
	config    *Config
	normalize normalizer.Func
	logger    logger.Logger

	slot chan struct{}
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Strict *matcher.MatchingConfig
	Loose  *matcher.MatchingConfig

	// Normalize builds bucket keys. Nil uses normalizer.Normalize.
	Normalize normalizer.Func
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Strict: matcher.StrictMatchingConfig(),
		Loose:  matcher.LooseMatchingConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Strict == nil || c.Loose == nil {
		return fmt.Errorf("both strict and loose matching configurations are required")
	}
	if err := c.Strict.Validate(); err != nil {
		return fmt.Errorf("strict: %w", err)
	}
	if err := c.Loose.Validate(); err != nil {
		return fmt.Errorf("loose: %w", err)
	}
	return nil
}

// NewService creates a reconciliation service over store.
func NewService(store Store, config *Config, log logger.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("Provide an opened ledger store")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	normalize := config.Normalize
	if normalize == nil {
		normalize = normalizer.Normalize
	}

	return &Service{
		store:     store,
		config:    config,
		normalize: normalize,
		logger:    log.WithComponent("reconciler"),
		slot:      make(chan struct{}, 1),
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// ReconcileStrict runs the exact pass over the whole ledger.
func (s *Service) ReconcileStrict(ctx context.Context) (*RunResult, error) {
	return s.Run(ctx, s.config.Strict, nil)
}

// ReconcileLoose runs the relaxed pass. A nil previous considers the whole
// ledger; otherwise only the ids in previous are candidates.
func (s *Service) ReconcileLoose(ctx context.Context, previous *models.UnmatchedSet) (*RunResult, error) {
	return s.Run(ctx, s.config.Loose, previous)
}

// RunResult contains the complete results of one reconciliation run
type RunResult struct {
	RunID  string                  `json:"run_id"`
	Config *matcher.MatchingConfig `json:"config"`

	// Restricted is true when the run only considered a previous residue.
	Restricted bool `json:"restricted"`

	Groups    []models.MatchGroup `json:"groups"`
	Rows      []models.ReportRow  `json:"rows"`
	Unmatched models.UnmatchedSet `json:"unmatched"`

	Summary   *ResultSummary          `json:"summary"`
	Engine    matcher.EngineStats     `json:"engine"`
	Buckets   matcher.BucketStats     `json:"buckets"`
	EdgeCases *matcher.EdgeCaseReport `json:"edge_cases,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ResultSummary provides a high-level overview of reconciliation results
type ResultSummary struct {
	// Candidates considered by the run
	TotalBills    int `json:"total_bills"`
	TotalPayments int `json:"total_payments"`

	MatchedBills      int `json:"matched_bills"`
	MatchedPayments   int `json:"matched_payments"`
	UnmatchedBills    int `json:"unmatched_bills"`
	UnmatchedPayments int `json:"unmatched_payments"`

	Groups    int `json:"groups"`
	OneToOne  int `json:"one_to_one"`
	ManyToOne int `json:"many_to_one"`
	OneToMany int `json:"one_to_many"`

	MatchedBillAmount      decimal.Decimal `json:"matched_bill_amount"`
	MatchedPaymentAmount   decimal.Decimal `json:"matched_payment_amount"`
	UnmatchedBillAmount    decimal.Decimal `json:"unmatched_bill_amount"`
	UnmatchedPaymentAmount decimal.Decimal `json:"unmatched_payment_amount"`

	// MatchRate is the share of considered bills that ended up in a group.
	MatchRate float64 `json:"match_rate"`
}

// Difference returns the total amount discrepancy accepted by the run's
// tolerance across all groups.
func (s *ResultSummary) Difference() decimal.Decimal {
	return s.MatchedBillAmount.Sub(s.MatchedPaymentAmount)
}
