package matcher

import (
	"context"
	"fmt"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// cancelCheckInterval is how many combinations are tried between context checks.
const cancelCheckInterval = 4096

// Draft is a match found by the engine, not yet persisted.
type Draft struct {
	Key      string
	Kind     models.MatchKind
	Bills    []models.Entry
	Payments []models.Entry
}

// BillIDs returns the ids of the bills in the draft.
func (d Draft) BillIDs() []int64 { return models.EntryIDs(d.Bills) }

// PaymentIDs returns the ids of the payments in the draft.
func (d Draft) PaymentIDs() []int64 { return models.EntryIDs(d.Payments) }

// Difference returns |sum(bills) - sum(payments)|.
func (d Draft) Difference() decimal.Decimal {
	return models.SumEntries(d.Bills).Sub(models.SumEntries(d.Payments)).Abs()
}

// MatchedSet tracks the ids consumed so far in a run.
type MatchedSet struct {
	Bills    map[int64]struct{}
	Payments map[int64]struct{}
}

// NewMatchedSet creates an empty MatchedSet.
func NewMatchedSet() *MatchedSet {
	return &MatchedSet{
		Bills:    make(map[int64]struct{}),
		Payments: make(map[int64]struct{}),
	}
}

// HasBill reports whether the bill is already in a group.
func (m *MatchedSet) HasBill(id int64) bool {
	_, ok := m.Bills[id]
	return ok
}

// HasPayment reports whether the payment is already in a group.
func (m *MatchedSet) HasPayment(id int64) bool {
	_, ok := m.Payments[id]
	return ok
}

func (m *MatchedSet) add(d Draft) {
	for _, b := range d.Bills {
		m.Bills[b.ID] = struct{}{}
	}
	for _, p := range d.Payments {
		m.Payments[p.ID] = struct{}{}
	}
}

// EngineStats counts what the engine did during a run.
type EngineStats struct {
	BucketsVisited     int   `json:"buckets_visited"`
	OneToOne           int   `json:"one_to_one"`
	ManyToOne          int   `json:"many_to_one"`
	OneToMany          int   `json:"one_to_many"`
	CombinationsTried  int64 `json:"combinations_tried"`
	LargeSearchWarning int   `json:"large_search_warnings"`
}

// Groups returns the total number of drafts produced.
func (s EngineStats) Groups() int {
	return s.OneToOne + s.ManyToOne + s.OneToMany
}

// EngineResult is the output of a full pass over all shared buckets.
type EngineResult struct {
	Drafts  []Draft
	Matched *MatchedSet
	Stats   EngineStats
}

// SubsetMatcher finds amount matches inside name buckets.
type SubsetMatcher struct {
	config *MatchingConfig
	logger logger.Logger
	stats  EngineStats
	ticks  int64
}

// NewSubsetMatcher creates a matcher. A nil config uses the strict configuration
// and a nil logger uses the global logger.
func NewSubsetMatcher(config *MatchingConfig, log logger.Logger) *SubsetMatcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &SubsetMatcher{
		config: config,
		logger: log.WithComponent("subset-matcher"),
	}
}

// Config returns the configuration in use.
func (sm *SubsetMatcher) Config() *MatchingConfig {
	return sm.config
}

// Match runs the three phases over every shared bucket, in key order.
func (sm *SubsetMatcher) Match(ctx context.Context, buckets *Buckets) (*EngineResult, error) {
	if err := sm.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}

	sm.stats = EngineStats{}
	matched := NewMatchedSet()
	var drafts []Draft

	for _, key := range buckets.SharedKeys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := sm.MatchBucket(ctx, key, buckets.Bills[key], buckets.Payments[key], matched)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, found...)
	}

	return &EngineResult{
		Drafts:  drafts,
		Matched: matched,
		Stats:   sm.stats,
	}, nil
}

// MatchBucket runs one-to-one, N-to-1 and 1-to-N matching over a single
// bucket. Matches are committed to matched immediately, so ids consumed by
// an earlier phase are never revisited.
func (sm *SubsetMatcher) MatchBucket(
	ctx context.Context,
	key string,
	bills, payments []models.Entry,
	matched *MatchedSet,
) ([]Draft, error) {
	sm.stats.BucketsVisited++

	var drafts []Draft
	emit := func(d Draft) {
		d.Key = key
		d.Kind = models.KindFor(len(d.Bills), len(d.Payments))
		matched.add(d)
		drafts = append(drafts, d)
		switch d.Kind {
		case models.MatchKindOneToOne:
			sm.stats.OneToOne++
		case models.MatchKindManyToOne:
			sm.stats.ManyToOne++
		default:
			sm.stats.OneToMany++
		}
	}

	// Step 1: one-to-one, first fit in bucket order
	for _, bill := range bills {
		if matched.HasBill(bill.ID) {
			continue
		}
		for _, payment := range payments {
			if matched.HasPayment(payment.ID) {
				continue
			}
			if sm.config.Agrees(bill.Amount, payment.Amount) {
				emit(Draft{Bills: []models.Entry{bill}, Payments: []models.Entry{payment}})
				break
			}
		}
	}

	// Step 2: several bills against one payment
	for _, payment := range payments {
		if matched.HasPayment(payment.ID) {
			continue
		}
		pool := unmatchedEntries(bills, matched.HasBill)
		combo, err := sm.findCombination(ctx, key, "bills", pool, payment.Amount)
		if err != nil {
			return nil, err
		}
		if combo != nil {
			emit(Draft{Bills: combo, Payments: []models.Entry{payment}})
		}
	}

	// Step 3: one bill against several payments
	for _, bill := range bills {
		if matched.HasBill(bill.ID) {
			continue
		}
		pool := unmatchedEntries(payments, matched.HasPayment)
		combo, err := sm.findCombination(ctx, key, "payments", pool, bill.Amount)
		if err != nil {
			return nil, err
		}
		if combo != nil {
			emit(Draft{Bills: []models.Entry{bill}, Payments: combo})
		}
	}

	return drafts, nil
}

// findCombination searches sizes 2..min(len(pool), max) in increasing order,
// and combinations of each size in lexicographic order, for the first subset
// of pool whose total agrees with target.
func (sm *SubsetMatcher) findCombination(
	ctx context.Context,
	key, side string,
	pool []models.Entry,
	target decimal.Decimal,
) ([]models.Entry, error) {
	upper := len(pool)
	if sm.config.MaxCombinationSize < upper {
		upper = sm.config.MaxCombinationSize
	}
	if upper < 2 {
		return nil, nil
	}

	if threshold := sm.config.SearchSpaceWarnThreshold; threshold > 0 {
		if estimate := EstimateSearchSpace(len(pool), sm.config.MaxCombinationSize); estimate > threshold {
			sm.stats.LargeSearchWarning++
			sm.logger.WithFields(logger.Fields{
				"key":       key,
				"side":      side,
				"pool_size": len(pool),
				"max_size":  sm.config.MaxCombinationSize,
				"estimate":  estimate,
			}).Warn("Combination search space is very large; this bucket may take a long time")
		}
	}

	var (
		found  []models.Entry
		ctxErr error
	)
	for r := 2; r <= upper; r++ {
		hit := forEachCombination(len(pool), r, func(idx []int) bool {
			sm.stats.CombinationsTried++
			sm.ticks++
			if sm.ticks%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					ctxErr = err
					return true
				}
			}

			sum := decimal.Zero
			for _, i := range idx {
				sum = sum.Add(pool[i].Amount)
			}
			if !sm.config.Agrees(sum, target) {
				return false
			}

			found = make([]models.Entry, len(idx))
			for j, i := range idx {
				found[j] = pool[i]
			}
			return true
		})
		if ctxErr != nil {
			return nil, ctxErr
		}
		if hit {
			return found, nil
		}
	}

	return nil, nil
}

func unmatchedEntries(entries []models.Entry, consumed func(int64) bool) []models.Entry {
	pool := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if !consumed(e.ID) {
			pool = append(pool, e)
		}
	}
	return pool
}
