package matcher

import (
	"sort"

	"ledger-matching-service/internal/models"

	"github.com/shopspring/decimal"
)

// EdgeCaseHandler inspects a grouping for situations that limit or
// destabilize matching, so runs can report them.
type EdgeCaseHandler struct {
	Config *MatchingConfig
}

// NewEdgeCaseHandler creates a new edge case handler
func NewEdgeCaseHandler(config *MatchingConfig) *EdgeCaseHandler {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &EdgeCaseHandler{Config: config}
}

// DuplicateGroup is a set of records on one side of a bucket sharing an
// amount. First-fit order decides which of them gets matched.
type DuplicateGroup struct {
	Key    string          `json:"key"`
	Side   models.Side     `json:"side"`
	Amount decimal.Decimal `json:"amount"`
	IDs    []int64         `json:"ids"`
}

// LargeBucket is a shared bucket whose combination search may be expensive.
type LargeBucket struct {
	Key      string  `json:"key"`
	Bills    int     `json:"bills"`
	Payments int     `json:"payments"`
	Estimate float64 `json:"estimate"`
}

// EdgeCaseReport collects the findings of Analyze.
type EdgeCaseReport struct {
	EmptyKeyBills    []int64          `json:"empty_key_bills"`
	EmptyKeyPayments []int64          `json:"empty_key_payments"`
	BillOnlyKeys     []string         `json:"bill_only_keys"`
	PaymentOnlyKeys  []string         `json:"payment_only_keys"`
	Duplicates       []DuplicateGroup `json:"duplicates"`
	LargeBuckets     []LargeBucket    `json:"large_buckets"`
}

// HasFindings reports whether anything was found.
func (r *EdgeCaseReport) HasFindings() bool {
	return len(r.EmptyKeyBills) > 0 || len(r.EmptyKeyPayments) > 0 ||
		len(r.BillOnlyKeys) > 0 || len(r.PaymentOnlyKeys) > 0 ||
		len(r.Duplicates) > 0 || len(r.LargeBuckets) > 0
}

// Analyze inspects the buckets before matching.
func (ech *EdgeCaseHandler) Analyze(buckets *Buckets) *EdgeCaseReport {
	report := &EdgeCaseReport{
		EmptyKeyBills:    models.EntryIDs(buckets.Bills[""]),
		EmptyKeyPayments: models.EntryIDs(buckets.Payments[""]),
	}

	for _, key := range buckets.BillOnlyKeys() {
		if key != "" {
			report.BillOnlyKeys = append(report.BillOnlyKeys, key)
		}
	}
	for _, key := range buckets.PaymentOnlyKeys() {
		if key != "" {
			report.PaymentOnlyKeys = append(report.PaymentOnlyKeys, key)
		}
	}

	for _, key := range buckets.SharedKeys() {
		bills, payments := buckets.Bills[key], buckets.Payments[key]

		report.Duplicates = append(report.Duplicates, ech.DetectDuplicates(key, models.SideBill, bills)...)
		report.Duplicates = append(report.Duplicates, ech.DetectDuplicates(key, models.SidePayment, payments)...)

		threshold := ech.Config.SearchSpaceWarnThreshold
		if threshold <= 0 {
			continue
		}
		estimate := EstimateSearchSpace(len(bills), ech.Config.MaxCombinationSize)
		if other := EstimateSearchSpace(len(payments), ech.Config.MaxCombinationSize); other > estimate {
			estimate = other
		}
		if estimate > threshold {
			report.LargeBuckets = append(report.LargeBuckets, LargeBucket{
				Key:      key,
				Bills:    len(bills),
				Payments: len(payments),
				Estimate: estimate,
			})
		}
	}

	return report
}

// DetectDuplicates groups entries of one side of a bucket by amount and
// returns the amounts that occur more than once, ordered by smallest id.
func (ech *EdgeCaseHandler) DetectDuplicates(key string, side models.Side, entries []models.Entry) []DuplicateGroup {
	byAmount := make(map[string]*DuplicateGroup)
	var order []string

	for _, e := range entries {
		amountKey := e.Amount.String()
		group, ok := byAmount[amountKey]
		if !ok {
			group = &DuplicateGroup{Key: key, Side: side, Amount: e.Amount}
			byAmount[amountKey] = group
			order = append(order, amountKey)
		}
		group.IDs = append(group.IDs, e.ID)
	}

	var groups []DuplicateGroup
	for _, amountKey := range order {
		if g := byAmount[amountKey]; len(g.IDs) > 1 {
			sort.Slice(g.IDs, func(i, j int) bool { return g.IDs[i] < g.IDs[j] })
			groups = append(groups, *g)
		}
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].IDs[0] < groups[j].IDs[0] })
	return groups
}
