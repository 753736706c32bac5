package matcher

import (
	"sort"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/normalizer"
)

// Buckets partitions bills and payments by normalized counterparty name.
// Entries inside every bucket are ordered by id ascending.
type Buckets struct {
	Bills    map[string][]models.Entry
	Payments map[string][]models.Entry
}

// GroupRecords builds the name buckets for one run. When allow is non-nil
// only the ids it lists survive. A nil normalize uses normalizer.Normalize.
func GroupRecords(
	bills []models.BillRecord,
	payments []models.PaymentRecord,
	allow *models.UnmatchedSet,
	normalize normalizer.Func,
) *Buckets {
	if normalize == nil {
		normalize = normalizer.Normalize
	}

	var billAllow, paymentAllow map[int64]struct{}
	if allow != nil {
		billAllow = allow.BillFilter()
		paymentAllow = allow.PaymentFilter()
	}

	b := &Buckets{
		Bills:    make(map[string][]models.Entry),
		Payments: make(map[string][]models.Entry),
	}

	for _, bill := range bills {
		if billAllow != nil {
			if _, ok := billAllow[bill.ID]; !ok {
				continue
			}
		}
		key := normalize(bill.RawName)
		b.Bills[key] = append(b.Bills[key], models.Entry{ID: bill.ID, Amount: bill.Amount})
	}

	for _, payment := range payments {
		if paymentAllow != nil {
			if _, ok := paymentAllow[payment.ID]; !ok {
				continue
			}
		}
		key := normalize(payment.RawName)
		b.Payments[key] = append(b.Payments[key], models.Entry{ID: payment.ID, Amount: payment.Amount})
	}

	sortBuckets(b.Bills)
	sortBuckets(b.Payments)

	return b
}

func sortBuckets(buckets map[string][]models.Entry) {
	for _, entries := range buckets {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	}
}

// SharedKeys returns the non-empty keys present on both sides, sorted.
func (b *Buckets) SharedKeys() []string {
	var keys []string
	for key := range b.Bills {
		if key == "" {
			continue
		}
		if _, ok := b.Payments[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// BillOnlyKeys returns the keys that have bills but no payments, sorted.
func (b *Buckets) BillOnlyKeys() []string {
	return onlyIn(b.Bills, b.Payments)
}

// PaymentOnlyKeys returns the keys that have payments but no bills, sorted.
func (b *Buckets) PaymentOnlyKeys() []string {
	return onlyIn(b.Payments, b.Bills)
}

func onlyIn(left, right map[string][]models.Entry) []string {
	var keys []string
	for key := range left {
		if _, ok := right[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// BillCount returns the number of bills across all buckets.
func (b *Buckets) BillCount() int {
	return countEntries(b.Bills)
}

// PaymentCount returns the number of payments across all buckets.
func (b *Buckets) PaymentCount() int {
	return countEntries(b.Payments)
}

func countEntries(buckets map[string][]models.Entry) int {
	n := 0
	for _, entries := range buckets {
		n += len(entries)
	}
	return n
}

// BucketStats describes the shape of a grouping.
type BucketStats struct {
	BillKeys        int `json:"bill_keys"`
	PaymentKeys     int `json:"payment_keys"`
	SharedKeys      int `json:"shared_keys"`
	Bills           int `json:"bills"`
	Payments        int `json:"payments"`
	LargestBucket   int `json:"largest_bucket"`
	EmptyKeyRecords int `json:"empty_key_records"`
}

// Stats summarizes the buckets.
func (b *Buckets) Stats() BucketStats {
	stats := BucketStats{
		BillKeys:        len(b.Bills),
		PaymentKeys:     len(b.Payments),
		SharedKeys:      len(b.SharedKeys()),
		Bills:           b.BillCount(),
		Payments:        b.PaymentCount(),
		EmptyKeyRecords: len(b.Bills[""]) + len(b.Payments[""]),
	}
	for _, buckets := range []map[string][]models.Entry{b.Bills, b.Payments} {
		for _, entries := range buckets {
			if len(entries) > stats.LargestBucket {
				stats.LargestBucket = len(entries)
			}
		}
	}
	return stats
}
