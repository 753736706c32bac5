package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// BillRecord is an outstanding receivable owed by a customer.
type BillRecord struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	RawName    string          `json:"raw_name"`
}

// PaymentRecord is a received transfer from a payer.
type PaymentRecord struct {
	ID      int64           `json:"id"`
	PayerID int64           `json:"payer_id"`
	Amount  decimal.Decimal `json:"amount"`
	RawName string          `json:"raw_name"`
}

// String returns a string representation of the BillRecord
func (b BillRecord) String() string {
	return fmt.Sprintf("Bill{ID: %d, Amount: %s, Name: %s}", b.ID, b.Amount.String(), b.RawName)
}

// String returns a string representation of the PaymentRecord
func (p PaymentRecord) String() string {
	return fmt.Sprintf("Payment{ID: %d, Amount: %s, Name: %s}", p.ID, p.Amount.String(), p.RawName)
}

// Entry is the (id, amount) pair the matcher works on inside a bucket.
type Entry struct {
	ID     int64
	Amount decimal.Decimal
}

// SumEntries returns the total amount of the given entries.
func SumEntries(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// EntryIDs extracts the ids of the given entries, preserving order.
func EntryIDs(entries []Entry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// MatchKind describes the cardinality of a match group.
type MatchKind string

const (
	MatchKindOneToOne  MatchKind = "one_to_one"
	MatchKindManyToOne MatchKind = "many_to_one"
	MatchKindOneToMany MatchKind = "one_to_many"
)

// String returns the string representation of MatchKind
func (k MatchKind) String() string {
	return string(k)
}

// IsValid checks if the match kind is one of the known kinds
func (k MatchKind) IsValid() bool {
	switch k {
	case MatchKindOneToOne, MatchKindManyToOne, MatchKindOneToMany:
		return true
	}
	return false
}

// KindFor derives the kind from the sizes of both sides.
func KindFor(bills, payments int) MatchKind {
	switch {
	case bills == 1 && payments == 1:
		return MatchKindOneToOne
	case payments == 1:
		return MatchKindManyToOne
	default:
		return MatchKindOneToMany
	}
}

// MatchGroup is a persisted association of bills and payments whose totals
// agree within the tolerance of the run that created it.
type MatchGroup struct {
	ID         int64     `json:"id"`
	Kind       MatchKind `json:"kind"`
	Key        string    `json:"key"`
	BillIDs    []int64   `json:"bill_ids"`
	PaymentIDs []int64   `json:"payment_ids"`
}

// Validate checks the cardinality invariant of the group.
func (g *MatchGroup) Validate() error {
	if len(g.BillIDs) == 0 || len(g.PaymentIDs) == 0 {
		return fmt.Errorf("match group must have at least one bill and one payment")
	}
	if len(g.BillIDs) != 1 && len(g.PaymentIDs) != 1 {
		return fmt.Errorf("match group must have exactly one member on at least one side, got %d bills and %d payments",
			len(g.BillIDs), len(g.PaymentIDs))
	}
	if !g.Kind.IsValid() {
		return fmt.Errorf("invalid match kind: %s", g.Kind)
	}
	return nil
}

// UnmatchedSet is the residue of a run. Callers keep it and pass it into the
// next run to restrict the candidates.
type UnmatchedSet struct {
	BillIDs    []int64 `json:"bill_ids" yaml:"bill_ids"`
	PaymentIDs []int64 `json:"payment_ids" yaml:"payment_ids"`
}

// IsEmpty reports whether nothing is left unmatched.
func (u *UnmatchedSet) IsEmpty() bool {
	return u == nil || (len(u.BillIDs) == 0 && len(u.PaymentIDs) == 0)
}

// Canonical returns a copy with both id lists sorted and de-duplicated.
func (u UnmatchedSet) Canonical() UnmatchedSet {
	return UnmatchedSet{
		BillIDs:    sortedUnique(u.BillIDs),
		PaymentIDs: sortedUnique(u.PaymentIDs),
	}
}

// BillFilter returns a lookup of the allowed bill ids.
func (u *UnmatchedSet) BillFilter() map[int64]struct{} {
	return toSet(u.BillIDs)
}

// PaymentFilter returns a lookup of the allowed payment ids.
func (u *UnmatchedSet) PaymentFilter() map[int64]struct{} {
	return toSet(u.PaymentIDs)
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReportRow is one line of the reconciliation report: a single
// bill/payment membership row of a group, joined with names and amounts.
type ReportRow struct {
	GroupID       int64           `json:"group_id"`
	CustomerName  string          `json:"customer_name"`
	PayerName     string          `json:"payer_name"`
	BillID        int64           `json:"bill_id"`
	PaymentID     int64           `json:"payment_id"`
	BillAmount    decimal.Decimal `json:"bill_amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
}

// Side identifies which ledger a record belongs to.
type Side string

const (
	SideBill    Side = "bill"
	SidePayment Side = "payment"
)

// LedgerEntry is a bill or payment joined with its counterparty name.
type LedgerEntry struct {
	Side    Side            `json:"side"`
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Amount  decimal.Decimal `json:"amount"`
	RawName string          `json:"raw_name,omitempty"`
}

// GroupDetail lists the distinct members of one match group.
type GroupDetail struct {
	GroupID  int64         `json:"group_id"`
	Kind     MatchKind     `json:"kind"`
	Bills    []LedgerEntry `json:"bills"`
	Payments []LedgerEntry `json:"payments"`
}

// BillTotal returns the sum of bill amounts in the group.
func (d *GroupDetail) BillTotal() decimal.Decimal {
	return sumLedger(d.Bills)
}

// PaymentTotal returns the sum of payment amounts in the group.
func (d *GroupDetail) PaymentTotal() decimal.Decimal {
	return sumLedger(d.Payments)
}

func sumLedger(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// UnmatchedDetail is the residue joined with names and amounts.
type UnmatchedDetail struct {
	Bills    []LedgerEntry `json:"bills"`
	Payments []LedgerEntry `json:"payments"`
}

// LedgerStats summarizes the stored ledger and latest results.
type LedgerStats struct {
	Customers    int `json:"customers"`
	Payers       int `json:"payers"`
	Bills        int `json:"bills"`
	Payments     int `json:"payments"`
	Groups       int `json:"groups"`
	MatchResults int `json:"match_results"`
}

// BillInput is a parsed bill row ready to be stored.
type BillInput struct {
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	Line         int             `json:"line,omitempty"`
}

// PaymentInput is a parsed payment row ready to be stored.
type PaymentInput struct {
	PayerName string          `json:"payer_name"`
	RawName   string          `json:"raw_name"`
	Amount    decimal.Decimal `json:"amount"`
	Line      int             `json:"line,omitempty"`
}

// ParseAmount parses a ledger amount, accepting thousands separators and a
// leading yen sign.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimPrefix(s, "￥")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

// WithinTolerance reports whether |a - b| <= tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
