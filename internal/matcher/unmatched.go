package matcher

import (
	"sort"

	"ledger-matching-service/internal/models"
)

// ComputeResidual returns every bill and payment in the buckets that is not
// part of a group, including records whose key has no counterpart and
// records with an empty key. Ids are sorted ascending.
func ComputeResidual(buckets *Buckets, matched *MatchedSet) models.UnmatchedSet {
	if matched == nil {
		matched = NewMatchedSet()
	}

	residue := models.UnmatchedSet{
		BillIDs:    []int64{},
		PaymentIDs: []int64{},
	}

	for _, entries := range buckets.Bills {
		for _, e := range entries {
			if !matched.HasBill(e.ID) {
				residue.BillIDs = append(residue.BillIDs, e.ID)
			}
		}
	}
	for _, entries := range buckets.Payments {
		for _, e := range entries {
			if !matched.HasPayment(e.ID) {
				residue.PaymentIDs = append(residue.PaymentIDs, e.ID)
			}
		}
	}

	sort.Slice(residue.BillIDs, func(i, j int) bool { return residue.BillIDs[i] < residue.BillIDs[j] })
	sort.Slice(residue.PaymentIDs, func(i, j int) bool { return residue.PaymentIDs[i] < residue.PaymentIDs[j] })

	return residue
}
