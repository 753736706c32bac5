package matcher

import (
	"reflect"
	"testing"

	"ledger-matching-service/internal/models"
)

func TestNewEdgeCaseHandler(t *testing.T) {
	handler := NewEdgeCaseHandler(nil)
	if handler.Config == nil {
		t.Fatal("expected default config to be set")
	}

	config := LooseMatchingConfig()
	if NewEdgeCaseHandler(config).Config != config {
		t.Error("expected custom config to be set")
	}
}

func TestEdgeCaseHandler_DetectDuplicates(t *testing.T) {
	handler := NewEdgeCaseHandler(nil)

	groups := handler.DetectDuplicates("ACME", models.SideBill, entries(1, 500, 2, 300, 3, 500, 4, 300, 5, 900))

	if len(groups) != 2 {
		t.Fatalf("expected 2 duplicate groups, got %d", len(groups))
	}
	if !reflect.DeepEqual(groups[0].IDs, []int64{1, 3}) || groups[0].Amount.IntPart() != 500 {
		t.Errorf("unexpected first group %+v", groups[0])
	}
	if !reflect.DeepEqual(groups[1].IDs, []int64{2, 4}) {
		t.Errorf("unexpected second group %+v", groups[1])
	}
	if groups[0].Side != models.SideBill || groups[0].Key != "ACME" {
		t.Errorf("unexpected labels %+v", groups[0])
	}

	if got := handler.DetectDuplicates("ACME", models.SidePayment, entries(1, 1, 2, 2)); len(got) != 0 {
		t.Errorf("expected no duplicates, got %+v", got)
	}
}

func TestEdgeCaseHandler_Analyze(t *testing.T) {
	bills := []models.BillRecord{
		bill(1, "ACME", 100), bill(2, "ACME", 100),
		bill(3, "GLOBEX", 100),
		bill(4, "", 100),
	}
	payments := []models.PaymentRecord{
		payment(1, "ACME", 200),
		payment(2, "INITECH", 50),
		payment(3, "()", 50),
	}

	report := NewEdgeCaseHandler(StrictMatchingConfig()).Analyze(GroupRecords(bills, payments, nil, nil))

	if !reflect.DeepEqual(report.EmptyKeyBills, []int64{4}) {
		t.Errorf("EmptyKeyBills = %v", report.EmptyKeyBills)
	}
	if !reflect.DeepEqual(report.EmptyKeyPayments, []int64{3}) {
		t.Errorf("EmptyKeyPayments = %v", report.EmptyKeyPayments)
	}
	if !reflect.DeepEqual(report.BillOnlyKeys, []string{"GLOBEX"}) {
		t.Errorf("BillOnlyKeys = %v", report.BillOnlyKeys)
	}
	if !reflect.DeepEqual(report.PaymentOnlyKeys, []string{"INITECH"}) {
		t.Errorf("PaymentOnlyKeys = %v", report.PaymentOnlyKeys)
	}
	if len(report.Duplicates) != 1 || !reflect.DeepEqual(report.Duplicates[0].IDs, []int64{1, 2}) {
		t.Errorf("Duplicates = %+v", report.Duplicates)
	}
	if len(report.LargeBuckets) != 0 {
		t.Errorf("expected no large buckets, got %+v", report.LargeBuckets)
	}
	if !report.HasFindings() {
		t.Error("expected findings")
	}
}

func TestEdgeCaseHandler_LargeBuckets(t *testing.T) {
	config := StrictMatchingConfig()
	config.SearchSpaceWarnThreshold = 10

	var bills []models.BillRecord
	for i := int64(1); i <= 6; i++ {
		bills = append(bills, bill(i, "ACME", i*10))
	}
	payments := []models.PaymentRecord{payment(1, "ACME", 1)}

	report := NewEdgeCaseHandler(config).Analyze(GroupRecords(bills, payments, nil, nil))

	if len(report.LargeBuckets) != 1 {
		t.Fatalf("expected 1 large bucket, got %d", len(report.LargeBuckets))
	}
	large := report.LargeBuckets[0]
	// 2^6 - 6 - 1
	if large.Key != "ACME" || large.Bills != 6 || large.Estimate != 57 {
		t.Errorf("unexpected large bucket %+v", large)
	}
}

func TestEdgeCaseReport_NoFindings(t *testing.T) {
	bills := []models.BillRecord{bill(1, "ACME", 100)}
	payments := []models.PaymentRecord{payment(1, "ACME", 100)}

	report := NewEdgeCaseHandler(nil).Analyze(GroupRecords(bills, payments, nil, nil))
	if report.HasFindings() {
		t.Errorf("expected no findings, got %+v", report)
	}
}
