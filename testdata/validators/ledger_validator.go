package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/parsers"
	"ledger-matching-service/internal/reconciler"
	"ledger-matching-service/internal/storage"
	"ledger-matching-service/pkg/logger"
)

// Expected mirrors the expected.json written by the ledger generator.
type Expected struct {
	Seed     int64 `json:"seed"`
	Bills    int   `json:"bills"`
	Payments int   `json:"payments"`

	StrictGroups    int `json:"strict_groups"`
	StrictOneToOne  int `json:"strict_one_to_one"`
	StrictManyToOne int `json:"strict_many_to_one"`
	StrictOneToMany int `json:"strict_one_to_many"`

	LooseGroups            int `json:"loose_groups"`
	FinalUnmatchedBills    int `json:"final_unmatched_bills"`
	FinalUnmatchedPayments int `json:"final_unmatched_payments"`
}

// LedgerValidator imports a generated ledger, runs the strict pass and then
// the loose pass on its residue, and compares the outcome with expected.json.
type LedgerValidator struct {
	Verbose  bool
	DataDir  string
	Encoding parsers.Encoding

	checks []check
}

type check struct {
	name     string
	actual   int
	expected int
}

func (c check) passed() bool { return c.actual == c.expected }

func main() {
	var (
		dataDir  = flag.String("data-dir", "../generators/generated", "Directory containing bills.csv, payments.csv and expected.json")
		encoding = flag.String("encoding", "utf-8", "File encoding: utf-8, shift_jis")
		verbose  = flag.Bool("verbose", false, "Verbose output")
	)
	flag.Parse()

	enc, err := parsers.ParseEncoding(*encoding)
	if err != nil {
		log.Fatalf("Invalid encoding: %v", err)
	}

	validator := &LedgerValidator{
		Verbose:  *verbose,
		DataDir:  *dataDir,
		Encoding: enc,
	}

	fmt.Println("Ledger End-to-End Validator")
	fmt.Println("===========================")
	fmt.Printf("Data directory: %s\n\n", *dataDir)

	if err := validator.Run(context.Background()); err != nil {
		log.Fatalf("Validation failed: %v", err)
	}
	if !validator.PrintResults() {
		os.Exit(1)
	}
}

// Run performs the import and both passes against a temporary database.
func (lv *LedgerValidator) Run(ctx context.Context) error {
	expected, err := lv.loadExpected()
	if err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "ledger-validation-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	runLogger := logger.Discard()
	if lv.Verbose {
		runLogger = logger.GetGlobalLogger()
	}

	store, err := storage.Open(ctx, filepath.Join(tempDir, "ledger.db"), runLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	billConfig := parsers.DefaultBillParserConfig()
	billConfig.Encoding = lv.Encoding
	paymentConfig := parsers.DefaultPaymentParserConfig()
	paymentConfig.Encoding = lv.Encoding

	orchestrator, err := reconciler.NewImportOrchestrator(store, nil, runLogger)
	if err != nil {
		return err
	}

	start := time.Now()
	imported, err := orchestrator.Import(ctx, &reconciler.ImportRequest{
		BillFile:      filepath.Join(lv.DataDir, "bills.csv"),
		PaymentFile:   filepath.Join(lv.DataDir, "payments.csv"),
		BillConfig:    billConfig,
		PaymentConfig: paymentConfig,
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	service, err := reconciler.NewService(store, reconciler.DefaultConfig(), runLogger)
	if err != nil {
		return err
	}

	strict, err := service.ReconcileStrict(ctx)
	if err != nil {
		return fmt.Errorf("strict pass: %w", err)
	}
	loose, err := service.ReconcileLoose(ctx, &strict.Unmatched)
	if err != nil {
		return fmt.Errorf("loose pass: %w", err)
	}

	if lv.Verbose {
		fmt.Printf("Import and both passes completed in %v\n\n", time.Since(start).Round(time.Millisecond))
	}

	kinds := make(map[models.MatchKind]int)
	for _, group := range strict.Groups {
		kinds[group.Kind]++
	}

	lv.checks = []check{
		{"bills stored", imported.BillsStored, expected.Bills},
		{"payments stored", imported.PaymentsStored, expected.Payments},
		{"strict groups", len(strict.Groups), expected.StrictGroups},
		{"strict one-to-one", kinds[models.MatchKindOneToOne], expected.StrictOneToOne},
		{"strict many-to-one", kinds[models.MatchKindManyToOne], expected.StrictManyToOne},
		{"strict one-to-many", kinds[models.MatchKindOneToMany], expected.StrictOneToMany},
		{"loose groups", len(loose.Groups), expected.LooseGroups},
		{"unmatched bills", len(loose.Unmatched.BillIDs), expected.FinalUnmatchedBills},
		{"unmatched payments", len(loose.Unmatched.PaymentIDs), expected.FinalUnmatchedPayments},
	}
	return nil
}

func (lv *LedgerValidator) loadExpected() (*Expected, error) {
	data, err := os.ReadFile(filepath.Join(lv.DataDir, "expected.json"))
	if err != nil {
		return nil, fmt.Errorf("read expected.json: %w", err)
	}
	var expected Expected
	if err := json.Unmarshal(data, &expected); err != nil {
		return nil, fmt.Errorf("parse expected.json: %w", err)
	}
	if lv.Verbose {
		fmt.Printf("Generated with seed %d\n", expected.Seed)
	}
	return &expected, nil
}

// PrintResults prints every check and reports whether all of them passed.
func (lv *LedgerValidator) PrintResults() bool {
	passed := 0
	for _, c := range lv.checks {
		status := "PASS"
		if c.passed() {
			passed++
		} else {
			status = "FAIL"
		}
		fmt.Printf("[%s] %-20s actual %6d  expected %6d\n", status, c.name, c.actual, c.expected)
	}

	fmt.Printf("\nChecks passed: %d/%d\n", passed, len(lv.checks))
	return passed == len(lv.checks)
}
