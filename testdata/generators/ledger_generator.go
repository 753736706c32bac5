package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/width"
)

// Scenario kinds, one per customer, cycled in this order.
const (
	scenarioOneToOne = iota
	scenarioManyToOne
	scenarioOneToMany
	scenarioLooseOnly
	scenarioUnmatched
	scenarioBillOnly
	scenarioCount
)

var prefixes = []string{"ｱｸﾒ", "ｸﾞﾛｰﾌﾞ", "ﾃﾞﾙﾀ", "ｵﾒｶﾞ", "ｼｸﾞﾏ", "ﾗﾑﾀﾞ", "ﾔﾏﾀﾞ", "ｽｽﾞｷ"}

// Expected is written next to the CSV files and read by the ledger validator.
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

// LedgerGenerator writes a bill file and a payment file whose reconciliation
// outcome is known in advance.
type LedgerGenerator struct {
	Seed      int64
	Customers int
	OutputDir string
	ShiftJIS  bool

	rng      *rand.Rand
	bills    [][]string
	payments [][]string
	expected Expected
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated", "Output directory for generated files")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		customers = flag.Int("customers", 60, "Number of customers; each gets one scenario")
		shiftJIS  = flag.Bool("shift-jis", false, "Encode the files as Shift_JIS instead of UTF-8")
	)
	flag.Parse()

	if *customers < 1 {
		log.Fatalf("customers must be positive, got %d", *customers)
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &LedgerGenerator{
		Seed:      *seed,
		Customers: *customers,
		OutputDir: *outputDir,
		ShiftJIS:  *shiftJIS,
	}
	if err := generator.Generate(); err != nil {
		log.Fatalf("Generation failed: %v", err)
	}

	fmt.Printf("Generated ledger in %s\n", *outputDir)
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate builds every scenario and writes bills.csv, payments.csv and
// expected.json.
func (lg *LedgerGenerator) Generate() error {
	lg.rng = rand.New(rand.NewSource(lg.Seed))
	lg.bills = [][]string{{"変換後発注者名（ｶﾅ）", "請求額"}}
	lg.payments = [][]string{{"照会口座", "変換後発注者名", "入金金額（円）"}}
	lg.expected = Expected{Seed: lg.Seed}

	for i := 0; i < lg.Customers; i++ {
		lg.addScenario(i)
	}

	lg.expected.Bills = len(lg.bills) - 1
	lg.expected.Payments = len(lg.payments) - 1
	lg.expected.StrictGroups = lg.expected.StrictOneToOne + lg.expected.StrictManyToOne + lg.expected.StrictOneToMany

	if err := lg.writeCSV("bills.csv", lg.bills); err != nil {
		return err
	}
	if err := lg.writeCSV("payments.csv", lg.payments); err != nil {
		return err
	}
	return lg.writeExpected()
}

func (lg *LedgerGenerator) addScenario(i int) {
	prefix := prefixes[i%len(prefixes)]
	name := fmt.Sprintf("%s%04d", prefix, i)
	payer := fmt.Sprintf("PAYER %04d", i)

	switch i % scenarioCount {
	case scenarioOneToOne:
		amount := lg.amount(1000, 50000)
		lg.addBill(lg.decorate(prefix, i), amount)
		lg.addPayment(payer, name, amount)
		lg.expected.StrictOneToOne++

	case scenarioManyToOne:
		// Distinct parts, none equal to the total.
		parts := []decimal.Decimal{lg.amount(1000, 5000), lg.amount(5001, 9000), lg.amount(9001, 15000)}
		total := decimal.Zero
		for _, part := range parts {
			lg.addBill(lg.decorate(prefix, i), part)
			total = total.Add(part)
		}
		lg.addPayment(payer, name, total)
		lg.expected.StrictManyToOne++

	case scenarioOneToMany:
		parts := []decimal.Decimal{lg.amount(1000, 5000), lg.amount(5001, 9000)}
		lg.addBill(lg.decorate(prefix, i), parts[0].Add(parts[1]))
		for _, part := range parts {
			lg.addPayment(payer, name, part)
		}
		lg.expected.StrictOneToMany++

	case scenarioLooseOnly:
		amount := lg.amount(10000, 50000)
		fee := decimal.NewFromInt(int64(1 + lg.rng.Intn(900)))
		lg.addBill(lg.decorate(prefix, i), amount)
		lg.addPayment(payer, name, amount.Sub(fee))
		lg.expected.LooseGroups++

	case scenarioUnmatched:
		amount := lg.amount(10000, 50000)
		lg.addBill(lg.decorate(prefix, i), amount)
		lg.addPayment(payer, name, amount.Add(decimal.NewFromInt(5000)))
		lg.expected.FinalUnmatchedBills++
		lg.expected.FinalUnmatchedPayments++

	case scenarioBillOnly:
		lg.addBill(lg.decorate(prefix, i), lg.amount(1000, 50000))
		lg.expected.FinalUnmatchedBills++
	}
}

// decorate varies the bill-side spelling of a name without changing its
// normalized key.
func (lg *LedgerGenerator) decorate(prefix string, i int) string {
	digits := fmt.Sprintf("%04d", i)
	switch lg.rng.Intn(3) {
	case 0:
		return prefix + digits + "（本社）"
	case 1:
		return prefix + width.Widen.String(digits)
	default:
		return " " + prefix + digits + " "
	}
}

func (lg *LedgerGenerator) amount(min, max int64) decimal.Decimal {
	return decimal.NewFromInt(min + lg.rng.Int63n(max-min+1))
}

func (lg *LedgerGenerator) addBill(name string, amount decimal.Decimal) {
	lg.bills = append(lg.bills, []string{name, amount.StringFixed(0)})
}

func (lg *LedgerGenerator) addPayment(payer, rawName string, amount decimal.Decimal) {
	lg.payments = append(lg.payments, []string{payer, rawName, amount.StringFixed(0)})
}

func (lg *LedgerGenerator) writeCSV(filename string, data [][]string) error {
	path := filepath.Join(lg.OutputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	var w io.Writer = file
	if lg.ShiftJIS {
		w = japanese.ShiftJIS.NewEncoder().Writer(file)
	}

	writer := csv.NewWriter(w)
	if err := writer.WriteAll(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	// The Shift_JIS writer buffers until closed.
	if closer, ok := w.(io.Closer); ok && lg.ShiftJIS {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to flush %s: %w", path, err)
		}
	}

	fmt.Printf("  Created %s with %d records\n", filename, len(data)-1)
	return nil
}

func (lg *LedgerGenerator) writeExpected() error {
	data, err := json.MarshalIndent(lg.expected, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(lg.OutputDir, "expected.json")
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("  Created expected.json\n")
	return nil
}
