package parsers

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"ledger-matching-service/pkg/errors"

	"golang.org/x/text/encoding/japanese"
)

// Helper function to create temporary CSV file
func createTempCSVFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if config.Encoding != EncodingUTF8 {
		t.Errorf("Expected utf-8 encoding, got %q", config.Encoding)
	}
	if !config.TrimLeadingSpace {
		t.Error("Expected TrimLeadingSpace to be true")
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected Encoding
		wantErr  bool
	}{
		{"", EncodingUTF8, false},
		{"UTF8", EncodingUTF8, false},
		{"sjis", EncodingShiftJIS, false},
		{"Shift_JIS", EncodingShiftJIS, false},
		{"cp932", EncodingShiftJIS, false},
		{"latin-1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEncoding(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ParseEncoding(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBillParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    *BillParserConfig
		expectErr bool
	}{
		{"default", DefaultBillParserConfig(), false},
		{"empty name column", &BillParserConfig{AmountColumns: []string{"a"}}, true},
		{"no amount columns", &BillParserConfig{NameColumn: "n"}, true},
		{"blank amount column", &BillParserConfig{NameColumn: "n", AmountColumns: []string{" "}}, true},
		{"bad encoding", &BillParserConfig{NameColumn: "n", AmountColumns: []string{"a"}, Encoding: "ebcdic"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no validation error, got %v", err)
			}
		})
	}
}

func TestPaymentParserConfig_GetColumnName(t *testing.T) {
	config := DefaultPaymentParserConfig()
	config.ColumnAliases["amount"] = "金額"

	if got := config.GetColumnName("amount"); got != "金額" {
		t.Errorf("Expected alias to win, got %q", got)
	}
	if got := config.GetColumnName("payer"); got != DefaultPaymentPayerColumn {
		t.Errorf("Expected default payer column, got %q", got)
	}
	if got := config.GetColumnName("other"); got != "other" {
		t.Errorf("Expected passthrough, got %q", got)
	}
}

func TestBillParser_ParseFile(t *testing.T) {
	content := "\ufeff変換後発注者名（ｶﾅ）,請求額,備考\n" +
		"ｱｸﾒ,\"1,000\",\n" +
		",500,no name\n" +
		"ｸﾞﾛｰﾌﾞ,abc,bad amount\n" +
		"\n" +
		"ｲﾆﾃｯｸ, ¥2500 ,\n"

	parser, err := NewBillParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	bills, stats, err := parser.ParseFile(context.Background(), createTempCSVFile(t, content))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if len(bills) != 2 {
		t.Fatalf("Expected 2 bills, got %d: %+v", len(bills), bills)
	}
	if bills[0].CustomerName != "ｱｸﾒ" || bills[0].Amount.IntPart() != 1000 || bills[0].Line != 2 {
		t.Errorf("Unexpected first bill %+v", bills[0])
	}
	if bills[1].CustomerName != "ｲﾆﾃｯｸ" || bills[1].Amount.IntPart() != 2500 || bills[1].Line != 6 {
		t.Errorf("Unexpected second bill %+v", bills[1])
	}

	if stats.RecordsParsed != 4 || stats.RecordsValid != 2 || stats.Skipped != 2 {
		t.Errorf("Unexpected stats: %s", stats)
	}

	skipped := stats.SkippedRows()
	if skipped[0].Code != errors.CodeMissingField || skipped[0].Line != 3 {
		t.Errorf("Unexpected first skipped row %+v", skipped[0])
	}
	if skipped[1].Code != errors.CodeInvalidAmount || skipped[1].Value != "abc" {
		t.Errorf("Unexpected second skipped row %+v", skipped[1])
	}
}

func TestBillParser_LegacyAmountColumn(t *testing.T) {
	content := "変換後発注者名（ｶﾅ）,請求金額\nｱｸﾒ,300\n"

	parser, _ := NewBillParser(nil)
	bills, _, err := parser.Parse(context.Background(), strings.NewReader(content), "legacy.csv")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(bills) != 1 || bills[0].Amount.IntPart() != 300 {
		t.Errorf("Unexpected bills %+v", bills)
	}
}

func TestBillParser_MissingColumns(t *testing.T) {
	parser, _ := NewBillParser(nil)

	_, _, err := parser.Parse(context.Background(), strings.NewReader("name,請求額\nx,1\n"), "bad.csv")
	if err == nil {
		t.Fatal("Expected error for missing name column")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeMissingColumn {
		t.Errorf("Expected missing column error, got %v", err)
	}

	_, _, err = parser.Parse(context.Background(), strings.NewReader("変換後発注者名（ｶﾅ）,total\nx,1\n"), "bad.csv")
	if err == nil {
		t.Fatal("Expected error for missing amount column")
	}

	_, _, err = parser.Parse(context.Background(), strings.NewReader(""), "empty.csv")
	if err == nil {
		t.Fatal("Expected error for empty input")
	}
}

func TestPaymentParser_ParseFile(t *testing.T) {
	content := "照会口座,入金金額（円）,変換後発注者名\n" +
		"ACME BANK,1000,ｱｸﾒ\n" +
		"ACME BANK,\"12,345\",\n" +
		",10,ｸﾞﾛｰﾌﾞ\n"

	parser, err := NewPaymentParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	payments, stats, err := parser.ParseFile(context.Background(), createTempCSVFile(t, content))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if len(payments) != 2 {
		t.Fatalf("Expected 2 payments, got %d", len(payments))
	}
	if payments[0].PayerName != "ACME BANK" || payments[0].RawName != "ｱｸﾒ" {
		t.Errorf("Unexpected first payment %+v", payments[0])
	}
	if payments[1].RawName != "" || payments[1].Amount.IntPart() != 12345 {
		t.Errorf("Unexpected second payment %+v", payments[1])
	}
	if stats.Skipped != 1 {
		t.Errorf("Expected 1 skipped row, got %d", stats.Skipped)
	}
}

func TestPaymentParser_RawNameFallsBackToPayer(t *testing.T) {
	content := "照会口座,入金金額（円）\nACME,1000\n"

	parser, _ := NewPaymentParser(nil)
	payments, _, err := parser.Parse(context.Background(), strings.NewReader(content), "no_raw_name.csv")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(payments) != 1 || payments[0].RawName != "ACME" {
		t.Errorf("Expected raw name to fall back to payer, got %+v", payments)
	}
}

func TestPaymentParser_ShiftJIS(t *testing.T) {
	content := "照会口座,入金金額（円）,変換後発注者名\nアクメ銀行,1000,ｱｸﾒ\n"
	encoded, err := japanese.ShiftJIS.NewEncoder().String(content)
	if err != nil {
		t.Fatalf("Failed to encode test data: %v", err)
	}

	config := DefaultPaymentParserConfig()
	config.Encoding = EncodingShiftJIS
	parser, err := NewPaymentParser(config)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	payments, _, err := parser.ParseFile(context.Background(), createTempCSVFile(t, encoded))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(payments) != 1 || payments[0].PayerName != "アクメ銀行" || payments[0].RawName != "ｱｸﾒ" {
		t.Errorf("Unexpected payments %+v", payments)
	}
}

func TestBaseParser_RejectsNonUTF8(t *testing.T) {
	encoded, _ := japanese.ShiftJIS.NewEncoder().String("照会口座,入金金額（円）\nアクメ,1\n")

	parser, _ := NewPaymentParser(nil)
	_, _, err := parser.ParseFile(context.Background(), createTempCSVFile(t, encoded))
	if err == nil {
		t.Fatal("Expected encoding error")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeEncodingError {
		t.Errorf("Expected encoding error, got %v", err)
	}
}

func TestParseFile_NotFound(t *testing.T) {
	parser, _ := NewBillParser(nil)
	_, _, err := parser.ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))

	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeFileNotFound {
		t.Errorf("Expected file not found error, got %v", err)
	}
}

func TestBaseParser_ReadRecordFailure(t *testing.T) {
	bp := NewBaseParser(nil, "test")
	ioErr := stderrors.New("unexpected EOF from device")
	src := io.MultiReader(strings.NewReader("変換後発注者名（ｶﾅ）,請求額\n"), iotest.ErrReader(ioErr))
	reader := bp.NewReader(src)
	parseCtx := NewParseContext(context.Background(), "broken.csv")

	if err := bp.ReadHeaders(reader, parseCtx, []string{"変換後発注者名（ｶﾅ）"}); err != nil {
		t.Fatalf("ReadHeaders failed: %v", err)
	}

	record, issue, err := bp.ReadRecord(reader, parseCtx)
	if record != nil || issue != nil {
		t.Fatalf("Expected no record or row issue, got %v / %+v", record, issue)
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeFileRead || rerr.Category != errors.CategoryFile {
		t.Fatalf("Expected file read error, got %v", err)
	}
	if !stderrors.Is(err, ioErr) {
		t.Errorf("Expected the read error to be wrapped, got %v", err)
	}
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parser, _ := NewBillParser(nil)
	_, _, err := parser.Parse(ctx, strings.NewReader("変換後発注者名（ｶﾅ）,請求額\nx,1\n"), "c.csv")
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseLedgerFiles(t *testing.T) {
	billFile := createTempCSVFile(t, "変換後発注者名（ｶﾅ）,請求額\nｱｸﾒ,100\n")
	paymentDir := t.TempDir()
	paymentFile := filepath.Join(paymentDir, "payments.csv")
	if err := os.WriteFile(paymentFile, []byte("照会口座,入金金額（円）\nACME,100\nGLOBEX,200\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := ParseLedgerFiles(context.Background(), LedgerFiles{BillFile: billFile, PaymentFile: paymentFile})
	if err := result.Err(); err != nil {
		t.Fatalf("ParseLedgerFiles failed: %v", err)
	}
	if len(result.Bills) != 1 || len(result.Payments) != 2 {
		t.Errorf("Unexpected counts: %d bills, %d payments", len(result.Bills), len(result.Payments))
	}

	missing := ParseLedgerFiles(context.Background(), LedgerFiles{BillFile: filepath.Join(paymentDir, "nope.csv")})
	if missing.Err() == nil {
		t.Error("Expected error for missing bill file")
	}
	if missing.Payments != nil || missing.PaymentStats != nil {
		t.Error("Expected payment side to be untouched")
	}
}

func TestParseStats_GetSampleErrors(t *testing.T) {
	stats := NewParseStats("x.csv")
	for i := 2; i < 7; i++ {
		stats.Skip(errors.RowIssue{File: "x.csv", Line: i, Code: errors.CodeInvalidAmount})
	}

	if got := stats.GetSampleErrors(2); len(got) != 2 || got[0] != "x.csv:2: invalid_amount" {
		t.Errorf("Unexpected samples %v", got)
	}
	if !stats.HasErrors() || stats.Skipped != 5 {
		t.Errorf("Unexpected stats %s", stats)
	}
}
