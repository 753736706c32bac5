package parsers

import (
	"fmt"
	"strings"
)

// Encoding names the character encoding of an input file.
type Encoding string

const (
	EncodingUTF8     Encoding = "utf-8"
	EncodingShiftJIS Encoding = "shift_jis"
)

// ParseEncoding accepts the common spellings of the supported encodings.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "shift-jis", "sjis", "cp932", "windows-31j":
		return EncodingShiftJIS, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q (use utf-8 or shift_jis)", s)
	}
}

// Default column names of the billing export.
const (
	DefaultBillNameColumn         = "変換後発注者名（ｶﾅ）"
	DefaultBillAmountColumn       = "請求額"
	DefaultBillAmountColumnLegacy = "請求金額"
)

// Default column names of the bank deposit export.
const (
	DefaultPaymentPayerColumn   = "照会口座"
	DefaultPaymentRawNameColumn = "変換後発注者名"
	DefaultPaymentAmountColumn  = "入金金額（円）"
)

// BillParserConfig describes the layout of a bill CSV file.
type BillParserConfig struct {
	NameColumn string `json:"name_column" mapstructure:"name-column"`
	// AmountColumns are tried in order; the first one present in the header wins.
	AmountColumns []string          `json:"amount_columns" mapstructure:"amount-columns"`
	Delimiter     rune              `json:"delimiter"`
	Encoding      Encoding          `json:"encoding"`
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`
}

// DefaultBillParserConfig returns the layout of the standard billing export.
func DefaultBillParserConfig() *BillParserConfig {
	return &BillParserConfig{
		NameColumn:    DefaultBillNameColumn,
		AmountColumns: []string{DefaultBillAmountColumn, DefaultBillAmountColumnLegacy},
		Delimiter:     ',',
		Encoding:      EncodingUTF8,
		ColumnAliases: make(map[string]string),
	}
}

// Validate checks if the bill parser configuration is valid
func (c *BillParserConfig) Validate() error {
	if strings.TrimSpace(c.NameColumn) == "" {
		return fmt.Errorf("name column cannot be empty")
	}
	if len(c.AmountColumns) == 0 {
		return fmt.Errorf("at least one amount column is required")
	}
	for _, col := range c.AmountColumns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("amount column names cannot be empty")
		}
	}
	if _, err := ParseEncoding(string(c.Encoding)); err != nil {
		return err
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (c *BillParserConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "name":
		return c.NameColumn
	case "amount":
		return c.AmountColumns[0]
	default:
		return standardName
	}
}

// PaymentParserConfig describes the layout of a payment CSV file.
type PaymentParserConfig struct {
	PayerColumn string `json:"payer_column" mapstructure:"payer-column"`
	// RawNameColumn holds the name used for matching. When the file has no
	// such column the payer name is used instead.
	RawNameColumn string            `json:"raw_name_column" mapstructure:"raw-name-column"`
	AmountColumn  string            `json:"amount_column" mapstructure:"amount-column"`
	Delimiter     rune              `json:"delimiter"`
	Encoding      Encoding          `json:"encoding"`
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`
}

// DefaultPaymentParserConfig returns the layout of the standard deposit export.
func DefaultPaymentParserConfig() *PaymentParserConfig {
	return &PaymentParserConfig{
		PayerColumn:   DefaultPaymentPayerColumn,
		RawNameColumn: DefaultPaymentRawNameColumn,
		AmountColumn:  DefaultPaymentAmountColumn,
		Delimiter:     ',',
		Encoding:      EncodingUTF8,
		ColumnAliases: make(map[string]string),
	}
}

// Validate checks if the payment parser configuration is valid
func (c *PaymentParserConfig) Validate() error {
	if strings.TrimSpace(c.PayerColumn) == "" {
		return fmt.Errorf("payer column cannot be empty")
	}
	if strings.TrimSpace(c.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if _, err := ParseEncoding(string(c.Encoding)); err != nil {
		return err
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (c *PaymentParserConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "payer":
		return c.PayerColumn
	case "raw_name":
		return c.RawNameColumn
	case "amount":
		return c.AmountColumn
	default:
		return standardName
	}
}
