// Package parsers reads the bill and payment CSV exports that feed the
// ledger.
//
// Both exports come from Japanese accounting and banking systems, so the
// parsers accept UTF-8 (with or without a byte order mark) and Shift_JIS,
// fold thousands separators out of amounts, and skip rows that cannot be
// used instead of failing the whole file. Skipped rows are reported through
// ParseStats.
//
// Example usage:
//
//	parser, err := parsers.NewBillParser(parsers.DefaultBillParserConfig())
//	bills, stats, err := parser.ParseFile(ctx, "bills.csv")
//	fmt.Println(stats)
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// maxRetainedIssues bounds how many skipped rows are kept for reporting.
const maxRetainedIssues = 100

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Encoding         Encoding
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	LazyQuotes       bool
	MaxFieldSize     int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		Encoding:         EncodingUTF8,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		LazyQuotes:       true,
		MaxFieldSize:     1 << 20,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig, component string) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}

	log := logger.GetGlobalLogger().WithComponent(component)
	log.WithFields(logger.Fields{
		"delimiter": string(config.Delimiter),
		"encoding":  config.Encoding,
	}).Debug("Created parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File      string
	Line      int
	Headers   []string
	HeaderMap map[string]int
	ctx       context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	// Try case-insensitive lookup
	lowerName := strings.ToLower(name)
	for header, index := range pc.HeaderMap {
		if strings.ToLower(header) == lowerName {
			return index
		}
	}

	return -1
}

// FirstPresent returns the first of names that appears in the header.
func (pc *ParseContext) FirstPresent(names ...string) (string, bool) {
	for _, name := range names {
		if pc.GetColumnIndex(name) != -1 {
			return name, true
		}
	}
	return "", false
}

// OpenFile opens a CSV file and returns a reader over its decoded contents.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")

		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
	}

	if bp.config.Encoding == EncodingUTF8 {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileRead, filePath, err)
		}
	}

	return file, bp.NewReader(file), nil
}

// NewReader wraps r in a CSV reader that decodes the configured encoding.
// A UTF-8 byte order mark is dropped.
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	var decoded io.Reader
	switch bp.config.Encoding {
	case EncodingShiftJIS:
		decoded = transform.NewReader(r, japanese.ShiftJIS.NewDecoder())
	default:
		decoded = transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
	}

	reader := csv.NewReader(decoded)
	reader.Comma = bp.config.Delimiter
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.LazyQuotes = bp.config.LazyQuotes
	reader.FieldsPerRecord = -1 // Variable number of fields
	return reader
}

// validateEncoding checks if the file contains valid UTF-8 text
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), bp.config.MaxFieldSize+64*1024)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 { // Check first 100 lines
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			bp.logger.WithFields(logger.Fields{
				"file_path": filePath,
				"line":      lineNum,
			}).Error("File is not valid UTF-8")
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileRead, filePath, err)
	}
	return nil
}

// ReadHeaders reads the header row and checks that every required column
// is present.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, requiredHeaders []string) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			bp.logger.WithField("file", parseCtx.File).Error("File is empty or contains no data")
			return errors.ValidationError(
				errors.CodeMissingField,
				"file_content",
				"empty",
				nil,
			).WithSuggestion("Ensure the file contains a header row and data rows")
		}

		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.File,
			1,
			"headers",
			"",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.Line = 1
	parseCtx.Headers = cleanHeaders(headers)
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, header := range parseCtx.Headers {
		if _, dup := parseCtx.HeaderMap[header]; !dup {
			parseCtx.HeaderMap[header] = i
		}
	}

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read headers")

	var missing []string
	for _, header := range requiredHeaders {
		if parseCtx.GetColumnIndex(header) == -1 {
			missing = append(missing, header)
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")

		return errors.ParseError(
			errors.CodeMissingColumn,
			parseCtx.File,
			parseCtx.Line,
			strings.Join(missing, ", "),
			"",
			nil,
		).WithSuggestion(fmt.Sprintf("Ensure the CSV file contains these headers: %s", strings.Join(missing, ", ")))
	}

	return nil
}

// cleanHeaders trims whitespace and any byte order mark left on the first header.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}
	return cleaned
}

// ReadRecord returns the next non-empty record. Malformed lines come back
// as a RowIssue so the caller can skip them and keep going.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, *errors.RowIssue, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, nil, parseCtx.ctx.Err()
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		if err != nil {
			if pe, ok := err.(*csv.ParseError); ok {
				parseCtx.Line = pe.StartLine
				return nil, &errors.RowIssue{
					File: parseCtx.File,
					Line: pe.StartLine,
					Code: errors.CodeInvalidFormat,
				}, nil
			}
			return nil, nil, errors.FileError(errors.CodeFileRead, parseCtx.File, err)
		}

		parseCtx.Line, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					column := fmt.Sprintf("field_%d", i)
					if i < len(parseCtx.Headers) {
						column = parseCtx.Headers[i]
					}
					return nil, &errors.RowIssue{
						File:   parseCtx.File,
						Line:   parseCtx.Line,
						Column: column,
						Value:  truncate(field, 50),
						Code:   errors.CodeInvalidData,
					}, nil
				}
			}
		}

		return record, nil, nil
	}
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed value of a column, or "" when the row
// is shorter than the header.
func (bp *BaseParser) GetFieldValue(record []string, parseCtx *ParseContext, fieldName string) string {
	index := parseCtx.GetColumnIndex(fieldName)
	if index == -1 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string `json:"file"`
	TotalLines    int    `json:"total_lines"`
	RecordsParsed int    `json:"records_parsed"`
	RecordsValid  int    `json:"records_valid"`
	Skipped       int    `json:"skipped"`

	skipped *errors.RowIssueCollector
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(file string) *ParseStats {
	return &ParseStats{
		File:    file,
		skipped: errors.NewRowIssueCollector(maxRetainedIssues),
	}
}

// Skip records a row that was not imported.
func (ps *ParseStats) Skip(issue errors.RowIssue) {
	ps.Skipped++
	ps.skipped.Add(issue)
}

// SkippedRows returns the retained skipped rows.
func (ps *ParseStats) SkippedRows() []errors.RowIssue {
	return ps.skipped.Issues()
}

// HasErrors returns true if any row was skipped
func (ps *ParseStats) HasErrors() bool {
	return ps.Skipped > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d skipped",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.Skipped)
}

// GetSampleErrors returns a sample of the skipped rows for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	issues := ps.skipped.Issues()
	if maxSamples > 0 && maxSamples < len(issues) {
		issues = issues[:maxSamples]
	}

	samples := make([]string, 0, len(issues))
	for _, issue := range issues {
		samples = append(samples, issue.String())
	}
	return samples
}
