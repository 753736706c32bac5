package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RowIssue records an input row that ingestion skipped.
type RowIssue struct {
	File   string    `json:"file"`
	Line   int       `json:"line"`
	Column string    `json:"column,omitempty"`
	Value  string    `json:"value,omitempty"`
	Code   ErrorCode `json:"code"`
}

// String renders the issue as "file:line column 'x': code".
func (r RowIssue) String() string {
	location := filepath.Base(r.File)
	if r.Line > 0 {
		location += fmt.Sprintf(":%d", r.Line)
	}
	if r.Column != "" {
		location += fmt.Sprintf(" column '%s'", r.Column)
	}
	if r.Value != "" {
		return fmt.Sprintf("%s: %s (%q)", location, r.Code, r.Value)
	}
	return fmt.Sprintf("%s: %s", location, r.Code)
}

// AsError converts the issue into a ReconcilerError of the matching category.
func (r RowIssue) AsError() *ReconcilerError {
	switch r.Code {
	case CodeInvalidAmount, CodeMissingField:
		return ValidationError(r.Code, r.Column, r.Value, nil).
			WithContext("file", r.File).
			WithContext("line", r.Line)
	default:
		return ParseError(r.Code, r.File, r.Line, r.Column, r.Value, nil)
	}
}

// RowIssueCollector accumulates skipped rows up to a retention limit.
// Count keeps counting past the limit.
type RowIssueCollector struct {
	issues []RowIssue
	limit  int
	count  int
}

// NewRowIssueCollector creates a collector that retains at most limit issues.
// A non-positive limit retains everything.
func NewRowIssueCollector(limit int) *RowIssueCollector {
	return &RowIssueCollector{limit: limit}
}

// Add records an issue.
func (c *RowIssueCollector) Add(issue RowIssue) {
	c.count++
	if c.limit <= 0 || len(c.issues) < c.limit {
		c.issues = append(c.issues, issue)
	}
}

// Count returns the number of issues seen, including ones not retained.
func (c *RowIssueCollector) Count() int {
	return c.count
}

// Issues returns the retained issues.
func (c *RowIssueCollector) Issues() []RowIssue {
	return c.issues
}

// Summary groups the retained issues by category and code.
func (c *RowIssueCollector) Summary() *ErrorSummary {
	errs := make([]*ReconcilerError, len(c.issues))
	for i, issue := range c.issues {
		errs[i] = issue.AsError()
	}
	return NewErrorSummary(errs)
}

// FormatRowIssuesForUser renders skipped rows for console output.
func FormatRowIssuesForUser(issues []RowIssue, total int) string {
	if total == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d row(s) skipped during import:\n", total)
	for _, issue := range issues {
		fmt.Fprintf(&b, "  • %s\n", issue)
	}
	if hidden := total - len(issues); hidden > 0 {
		fmt.Fprintf(&b, "  ... and %d more\n", hidden)
	}
	return b.String()
}
