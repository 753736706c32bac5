package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a handler printing to out.
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// Flag and argument errors from cobra end up here.
	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
	return 1
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure the database directory is writable`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the CSV header contains the expected column names
• Bills need a customer name column and 請求額 or 請求金額
• Payments need 照会口座 and 入金金額（円）
• Use --encoding shift_jis for files exported from Excel`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required flags have values
• Amounts must be positive numbers, thousand separators are allowed`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Tolerances must be non-negative amounts`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Wait for the running reconciliation to finish and retry
• Lower max-combination if a bucket is too large to search`

	case errors.CategoryStorage:
		return `Storage error help:
• Check the --database path
• Make sure no other process holds a write lock on the database`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return stderrors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return stderrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// validateFileExists checks that path is a readable regular file. A missing
// file lists up to three similarly named files in the same directory.
func validateFileExists(path, description string) error {
	if path == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil, nil)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		rerr := errors.FileError(errors.CodeFileNotFound, path, err).
			WithContext("description", description)
		if similar := similarFiles(path); len(similar) > 0 {
			rerr = rerr.WithContext("similar_files", strings.Join(similar, ", "))
		}
		return rerr
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, path, fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return file.Close()
}

func similarFiles(path string) []string {
	base := strings.ToLower(filepath.Base(path))
	prefix := base[:min(len(base), 3)]

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil
	}

	var similar []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.Contains(strings.ToLower(entry.Name()), prefix) {
			similar = append(similar, entry.Name())
			if len(similar) == 3 {
				break
			}
		}
	}
	return similar
}
