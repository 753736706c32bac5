package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"
)

// RenderFunc renders one view with the given generator.
type RenderFunc func(g *ReportGenerator, w io.Writer) error

// SafeReportGenerator renders views with input checks, logging and two
// fallbacks: a failed write to a named file goes to a sibling backup file,
// and a failed JSON or CSV rendering is retried as console text.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a SafeReportGenerator. A nil config uses
// the console defaults.
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("Use one of the formats console, json or csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// Render writes one view to writer, applying the fallbacks when the first
// attempt fails.
func (srg *SafeReportGenerator) Render(view string, writer io.Writer, render RenderFunc) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithContext("view", view)
	}
	if render == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "render_"+view,
			fmt.Errorf("no renderer for view %q", view))
	}

	log := srg.logger.WithFields(logger.Fields{
		"view":   view,
		"format": srg.config.Format,
		"output": describeWriter(writer),
	})
	log.Debug("Rendering report")

	err := render(srg.ReportGenerator, writer)
	if err == nil {
		log.Debug("Report rendered")
		return nil
	}
	log.WithError(err).Warn("Report rendering failed, trying fallback")

	if file, ok := namedOutputFile(writer); ok && isFileError(err) {
		return srg.renderToBackup(view, file, render, err)
	}
	if srg.config.Format != FormatConsole {
		return srg.renderAsConsole(view, writer, render, err)
	}
	return renderError(view, err)
}

func (srg *SafeReportGenerator) renderAsConsole(view string, writer io.Writer, render RenderFunc, primary error) error {
	consoleConfig := *srg.config
	consoleConfig.Format = FormatConsole
	fallback, err := NewReportGenerator(&consoleConfig)
	if err != nil {
		return renderError(view, primary)
	}

	fmt.Fprintf(writer, "NOTE: %s format failed (%v), showing console output\n\n", srg.config.Format, primary)
	if err := render(fallback, writer); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "render_"+view,
			fmt.Errorf("console fallback failed: primary=%v, fallback=%v", primary, err))
	}

	srg.logger.WithField("view", view).Info("Report rendered as console fallback")
	return nil
}

func (srg *SafeReportGenerator) renderToBackup(view string, file *os.File, render RenderFunc, primary error) error {
	backupPath := generateBackupPath(file.Name())
	srg.logger.WithFields(logger.Fields{
		"view":        view,
		"output_file": file.Name(),
		"backup_file": backupPath,
	}).Info("Writing report to backup file")

	backup, err := os.Create(backupPath)
	if err != nil {
		return renderError(view, primary)
	}
	defer backup.Close()

	if err := render(srg.ReportGenerator, backup); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "render_"+view,
			fmt.Errorf("backup output failed: primary=%v, backup=%v", primary, err))
	}

	fmt.Fprintf(os.Stderr, "Warning: could not write %s, report saved to %s\n", file.Name(), backupPath)
	return nil
}

func renderError(view string, err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "render_"+view, err).
		WithSuggestion("Check the output destination and the --format value")
}

// namedOutputFile reports whether writer is a regular output file rather
// than stdout or stderr.
func namedOutputFile(writer io.Writer) (*os.File, bool) {
	file, ok := writer.(*os.File)
	if !ok || file.Name() == "" || file == os.Stdout || file == os.Stderr {
		return nil, false
	}
	return file, true
}

func isFileError(err error) bool {
	if os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}

func generateBackupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_backup" + ext
}

func describeWriter(writer io.Writer) string {
	if file, ok := writer.(*os.File); ok {
		return "file:" + file.Name()
	}
	return fmt.Sprintf("writer:%T", writer)
}
