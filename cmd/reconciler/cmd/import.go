package cmd

import (
	"fmt"
	"io"

	"ledger-matching-service/cmd/reconciler/config"
	"ledger-matching-service/internal/reconciler"
	"ledger-matching-service/internal/reporter"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	billFile     string
	paymentFile  string
	encoding     string
	showProgress bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Append bill and payment CSV files to the ledger",
	Long: `Import parses a bill file, a payment file, or both, and appends the rows to
the ledger. Rows with an empty name or an unreadable amount are skipped and
reported. Both files are parsed concurrently.

Examples:
  reconciler import --bills bills.csv --payments payments.csv
  reconciler import --payments deposits.csv --encoding shift_jis
  reconciler import --bills bills.csv --reject-non-positive --progress`,
	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&billFile, "bills", "b", "", "path to the bill CSV file")
	importCmd.Flags().StringVarP(&paymentFile, "payments", "p", "", "path to the payment CSV file")
	importCmd.Flags().StringVar(&encoding, "encoding", "", "file encoding: utf-8, shift_jis (default from config)")
	importCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")
	importCmd.Flags().Bool("reject-non-positive", false, "drop rows whose amount is zero or negative")
	importCmd.Flags().Bool("remove-duplicates", false, "drop rows repeating an earlier row of the same file")

	viper.BindPFlag(config.KeyRejectNonPositive, importCmd.Flags().Lookup("reject-non-positive"))
	viper.BindPFlag(config.KeyRemoveDuplicates, importCmd.Flags().Lookup("remove-duplicates"))
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if billFile == "" && paymentFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "bills/payments", nil, nil).
			WithSuggestion("Pass --bills, --payments or both")
	}
	if billFile != "" {
		if err := validateFileExists(billFile, "bill file"); err != nil {
			return err
		}
	}
	if paymentFile != "" {
		if err := validateFileExists(paymentFile, "payment file"); err != nil {
			return err
		}
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.GetGlobalLogger()

	billConfig, paymentConfig, err := config.CreateParserConfigs(viper.GetViper(), encoding)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "parser", encoding, err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	orchestrator, err := reconciler.NewImportOrchestrator(store, config.CreatePreprocessingConfig(viper.GetViper()), log)
	if err != nil {
		return err
	}
	if showProgress {
		stderr := cmd.ErrOrStderr()
		orchestrator.AddProgressCallback(func(p *reconciler.ImportProgress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %s (%.1f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
		})
	}

	result, err := orchestrator.Import(ctx, &reconciler.ImportRequest{
		BillFile:      billFile,
		PaymentFile:   paymentFile,
		BillConfig:    billConfig,
		PaymentConfig: paymentConfig,
	})
	if showProgress {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return err
	}

	return writeReport(cmd, "import", func(g *reporter.ReportGenerator, w io.Writer) error {
		return g.GenerateImportReport(result, w)
	})
}
