package cmd

import (
	"fmt"
	"io"
	"strconv"

	"ledger-matching-service/internal/reporter"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/spf13/cobra"
)

var unmatchedResidue string

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the report rows of the latest run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.ReportRows(cmd.Context())
		if err != nil {
			return err
		}
		return writeReport(cmd, "rows", func(g *reporter.ReportGenerator, w io.Writer) error {
			return g.GenerateRowsReport(rows, w)
		})
	},
}

var unmatchedCmd = &cobra.Command{
	Use:   "unmatched",
	Short: "Show the names and amounts of a residue file",
	Long: `Unmatched resolves the ids of a residue file written by
'match --residue-out' into bills and payments with names and amounts.

Example:
  reconciler unmatched --residue-in residue.yaml --format csv`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if unmatchedResidue == "" {
			return errors.ValidationError(errors.CodeMissingField, "residue-in", nil, nil).
				WithSuggestion("Pass the file written by 'reconciler match --residue-out'")
		}
		set, err := readResidue(unmatchedResidue)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		detail, err := store.UnmatchedDetail(cmd.Context(), *set)
		if err != nil {
			return err
		}
		return writeReport(cmd, "unmatched", func(g *reporter.ReportGenerator, w io.Writer) error {
			return g.GenerateUnmatchedReport(detail, w)
		})
	},
}

var groupCmd = &cobra.Command{
	Use:   "group <id>",
	Short: "Show the bills and payments of one match group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id < 1 {
			return errors.ValidationError(errors.CodeInvalidData, "id", args[0], err).
				WithSuggestion("Group ids are positive integers, see 'reconciler results'")
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		detail, err := store.GroupDetail(cmd.Context(), id)
		if err != nil {
			return err
		}
		return writeReport(cmd, "group", func(g *reporter.ReportGenerator, w io.Writer) error {
			return g.GenerateGroupReport(detail, w)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count the stored records and the latest results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return writeReport(cmd, "stats", func(g *reporter.ReportGenerator, w io.Writer) error {
			return g.GenerateStatsReport(stats, w)
		})
	},
}

var clearConfirmed bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every bill, payment and result from the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			return errors.ValidationError(errors.CodeMissingField, "yes", nil, nil).
				WithSuggestion("Pass --yes to confirm deleting the ledger")
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		err = logger.TimedOperation("clear_ledger", logger.GetGlobalLogger(), func() error {
			return store.ClearLedger(cmd.Context())
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", store.Path())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reconciler %s\n", getVersionString())
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd, unmatchedCmd, groupCmd, statsCmd, clearCmd, versionCmd)

	unmatchedCmd.Flags().StringVar(&unmatchedResidue, "residue-in", "", "residue file written by 'match --residue-out' (required)")
	clearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "confirm deleting the ledger")
}
