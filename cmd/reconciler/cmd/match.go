package cmd

import (
	"io"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/reconciler"
	"ledger-matching-service/internal/reporter"
	"ledger-matching-service/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	residueIn  string
	residueOut string
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run a reconciliation pass over the ledger",
	Long: `Match runs one reconciliation pass and replaces the stored results.

The strict pass requires the bill and payment totals of a group to be equal.
The loose pass accepts a configurable difference (900 by default) and is
usually restricted to the residue of a previous pass.

Examples:
  reconciler match strict --residue-out residue.json
  reconciler match loose --residue-in residue.json --residue-out left.yaml
  reconciler match loose --format json`,
}

var matchStrictCmd = &cobra.Command{
	Use:   "strict",
	Short: "Match with exact totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMatch(cmd, func(service *reconciler.Service) (*reconciler.RunResult, error) {
			return service.ReconcileStrict(cmd.Context())
		})
	},
}

var matchLooseCmd = &cobra.Command{
	Use:   "loose",
	Short: "Match within the loose tolerance, optionally on a previous residue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var previous *models.UnmatchedSet
		if residueIn != "" {
			set, err := readResidue(residueIn)
			if err != nil {
				return err
			}
			previous = set
		}

		return runMatch(cmd, func(service *reconciler.Service) (*reconciler.RunResult, error) {
			return service.ReconcileLoose(cmd.Context(), previous)
		})
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.AddCommand(matchStrictCmd, matchLooseCmd)

	matchCmd.PersistentFlags().StringVar(&residueOut, "residue-out", "", "write the unmatched ids to this file (.json or .yaml)")
	matchLooseCmd.Flags().StringVar(&residueIn, "residue-in", "", "restrict the pass to the unmatched ids in this file")
}

func runMatch(cmd *cobra.Command, run func(*reconciler.Service) (*reconciler.RunResult, error)) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := newService(store)
	if err != nil {
		return err
	}

	result, err := run(service)
	if err != nil {
		return err
	}

	if residueOut != "" {
		if err := writeResidue(residueOut, result.Unmatched); err != nil {
			return err
		}
		logger.GetGlobalLogger().WithFields(logger.Fields{
			"file":     residueOut,
			"bills":    len(result.Unmatched.BillIDs),
			"payments": len(result.Unmatched.PaymentIDs),
		}).Info("Residue written")
	}

	return writeReport(cmd, "run", func(g *reporter.ReportGenerator, w io.Writer) error {
		return g.GenerateReport(result, w)
	})
}
