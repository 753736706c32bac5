package cmd

import (
	"ledger-matching-service/cmd/reconciler/config"
	"ledger-matching-service/internal/api"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger and the reconciliation passes over HTTP",
	Long: `Serve starts the HTTP API on the configured port and stops gracefully on
SIGINT or SIGTERM. Only one reconciliation runs at a time; a request that
cannot get its turn before it is cancelled receives 409.

Examples:
  reconciler serve
  reconciler serve --port 9090 --log-format json
  RECONCILER_SERVER_PORT=9090 reconciler serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "port to listen on")
	viper.BindPFlag(config.KeyServerPort, serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	serverConfig, err := config.CreateServerConfig(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server", nil, err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := newService(store)
	if err != nil {
		return err
	}

	if !viper.GetBool(config.KeyVerbose) {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := api.NewServer(store, service, serverConfig, logger.GetGlobalLogger())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server", nil, err)
	}
	return server.Run(ctx)
}
