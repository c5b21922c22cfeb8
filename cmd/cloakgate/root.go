package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/observability"
	"github.com/shortontech/cloakgate/pkg/config"
)

// cli holds state shared by the subcommands once the root has loaded the
// configuration.
type cli struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "cloakgate",
		Short:         "Classifies inbound visitors and answers with the resource's cloaking policy.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			c.cfg = cfg

			observability.InitializeLogger(cfg.Logger)
			c.logger = observability.GetLogger()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "YAML config file; environment variables override it")

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newClassifyCmd(c))
	root.AddCommand(newSelftestCmd(c))
	return root
}
