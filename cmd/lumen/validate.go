package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lumen-hq/lumen/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the server.

The same strict pipeline used at startup runs: YAML decoding with unknown
fields rejected, defaults applied, and every range, uniqueness, and
cross-reference rule checked.

Examples:
  # Validate the default config file
  lumen validate

  # Validate a specific file
  lumen validate --config /etc/lumen/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Configuration valid: %d forwards, %d upstreams, %d groups\n",
			len(cfg.HTTPServer.Forwards),
			len(cfg.Upstreams),
			len(cfg.UpstreamGroups),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
