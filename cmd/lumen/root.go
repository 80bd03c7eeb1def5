package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Lumen - reverse proxy and load balancer for LLM APIs",
	Long: `Lumen is a reverse proxy and intelligent load balancer built for LLM
HTTP APIs.

It forwards client requests to groups of backend inference services,
providing:
  - Five balance strategies including response-aware selection
  - Per-upstream circuit breaking with automatic recovery probes
  - Streaming-aware forwarding with retries and idle watchdogs
  - Path-based routing, rate limiting, and hot configuration reload
  - A management API with Prometheus metrics`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging and debug endpoints")
}
