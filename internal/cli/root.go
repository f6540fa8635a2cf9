// Package cli defines the omniport command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "omniport",
	Short: "Universal ingress gateway",
	Long: `omniport is a universal ingress gateway: it accepts raw input from
text, voice, webhook, API, RCS, and WhatsApp channels, normalizes it into
canonical events, scores each for risk, and routes it to the right
destination handler with circuit breaking and dead-letter retry.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
}
