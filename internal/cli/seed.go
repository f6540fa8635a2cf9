package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/omniport-systems/omniport/internal/seeder"
)

var (
	seedURL      string
	seedCount    int
	seedInterval time.Duration
	seedRisky    float64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send synthetic traffic to a running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return seeder.NewRunner(seeder.Config{
			GatewayURL: seedURL,
			Count:      seedCount,
			Interval:   seedInterval,
			RiskyRatio: seedRisky,
		}).Run()
	},
}

func init() {
	defaults := seeder.DefaultConfig()
	seedCmd.Flags().StringVar(&seedURL, "url", defaults.GatewayURL, "gateway base URL")
	seedCmd.Flags().IntVar(&seedCount, "count", defaults.Count, "number of requests to send")
	seedCmd.Flags().DurationVar(&seedInterval, "interval", defaults.Interval, "delay between requests")
	seedCmd.Flags().Float64Var(&seedRisky, "risky", defaults.RiskyRatio, "fraction of requests with risky content")
	rootCmd.AddCommand(seedCmd)
}
