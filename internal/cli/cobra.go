package cli

import (
	"github.com/Anthya1104/ec-aggregate/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var scenario string

var (
	aggLo               uint64
	aggHi               uint64
	aggCreditsMax       int
	aggIsCurrent        bool
	aggChecksumsEnabled bool
)

var rootCmd = &cobra.Command{
	Use:   "ecaggd",
	Short: "EC aggregation engine demo CLI",
	Run: func(cmd *cobra.Command, args []string) {
		logrus.Info("ecaggd: use 'aggregate', 'simulate --scenario <name>', or 'version'")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		logrus.Infof("Version: %s", config.Version)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one EC aggregation scenario against in-memory fakes",
	Run: func(cmd *cobra.Command, args []string) {
		if scenario == "" {
			logrus.Error("Please provide --scenario")
			return
		}
		if err := RunSimulation(scenario); err != nil {
			logrus.Errorf("simulation failed: %v", err)
		}
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run the EC aggregation engine over an epoch range",
	Run: func(cmd *cobra.Command, args []string) {
		if err := RunAggregate(AggregateOptions{
			Lo:               aggLo,
			Hi:               aggHi,
			CreditsMax:       aggCreditsMax,
			IsCurrent:        aggIsCurrent,
			ChecksumsEnabled: aggChecksumsEnabled,
		}); err != nil {
			logrus.Errorf("aggregate failed: %v", err)
		}
	},
}

// InitCLI builds the command tree, mirroring raid-simulator's
// InitCLI/ExecuteCmd split so cmd/ecaggd stays a thin wrapper.
func InitCLI() *cobra.Command {
	simulateCmd.Flags().StringVar(&scenario, "scenario", "", "scenario to run (full-encode, drop, partial-update, hole-fill)")

	aggregateCmd.Flags().Uint64Var(&aggLo, "lo", 0, "lower bound (inclusive) of the epoch range to aggregate")
	aggregateCmd.Flags().Uint64Var(&aggHi, "hi", 5, "upper bound (inclusive) of the epoch range to aggregate")
	aggregateCmd.Flags().IntVar(&aggCreditsMax, "credits-max", config.DefaultCreditsMax, "iteration calls between cooperative yields")
	aggregateCmd.Flags().BoolVar(&aggIsCurrent, "is-current", true, "advance the aggregated-epoch watermark of each object the run led, on full success")
	aggregateCmd.Flags().BoolVar(&aggChecksumsEnabled, "checksums-enabled", false, "carried into aggregate.Config; the engine does not act on it")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(aggregateCmd)

	return rootCmd
}

func ExecuteCmd() error {
	return InitCLI().Execute()
}
