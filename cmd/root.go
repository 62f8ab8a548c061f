package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/config"
	"github.com/sells-group/county-risk/internal/monitoring"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "county-risk",
	Short: "County-level PPP lending risk scoring",
	Long:  "Aggregates PPP loans to counties, scores each county against national or peer baselines, and serves the ranked table.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		switch cmd.Name() {
		case "migrate", "aggregate", "score", "runs", "serve":
			return cfg.Validate(cmd.Name())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// processMetrics registers the run metrics with the default registry once
// per process.
var processMetrics = sync.OnceValue(func() *monitoring.Metrics {
	return monitoring.NewMetrics(prometheus.DefaultRegisterer)
})

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
