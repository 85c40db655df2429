package worker

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/config"
	"github.com/jmehdipour/sms-sequencer/internal/logger"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the sequence scheduler outside the HTTP server",
	}
	// attach subcommands
	cmd.AddCommand(tickCmd)
	cmd.AddCommand(listenCmd)
	cmd.AddCommand(publishTickCmd)

	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger.Init(cfg.Log.Level), nil
}
