package cmd

import (
	"fmt"
	"os"

	"MediaGuard/config"
	"MediaGuard/logger"
	"MediaGuard/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mediaguard",
	Short: "MediaGuard ingests, streams and annotates audio/video files.",
	// 不带子命令时直接启动服务
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads .env and initialises the global logger from it.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()
	return server.Start(cfg)
}
