package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LOME-AI/HushBox-sub006/internal/app"
	"github.com/LOME-AI/HushBox-sub006/internal/config"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "hushbox-metering",
		Short:   "Budget and reservation engine for metered inference",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the metering API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServer(context.Background(), config.AppConfig{ConfigPath: *configPath})
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(context.Background(), config.AppConfig{ConfigPath: *configPath})
		},
	}
}
