package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lewtec/labelhub/annotation"
	"github.com/lewtec/labelhub/db"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigFile = "config.yaml"

var (
	config *annotation.Config
	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "labelhub",
	Short: "Collaborative image annotation server",
	Long: strings.TrimSpace(`
Split image datasets from local disk, AList or S3 into per-annotator tasks and collect
rectangles, polygons and OCR transcriptions over a JSON API.
    `),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		configFile, _ := cmd.Flags().GetString("config")
		if configFile == "" {
			if _, err := os.Stat(defaultConfigFile); err == nil {
				configFile = defaultConfigFile
			}
		}
		var err error
		config, err = annotation.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath, _ := cmd.Flags().GetString("database"); dbPath != "" {
			config.Database.Path = dbPath
		}
		logger, err = config.Logger()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// openStore opens the configured database and brings its schema up to date
func openStore() (*repository.Store, func(), error) {
	conn, err := db.Open(config.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return repository.NewStore(conn), func() { conn.Close() }, nil
}

// findUser resolves a user by id or by name
func findUser(ctx context.Context, store *repository.Store, ref string) (*domain.User, error) {
	u, err := store.Repos().Users.Get(ctx, ref)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	u, err = store.Repos().Users.GetByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("user '%s': %w", ref, err)
	}
	return u, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ./config.yaml when present)")
	rootCmd.PersistentFlags().StringP("database", "d", "", "Database file, overrides the config")
}
