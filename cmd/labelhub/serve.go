package main

import (
	"os/signal"
	"syscall"

	"github.com/lewtec/labelhub/annotation"
	"github.com/lewtec/labelhub/internal/ocr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the annotation web server",
	Long: `Start the HTTP server. The schema is migrated on start.

Example:
  labelhub serve -c config.yaml --addr :8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			config.Server.Addr = addr
		}
		if err := config.ValidateServe(); err != nil {
			return err
		}

		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		adapter, err := annotation.NewStorageAdapter(config, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		producer, err := ocr.Select(ctx, config.OCRConfig())
		if err != nil {
			logger.Info("OCR auto labeling disabled", zap.Error(err))
			producer = nil
		} else {
			logger.Info("OCR auto labeling enabled", zap.String("producer", producer.Name()))
		}

		app := annotation.NewApp(config, store, adapter, producer, logger)
		logger.Info("configuration",
			zap.String("database", config.Database.Path),
			zap.String("images", config.Storage.Server.ImagesDir),
			zap.Bool("serverless", config.Server.Serverless),
		)
		return app.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to bind the webserver, overrides the config")
}
