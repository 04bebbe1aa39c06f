package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lewtec/labelhub/annotation"
	"github.com/lewtec/labelhub/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [folder]",
	Short: "Initialize a new labelhub project",
	Long: `Initialize a new labelhub project by creating:
- A sample configuration file (config.yaml)
- A migrated SQLite database (labelhub.db)
- An images directory

Example:
  labelhub init ./my-project`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skipConfig": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := "."
		if len(args) == 1 {
			folder = args[0]
		}
		folder, err := filepath.Abs(folder)
		if err != nil {
			return err
		}
		configFile := filepath.Join(folder, "config.yaml")
		databaseFile := filepath.Join(folder, "labelhub.db")
		imagesDir := filepath.Join(folder, "images")
		out := cmd.OutOrStdout()

		if err := os.MkdirAll(imagesDir, 0o755); err != nil {
			return fmt.Errorf("failed to create images directory: %w", err)
		}
		fmt.Fprintf(out, "Images directory: %s\n", imagesDir)

		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			if err := createSampleConfig(configFile, databaseFile, imagesDir); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			fmt.Fprintf(out, "Created configuration file: %s\n", configFile)
		} else {
			fmt.Fprintf(out, "Config file already exists: %s\n", configFile)
		}

		cfg, err := annotation.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		conn, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		defer conn.Close()
		if err := db.Migrate(conn, zap.NewNop()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database ready: %s\n", cfg.Database.Path)

		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintf(out, "  labelhub -c %s user add <name>\n", configFile)
		fmt.Fprintf(out, "  labelhub -c %s serve\n", configFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func createSampleConfig(filename, databaseFile, imagesDir string) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	sampleConfig := fmt.Sprintf(`# labelhub configuration file
# Every key can also be set through the environment, see the variable next to it.

meta:
  name: "labelhub"
  description: |
    Sample annotation project.

server:
  addr: ":8080"
  # Prefix of the image links handed to clients
  public_url: "http://localhost:8080"
  # allowed_origins: ["http://localhost:3000"]
  # serverless: false                # VERCEL

database:
  path: %q                           # DATABASE_URL

log:
  level: info
  format: console

auth:
  secret: %q                         # AUTH_SECRET
  token_ttl: 720h
  # invite_code: ""                  # INVITE_CODE, enables POST /pre

storage:
  server:
    images_dir: %q                   # SERVER_IMAGES_DIR
    trash_dir: %q                    # SERVER_IMAGES_TRASH_DIR
  # web:
  #   url: "https://alist.example.com"  # ALIST_URL
  #   token: ""                         # ALIST_TOKEN
  #   images_dir: "/"                   # ALIST_IMAGES_DIR
  #   trash_dir: "/trash"               # ALIST_IMAGES_TRASH_DIR
  # s3:
  #   bucket: ""                        # BUCKET_NAME
  #   region: auto                      # AWS_REGION
  #   endpoint: ""                      # AWS_ENDPOINT
  #   access_key_id: ""                 # AWS_ACCESS_KEY_ID
  #   secret_access_key: ""             # AWS_SECRET_ACCESS_KEY
  #   images_dir: "/"                   # AWS_IMAGES_DIR
  #   trash_dir: "/trash"               # AWS_IMAGES_TRASH_DIR
  #   public_url: ""                    # AWS_URL

# ocr:
#   gemini_api_key: ""                  # GEMINI_API_KEY
#   doubao_api_key: ""                  # DOUBAO_API_KEY
#   doubao_model: ""                    # DOUBAO_MODEL_NAME
#   doubao_thinking: false              # DOUBAO_IS_THINKING
#   prompt: ""                          # PROMPT
`, databaseFile, hex.EncodeToString(secret), imagesDir, filepath.Join(filepath.Dir(imagesDir), "trash"))

	return os.WriteFile(filename, []byte(sampleConfig), 0o600)
}
