package annotation

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lewtec/labelhub/internal/ocr"
	"github.com/lewtec/labelhub/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type LogLevel string

// Zap maps the level name to a zap level. An empty level is info.
func (l LogLevel) Zap() (zapcore.Level, error) {
	switch strings.ToLower(string(l)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level '%s'", l)
}

type Config struct {
	Meta struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"meta"`
	Server   ConfigServer   `yaml:"server"`
	Database ConfigDatabase `yaml:"database"`
	Log      ConfigLog      `yaml:"log"`
	Auth     ConfigAuth     `yaml:"auth"`
	Storage  ConfigStorage  `yaml:"storage"`
	OCR      ConfigOCR      `yaml:"ocr"`
}

type ConfigServer struct {
	Addr string `yaml:"addr"`
	// PublicURL prefixes the /img links handed to clients
	PublicURL      string   `yaml:"public_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Serverless disables the local filesystem backend
	Serverless bool `yaml:"serverless"`
}

type ConfigDatabase struct {
	Path string `yaml:"path"`
}

type ConfigLog struct {
	Level LogLevel `yaml:"level"`
	// Format is console or json
	Format string `yaml:"format"`
}

type ConfigAuth struct {
	Secret     string        `yaml:"secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	InviteCode string        `yaml:"invite_code"`
}

type ConfigStorage struct {
	Server ConfigServerStorage `yaml:"server"`
	Web    ConfigWebStorage    `yaml:"web"`
	S3     ConfigS3Storage     `yaml:"s3"`
}

type ConfigServerStorage struct {
	ImagesDir string `yaml:"images_dir"`
	TrashDir  string `yaml:"trash_dir"`
}

type ConfigWebStorage struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	ImagesDir string `yaml:"images_dir"`
	TrashDir  string `yaml:"trash_dir"`
}

type ConfigS3Storage struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ImagesDir       string `yaml:"images_dir"`
	TrashDir        string `yaml:"trash_dir"`
	PublicURL       string `yaml:"public_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type ConfigOCR struct {
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	GeminiModel    string `yaml:"gemini_model"`
	DoubaoAPIKey   string `yaml:"doubao_api_key"`
	DoubaoModel    string `yaml:"doubao_model"`
	DoubaoThinking bool   `yaml:"doubao_thinking"`
	Prompt         string `yaml:"prompt"`
}

// DefaultConfig returns the configuration used when a key is absent everywhere
func DefaultConfig() *Config {
	var c Config
	c.Meta.Name = "labelhub"
	c.Server.Addr = ":8080"
	c.Server.PublicURL = "http://localhost:8080"
	c.Database.Path = "labelhub.db"
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.Auth.TokenTTL = 30 * 24 * time.Hour
	c.Storage.Server.ImagesDir = "/"
	c.Storage.Server.TrashDir = "/trash"
	c.Storage.Web.ImagesDir = "/"
	c.Storage.Web.TrashDir = "/trash"
	c.Storage.S3.Region = "auto"
	c.Storage.S3.ImagesDir = "/"
	c.Storage.S3.TrashDir = "/trash"
	return &c
}

// LoadConfig reads filename over the defaults, then a .env file in the working
// directory, then the process environment. An empty filename skips the yaml step.
func LoadConfig(filename string) (*Config, error) {
	ret := DefaultConfig()
	if filename != "" {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, ret); err != nil {
			return nil, fmt.Errorf("while parsing config '%s': %w", filename, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("while loading .env: %w", err)
	}
	ret.ApplyEnv(os.LookupEnv)
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

// ApplyEnv overrides settings with the deployment variables that are set
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			*dst = err == nil && b
		}
	}

	str("LABELHUB_ADDR", &c.Server.Addr)
	str("LABELHUB_PUBLIC_URL", &c.Server.PublicURL)
	str("LABELHUB_LOG_LEVEL", (*string)(&c.Log.Level))
	str("DATABASE_URL", &c.Database.Path)
	str("AUTH_SECRET", &c.Auth.Secret)
	str("INVITE_CODE", &c.Auth.InviteCode)
	flag("VERCEL", &c.Server.Serverless)

	str("SERVER_IMAGES_DIR", &c.Storage.Server.ImagesDir)
	str("SERVER_IMAGES_TRASH_DIR", &c.Storage.Server.TrashDir)

	str("ALIST_URL", &c.Storage.Web.URL)
	str("ALIST_TOKEN", &c.Storage.Web.Token)
	str("ALIST_IMAGES_DIR", &c.Storage.Web.ImagesDir)
	str("ALIST_IMAGES_TRASH_DIR", &c.Storage.Web.TrashDir)

	str("BUCKET_NAME", &c.Storage.S3.Bucket)
	str("AWS_REGION", &c.Storage.S3.Region)
	str("AWS_ENDPOINT", &c.Storage.S3.Endpoint)
	str("AWS_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)
	str("AWS_IMAGES_DIR", &c.Storage.S3.ImagesDir)
	str("AWS_IMAGES_TRASH_DIR", &c.Storage.S3.TrashDir)
	str("AWS_URL", &c.Storage.S3.PublicURL)

	str("GEMINI_API_KEY", &c.OCR.GeminiAPIKey)
	str("DOUBAO_API_KEY", &c.OCR.DoubaoAPIKey)
	str("DOUBAO_MODEL_NAME", &c.OCR.DoubaoModel)
	flag("DOUBAO_IS_THINKING", &c.OCR.DoubaoThinking)
	str("PROMPT", &c.OCR.Prompt)
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if _, err := c.Log.Level.Zap(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format '%s'", c.Log.Format)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("no database path specified")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth token_ttl must not be negative")
	}
	return nil
}

// ValidateServe additionally requires what the HTTP server needs
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("no auth secret specified, set auth.secret or AUTH_SECRET")
	}
	return nil
}

// Logger builds the root logger
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := c.Log.Level.Zap()
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if c.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func (c *Config) LocalOptions() storage.LocalOptions {
	return storage.LocalOptions{
		ImagesDir:  c.Storage.Server.ImagesDir,
		TrashDir:   c.Storage.Server.TrashDir,
		Serverless: c.Server.Serverless,
		URLPrefix:  c.Server.PublicURL,
	}
}

func (c *Config) AListOptions() storage.AListOptions {
	w := c.Storage.Web
	return storage.AListOptions{URL: w.URL, Token: w.Token, ImagesDir: w.ImagesDir, TrashDir: w.TrashDir}
}

func (c *Config) S3Options() storage.S3Options {
	s := c.Storage.S3
	return storage.S3Options{
		Bucket:          s.Bucket,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		ImagesDir:       s.ImagesDir,
		TrashDir:        s.TrashDir,
		UsePathStyle:    s.UsePathStyle,
		PublicURL:       s.PublicURL,
	}
}

func (c *Config) OCRConfig() ocr.Config {
	return ocr.Config{
		GeminiAPIKey:   c.OCR.GeminiAPIKey,
		GeminiModel:    c.OCR.GeminiModel,
		DoubaoAPIKey:   c.OCR.DoubaoAPIKey,
		DoubaoModel:    c.OCR.DoubaoModel,
		DoubaoThinking: c.OCR.DoubaoThinking,
		Prompt:         c.OCR.Prompt,
	}
}
