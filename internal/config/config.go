// Package config reads application settings from config.env and
// MEDIAFETCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"github.com/vm-affekt/mediafetch/internal/logging"
)

const envPrefix = "MEDIAFETCH"

const (
	KeyMode                       = "MODE"
	KeyLogFilePath                = "LOG_FILE_PATH"
	KeyTelegramAPIKey             = "TELEGRAM_API_KEY"
	KeyTelegramLongPollingTimeout = "TELEGRAM_LONG_POLLING_TIMEOUT"
	KeyHTTPAddr                   = "HTTP_ADDR"
	KeyStagingDir                 = "STAGING_DIR"
	KeyFFmpegPath                 = "FFMPEG_PATH"
	KeyDownloadTimeout            = "DOWNLOAD_TIMEOUT"
	KeyTranscodeTimeout           = "TRANSCODE_TIMEOUT"
	KeyRequestTimeout             = "REQUEST_TIMEOUT"
	KeyMaxUploadSizeMB            = "MAX_UPLOAD_SIZE_MB"
	KeyInstagramBaseURL           = "INSTAGRAM_BASE_URL"
	KeyKeepFailedStaging          = "KEEP_FAILED_STAGING"
)

type Config struct {
	Mode        string
	LogFilePath string

	TelegramAPIKey             string
	TelegramLongPollingTimeout int

	HTTPAddr string

	StagingDir        string
	FFmpegPath        string
	DownloadTimeout   time.Duration
	TranscodeTimeout  time.Duration
	RequestTimeout    time.Duration
	MaxUploadSizeMB   int64
	InstagramBaseURL  string
	KeepFailedStaging bool

	// ConfigFile is the file the settings were read from, empty when only
	// the environment was used.
	ConfigFile string
}

// Debug reports whether the application runs in debug mode.
func (c Config) Debug() bool {
	return c.Mode == logging.ModeDebug
}

// New returns a viper instance with the search paths, env binding and
// defaults used by Load.
func New() *viper.Viper {
	v := viper.New()
	v.AddConfigPath("/etc/mediafetch")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetConfigName("config")
	v.SetConfigType("env")

	v.AutomaticEnv()

	v.SetDefault(KeyMode, logging.ModeDebug)
	v.SetDefault(KeyTelegramLongPollingTimeout, 60)
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyStagingDir, os.TempDir())
	v.SetDefault(KeyFFmpegPath, "ffmpeg")
	v.SetDefault(KeyDownloadTimeout, 10*time.Minute)
	v.SetDefault(KeyTranscodeTimeout, 10*time.Minute)
	v.SetDefault(KeyRequestTimeout, 30*time.Minute)
	v.SetDefault(KeyMaxUploadSizeMB, 48)
	v.SetDefault(KeyInstagramBaseURL, "https://www.instagram.com")
	v.SetDefault(KeyKeepFailedStaging, false)
	return v
}

// Load reads the config file if there is one and decodes the settings.
// A missing file is not an error: the environment is used instead.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config (used file: %q): %w", v.ConfigFileUsed(), err)
		}
	}
	cfg := Config{
		Mode:                       v.GetString(KeyMode),
		LogFilePath:                v.GetString(KeyLogFilePath),
		TelegramAPIKey:             v.GetString(KeyTelegramAPIKey),
		TelegramLongPollingTimeout: v.GetInt(KeyTelegramLongPollingTimeout),
		HTTPAddr:                   v.GetString(KeyHTTPAddr),
		StagingDir:                 v.GetString(KeyStagingDir),
		FFmpegPath:                 v.GetString(KeyFFmpegPath),
		DownloadTimeout:            v.GetDuration(KeyDownloadTimeout),
		TranscodeTimeout:           v.GetDuration(KeyTranscodeTimeout),
		RequestTimeout:             v.GetDuration(KeyRequestTimeout),
		MaxUploadSizeMB:            v.GetInt64(KeyMaxUploadSizeMB),
		InstagramBaseURL:           v.GetString(KeyInstagramBaseURL),
		KeepFailedStaging:          v.GetBool(KeyKeepFailedStaging),
		ConfigFile:                 v.ConfigFileUsed(),
	}
	if cfg.Mode == "" {
		cfg.Mode = logging.ModeDebug
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case logging.ModeProduction, logging.ModeDebug:
	default:
		return fmt.Errorf("unknown mode %q in %s: use %q, %q or leave it empty", c.Mode, KeyMode, logging.ModeProduction, logging.ModeDebug)
	}
	if c.StagingDir == "" {
		return fmt.Errorf("%s can't be empty", KeyStagingDir)
	}
	if c.FFmpegPath == "" {
		return fmt.Errorf("%s can't be empty", KeyFFmpegPath)
	}
	if c.DownloadTimeout < 0 || c.TranscodeTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts can't be negative")
	}
	if c.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyMaxUploadSizeMB, c.MaxUploadSizeMB)
	}
	return nil
}

// RequireTelegram checks the settings the bot can't start without.
func (c Config) RequireTelegram() error {
	if c.TelegramAPIKey == "" {
		return fmt.Errorf("%s can't be empty", KeyTelegramAPIKey)
	}
	return nil
}
