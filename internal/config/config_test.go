package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.True(t, cfg.Debug())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 10*time.Minute, cfg.DownloadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.RequestTimeout)
	assert.EqualValues(t, 48, cfg.MaxUploadSizeMB)
	assert.Equal(t, "https://www.instagram.com", cfg.InstagramBaseURL)
	assert.False(t, cfg.KeepFailedStaging)
	assert.Empty(t, cfg.ConfigFile)
	assert.Error(t, cfg.RequireTelegram())
}

func TestLoad_FromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MEDIAFETCH_MODE", "prod")
	t.Setenv("MEDIAFETCH_DOWNLOAD_TIMEOUT", "90s")
	t.Setenv("MEDIAFETCH_MAX_UPLOAD_SIZE_MB", "20")
	t.Setenv("MEDIAFETCH_KEEP_FAILED_STAGING", "true")
	t.Setenv("MEDIAFETCH_TELEGRAM_API_KEY", "123:abc")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Mode)
	assert.False(t, cfg.Debug())
	assert.Equal(t, 90*time.Second, cfg.DownloadTimeout)
	assert.EqualValues(t, 20, cfg.MaxUploadSizeMB)
	assert.True(t, cfg.KeepFailedStaging)
	assert.NoError(t, cfg.RequireTelegram())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	content := "HTTP_ADDR=127.0.0.1:9000\nFFMPEG_PATH=/opt/ffmpeg/bin/ffmpeg\nTRANSCODE_TIMEOUT=2m\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.env"), []byte(content), 0o644))

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 2*time.Minute, cfg.TranscodeTimeout)
	assert.NotEmpty(t, cfg.ConfigFile)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Mode: "debug", StagingDir: "/tmp", FFmpegPath: "ffmpeg", MaxUploadSizeMB: 48}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "should_accept_valid", mutate: func(c *Config) {}},
		{name: "should_reject_unknown_mode", mutate: func(c *Config) { c.Mode = "staging" }, wantErr: true},
		{name: "should_reject_empty_staging_dir", mutate: func(c *Config) { c.StagingDir = "" }, wantErr: true},
		{name: "should_reject_negative_timeout", mutate: func(c *Config) { c.TranscodeTimeout = -time.Second }, wantErr: true},
		{name: "should_reject_zero_upload_size", mutate: func(c *Config) { c.MaxUploadSizeMB = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}
