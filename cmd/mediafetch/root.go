package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vm-affekt/mediafetch/internal/config"
	"github.com/vm-affekt/mediafetch/internal/downloader"
	"github.com/vm-affekt/mediafetch/internal/fetcher"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/packager"
	"github.com/vm-affekt/mediafetch/internal/resolver"
	"github.com/vm-affekt/mediafetch/internal/transcoder"
	"go.uber.org/zap"
)

var version = "dev"

// env is what every subcommand gets after the config and logger are set up.
type env struct {
	v      *viper.Viper
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	root, _ := newCLI()
	return root
}

func newCLI() (*cobra.Command, *env) {
	e := &env{v: config.New()}
	var configFile string

	root := &cobra.Command{
		Use:   "mediafetch",
		Short: "Download audio and video from YouTube and Instagram",
		Long: `mediafetch - fetch, transcode and package online media

Resolves a YouTube video or playlist, or an Instagram post, downloads the
best matching stream, converts it to MP3 or MP4 with ffmpeg and bundles
collections into a ZIP archive.

Settings come from config.env (searched in /etc/mediafetch, ./configs and .)
and MEDIAFETCH_* environment variables. Flags override both.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.setup(configFile)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	root.Version = version
	root.SetVersionTemplate("mediafetch {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (env format)")
	flags.String("mode", "", "Environment mode: 'prod' or 'debug'")
	flags.String("staging-dir", "", "Directory for per-request workspaces")
	flags.String("ffmpeg", "", "Path to the ffmpeg binary")
	flags.Duration("download-timeout", 0, "Bound of one stream transfer")
	flags.Duration("transcode-timeout", 0, "Bound of one ffmpeg run")
	flags.Bool("keep-failed", false, "Keep the workspace of a failed download")
	bindFlags(e.v, root, map[string]string{
		"mode":              config.KeyMode,
		"staging-dir":       config.KeyStagingDir,
		"ffmpeg":            config.KeyFFmpegPath,
		"download-timeout":  config.KeyDownloadTimeout,
		"transcode-timeout": config.KeyTranscodeTimeout,
		"keep-failed":       config.KeyKeepFailedStaging,
	})

	root.AddCommand(newGetCmd(e), newServeCmd(e), newBotCmd(e))
	return root, e
}

// bindFlags makes flags override the config keys they are mapped to.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			f = cmd.Flags().Lookup(flag)
		}
		if f == nil {
			panic(fmt.Sprintf("flag %q is not defined on %q", flag, cmd.Name()))
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}

func (e *env) setup(configFile string) error {
	if configFile != "" {
		e.v.SetConfigFile(configFile)
	}
	cfg, err := config.Load(e.v)
	if err != nil {
		return err
	}
	logger, err := logging.Build(cfg.Mode, cfg.LogFilePath)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logging.SetLogger(logger)
	e.cfg, e.logger = cfg, logger

	log := logger.Sugar()
	log.Infof("[MEDIAFETCH] Application is running. Environment mode=%q", cfg.Mode)
	if cfg.ConfigFile != "" {
		log.Infof("Used config file path: %v", cfg.ConfigFile)
	} else {
		log.Info("No config file found. Environment variables and flags will be used as config.")
	}
	return nil
}

// pipeline wires the download service and the link validator it shares
// with the bot.
type pipeline struct {
	registry *resolver.Registry
	service  *downloader.Service
}

func (e *env) pipeline() pipeline {
	// Transfers are bounded by contexts, not by a client timeout.
	httpClient := &http.Client{}
	registry := resolver.NewRegistry(
		resolver.NewYouTube(httpClient),
		resolver.NewInstagram(httpClient, e.cfg.InstagramBaseURL),
	)
	service := downloader.New(
		registry,
		fetcher.New(registry, httpClient, e.cfg.DownloadTimeout),
		transcoder.New(e.cfg.FFmpegPath, e.cfg.TranscodeTimeout),
		packager.New(),
		downloader.Options{
			StagingDir:        e.cfg.StagingDir,
			KeepFailedStaging: e.cfg.KeepFailedStaging,
		},
	)
	return pipeline{registry: registry, service: service}
}
