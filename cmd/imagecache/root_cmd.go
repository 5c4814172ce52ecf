package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmgilman/go/imagecache"
	"github.com/jmgilman/go/imagecache/internal/telemetry"
)

type rootOpts struct {
	configPath string
	dir        string
	logLevel   string
	baseURL    string

	// cacheOpts are appended when the cache is built. Tests use them to
	// inject a filesystem or fetcher.
	cacheOpts []imagecache.Option

	cache    *imagecache.Cache
	shutdown func(context.Context) error
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
imagecache fetches remote images and keeps saved ones on disk.

Workflow:
  imagecache get https://images.example.com/a.jpg -o a.jpg   # Download an image.
  imagecache save 2024/ad.jpg ad-42                           # Save an image under a stable ID.
  imagecache load ad-42 -o ad.jpg                             # Read it back without the network.
  imagecache list                                             # Which images are saved?
  imagecache delete ad-42                                     # Forget a saved image.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "imagecache",
		Long:               rootLongHelp,
		SilenceUsage:       true,
		PersistentPreRunE:  opts.PersistentPreRunE,
		PersistentPostRunE: opts.PersistentPostRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to a YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "d", "",
		fmt.Sprintf("directory holding saved images; you can also set %sDIRECTORY", imagecache.EnvPrefix))
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "",
		fmt.Sprintf("base URL for relative locators; you can also set %sBASE_URL", imagecache.EnvPrefix))

	cmd.AddCommand(
		newGet(opts).Command(),
		newSave(opts).Command(),
		newLoad(opts).Command(),
		newDelete(opts).Command(),
		newList(opts).Command(),
		newStats(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	cfg, err := imagecache.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("dir") {
		cfg.Directory = opts.dir
	}
	if cmd.Flags().Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}

	opts.shutdown, err = telemetry.SetupTracing(cmd.Context(), "imagecache")
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	opts.cache, err = imagecache.New(append([]imagecache.Option{imagecache.WithConfig(cfg)}, opts.cacheOpts...)...)
	return err
}

func (opts *rootOpts) PersistentPostRunE(cmd *cobra.Command, _ []string) error {
	if opts.cache != nil {
		if err := opts.cache.Close(); err != nil {
			return err
		}
	}
	if opts.shutdown != nil {
		return opts.shutdown(context.WithoutCancel(cmd.Context()))
	}
	return nil
}
