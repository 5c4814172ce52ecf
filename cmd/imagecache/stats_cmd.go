package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jmgilman/go/imagecache"
)

type statsOpts struct {
	*rootOpts
}

func newStats(parent *rootOpts) *statsOpts {
	return &statsOpts{rootOpts: parent}
}

func (opts *statsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "print cache statistics as JSON",
		RunE:  opts.RunE,
	}
	return cmd
}

func (opts *statsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}

	ids, err := opts.cache.Saved(cmd.Context())
	if err != nil {
		return err
	}

	usage, err := opts.cache.DiskUsage(cmd.Context())
	if err != nil {
		return err
	}

	out := struct {
		Saved     int              `json:"saved"`
		DiskBytes int64            `json:"disk_bytes"`
		Cache     imagecache.Stats `json:"cache"`
	}{Saved: len(ids), DiskBytes: usage, Cache: opts.cache.Stats()}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
