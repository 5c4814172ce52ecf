package main

import (
	"github.com/spf13/cobra"
)

type deleteOpts struct {
	*rootOpts
}

func newDelete(parent *rootOpts) *deleteOpts {
	return &deleteOpts{rootOpts: parent}
}

func (opts *deleteOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "delete a saved image",
		Example: makeExample(
			"imagecache delete ad-42",
		),
		RunE: opts.RunE,
	}
	return cmd
}

func (opts *deleteOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := checkArgs(args, "ID"); err != nil {
		return err
	}
	return opts.cache.Delete(cmd.Context(), args[0])
}
