package main

import (
	"github.com/spf13/cobra"

	"github.com/jmgilman/go/imagecache"
)

type loadOpts struct {
	*rootOpts
	output string
}

func newLoad(parent *rootOpts) *loadOpts {
	return &loadOpts{rootOpts: parent}
}

func (opts *loadOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load ID",
		Short: "read a saved image from disk",
		Example: makeExample(
			"imagecache load ad-42 -o ad.jpg",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "file to write the image to")
	return cmd
}

func (opts *loadOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := checkArgs(args, "ID"); err != nil {
		return err
	}

	img, err := opts.cache.Image(cmd.Context(), imagecache.Local(args[0]))
	if err != nil {
		return err
	}
	return writeImage(cmd, opts.output, img.Data)
}
