package main

import (
	"github.com/spf13/cobra"

	"github.com/jmgilman/go/imagecache"
)

type getOpts struct {
	*rootOpts
	output string
}

func newGet(parent *rootOpts) *getOpts {
	return &getOpts{rootOpts: parent}
}

func (opts *getOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get LOCATOR",
		Short: "download a remote image",
		Example: makeExample(
			"imagecache get https://images.example.com/a.jpg -o a.jpg",
			"imagecache get --base-url https://images.example.com/ a.jpg > a.jpg",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "file to write the image to")
	return cmd
}

func (opts *getOpts) RunE(cmd *cobra.Command, args []string) error {
	if err := checkArgs(args, "LOCATOR"); err != nil {
		return err
	}

	img, err := opts.cache.Image(cmd.Context(), imagecache.Remote(args[0]))
	if err != nil {
		return err
	}
	return writeImage(cmd, opts.output, img.Data)
}
