package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmgilman/go/imagecache"
)

type listOpts struct {
	*rootOpts
	long bool
}

func newList(parent *rootOpts) *listOpts {
	return &listOpts{rootOpts: parent}
}

func (opts *listOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "list saved images",
		Example: makeExample(
			"imagecache list",
			"imagecache list -l",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVarP(&opts.long, "long", "l", false, "also print size and content type")
	return cmd
}

func (opts *listOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}

	ids, err := opts.cache.Saved(cmd.Context())
	if err != nil {
		return err
	}

	if !opts.long {
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSIZE\tTYPE")
	for _, id := range ids {
		img, err := opts.cache.Peek(cmd.Context(), imagecache.Local(id))
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t%s\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", id, img.Size(), img.ContentType)
	}
	return w.Flush()
}
