package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type saveOpts struct {
	*rootOpts
	input string
}

func newSave(parent *rootOpts) *saveOpts {
	return &saveOpts{rootOpts: parent}
}

func (opts *saveOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save LOCATOR ID",
		Short: "save an image on disk under a stable ID",
		Long: "Download LOCATOR and save it as ID. With --input the image is read from a " +
			"file (or stdin for \"-\") instead and LOCATOR is omitted.",
		Example: makeExample(
			"imagecache save https://images.example.com/c.jpg ad-42",
			"imagecache save --input c.jpg ad-42",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "save this file instead of downloading")
	return cmd
}

func (opts *saveOpts) RunE(cmd *cobra.Command, args []string) error {
	var (
		location string
		err      error
	)

	if cmd.Flags().Changed("input") {
		if err := checkArgs(args, "ID"); err != nil {
			return err
		}
		data, err := readInput(cmd, opts.input)
		if err != nil {
			return err
		}
		location, err = opts.cache.Store(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
	} else {
		if err := checkArgs(args, "LOCATOR", "ID"); err != nil {
			return err
		}
		location, err = opts.cache.SaveRemote(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), location)
	return nil
}
