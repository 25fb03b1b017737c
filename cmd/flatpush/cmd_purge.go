package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPurgeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <build-url>",
		Short: "Discard a build and its uploaded objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildURL := strings.TrimRight(args[0], "/")
			client, err := g.newClient()
			if err != nil {
				return err
			}
			if err := client.Purge(cmd.Context(), buildURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "purged", buildURL)
			g.finish("purge", map[string]any{"build-url": buildURL})
			return nil
		},
	}
	return cmd
}
