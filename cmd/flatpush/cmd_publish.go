package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPublishCmd(g *globalFlags) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "publish <build-url>",
		Short: "Publish a committed build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildURL := strings.TrimRight(args[0], "/")
			client, err := g.newClient()
			if err != nil {
				return err
			}

			jobURL, job, err := client.Publish(cmd.Context(), buildURL)
			if err != nil {
				return err
			}
			if job == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "build is already published")
				g.finish("publish", map[string]any{"already-published": true})
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobURL)

			data := map[string]any{"job-url": jobURL}
			g.finish("publish", data)
			if wait {
				if job, err = client.WaitForJob(cmd.Context(), jobURL, cmd.OutOrStdout()); err != nil {
					return err
				}
				data["job"] = jobDocument(job)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the publish job to finish")
	return cmd
}
