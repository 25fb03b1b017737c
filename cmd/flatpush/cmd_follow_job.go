package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newFollowJobCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow-job <job-url>",
		Short: "Stream a job's log until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobURL := strings.TrimRight(args[0], "/")
			client, err := g.newClient()
			if err != nil {
				return err
			}
			job, err := client.WaitForJob(cmd.Context(), jobURL, cmd.OutOrStdout())
			if job != nil {
				g.finish("follow-job", map[string]any{"job": jobDocument(job)})
			}
			return err
		},
	}
	return cmd
}
