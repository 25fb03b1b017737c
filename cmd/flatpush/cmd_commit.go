package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flatpush/flatpush/pkg/buildapi"
)

func newCommitCmd(g *globalFlags) *cobra.Command {
	var (
		wait            bool
		endOfLife       string
		endOfLifeRebase string
		tokenType       int
	)

	cmd := &cobra.Command{
		Use:   "commit <build-url>",
		Short: "Seal a build's uploaded refs and objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildURL := strings.TrimRight(args[0], "/")
			client, err := g.newClient()
			if err != nil {
				return err
			}

			opts := buildapi.CommitOptions{
				EndOfLife:       endOfLife,
				EndOfLifeRebase: endOfLifeRebase,
			}
			if cmd.Flags().Changed("token-type") {
				opts.TokenType = &tokenType
			}
			jobURL, job, err := client.Commit(cmd.Context(), buildURL, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobURL)

			data := map[string]any{"job-url": jobURL}
			g.finish("commit", data)
			if wait {
				if job, err = client.WaitForJob(cmd.Context(), jobURL, cmd.OutOrStdout()); err != nil {
					return err
				}
				data["job"] = jobDocument(job)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the commit job to finish")
	cmd.Flags().StringVar(&endOfLife, "end-of-life", "", "mark the app as end-of-life with this message")
	cmd.Flags().StringVar(&endOfLifeRebase, "end-of-life-rebase", "", "mark the app as replaced by this ID")
	cmd.Flags().IntVar(&tokenType, "token-type", 0, "token type hint for the commit")
	return cmd
}
