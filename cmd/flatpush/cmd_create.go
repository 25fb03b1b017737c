package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flatpush/flatpush/pkg/buildapi"
)

func newCreateCmd(g *globalFlags) *cobra.Command {
	var appID string
	var publicDownload bool

	cmd := &cobra.Command{
		Use:   "create <manager-url> [repo]",
		Short: "Create a new build on the build service",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			managerURL := strings.TrimRight(args[0], "/")
			repoName := g.config.Repo
			if len(args) == 2 {
				repoName = args[1]
			}
			if repoName == "" {
				return usageErrorf("no repo name: pass it as an argument or set repo in the config")
			}

			client, err := g.newClient()
			if err != nil {
				return err
			}
			opts := buildapi.BuildOptions{Repo: repoName, AppID: appID}
			if cmd.Flags().Changed("public-download") {
				opts.PublicDownload = &publicDownload
			}
			buildURL, build, err := client.CreateBuild(cmd.Context(), managerURL, opts)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), buildURL)
			g.finish("create", map[string]any{"build-url": buildURL, "build": build})
			return nil
		},
	}

	cmd.Flags().StringVar(&appID, "app-id", "", "restrict the build to one app ID")
	cmd.Flags().BoolVar(&publicDownload, "public-download", false, "override the repo's download policy")
	return cmd
}
