package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flatpush/flatpush/pkg/buildapi"
)

func newCreateTokenCmd(g *globalFlags) *cobra.Command {
	var (
		name     string
		subject  string
		scope    []string
		duration int64
	)

	cmd := &cobra.Command{
		Use:   "create-token <manager-url>",
		Short: "Mint a token carrying a subset of the caller's permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			managerURL := strings.TrimRight(args[0], "/")
			if len(scope) == 0 {
				return usageErrorf("at least one --scope is required")
			}
			client, err := g.newClient()
			if err != nil {
				return err
			}

			token, err := client.CreateTokenSubset(cmd.Context(), managerURL, buildapi.TokenSubsetOptions{
				Name:     name,
				Subject:  subject,
				Scope:    scope,
				Duration: duration,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			g.finish("create-token", map[string]any{"token": token})
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "flatpush", "name recorded on the token")
	cmd.Flags().StringVar(&subject, "sub", "", "subject the token is restricted to, e.g. build/7")
	cmd.Flags().StringArrayVar(&scope, "scope", nil, "permission the token grants (repeatable)")
	cmd.Flags().Int64Var(&duration, "duration", 24*60*60, "validity in seconds")
	return cmd
}
