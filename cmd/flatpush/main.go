package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "flatpush",
		Short:         "Push a local commit repository to a build service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			g.command = cmd.Name()
			level := slog.LevelWarn
			switch {
			case g.verbose >= 2:
				level = slog.LevelDebug
			case g.verbose == 1:
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return g.loadConfig()
		},
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.CountVarP(&g.verbose, "verbose", "v", "increase log verbosity (repeatable)")
	pf.StringVar(&g.token, "token", "", "bearer token for the build service")
	pf.StringVar(&g.tokenFile, "token-file", "", "file holding the bearer token")
	pf.StringVar(&g.configPath, "config", "", "configuration file (default flatpushrc.toml if present)")
	pf.BoolVar(&g.printOutput, "print-output", false, "print the structured result to stdout")
	pf.StringVar(&g.output, "output", "", "write the structured result to a file")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newCreateCmd(g))
	root.AddCommand(newPushCmd(g))
	root.AddCommand(newCommitCmd(g))
	root.AddCommand(newPublishCmd(g))
	root.AddCommand(newPurgeCmd(g))
	root.AddCommand(newCreateTokenCmd(g))
	root.AddCommand(newFollowJobCmd(g))

	err := root.ExecuteContext(ctx)
	out := newOutcome(g.command, err, g.result)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	if werr := writeOutcome(out, g, stdout); werr != nil {
		fmt.Fprintln(stderr, "error:", werr)
		return 1
	}
	if err != nil {
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "flatpush 0.1.0-dev")
		},
	}
}
