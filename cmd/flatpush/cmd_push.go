package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flatpush/flatpush/pkg/buildapi"
	"github.com/flatpush/flatpush/pkg/ostree"
)

func newPushCmd(g *globalFlags) *cobra.Command {
	var (
		doCommit        bool
		doPublish       bool
		wait            bool
		waitUpdate      bool
		endOfLife       string
		endOfLifeRebase string
		tokenType       int
		skipDelta       []string
		extraIDs        []string
		minimalToken    bool
	)

	cmd := &cobra.Command{
		Use:   "push <build-url> <repo-path> [ref...]",
		Short: "Push local refs and their objects to a build",
		Long: `Push snapshots the named refs (or every ref when none are named), uploads
every object the build is missing plus eligible static deltas, and registers
the refs. With --commit the build is sealed afterwards; --publish implies
--commit and publishes the sealed build.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildURL := strings.TrimRight(args[0], "/")
			repoPath := args[1]

			store, err := ostree.Open(repoPath)
			if err != nil {
				return usageErrorf("%v", err)
			}

			refs, err := snapshotRefs(store, args[2:])
			if err != nil {
				return err
			}

			client, err := g.newClient()
			if err != nil {
				return err
			}

			skip := skipDelta
			if len(skip) == 0 {
				skip = g.config.SkipDelta
			}
			opts := buildapi.PushOptions{
				SkipDeltaGlobs: skip,
				ExtraIDs:       extraIDs,
				MinimalToken:   minimalToken,
			}
			if minimalToken {
				managerURL, err := managerURLFromBuild(buildURL)
				if err != nil {
					return err
				}
				opts.ManagerURL = managerURL
			}

			if err := buildapi.Push(cmd.Context(), client, store, buildURL, refs, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d refs\n", len(refs))

			data := map[string]any{"build-url": buildURL, "refs": refNames(refs)}
			g.finish("push", data)

			if doPublish {
				doCommit = true
			}
			if !doCommit {
				return nil
			}

			// Sealing and publishing always run under the full token, even
			// when the transfer used a minimal one.
			commitOpts := buildapi.CommitOptions{
				EndOfLife:       endOfLife,
				EndOfLifeRebase: endOfLifeRebase,
			}
			if cmd.Flags().Changed("token-type") {
				commitOpts.TokenType = &tokenType
			}
			jobURL, job, err := client.Commit(cmd.Context(), buildURL, commitOpts)
			if err != nil {
				return err
			}
			data["commit-job-url"] = jobURL
			if wait || doPublish {
				if job, err = client.WaitForJob(cmd.Context(), jobURL, cmd.OutOrStdout()); err != nil {
					return err
				}
				data["commit-job"] = jobDocument(job)
			}

			if !doPublish {
				return nil
			}
			jobURL, job, err = client.Publish(cmd.Context(), buildURL)
			if err != nil {
				return err
			}
			if job == nil {
				// Already published.
				return nil
			}
			data["publish-job-url"] = jobURL
			if wait || waitUpdate {
				if job, err = client.WaitForJob(cmd.Context(), jobURL, cmd.OutOrStdout()); err != nil {
					return err
				}
				data["publish-job"] = jobDocument(job)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&doCommit, "commit", false, "commit the build after pushing")
	cmd.Flags().BoolVar(&doPublish, "publish", false, "commit and publish the build after pushing")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for commit and publish jobs to finish")
	cmd.Flags().BoolVar(&waitUpdate, "wait-update", false, "wait for the publish job to finish")
	cmd.Flags().StringVar(&endOfLife, "end-of-life", "", "mark the app as end-of-life with this message")
	cmd.Flags().StringVar(&endOfLifeRebase, "end-of-life-rebase", "", "mark the app as replaced by this ID")
	cmd.Flags().IntVar(&tokenType, "token-type", 0, "token type hint for the commit")
	cmd.Flags().StringArrayVar(&skipDelta, "skip-delta", nil, "glob of app/runtime IDs to skip delta upload for (repeatable)")
	cmd.Flags().StringArrayVar(&extraIDs, "extra-id", nil, "extra app ID to register against the build (repeatable)")
	cmd.Flags().BoolVar(&minimalToken, "minimal-token", false, "transfer with an upload-scoped token subset")
	return cmd
}

// snapshotRefs resolves the refs to push once, at invocation time. Named
// refs must all resolve; with none named every local ref is pushed.
func snapshotRefs(store ostree.ObjectStore, names []string) (map[string]ostree.Checksum, error) {
	if len(names) == 0 {
		refs, err := store.ListRefs()
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return nil, usageErrorf("repository has no refs to push")
		}
		return refs, nil
	}
	refs := make(map[string]ostree.Checksum, len(names))
	for _, name := range names {
		c, err := store.ResolveRef(name)
		if err != nil {
			return nil, usageErrorf("%v", err)
		}
		refs[name] = c
	}
	return refs, nil
}

func refNames(refs map[string]ostree.Checksum) []string {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func jobDocument(job *buildapi.Job) map[string]any {
	return map[string]any{
		"id":      job.ID,
		"kind":    job.Kind,
		"status":  job.Status,
		"results": job.ParsedResults,
	}
}
