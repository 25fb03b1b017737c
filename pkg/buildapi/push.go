package buildapi

import (
	"context"
	"fmt"
	"sort"

	"github.com/flatpush/flatpush/pkg/ostree"
)

// PushOptions configures one push invocation.
type PushOptions struct {
	// SkipDeltaGlobs excludes matching app/runtime IDs from delta upload.
	SkipDeltaGlobs []string
	// ExtraIDs are additional app IDs to register against the build.
	ExtraIDs []string
	// MinimalToken mints an upload-scoped token subset and performs the
	// transfer phase with it; the client's full token stays in use for
	// everything after the push.
	MinimalToken bool
	// ManagerURL is required when MinimalToken is set.
	ManagerURL string
}

// minimalTokenDuration bounds the validity of an upload-scoped token.
const minimalTokenDuration = 24 * 60 * 60

// Push sends everything the build is missing for the given ref snapshot,
// then registers refs and extra IDs. The caller resolves refs at invocation
// time; the snapshot, not live pointers, is what ships. Steps run strictly
// in sequence and the first error aborts the rest.
func Push(ctx context.Context, client *Client, store ostree.ObjectStore, buildURL string, refs map[string]ostree.Checksum, opts PushOptions) error {
	if len(refs) == 0 {
		return fmt.Errorf("push: at least one ref is required")
	}

	transfer := client
	if opts.MinimalToken {
		if opts.ManagerURL == "" {
			return fmt.Errorf("push: manager URL is required to mint a minimal token")
		}
		buildID, err := BuildIDFromURL(buildURL)
		if err != nil {
			return err
		}
		token, err := client.CreateTokenSubset(ctx, opts.ManagerURL, TokenSubsetOptions{
			Name:     "upload",
			Subject:  fmt.Sprintf("build/%d", buildID),
			Scope:    []string{"upload"},
			Duration: minimalTokenDuration,
		})
		if err != nil {
			return fmt.Errorf("push: mint upload token: %w", err)
		}
		transfer = client.WithToken(token)
	}

	commits := make([]ostree.Checksum, 0, len(refs))
	for _, c := range refs {
		commits = append(commits, c)
	}

	metadata, err := ostree.NeededMetadata(store, commits)
	if err != nil {
		return fmt.Errorf("push: compute metadata closure: %w", err)
	}
	client.logger.Info("computed metadata closure", "objects", len(metadata))

	missingMeta, err := diffObjects(ctx, transfer, buildURL, metadata)
	if err != nil {
		return err
	}

	files, err := ostree.NeededFiles(store, missingMeta)
	if err != nil {
		return fmt.Errorf("push: compute file closure: %w", err)
	}
	missingFiles, err := diffObjects(ctx, transfer, buildURL, files)
	if err != nil {
		return err
	}
	client.logger.Info("remote is missing objects",
		"metadata", len(missingMeta), "files", len(missingFiles))

	if err := uploadObjectSet(ctx, transfer, buildURL, store, missingFiles); err != nil {
		return fmt.Errorf("push: upload file objects: %w", err)
	}
	if err := uploadObjectSet(ctx, transfer, buildURL, store, missingMeta); err != nil {
		return fmt.Errorf("push: upload metadata objects: %w", err)
	}

	deltas, err := store.ListDeltas()
	if err != nil {
		return fmt.Errorf("push: list deltas: %w", err)
	}
	selected, err := SelectDeltas(deltas, refs, opts.SkipDeltaGlobs)
	if err != nil {
		return fmt.Errorf("push: select deltas: %w", err)
	}
	if err := transfer.UploadDeltas(ctx, buildURL, store, selected); err != nil {
		return fmt.Errorf("push: upload deltas: %w", err)
	}

	refNames := make([]string, 0, len(refs))
	for name := range refs {
		refNames = append(refNames, name)
	}
	sort.Strings(refNames)
	for _, name := range refNames {
		if err := transfer.CreateRef(ctx, buildURL, name, refs[name]); err != nil {
			return fmt.Errorf("push: create ref %s: %w", name, err)
		}
	}

	if err := transfer.AddExtraIDs(ctx, buildURL, opts.ExtraIDs); err != nil {
		return fmt.Errorf("push: add extra ids: %w", err)
	}
	return nil
}

// diffObjects asks the remote which of the given objects it is missing and
// maps the answer back to OIDs.
func diffObjects(ctx context.Context, c *Client, buildURL string, objects []ostree.OID) ([]ostree.OID, error) {
	if len(objects) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(objects))
	for _, oid := range objects {
		names = append(names, oid.Name())
	}
	missingNames, err := c.MissingObjects(ctx, buildURL, names)
	if err != nil {
		return nil, err
	}
	missing := make([]ostree.OID, 0, len(missingNames))
	for _, name := range missingNames {
		oid, err := ostree.ParseOID(name)
		if err != nil {
			return nil, fmt.Errorf("missing_objects returned %q: %w", name, err)
		}
		missing = append(missing, oid)
	}
	return missing, nil
}

// uploadObjectSet resolves each object to its on-disk path and ships the
// set through the batch scheduler.
func uploadObjectSet(ctx context.Context, c *Client, buildURL string, store ostree.ObjectStore, objects []ostree.OID) error {
	if len(objects) == 0 {
		return nil
	}
	files := make([]UploadFile, 0, len(objects))
	for _, oid := range objects {
		f, err := NewUploadFile(oid.Name(), store.ObjectPath(oid))
		if err != nil {
			return fmt.Errorf("object %s: %w", oid.Name(), err)
		}
		files = append(files, f)
	}
	return c.UploadObjects(ctx, buildURL, files)
}
