package buildapi

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/flatpush/flatpush/pkg/ostree"
)

// deltaNameEncoding is the modified base64 used in delta names: the
// standard alphabet with '/' replaced by '_', trailing padding stripped.
var deltaNameEncoding = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+_",
).WithPadding(base64.NoPadding)

func encodeDeltaChecksum(c ostree.Checksum) (string, error) {
	raw, err := hex.DecodeString(string(c))
	if err != nil {
		return "", fmt.Errorf("encode delta checksum %q: %w", c, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("encode delta checksum %q: got %d bytes, want 32", c, len(raw))
	}
	return deltaNameEncoding.EncodeToString(raw), nil
}

func decodeDeltaChecksum(s string) (ostree.Checksum, error) {
	raw, err := deltaNameEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode delta checksum %q: %w", s, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("decode delta checksum %q: got %d bytes, want 32", s, len(raw))
	}
	return ostree.Checksum(hex.EncodeToString(raw)), nil
}

// EncodeDeltaName encodes a sequence of commit checksums into a delta name:
// each checksum independently encoded, joined with hyphens. A from-scratch
// delta has a single checksum; an incremental delta has two.
func EncodeDeltaName(checksums []ostree.Checksum) (string, error) {
	if len(checksums) == 0 {
		return "", fmt.Errorf("encode delta name: at least one checksum is required")
	}
	parts := make([]string, 0, len(checksums))
	for _, c := range checksums {
		enc, err := encodeDeltaChecksum(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, enc)
	}
	return strings.Join(parts, "-"), nil
}

// DecodeDeltaName is the exact inverse of EncodeDeltaName.
func DecodeDeltaName(name string) ([]ostree.Checksum, error) {
	if name == "" {
		return nil, fmt.Errorf("decode delta name: name is empty")
	}
	parts := strings.Split(name, "-")
	checksums := make([]ostree.Checksum, 0, len(parts))
	for _, p := range parts {
		c, err := decodeDeltaChecksum(p)
		if err != nil {
			return nil, fmt.Errorf("decode delta name %q: %w", name, err)
		}
		checksums = append(checksums, c)
	}
	return checksums, nil
}

// SelectDeltas picks the static deltas worth uploading for a ref snapshot:
// from-scratch deltas whose commit is being pushed for an app/* or
// runtime/* ref. Screenshot refs never contribute, and refs whose
// app/runtime ID matches a skip glob are excluded. Incremental deltas are
// never uploaded: the remote cannot be assumed to hold the base state.
func SelectDeltas(deltaNames []string, refs map[string]ostree.Checksum, skipGlobs []string) ([]string, error) {
	eligible := make(map[ostree.Checksum]bool)
	for ref, commit := range refs {
		parts := strings.Split(ref, "/")
		if len(parts) < 2 {
			continue
		}
		if parts[0] != "app" && parts[0] != "runtime" {
			continue
		}
		skip := false
		for _, glob := range skipGlobs {
			ok, err := path.Match(glob, parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid skip glob %q: %w", glob, err)
			}
			if ok {
				skip = true
				break
			}
		}
		if !skip {
			eligible[commit] = true
		}
	}

	var out []string
	for _, name := range deltaNames {
		checksums, err := DecodeDeltaName(name)
		if err != nil {
			return nil, err
		}
		if len(checksums) != 1 {
			continue
		}
		if eligible[checksums[0]] {
			out = append(out, name)
		}
	}
	return out, nil
}

// UploadDeltas uploads every part of the named deltas, each part under the
// remote name "<encoded-delta-name>.<part-name>.delta". Parts flow through
// the same byte-bounded batching as object uploads.
func (c *Client) UploadDeltas(ctx context.Context, buildURL string, store ostree.ObjectStore, names []string) error {
	var files []UploadFile
	for _, name := range names {
		parts, err := store.ListDeltaParts(name)
		if err != nil {
			return err
		}
		for _, p := range parts {
			f, err := NewUploadFile(name+"."+p.Name+".delta", p.Path)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil
	}
	c.logger.Debug("uploading deltas", "deltas", len(names), "parts", len(files))
	return c.UploadObjects(ctx, buildURL, files)
}
