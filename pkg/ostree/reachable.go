package ostree

import (
	"fmt"
	"sort"
	"strings"
)

// NeededMetadata returns every metadata object (commit, dirtree, dirmeta)
// reachable from the given commits, with no duplicates.
//
// Traversal uses an explicit work stack with a visited set keyed by dirtree
// checksum. A dirtree already in the result set is never descended into
// again: content addressing guarantees its closure is final, and the same
// subtree can appear under many parents, so the guard bounds the walk to one
// visit per distinct tree.
func NeededMetadata(store ObjectStore, commits []Checksum) ([]OID, error) {
	seen := make(map[OID]struct{})
	out := make([]OID, 0, len(commits))
	add := func(oid OID) bool {
		if _, ok := seen[oid]; ok {
			return false
		}
		seen[oid] = struct{}{}
		out = append(out, oid)
		return true
	}

	for _, c := range uniqueChecksums(commits) {
		if !add(OID{Checksum: c, Type: TypeCommit}) {
			continue
		}
		commit, err := store.LoadCommit(c)
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", c, err)
		}

		type dirPair struct {
			tree Checksum
			meta Checksum
		}
		stack := []dirPair{{tree: commit.DirTree, meta: commit.DirMeta}}
		for len(stack) > 0 {
			pair := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			// The dirmeta sibling belongs to the tree even when the tree
			// itself was already collected under another parent.
			add(OID{Checksum: pair.meta, Type: TypeDirMeta})
			if !add(OID{Checksum: pair.tree, Type: TypeDirTree}) {
				continue
			}

			tree, err := store.LoadDirTree(pair.tree)
			if err != nil {
				return nil, fmt.Errorf("dirtree %s: %w", pair.tree, err)
			}
			for _, d := range tree.Dirs {
				stack = append(stack, dirPair{tree: d.Tree, meta: d.Meta})
			}
		}
	}
	return out, nil
}

// NeededFiles returns the file objects referenced by any dirtree in the
// given metadata set, with no duplicates. Non-dirtree members are ignored.
// This pass is driven purely by direct children, so it needs no recursion
// guard.
func NeededFiles(store ObjectStore, metadata []OID) ([]OID, error) {
	seen := make(map[Checksum]struct{})
	var out []OID
	for _, oid := range metadata {
		if oid.Type != TypeDirTree {
			continue
		}
		tree, err := store.LoadDirTree(oid.Checksum)
		if err != nil {
			return nil, fmt.Errorf("dirtree %s: %w", oid.Checksum, err)
		}
		for _, f := range tree.Files {
			if _, ok := seen[f.Checksum]; ok {
				continue
			}
			seen[f.Checksum] = struct{}{}
			out = append(out, OID{Checksum: f.Checksum, Type: TypeFile})
		}
	}
	return out, nil
}

func uniqueChecksums(in []Checksum) []Checksum {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Checksum]struct{}, len(in))
	out := make([]Checksum, 0, len(in))
	for _, c := range in {
		c = Checksum(strings.TrimSpace(string(c)))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
