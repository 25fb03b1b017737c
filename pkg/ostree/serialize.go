package ostree

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

// MarshalCommit serializes a Commit to a deterministic text format:
//
//	dirtree H
//	dirmeta H
//	parent H        (omitted for an initial commit)
//	timestamp N
//
//	<subject>
func MarshalCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "dirtree %s\n", string(c.DirTree))
	fmt.Fprintf(&buf, "dirmeta %s\n", string(c.DirMeta))
	if c.Parent != "" {
		fmt.Fprintf(&buf, "parent %s\n", string(c.Parent))
	}
	fmt.Fprintf(&buf, "timestamp %d\n", c.Timestamp)
	buf.WriteByte('\n')
	buf.WriteString(c.Subject)
	return buf.Bytes()
}

// UnmarshalCommit parses a Commit from its serialized form.
func UnmarshalCommit(data []byte) (*Commit, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/subject separator")
	}
	header := string(data[:idx])
	c := &Commit{Subject: string(data[idx+2:])}

	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "dirtree":
			c.DirTree = Checksum(val)
		case "dirmeta":
			c.DirMeta = Checksum(val)
		case "parent":
			c.Parent = Checksum(val)
		case "timestamp":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: invalid timestamp %q: %w", val, err)
			}
			c.Timestamp = ts
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	if err := ValidateChecksum(c.DirTree); err != nil {
		return nil, fmt.Errorf("unmarshal commit: dirtree: %w", err)
	}
	if err := ValidateChecksum(c.DirMeta); err != nil {
		return nil, fmt.Errorf("unmarshal commit: dirmeta: %w", err)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// DirTree
// ---------------------------------------------------------------------------

// MarshalDirTree serializes a DirTree, one entry per line:
//
//	file H <name>
//	dir Htree Hmeta <name>
//
// Entries are emitted in their stored order; callers keep them sorted by
// name so identical trees always serialize to identical bytes.
func MarshalDirTree(t *DirTree) []byte {
	var buf bytes.Buffer
	for _, f := range t.Files {
		fmt.Fprintf(&buf, "file %s %s\n", string(f.Checksum), f.Name)
	}
	for _, d := range t.Dirs {
		fmt.Fprintf(&buf, "dir %s %s %s\n", string(d.Tree), string(d.Meta), d.Name)
	}
	return buf.Bytes()
}

// UnmarshalDirTree parses a DirTree from its serialized form.
func UnmarshalDirTree(data []byte) (*DirTree, error) {
	t := &DirTree{}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		kind, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal dirtree: malformed line %q", line)
		}
		switch kind {
		case "file":
			checksum, name, ok := strings.Cut(rest, " ")
			if !ok || name == "" {
				return nil, fmt.Errorf("unmarshal dirtree: malformed file line %q", line)
			}
			if err := ValidateChecksum(Checksum(checksum)); err != nil {
				return nil, fmt.Errorf("unmarshal dirtree: file %q: %w", name, err)
			}
			t.Files = append(t.Files, FileEntry{Name: name, Checksum: Checksum(checksum)})
		case "dir":
			tree, rest2, ok := strings.Cut(rest, " ")
			if !ok {
				return nil, fmt.Errorf("unmarshal dirtree: malformed dir line %q", line)
			}
			meta, name, ok := strings.Cut(rest2, " ")
			if !ok || name == "" {
				return nil, fmt.Errorf("unmarshal dirtree: malformed dir line %q", line)
			}
			if err := ValidateChecksum(Checksum(tree)); err != nil {
				return nil, fmt.Errorf("unmarshal dirtree: dir %q tree: %w", name, err)
			}
			if err := ValidateChecksum(Checksum(meta)); err != nil {
				return nil, fmt.Errorf("unmarshal dirtree: dir %q meta: %w", name, err)
			}
			t.Dirs = append(t.Dirs, DirEntry{Name: name, Tree: Checksum(tree), Meta: Checksum(meta)})
		default:
			return nil, fmt.Errorf("unmarshal dirtree: unknown entry kind %q", kind)
		}
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// DirMeta
// ---------------------------------------------------------------------------

// MarshalDirMeta serializes a DirMeta:
//
//	uid N
//	gid N
//	mode N
func MarshalDirMeta(m *DirMeta) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "uid %d\n", m.UID)
	fmt.Fprintf(&buf, "gid %d\n", m.GID)
	fmt.Fprintf(&buf, "mode %o\n", m.Mode)
	return buf.Bytes()
}

// UnmarshalDirMeta parses a DirMeta from its serialized form.
func UnmarshalDirMeta(data []byte) (*DirMeta, error) {
	m := &DirMeta{}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal dirmeta: malformed line %q", line)
		}
		switch key {
		case "uid":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: invalid uid %q: %w", val, err)
			}
			m.UID = uint32(v)
		case "gid":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: invalid gid %q: %w", val, err)
			}
			m.GID = uint32(v)
		case "mode":
			v, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: invalid mode %q: %w", val, err)
			}
			m.Mode = uint32(v)
		default:
			return nil, fmt.Errorf("unmarshal dirmeta: unknown key %q", key)
		}
	}
	return m, nil
}
