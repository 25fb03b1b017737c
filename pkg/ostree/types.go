package ostree

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Checksum is a 64-character hex-encoded SHA-256 digest naming one object.
type Checksum string

// ObjectType identifies the kind of object a checksum addresses. Files are
// stored gzip-compressed on disk under a .filez suffix.
type ObjectType string

const (
	TypeCommit  ObjectType = "commit"
	TypeDirTree ObjectType = "dirtree"
	TypeDirMeta ObjectType = "dirmeta"
	TypeFile    ObjectType = "filez"
)

// OID names one object in the store: a checksum plus the kind it addresses.
type OID struct {
	Checksum Checksum
	Type     ObjectType
}

// Name returns the wire/file name of the object, "<checksum>.<type>".
func (o OID) Name() string {
	return string(o.Checksum) + "." + string(o.Type)
}

// ParseOID parses a "<checksum>.<type>" object name.
func ParseOID(name string) (OID, error) {
	checksum, ext, ok := strings.Cut(name, ".")
	if !ok {
		return OID{}, fmt.Errorf("parse object name %q: missing type suffix", name)
	}
	if err := ValidateChecksum(Checksum(checksum)); err != nil {
		return OID{}, fmt.Errorf("parse object name %q: %w", name, err)
	}
	switch ObjectType(ext) {
	case TypeCommit, TypeDirTree, TypeDirMeta, TypeFile:
		return OID{Checksum: Checksum(checksum), Type: ObjectType(ext)}, nil
	default:
		return OID{}, fmt.Errorf("parse object name %q: unsupported object type %q", name, ext)
	}
}

// ValidateChecksum checks that a checksum is a valid 64-character lowercase
// hex string (SHA-256).
func ValidateChecksum(c Checksum) error {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return fmt.Errorf("checksum is empty")
	}
	if len(s) != 64 {
		return fmt.Errorf("checksum length %d, expected 64", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("checksum contains non-hex characters: %w", err)
	}
	return nil
}

// Commit is the root of a ref's history. It references exactly one
// DirTree/DirMeta pair and at most one parent commit.
type Commit struct {
	DirTree   Checksum
	DirMeta   Checksum
	Parent    Checksum // empty for an initial commit
	Subject   string
	Timestamp int64
}

// FileEntry is one file member of a DirTree.
type FileEntry struct {
	Name     string
	Checksum Checksum
}

// DirEntry is one subdirectory member of a DirTree, pairing the subtree with
// its metadata object.
type DirEntry struct {
	Name string
	Tree Checksum
	Meta Checksum
}

// DirTree is the structural half of a directory snapshot: ordered file and
// subdirectory entries. A DirTree may be shared by many parents; traversal
// must treat a processed tree as final.
type DirTree struct {
	Files []FileEntry // sorted by Name
	Dirs  []DirEntry  // sorted by Name
}

// DirMeta is the permission/ownership half of a directory snapshot,
// addressed independently of its DirTree.
type DirMeta struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

// DeltaPart is one on-disk part file of a static delta.
type DeltaPart struct {
	Name string // part file name, e.g. "superblock", "0", "1"
	Path string // local filesystem path
}
