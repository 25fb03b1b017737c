package ostree

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ObjectStore is a read-only view over a local content-addressed commit
// repository. Implementations resolve refs to commit checksums, load
// metadata objects, and enumerate static deltas and on-disk object paths.
//
// DiskStore reads the on-disk layout directly; a native-library-backed
// variant can satisfy the same interface and be selected by the caller.
type ObjectStore interface {
	ResolveRef(ref string) (Checksum, error)
	ListRefs() (map[string]Checksum, error)
	LoadCommit(c Checksum) (*Commit, error)
	LoadDirTree(c Checksum) (*DirTree, error)
	LoadDirMeta(c Checksum) (*DirMeta, error)
	ListDeltas() ([]string, error)
	ListDeltaParts(name string) ([]DeltaPart, error)
	ObjectPath(oid OID) string
}

// DiskStore is an ObjectStore over the standard repository layout:
//
//	objects/ab/cdef...<type>   2-character fan-out, files gzip-compressed as .filez
//	refs/heads/<ref>           one file per ref holding the commit checksum
//	deltas/ab/cdef.../<part>   one directory of parts per static delta
type DiskStore struct {
	root string
}

// Open opens an existing repository rooted at the given directory. The
// repository is never written through this handle.
func Open(root string) (*DiskStore, error) {
	info, err := os.Stat(filepath.Join(root, "objects"))
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open repository %s: objects is not a directory", root)
	}
	return &DiskStore{root: root}, nil
}

// ObjectPath returns the filesystem path for a given object.
func (s *DiskStore) ObjectPath(oid OID) string {
	c := string(oid.Checksum)
	return filepath.Join(s.root, "objects", c[:2], c[2:]+"."+string(oid.Type))
}

func (s *DiskStore) readObject(oid OID) ([]byte, error) {
	data, err := os.ReadFile(s.ObjectPath(oid))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", oid.Name(), err)
	}
	return data, nil
}

// LoadCommit reads and parses a commit object.
func (s *DiskStore) LoadCommit(c Checksum) (*Commit, error) {
	data, err := s.readObject(OID{Checksum: c, Type: TypeCommit})
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}

// LoadDirTree reads and parses a dirtree object.
func (s *DiskStore) LoadDirTree(c Checksum) (*DirTree, error) {
	data, err := s.readObject(OID{Checksum: c, Type: TypeDirTree})
	if err != nil {
		return nil, err
	}
	return UnmarshalDirTree(data)
}

// LoadDirMeta reads and parses a dirmeta object.
func (s *DiskStore) LoadDirMeta(c Checksum) (*DirMeta, error) {
	data, err := s.readObject(OID{Checksum: c, Type: TypeDirMeta})
	if err != nil {
		return nil, err
	}
	return UnmarshalDirMeta(data)
}

// ReadFileObject opens a file object for reading, transparently
// decompressing the on-disk .filez encoding. The caller must close the
// returned reader.
func (s *DiskStore) ReadFileObject(c Checksum) (io.ReadCloser, error) {
	f, err := os.Open(s.ObjectPath(OID{Checksum: c, Type: TypeFile}))
	if err != nil {
		return nil, fmt.Errorf("read file object %s: %w", c, err)
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read file object %s: %w", c, err)
	}
	return &fileObjectReader{zr: zr, f: f}, nil
}

type fileObjectReader struct {
	zr *gzip.Reader
	f  *os.File
}

func (r *fileObjectReader) Read(p []byte) (int, error) {
	return r.zr.Read(p)
}

func (r *fileObjectReader) Close() error {
	zerr := r.zr.Close()
	ferr := r.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// ResolveRef returns the commit checksum a ref currently points at.
func (s *DiskStore) ResolveRef(ref string) (Checksum, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("resolve ref: ref name is required")
	}
	data, err := os.ReadFile(filepath.Join(s.root, "refs", "heads", filepath.FromSlash(ref)))
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", ref, err)
	}
	c := Checksum(strings.TrimSpace(string(data)))
	if err := ValidateChecksum(c); err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", ref, err)
	}
	return c, nil
}

// ListRefs returns all refs under refs/heads and their commit checksums.
func (s *DiskStore) ListRefs() (map[string]Checksum, error) {
	headsDir := filepath.Join(s.root, "refs", "heads")
	refs := make(map[string]Checksum)
	err := filepath.WalkDir(headsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == headsDir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(headsDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		c, err := s.ResolveRef(name)
		if err != nil {
			return err
		}
		refs[name] = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// ListDeltas returns the encoded names of all static deltas in the
// repository. A delta directory ab/cdef... yields the name "abcdef...".
func (s *DiskStore) ListDeltas() ([]string, error) {
	deltasDir := filepath.Join(s.root, "deltas")
	prefixes, err := os.ReadDir(deltasDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list deltas: %w", err)
	}

	var names []string
	for _, prefix := range prefixes {
		if !prefix.IsDir() || len(prefix.Name()) != 2 {
			continue
		}
		rests, err := os.ReadDir(filepath.Join(deltasDir, prefix.Name()))
		if err != nil {
			return nil, fmt.Errorf("list deltas: %w", err)
		}
		for _, rest := range rests {
			if !rest.IsDir() {
				continue
			}
			names = append(names, prefix.Name()+rest.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListDeltaParts returns the part files of one static delta, sorted by name.
func (s *DiskStore) ListDeltaParts(name string) ([]DeltaPart, error) {
	if len(name) < 3 {
		return nil, fmt.Errorf("list delta parts: invalid delta name %q", name)
	}
	dir := filepath.Join(s.root, "deltas", name[:2], name[2:])
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list delta parts %q: %w", name, err)
	}
	parts := make([]DeltaPart, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		parts = append(parts, DeltaPart{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Name < parts[j].Name })
	return parts, nil
}
