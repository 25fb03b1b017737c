package ostree

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// repoFixture builds a minimal on-disk repository for tests.
type repoFixture struct {
	t    *testing.T
	root string
}

func newRepoFixture(t *testing.T) *repoFixture {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o755); err != nil {
		t.Fatal(err)
	}
	return &repoFixture{t: t, root: root}
}

func (f *repoFixture) writeObject(objType ObjectType, data []byte) Checksum {
	f.t.Helper()
	c := ChecksumBytes(data)
	dir := filepath.Join(f.root, "objects", string(c[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.t.Fatal(err)
	}
	path := filepath.Join(dir, string(c[2:])+"."+string(objType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.t.Fatal(err)
	}
	return c
}

func (f *repoFixture) writeFileObject(content []byte) Checksum {
	f.t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		f.t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		f.t.Fatal(err)
	}
	return f.writeObject(TypeFile, buf.Bytes())
}

func (f *repoFixture) writeDirMeta(m *DirMeta) Checksum {
	return f.writeObject(TypeDirMeta, MarshalDirMeta(m))
}

func (f *repoFixture) writeDirTree(t *DirTree) Checksum {
	return f.writeObject(TypeDirTree, MarshalDirTree(t))
}

func (f *repoFixture) writeCommit(c *Commit) Checksum {
	return f.writeObject(TypeCommit, MarshalCommit(c))
}

func (f *repoFixture) writeRef(name string, c Checksum) {
	f.t.Helper()
	path := filepath.Join(f.root, "refs", "heads", filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		f.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(string(c)+"\n"), 0o644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *repoFixture) writeDeltaPart(deltaName, partName string, data []byte) {
	f.t.Helper()
	dir := filepath.Join(f.root, "deltas", deltaName[:2], deltaName[2:])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, partName), data, 0o644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *repoFixture) open() *DiskStore {
	f.t.Helper()
	store, err := Open(f.root)
	if err != nil {
		f.t.Fatal(err)
	}
	return store
}

// singleCommit populates a one-commit repository:
//
//	root tree
//	├── README (file)
//	└── sub/
//	    └── data (file)
//
// and returns the commit checksum.
func (f *repoFixture) singleCommit(ref string) Checksum {
	f.t.Helper()
	meta := f.writeDirMeta(&DirMeta{UID: 0, GID: 0, Mode: 0o755})
	readme := f.writeFileObject([]byte("hello\n"))
	data := f.writeFileObject([]byte("payload\n"))
	subTree := f.writeDirTree(&DirTree{Files: []FileEntry{{Name: "data", Checksum: data}}})
	rootTree := f.writeDirTree(&DirTree{
		Files: []FileEntry{{Name: "README", Checksum: readme}},
		Dirs:  []DirEntry{{Name: "sub", Tree: subTree, Meta: meta}},
	})
	commit := f.writeCommit(&Commit{
		DirTree:   rootTree,
		DirMeta:   meta,
		Subject:   "init",
		Timestamp: 1700000000,
	})
	if ref != "" {
		f.writeRef(ref, commit)
	}
	return commit
}
