package buildapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/flatpush/flatpush/pkg/ostree"
)

// pushRepo is a minimal on-disk repository for pipeline tests: one commit
// holding one file, one ref, and one from-scratch delta for the commit.
type pushRepo struct {
	root   string
	commit ostree.Checksum
	tree   ostree.Checksum
	meta   ostree.Checksum
	file   ostree.Checksum
	delta  string
	ref    string
}

func (r *pushRepo) write(t *testing.T, oid ostree.OID, data []byte) {
	t.Helper()
	c := string(oid.Checksum)
	dir := filepath.Join(r.root, "objects", c[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, c[2:]+"."+string(oid.Type)), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newPushRepo(t *testing.T) *pushRepo {
	t.Helper()
	r := &pushRepo{root: t.TempDir(), ref: "app/org.example.App/x86_64/stable"}

	content := []byte("application payload")
	r.file = ostree.ChecksumBytes(content)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(content)
	zw.Close()
	r.write(t, ostree.OID{Checksum: r.file, Type: ostree.TypeFile}, buf.Bytes())

	metaData := ostree.MarshalDirMeta(&ostree.DirMeta{UID: 0, GID: 0, Mode: 0o755})
	r.meta = ostree.ChecksumBytes(metaData)
	r.write(t, ostree.OID{Checksum: r.meta, Type: ostree.TypeDirMeta}, metaData)

	treeData := ostree.MarshalDirTree(&ostree.DirTree{
		Files: []ostree.FileEntry{{Name: "payload", Checksum: r.file}},
	})
	r.tree = ostree.ChecksumBytes(treeData)
	r.write(t, ostree.OID{Checksum: r.tree, Type: ostree.TypeDirTree}, treeData)

	commitData := ostree.MarshalCommit(&ostree.Commit{
		DirTree:   r.tree,
		DirMeta:   r.meta,
		Subject:   "build",
		Timestamp: 1700000000,
	})
	r.commit = ostree.ChecksumBytes(commitData)
	r.write(t, ostree.OID{Checksum: r.commit, Type: ostree.TypeCommit}, commitData)

	refPath := filepath.Join(r.root, "refs", "heads", filepath.FromSlash(r.ref))
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(refPath, []byte(string(r.commit)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	enc, err := EncodeDeltaName([]ostree.Checksum{r.commit})
	if err != nil {
		t.Fatal(err)
	}
	r.delta = enc
	deltaDir := filepath.Join(r.root, "deltas", enc[:2], enc[2:])
	if err := os.MkdirAll(deltaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{"0", "superblock"} {
		if err := os.WriteFile(filepath.Join(deltaDir, part), []byte("delta "+part), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func (r *pushRepo) open(t *testing.T) *ostree.DiskStore {
	t.Helper()
	store, err := ostree.Open(r.root)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// pushService fakes the build endpoints Push drives, recording the call
// order and payloads.
type pushService struct {
	mu       sync.Mutex
	events   []string
	wanted   [][]string // per missing_objects request
	uploads  [][]string // file names per upload request
	refs     map[string]string
	extraIDs []string
	auths    map[string]string // endpoint -> last Authorization header

	has map[string]bool // object names the remote already holds
}

func newPushService() *pushService {
	return &pushService{
		refs:  make(map[string]string),
		auths: make(map[string]string),
		has:   make(map[string]bool),
	}
}

func (s *pushService) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch {
		case r.URL.Path == "/api/v1/token_subset":
			s.events = append(s.events, "token_subset")
			s.auths["token_subset"] = r.Header.Get("Authorization")
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["sub"] != "build/1" {
				t.Errorf("token subset sub = %v", req["sub"])
			}
			json.NewEncoder(w).Encode(map[string]any{"token": "narrow"})

		case r.URL.Path == "/build/1/missing_objects":
			s.events = append(s.events, "missing_objects")
			s.auths["missing_objects"] = r.Header.Get("Authorization")
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				t.Errorf("missing_objects body not gzip: %v", err)
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			var req struct {
				Wanted []string `json:"wanted"`
			}
			if err := json.NewDecoder(zr).Decode(&req); err != nil {
				t.Errorf("decode missing_objects: %v", err)
			}
			s.wanted = append(s.wanted, req.Wanted)
			missing := []string{}
			for _, name := range req.Wanted {
				if !s.has[name] {
					missing = append(missing, name)
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"missing": missing})

		case r.URL.Path == "/build/1/upload":
			s.events = append(s.events, "upload")
			s.auths["upload"] = r.Header.Get("Authorization")
			_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil {
				t.Errorf("upload content type: %v", err)
				return
			}
			mr := multipart.NewReader(r.Body, params["boundary"])
			var names []string
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Errorf("read part: %v", err)
					break
				}
				io.Copy(io.Discard, part)
				names = append(names, part.FileName())
			}
			s.uploads = append(s.uploads, names)
			w.Write([]byte(`{}`))

		case r.URL.Path == "/build/1/build_ref":
			s.events = append(s.events, "build_ref")
			var req struct {
				Ref    string `json:"ref"`
				Commit string `json:"commit"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			s.refs[req.Ref] = req.Commit
			w.Write([]byte(`{}`))

		case r.URL.Path == "/build/1/add_extra_ids":
			s.events = append(s.events, "add_extra_ids")
			var req struct {
				IDs []string `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			s.extraIDs = req.IDs
			w.Write([]byte(`{}`))

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
}

func TestPushUploadsEverythingTheRemoteLacks(t *testing.T) {
	repo := newPushRepo(t)
	svc := newPushService()
	ts := httptest.NewServer(svc.handler(t))
	defer ts.Close()

	store := repo.open(t)
	refs := map[string]ostree.Checksum{repo.ref: repo.commit}
	c := testClient(5 * time.Second)
	err := Push(context.Background(), c, store, ts.URL+"/build/1", refs, PushOptions{
		ExtraIDs: []string{"org.example.Extra"},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Metadata is diffed before files, and the file closure comes only from
	// the metadata the remote lacks.
	if len(svc.wanted) != 2 {
		t.Fatalf("missing_objects requests = %d, want 2", len(svc.wanted))
	}
	wantMeta := []string{
		string(repo.commit) + ".commit",
		string(repo.tree) + ".dirtree",
		string(repo.meta) + ".dirmeta",
	}
	for _, name := range wantMeta {
		if !slices.Contains(svc.wanted[0], name) {
			t.Fatalf("first diff missing %s: %v", name, svc.wanted[0])
		}
	}
	if want := []string{string(repo.file) + ".filez"}; !slices.Equal(svc.wanted[1], want) {
		t.Fatalf("second diff = %v, want %v", svc.wanted[1], want)
	}

	// Three upload rounds: file objects, metadata objects, delta parts.
	if len(svc.uploads) != 3 {
		t.Fatalf("upload requests = %d (%v), want 3", len(svc.uploads), svc.uploads)
	}
	if want := []string{string(repo.file) + ".filez"}; !slices.Equal(svc.uploads[0], want) {
		t.Fatalf("file upload = %v", svc.uploads[0])
	}
	for _, name := range wantMeta {
		if !slices.Contains(svc.uploads[1], name) {
			t.Fatalf("metadata upload missing %s: %v", name, svc.uploads[1])
		}
	}
	wantParts := []string{repo.delta + ".0.delta", repo.delta + ".superblock.delta"}
	if !slices.Equal(svc.uploads[2], wantParts) {
		t.Fatalf("delta upload = %v, want %v", svc.uploads[2], wantParts)
	}

	// Refs are registered only after all objects are on the remote.
	if svc.refs[repo.ref] != string(repo.commit) {
		t.Fatalf("refs = %v", svc.refs)
	}
	lastUpload := -1
	refAt := -1
	for i, ev := range svc.events {
		switch ev {
		case "upload":
			lastUpload = i
		case "build_ref":
			refAt = i
		}
	}
	if refAt < lastUpload {
		t.Fatalf("ref registered before uploads finished: %v", svc.events)
	}
	if !slices.Equal(svc.extraIDs, []string{"org.example.Extra"}) {
		t.Fatalf("extra ids = %v", svc.extraIDs)
	}
}

func TestPushSkipsUploadsWhenRemoteHasEverything(t *testing.T) {
	repo := newPushRepo(t)
	svc := newPushService()
	svc.has[string(repo.commit)+".commit"] = true
	svc.has[string(repo.tree)+".dirtree"] = true
	svc.has[string(repo.meta)+".dirmeta"] = true
	ts := httptest.NewServer(svc.handler(t))
	defer ts.Close()

	store := repo.open(t)
	refs := map[string]ostree.Checksum{repo.ref: repo.commit}
	c := testClient(5 * time.Second)
	if err := Push(context.Background(), c, store, ts.URL+"/build/1", refs, PushOptions{}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// No missing metadata means no file closure and no object uploads; the
	// delta still ships and the ref is still registered.
	if len(svc.wanted) != 1 {
		t.Fatalf("missing_objects requests = %d, want 1", len(svc.wanted))
	}
	if len(svc.uploads) != 1 {
		t.Fatalf("upload requests = %d (%v), want 1 (deltas)", len(svc.uploads), svc.uploads)
	}
	if !strings.HasSuffix(svc.uploads[0][0], ".delta") {
		t.Fatalf("upload = %v", svc.uploads[0])
	}
	if svc.refs[repo.ref] != string(repo.commit) {
		t.Fatalf("refs = %v", svc.refs)
	}
}

func TestPushSkipDeltaGlob(t *testing.T) {
	repo := newPushRepo(t)
	svc := newPushService()
	ts := httptest.NewServer(svc.handler(t))
	defer ts.Close()

	store := repo.open(t)
	refs := map[string]ostree.Checksum{repo.ref: repo.commit}
	c := testClient(5 * time.Second)
	err := Push(context.Background(), c, store, ts.URL+"/build/1", refs, PushOptions{
		SkipDeltaGlobs: []string{"org.example.*"},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	for _, names := range svc.uploads {
		for _, name := range names {
			if strings.HasSuffix(name, ".delta") {
				t.Fatalf("delta uploaded despite skip glob: %v", svc.uploads)
			}
		}
	}
}

func TestPushMinimalToken(t *testing.T) {
	repo := newPushRepo(t)
	svc := newPushService()
	ts := httptest.NewServer(svc.handler(t))
	defer ts.Close()

	store := repo.open(t)
	refs := map[string]ostree.Checksum{repo.ref: repo.commit}
	c := testClient(5 * time.Second)
	err := Push(context.Background(), c, store, ts.URL+"/build/1", refs, PushOptions{
		MinimalToken: true,
		ManagerURL:   ts.URL,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	// The subset is minted with the full token; the transfer runs under it.
	if svc.auths["token_subset"] != "Bearer secret" {
		t.Fatalf("token_subset auth = %q", svc.auths["token_subset"])
	}
	if svc.auths["missing_objects"] != "Bearer narrow" {
		t.Fatalf("missing_objects auth = %q", svc.auths["missing_objects"])
	}
	if svc.auths["upload"] != "Bearer narrow" {
		t.Fatalf("upload auth = %q", svc.auths["upload"])
	}
	if svc.events[0] != "token_subset" {
		t.Fatalf("events = %v", svc.events)
	}
}

func TestPushRequiresRefs(t *testing.T) {
	repo := newPushRepo(t)
	store := repo.open(t)
	c := testClient(time.Second)
	if err := Push(context.Background(), c, store, "http://unused.invalid/build/1", nil, PushOptions{}); err == nil {
		t.Fatal("expected error without refs")
	}
}

func TestPushMinimalTokenNeedsManagerURL(t *testing.T) {
	repo := newPushRepo(t)
	store := repo.open(t)
	refs := map[string]ostree.Checksum{repo.ref: repo.commit}
	c := testClient(time.Second)
	err := Push(context.Background(), c, store, "http://unused.invalid/build/1", refs, PushOptions{MinimalToken: true})
	if err == nil {
		t.Fatal("expected error without manager URL")
	}
}
