package patcher

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"patchsync/internal/cache"
	"patchsync/internal/core/types"
	"patchsync/internal/crc"
	"patchsync/internal/download"
	"patchsync/internal/manifest"
	"patchsync/internal/pack"
	"patchsync/internal/sd0"
	"patchsync/internal/transport"
)

// fakeCDN serves sd0 blobs and plain files and counts every request.
type fakeCDN struct {
	mu      sync.Mutex
	files   map[string][]byte // URL path → response bytes
	fetches map[string]int
	srv     *httptest.Server
}

func newFakeCDN(t *testing.T) *fakeCDN {
	t.Helper()
	c := &fakeCDN{
		files:   make(map[string][]byte),
		fetches: make(map[string]int),
	}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		data, ok := c.files[r.URL.Path]
		if ok {
			c.fetches[r.URL.Path]++
		}
		c.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *fakeCDN) put(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = data
}

// putBlob stores payload sd0-compressed under the hash-sharded blob path.
func (c *fakeCDN) putBlob(t *testing.T, hash types.Digest, payload []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := sd0.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("sd0 Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("sd0 Close: %v", err)
	}
	h := hash.String()
	c.put(fmt.Sprintf("/%s/%s/%s.sd0", h[:1], h[:2], h), buf.Bytes())
}

func (c *fakeCDN) blobFetches(hash types.Digest) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := hash.String()
	return c.fetches[fmt.Sprintf("/%s/%s/%s.sd0", h[:1], h[:2], h)]
}

func (c *fakeCDN) totalFetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.fetches {
		n += v
	}
	return n
}

func testDownloader() *download.Downloader {
	// httptest servers speak HTTP/1.1, so skip the h2 default client.
	ht := transport.NewHTTPTransfer(transport.HTTPWithClient(http.DefaultClient))
	return download.NewDownloader(
		download.WithFetcher("http", ht),
		download.WithFetcher("https", ht),
	)
}

func mkDigest(b byte) types.Digest {
	var d types.Digest
	for i := range d {
		d[i] = b
	}
	return d
}

func buildManifest(t *testing.T, name string, files map[string]types.Digest) *manifest.Manifest {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("[version]\n1,00000000000000000000000000000000," + name + "\n[files]\n")
	for path, hash := range files {
		fmt.Fprintf(&sb, "%s,100,%s,50,%s\n", path, hash, hash)
	}
	m, err := manifest.Parse(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("buildManifest: %v", err)
	}
	return m
}

func buildPackIndex(t *testing.T, crcs ...uint32) *pack.Index {
	t.Helper()
	var buf bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}
	write(uint32(pack.Version))
	write(uint32(1))
	archive := "client\\res\\pack\\front.pk"
	write(uint32(len(archive)))
	buf.WriteString(archive)
	write(uint32(len(crcs)))
	for _, sum := range crcs {
		write(sum)
		write(uint32(0))
		write(uint32(0))
		write(uint32(0)) // pack index
		write(uint32(1)) // category
	}
	idx, err := pack.Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("pack.Parse: %v", err)
	}
	return idx
}

func newTestPatcher(t *testing.T, cdn *fakeCDN) *Patcher {
	t.Helper()
	cfg := DefaultConfig()
	dirs, err := NewDirs(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("NewDirs: %v", err)
	}
	return New(cdn.srv.URL+"/", cfg, testDownloader(), dirs)
}

func TestEnsureFileFetchesAndCaches(t *testing.T) {
	cdn := newFakeCDN(t)
	hash := mkDigest(0x11)
	cdn.putBlob(t, hash, []byte("payload of a/b.txt"))

	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "trunk", map[string]types.Digest{"a/b.txt": hash})
	c := cache.New()

	ok, err := p.EnsureFile(context.Background(), c, pack.Empty(), m, "a/b.txt")
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if !ok {
		t.Fatalf("EnsureFile returned false for a fetched file")
	}

	data, err := os.ReadFile(filepath.Join(p.Dirs().Install, "a", "b.txt"))
	if err != nil {
		t.Fatalf("fetched file missing: %v", err)
	}
	if string(data) != "payload of a/b.txt" {
		t.Fatalf("fetched contents = %q", data)
	}

	e, found := c.Get("a/b.txt")
	if !found {
		t.Fatalf("no cache entry recorded")
	}
	if e.Hash != hash || e.Size != 100 {
		t.Fatalf("cache entry carries %+v, want manifest's declared hash/size", e)
	}
	if e.MTime == nil {
		t.Fatalf("fresh cache entry has no mtime")
	}
	if c.Len() != 1 {
		t.Fatalf("cache has %d entries, want 1", c.Len())
	}
}

func TestEnsureFileCacheHit(t *testing.T) {
	cdn := newFakeCDN(t)
	hash := mkDigest(0x22)
	cdn.putBlob(t, hash, []byte("content"))

	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "trunk", map[string]types.Digest{"client\\foo.txt": hash})
	c := cache.New()
	mtime := 1000.0
	c.Insert("client\\foo.txt", cache.Entry{MTime: &mtime, Size: 100, Hash: hash})

	ok, err := p.EnsureFile(context.Background(), c, pack.Empty(), m, "client\\foo.txt")
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if !ok {
		t.Fatalf("EnsureFile returned false for a cache hit")
	}
	if n := cdn.totalFetches(); n != 0 {
		t.Fatalf("cache hit performed %d fetches", n)
	}
	if _, err := os.Stat(filepath.Join(p.Dirs().Install, "client", "foo.txt")); !os.IsNotExist(err) {
		t.Fatalf("cache hit materialized a file (err=%v)", err)
	}
}

func TestEnsureFileStaleness(t *testing.T) {
	cdn := newFakeCDN(t)
	remote := mkDigest(0x33)
	stale := mkDigest(0x44)
	cdn.putBlob(t, remote, []byte("new content"))

	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "trunk", map[string]types.Digest{"client\\foo.txt": remote})
	c := cache.New()
	mtime := 1000.0
	c.Insert("client\\foo.txt", cache.Entry{MTime: &mtime, Size: 100, Hash: stale})

	ok, err := p.EnsureFile(context.Background(), c, pack.Empty(), m, "client\\foo.txt")
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if !ok {
		t.Fatalf("EnsureFile returned false for a stale file")
	}
	if n := cdn.blobFetches(remote); n != 1 {
		t.Fatalf("stale file fetched %d times, want 1", n)
	}

	e, _ := c.Get("client\\foo.txt")
	if e.Hash != remote {
		t.Fatalf("cache entry not overwritten with manifest hash: %+v", e)
	}
	if e.MTime == nil || *e.MTime == 1000.0 {
		t.Fatalf("cache entry mtime not refreshed: %+v", e.MTime)
	}
}

func TestEnsureFileArchiveShadowing(t *testing.T) {
	cdn := newFakeCDN(t)
	hash := mkDigest(0x55)
	cdn.putBlob(t, hash, []byte("content"))

	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "trunk", map[string]types.Digest{"client\\res\\x.nif": hash})
	idx := buildPackIndex(t, crc.ChecksumString("client\\res\\x.nif"))
	c := cache.New()

	ok, err := p.EnsureFile(context.Background(), c, idx, m, "client\\res\\x.nif")
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if ok {
		t.Fatalf("archived file reported as authoritative")
	}
	if n := cdn.totalFetches(); n != 0 {
		t.Fatalf("archived file performed %d fetches", n)
	}
	if c.Len() != 0 {
		t.Fatalf("archived file mutated the cache")
	}
}

func TestEnsureFileNotInManifest(t *testing.T) {
	cdn := newFakeCDN(t)
	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "trunk", map[string]types.Digest{})
	c := cache.New()

	ok, err := p.EnsureFile(context.Background(), c, pack.Empty(), m, "client\\ghost.txt")
	if err != nil {
		t.Fatalf("unknown file must not be an error, got %v", err)
	}
	if ok {
		t.Fatalf("unknown file reported as authoritative")
	}
	if cdn.totalFetches() != 0 || c.Len() != 0 {
		t.Fatalf("unknown file caused fetches or cache mutation")
	}
}

func TestEnsureMetaUsesDownloadArea(t *testing.T) {
	cdn := newFakeCDN(t)
	hash := mkDigest(0x66)
	cdn.putBlob(t, hash, []byte("[version]\n1,00000000000000000000000000000000,index\n[files]\n"))

	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "versions", map[string]types.Digest{"index.txt": hash})
	c := cache.New()

	ok, err := p.EnsureMeta(context.Background(), c, m, "index.txt")
	if err != nil {
		t.Fatalf("EnsureMeta: %v", err)
	}
	if !ok {
		t.Fatalf("EnsureMeta returned false")
	}

	if _, err := os.Stat(filepath.Join(p.Dirs().Download, "index.txt")); err != nil {
		t.Fatalf("meta file not in download area: %v", err)
	}

	// The download-area prefix keeps the key distinct from an install-area
	// file of the same relative path.
	if _, found := c.Get("versions/index.txt"); !found {
		t.Fatalf("cache key missing download prefix")
	}
	if _, found := c.Get("index.txt"); found {
		t.Fatalf("meta file cached under the install-area key")
	}
}

func TestSyncIdempotence(t *testing.T) {
	cdn := newFakeCDN(t)
	h1 := mkDigest(0x77)
	h2 := mkDigest(0x88)
	cdn.putBlob(t, h1, []byte("one"))
	cdn.putBlob(t, h2, []byte("two"))

	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "trunk", map[string]types.Digest{
		"client\\one.txt": h1,
		"client\\two.txt": h2,
	})

	c := cache.New()
	for _, file := range m.Paths() {
		if _, err := p.EnsureFile(context.Background(), c, pack.Empty(), m, file); err != nil {
			t.Fatalf("first pass EnsureFile(%s): %v", file, err)
		}
	}
	if n := cdn.totalFetches(); n != 2 {
		t.Fatalf("first pass performed %d fetches, want 2", n)
	}
	if err := c.Save(p.CachePath()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := os.ReadFile(p.CachePath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	// Re-run with the persisted cache: zero fetches, byte-identical store.
	c2 := cache.New()
	if err := c2.Load(p.CachePath()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, file := range m.Paths() {
		if _, err := p.EnsureFile(context.Background(), c2, pack.Empty(), m, file); err != nil {
			t.Fatalf("second pass EnsureFile(%s): %v", file, err)
		}
	}
	if n := cdn.totalFetches(); n != 2 {
		t.Fatalf("second pass performed %d extra fetches", n-2)
	}
	if err := c2.Save(p.CachePath()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := os.ReadFile(p.CachePath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cache store changed across an idempotent re-run:\n%q\n%q", first, second)
	}
}

func TestEnsureFileFetchFailure(t *testing.T) {
	cdn := newFakeCDN(t)
	hash := mkDigest(0x99) // no blob served for it

	p := newTestPatcher(t, cdn)
	m := buildManifest(t, "trunk", map[string]types.Digest{"client\\gone.txt": hash})
	c := cache.New()

	if _, err := p.EnsureFile(context.Background(), c, pack.Empty(), m, "client\\gone.txt"); err == nil {
		t.Fatalf("EnsureFile succeeded with no blob on the server")
	}
	if c.Len() != 0 {
		t.Fatalf("failed fetch mutated the cache")
	}
}
