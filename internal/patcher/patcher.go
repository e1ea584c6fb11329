// Package patcher implements the sync decision engine: for every file of a
// file set it combines the pack catalog, the manifest and the metadata cache
// to decide whether the file is archived, current, or needs a fetch.
package patcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"patchsync/internal/cache"
	"patchsync/internal/core/logger"
	"patchsync/internal/core/types"
	"patchsync/internal/crc"
	"patchsync/internal/download"
	"patchsync/internal/manifest"
	"patchsync/internal/pack"

	"net/url"
)

// Dirs are the two materialization areas of a run. Metadata files live in
// the download (staging) area inside the install tree; content files live in
// the install area itself.
type Dirs struct {
	Install  string
	Download string
}

// NewDirs resolves and creates the run directories. installDir overrides the
// patcher config's default install path; both are taken relative to the
// working directory.
func NewDirs(cfg *Config, installDir string) (Dirs, error) {
	if installDir == "" {
		installDir = cfg.DefaultInstallPath
	}
	install := installDir
	if !filepath.IsAbs(install) {
		cwd, err := os.Getwd()
		if err != nil {
			return Dirs{}, err
		}
		install = filepath.Join(cwd, install)
	}
	install = filepath.Clean(install)
	if err := os.MkdirAll(install, 0755); err != nil {
		return Dirs{}, fmt.Errorf("failed to create install dir %s: %w", install, err)
	}

	dl := filepath.Join(install, NativeRel(cfg.DownloadDirectory))
	if err := os.MkdirAll(dl, 0755); err != nil {
		return Dirs{}, fmt.Errorf("failed to create download dir %s: %w", dl, err)
	}

	return Dirs{Install: install, Download: dl}, nil
}

// keys are the cache-key prefixes of the two areas. The same relative path
// in both areas must never collide in the cache.
type keys struct {
	download string
	install  string
}

// Patcher resolves files of one universe against its patch tree.
type Patcher struct {
	baseURL string
	cfg     *Config
	net     *download.Downloader
	dirs    Dirs
	keys    keys
	log     *logger.Logger
}

type PatcherOption func(*Patcher)

func WithLogger(log *logger.Logger) PatcherOption {
	return func(p *Patcher) {
		p.log = log
	}
}

// New builds a Patcher from an already-parsed config. baseURL is the patch
// tree base and must end in a slash.
func New(baseURL string, cfg *Config, net *download.Downloader, dirs Dirs, opts ...PatcherOption) *Patcher {
	p := &Patcher{
		baseURL: baseURL,
		cfg:     cfg,
		net:     net,
		dirs:    dirs,
		keys: keys{
			download: cfg.DownloadDirectory + "/",
			install:  "",
		},
		log: logger.NewLogger(logger.WithName("patcher")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Setup fetches and parses patcher.ini from the patch tree and builds a
// Patcher rooted at installDir.
func Setup(ctx context.Context, net *download.Downloader, baseURL, installDir string, opts ...PatcherOption) (*Patcher, error) {
	configURL, err := url.JoinPath(baseURL, "patcher.ini")
	if err != nil {
		return nil, fmt.Errorf("invalid patcher base URL %q: %w", baseURL, err)
	}

	text, err := net.GetText(ctx, configURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download patcher config: %w", err)
	}
	cfg, err := ParseConfig(text)
	if err != nil {
		return nil, fmt.Errorf("patcher config %s: %w", configURL, err)
	}

	dirs, err := NewDirs(cfg, installDir)
	if err != nil {
		return nil, err
	}

	return New(baseURL, cfg, net, dirs, opts...), nil
}

// Config returns the parsed patcher configuration.
func (p *Patcher) Config() *Config {
	return p.cfg
}

// Dirs returns the resolved run directories.
func (p *Patcher) Dirs() Dirs {
	return p.dirs
}

// CachePath is the location of the metadata cache store.
func (p *Patcher) CachePath() string {
	return filepath.Join(p.dirs.Download, NativeRel(p.cfg.CacheFile))
}

// FileURL resolves a manifest entry to its blob URL on the patch server.
func (p *Patcher) FileURL(f manifest.FileLine) (string, error) {
	u, err := url.JoinPath(p.baseURL, f.ToPath())
	if err != nil {
		return "", fmt.Errorf("failed to build URL for %s: %w", f.ToPath(), err)
	}
	return u, nil
}

// NativeRel converts a manifest path (backslash-separated) to a relative
// path in the host's separator.
func NativeRel(file string) string {
	return filepath.FromSlash(strings.ReplaceAll(file, "\\", "/"))
}

// LoadManifest parses a previously ensured manifest from the download area.
func (p *Patcher) LoadManifest(file string) (*manifest.Manifest, error) {
	path := filepath.Join(p.dirs.Download, NativeRel(file))
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer fh.Close()

	m, err := manifest.Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	p.log.Info("loaded manifest", "name", m.Version.Name, "version", m.Version.Version, "files", m.Len())
	return m, nil
}

// EnsureMeta resolves a metadata file (version list, index, sub-manifests,
// pack catalog) against the download area.
func (p *Patcher) EnsureMeta(ctx context.Context, c *cache.Cache, m *manifest.Manifest, file string) (bool, error) {
	ok, err := p.ensure(ctx, c, m, p.dirs.Download, p.keys.download, file)
	if err != nil {
		return false, fmt.Errorf("failed to ensure meta %s: %w", file, err)
	}
	return ok, nil
}

// EnsureFile resolves a content file against the install area. Files whose
// path checksum appears in the pack catalog are delivered inside an archive:
// they are reported as shadowed without touching the network or the cache.
func (p *Patcher) EnsureFile(ctx context.Context, c *cache.Cache, idx *pack.Index, m *manifest.Manifest, file string) (bool, error) {
	sum := crc.ChecksumString(file)
	if ref, ok := idx.Lookup(sum); ok {
		p.log.Info("file is archived",
			"file", file,
			"category", ref.Category,
			"archive", idx.Archives[ref.PackIndex].Path,
		)
		return false, nil
	}
	ok, err := p.ensure(ctx, c, m, p.dirs.Install, p.keys.install, file)
	if err != nil {
		return false, fmt.Errorf("failed to ensure %s: %w", file, err)
	}
	return ok, nil
}

// ensure is the shared resolution: manifest lookup, cache staleness check,
// fetch, cache update. It returns true when the file is authoritative for
// this file set (present in the manifest), false otherwise.
func (p *Patcher) ensure(ctx context.Context, c *cache.Cache, m *manifest.Manifest, baseDir, baseKey, file string) (bool, error) {
	f, ok := m.Get(file)
	if !ok {
		p.log.Warn("not found in manifest", "file", file)
		return false, nil
	}

	cacheKey := baseKey + file
	if e, ok := c.Get(cacheKey); ok && e.Hash == f.Hash {
		p.log.Debug("cache hit", "file", file, "hash", f.Hash)
		return true, nil
	}

	fileURL, err := p.FileURL(f)
	if err != nil {
		return false, err
	}
	p.log.Info("fetching", "file", file, "url", fileURL, "size", types.Bytes(f.Size).String())

	path := filepath.Join(baseDir, NativeRel(file))
	if err := p.net.Fetch(ctx, fileURL, p.dirs.Download, path, types.Bytes(f.CompressedSize)); err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat fetched file %s: %w", path, err)
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9

	// Size and hash are the manifest's claims, not recomputed from the
	// fetched bytes; the cache trusts the manifest.
	c.Insert(cacheKey, cache.Entry{
		MTime: &mtime,
		Size:  f.Size,
		Hash:  f.Hash,
	})
	return true, nil
}
