package patcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"patchsync/internal/boot"
	"patchsync/internal/cache"
	"patchsync/internal/core/logger"
	"patchsync/internal/download"
	"patchsync/internal/manifest"
	"patchsync/internal/pack"
	"patchsync/internal/universe"
)

// RunOptions configures one synchronization run.
type RunOptions struct {
	// ConfigURL is the base URL of the launcher config service.
	ConfigURL string
	// Environment is the server environment to query (e.g. "live").
	Environment string
	// Universe preselects a universe by name; empty prompts.
	Universe string
	// InstallDir overrides the patcher config's default install path.
	InstallDir string
	// Manifest selects the content manifest: default, minimal or hotfix.
	Manifest string
	// In and Out carry the universe selection prompt.
	In  io.Reader
	Out io.Writer
}

// Run performs one full synchronization: environment discovery, universe
// selection, metadata manifests, then every file of the selected content
// manifest. The metadata cache is loaded at the start and saved exactly once
// at the end of a successful run.
func Run(ctx context.Context, net *download.Downloader, opts RunOptions, log *logger.Logger) error {
	if opts.ConfigURL == "" {
		return fmt.Errorf("no config URL given")
	}

	server, err := selectUniverse(ctx, net, opts, log)
	if err != nil {
		return err
	}
	baseURL := server.CdnInfo.PatcherBase()
	log.Info("selected universe", "name", server.Name, "patcher", baseURL)

	p, err := Setup(ctx, net, baseURL, opts.InstallDir, WithLogger(log))
	if err != nil {
		return err
	}
	log.Info("install dir", "path", p.dirs.Install)
	log.Info("download dir", "path", p.dirs.Download)

	c := cache.New()
	if err := c.Load(p.CachePath()); err != nil {
		return err
	}
	log.Info("loaded cache", "path", p.CachePath(), "entries", c.Len())

	versions, err := p.fetchVersions(ctx)
	if err != nil {
		return err
	}

	// The patcher's own config and the standalone installer are listed in
	// the version manifest; the config is kept current, the installer is
	// never needed by a sync.
	if _, err := p.EnsureMeta(ctx, c, versions, p.cfg.ConfigKey()); err != nil {
		return err
	}
	if f, ok := versions.Get(p.cfg.InstallFileKey()); ok {
		log.Info("installer present, ignoring", "hash", f.Hash)
	}

	if _, err := p.EnsureMeta(ctx, c, versions, p.cfg.IndexFile); err != nil {
		return err
	}
	index, err := p.LoadManifest(p.cfg.IndexFile)
	if err != nil {
		return err
	}

	manifestFile, err := p.cfg.ManifestFor(opts.Manifest)
	if err != nil {
		return err
	}
	if _, err := p.EnsureMeta(ctx, c, index, manifestFile); err != nil {
		return err
	}
	content, err := p.LoadManifest(manifestFile)
	if err != nil {
		return err
	}

	idx, err := p.loadPackIndex(ctx, c, index)
	if err != nil {
		return err
	}

	resolved := 0
	for _, file := range content.Paths() {
		ok, err := p.EnsureFile(ctx, c, idx, content, file)
		if err != nil {
			return err
		}
		if ok {
			resolved++
		}
	}
	log.Info("sync complete", "manifest", manifestFile, "files", content.Len(), "resolved", resolved)

	if err := c.Save(p.CachePath()); err != nil {
		return err
	}
	log.Info("saved cache", "path", p.CachePath(), "entries", c.Len())

	return p.writeBootConfig(server, manifestFile)
}

func selectUniverse(ctx context.Context, net *download.Downloader, opts RunOptions, log *logger.Logger) (*universe.Server, error) {
	envURL, err := url.JoinPath(opts.ConfigURL, "UniverseConfig.svc/xml/EnvironmentInfo")
	if err != nil {
		return nil, fmt.Errorf("invalid config URL %q: %w", opts.ConfigURL, err)
	}
	envURL += "?environment=" + url.QueryEscape(opts.Environment)
	log.Info("loading environment info", "url", envURL)

	envXML, err := net.GetText(ctx, envURL)
	if err != nil {
		return nil, err
	}
	env, err := universe.ParseEnvironment([]byte(envXML))
	if err != nil {
		return nil, err
	}
	log.Info("found universes", "count", len(env.Servers))

	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return env.Select(opts.Universe, in, out)
}

// fetchVersions streams the version manifest straight off the patch server;
// unlike every other blob it is served uncompressed.
func (p *Patcher) fetchVersions(ctx context.Context) (*manifest.Manifest, error) {
	versionURL, err := url.JoinPath(p.baseURL, p.cfg.VersionFile)
	if err != nil {
		return nil, fmt.Errorf("invalid version file URL: %w", err)
	}
	p.log.Info("version file", "url", versionURL)

	text, err := p.net.GetText(ctx, versionURL)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("version manifest %s: %w", versionURL, err)
	}
	p.log.Info("loaded manifest", "name", m.Version.Name, "version", m.Version.Version, "files", m.Len())
	return m, nil
}

// loadPackIndex keeps the pack catalog current via the index manifest and
// parses it. A universe without a catalog yields an empty index.
func (p *Patcher) loadPackIndex(ctx context.Context, c *cache.Cache, index *manifest.Manifest) (*pack.Index, error) {
	if _, err := p.EnsureMeta(ctx, c, index, p.cfg.PackCatalog); err != nil {
		return nil, err
	}
	idx, err := pack.Load(filepath.Join(p.dirs.Download, NativeRel(p.cfg.PackCatalog)))
	if err != nil {
		return nil, err
	}
	p.log.Info("loaded pack catalog", "archives", len(idx.Archives), "files", idx.Len())
	return idx, nil
}

// writeBootConfig renders boot.cfg into the configured target path inside
// the install tree.
func (p *Patcher) writeBootConfig(server *universe.Server, manifestFile string) error {
	if p.cfg.ConfigFile == "" {
		return nil
	}

	port := int32(80)
	if server.CdnInfo.Secure {
		port = 443
	}
	cfg := &boot.Config{
		ServerName:      server.Name,
		PatchServerIP:   server.CdnInfo.PatcherURL,
		PatchServerPort: port,
		PatchServerDir:  server.CdnInfo.PatcherDir,
		ManifestFile:    manifestFile,
		Locale:          "en_US",
	}

	target := NativeRel(boot.ResolveTokens(p.cfg.ConfigFile, p.dirs.Install))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}
	if err := os.WriteFile(target, []byte(cfg.Render()), 0644); err != nil {
		return fmt.Errorf("failed to write boot config %s: %w", target, err)
	}
	p.log.Info("wrote boot config", "path", target)
	return nil
}
