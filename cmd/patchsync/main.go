package main

import (
	"fmt"

	"patchsync/internal/config"
	"patchsync/internal/core/logger"
	"patchsync/internal/core/progress"
	"patchsync/internal/core/types"
	"patchsync/internal/crc"
	"patchsync/internal/download"
	"patchsync/internal/patcher"
	"patchsync/internal/transfer"

	"github.com/alecthomas/kong"
)

type SyncCmd struct {
	URL        string      `short:"u" long:"url" help:"Launcher config service base URL"`
	Env        string      `short:"e" long:"env" help:"Server environment to query (e.g. live)"`
	Universe   string      `short:"U" long:"universe" help:"Universe name; skips the selection prompt"`
	InstallDir string      `short:"d" long:"install-dir" help:"Install directory (defaults to the patch tree's choice)"`
	Manifest   string      `short:"m" long:"manifest" help:"Content manifest: default, minimal or hotfix"`
	RateLimit  types.Bytes `long:"rate-limit" help:"Download rate cap (e.g. 10MB); 0 means unlimited"`
	NoProgress bool        `long:"no-progress" help:"Disable progress bars"`
}

type CrcCmd struct {
	Paths []string `arg:"" help:"Manifest paths to checksum"`
}

type CLI struct {
	ConfigFile string  `short:"c" long:"config" help:"Config file path (defaults to patchsync.yaml)"`
	Debug      bool    `long:"debug" help:"Enable debug logging"`
	Sync       SyncCmd `cmd:"sync" help:"Synchronize a client install against its patch server"`
	Crc        CrcCmd  `cmd:"crc" help:"Print the path checksum of manifest paths"`
}

func (c *SyncCmd) Run(cliRoot *CLI) error {
	cfg, err := config.LoadConfig(config.ResolveConfigPath(cliRoot.ConfigFile))
	if err != nil {
		return err
	}

	// Flags win over the config file.
	if c.URL != "" {
		cfg.ConfigURL = c.URL
	}
	if c.Env != "" {
		cfg.Environment = c.Env
	}
	if c.Universe != "" {
		cfg.Universe = c.Universe
	}
	if c.InstallDir != "" {
		cfg.InstallDir = c.InstallDir
	}
	if c.Manifest != "" {
		cfg.Manifest = c.Manifest
	}
	if c.RateLimit != 0 {
		cfg.RateLimit = c.RateLimit
	}

	if cliRoot.Debug || cfg.Debug {
		logger.SetDefaultLevel(logger.LevelDebug)
	}
	log := logger.NewLogger(logger.WithName("patchsync"))

	ctx, cancel := types.DefaultSignalNotifySubContext()
	defer cancel()

	netOpts := []download.DownloaderOption{
		download.WithLogger(log.WithGroup("download")),
	}
	if cfg.RateLimit != 0 {
		netOpts = append(netOpts, download.WithLimiter(
			transfer.NewRateLimiter(cfg.RateLimit, transfer.DefaultRateBurst),
		))
	}
	var prog *progress.Progress
	if !c.NoProgress {
		prog = progress.NewProgress()
		netOpts = append(netOpts, download.WithProgress(prog))
	}
	net := download.NewDownloader(netOpts...)

	err = patcher.Run(ctx, net, patcher.RunOptions{
		ConfigURL:   cfg.ConfigURL,
		Environment: cfg.Environment,
		Universe:    cfg.Universe,
		InstallDir:  cfg.InstallDir,
		Manifest:    cfg.Manifest,
	}, log)
	if prog != nil {
		prog.Wait()
	}
	return err
}

func (c *CrcCmd) Run(cliRoot *CLI) error {
	for _, path := range c.Paths {
		fmt.Printf("%08x  %s\n", crc.ChecksumString(path), path)
	}
	return nil
}

func main() {
	var cliRoot CLI
	kctx := kong.Parse(
		&cliRoot,
		kong.Name("patchsync"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Description("patchsync - LEGO Universe content synchronization client"),
	)
	kctx.FatalIfErrorf(kctx.Run(&cliRoot))
}
