// Package download implements the fetch-and-decompress pipeline: a patch
// server blob is streamed to a compressed artifact in the download
// directory, decompressed to its target path, and the artifact is removed.
package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"patchsync/internal/core/logger"
	"patchsync/internal/core/progress"
	"patchsync/internal/core/types"
	"patchsync/internal/sd0"
	"patchsync/internal/transfer"
	"patchsync/internal/transport"

	"golang.org/x/time/rate"
)

// Fetcher retrieves the body behind a URL. transport.HTTPTransfer and
// transport.S3Transfer both implement it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cb transport.BodyCallback) error
}

type DownloaderOption func(*Downloader)

// WithLimiter sets the byte-rate limiter applied to downloads.
func WithLimiter(limiter *rate.Limiter) DownloaderOption {
	return func(d *Downloader) {
		d.limiter = limiter
	}
}

// WithProgress enables progress bars for downloads.
func WithProgress(p *progress.Progress) DownloaderOption {
	return func(d *Downloader) {
		d.progress = p
	}
}

// WithFetcher registers the fetcher for a URL scheme, replacing the default.
func WithFetcher(scheme string, f Fetcher) DownloaderOption {
	return func(d *Downloader) {
		d.fetchers[scheme] = f
	}
}

func WithLogger(log *logger.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.log = log
	}
}

// Downloader performs sequential fetches from the patch server. It is not
// safe for concurrent use; the run drives it one file at a time.
type Downloader struct {
	fetchers map[string]Fetcher
	limiter  *rate.Limiter
	progress *progress.Progress
	log      *logger.Logger
}

func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		fetchers: make(map[string]Fetcher),
		limiter:  transfer.DefaultRateLimiter(),
		log:      logger.NewLogger(logger.WithName("download")),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.fetchers["http"] == nil {
		ht := transport.NewHTTPTransfer()
		d.fetchers["http"] = ht
		d.fetchers["https"] = ht
	}
	return d
}

func (d *Downloader) fetcher(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if f, ok := d.fetchers[u.Scheme]; ok {
		return f, nil
	}
	if u.Scheme == "s3" {
		st, err := transport.NewS3Transfer()
		if err != nil {
			return nil, err
		}
		d.fetchers["s3"] = st
		return st, nil
	}
	return nil, fmt.Errorf("no fetcher for URL scheme %q", u.Scheme)
}

// GetText fetches a small text body such as patcher.ini or a manifest.
func (d *Downloader) GetText(ctx context.Context, url string) (string, error) {
	f, err := d.fetcher(url)
	if err != nil {
		return "", err
	}
	var text string
	err = f.Fetch(ctx, url, func(r io.Reader, _ int64) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		text = string(data)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	return text, nil
}

// Fetch materializes the blob at url as a decompressed file at destPath.
// The compressed stream is staged as <name>.sd0 in downloadDir and removed
// on completion, success or failure. expectedSize is the compressed size
// declared by the manifest, used for progress; zero means unknown.
func (d *Downloader) Fetch(ctx context.Context, url, downloadDir, destPath string, expectedSize types.Bytes) error {
	sd0Path := filepath.Join(downloadDir, filepath.Base(destPath)+".sd0")
	d.log.Info("saving", "url", url, "to", sd0Path)

	if err := d.fetchCompressed(ctx, url, sd0Path, expectedSize); err != nil {
		return err
	}
	defer os.Remove(sd0Path)

	d.log.Info("download complete, decompressing", "to", destPath)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", destPath, err)
	}
	if err := decompress(sd0Path, destPath); err != nil {
		return err
	}

	d.log.Info("removing compressed file", "path", sd0Path)
	return nil
}

func (d *Downloader) fetchCompressed(ctx context.Context, url, sd0Path string, expectedSize types.Bytes) error {
	f, err := d.fetcher(url)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(sd0Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", sd0Path, err)
	}
	out, err := os.Create(sd0Path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", sd0Path, err)
	}

	err = f.Fetch(ctx, url, func(r io.Reader, size int64) error {
		if expectedSize > 0 {
			size = expectedSize.Int64()
		}

		var bar *progress.Bar
		readerOpts := []transfer.ReaderOption{transfer.WithLimiter(d.limiter)}
		if d.progress != nil {
			bar = d.progress.AddBar(filepath.Base(sd0Path), size)
			readerOpts = append(readerOpts, transfer.WithCallback(bar.Incr))
		}

		_, err := io.Copy(out, transfer.NewReader(ctx, r, readerOpts...))
		if bar != nil {
			if err != nil {
				bar.Abort()
			} else {
				bar.Complete()
			}
		}
		return err
	})
	if err != nil {
		out.Close()
		os.Remove(sd0Path)
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", sd0Path, err)
	}
	return nil
}

func decompress(sd0Path, destPath string) error {
	in, err := os.Open(sd0Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", sd0Path, err)
	}
	defer in.Close()

	stream, err := sd0.NewReader(in)
	if err != nil {
		return fmt.Errorf("%s: %w", sd0Path, err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, stream); err != nil {
		out.Close()
		return fmt.Errorf("failed to decompress %s: %w", sd0Path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return nil
}
