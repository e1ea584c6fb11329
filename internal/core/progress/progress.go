package progress

import (
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Progress renders download progress bars. Downloads run one at a time, so
// bars are created and completed sequentially.
type Progress struct {
	container *mpb.Progress
}

// WithOutput sets the output for the progress container.
func WithOutput(w io.Writer) func() mpb.ContainerOption {
	return func() mpb.ContainerOption {
		return mpb.WithOutput(w)
	}
}

// WithRefreshRate sets the refresh rate for the progress container.
func WithRefreshRate(refreshRate time.Duration) func() mpb.ContainerOption {
	return func() mpb.ContainerOption {
		return mpb.WithRefreshRate(refreshRate)
	}
}

// NewProgress creates a new progress container.
func NewProgress(opts ...func() mpb.ContainerOption) *Progress {
	containerOpts := DefaultContainerOptions()
	for _, opt := range opts {
		containerOpts = append(containerOpts, opt())
	}
	return &Progress{
		container: mpb.New(containerOpts...),
	}
}

// DefaultContainerOptions returns the default container options for the progress container.
func DefaultContainerOptions() []mpb.ContainerOption {
	return []mpb.ContainerOption{
		mpb.WithOutput(os.Stdout),
		mpb.WithRefreshRate(150 * time.Millisecond),
	}
}

// DefaultBarOptions returns the default bar options for the progress container.
func DefaultBarOptions(description string) []mpb.BarOption {
	return []mpb.BarOption{
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Spinner(spinner, decor.WCSyncSpaceR),
			decor.Name(description, decor.WCSyncSpaceR),
			decor.CountersKibiByte("%.2f/%.2f", decor.WCSyncSpace),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.AverageSpeed(decor.SizeB1024(0), "%.2f", decor.WCSyncSpace),
		),
	}
}

// Bar is one download's progress bar.
type Bar struct {
	bar *mpb.Bar
}

// AddBar adds a bar to the progress container. A negative size renders as an
// indeterminate bar until Complete.
func (g *Progress) AddBar(description string, size int64) *Bar {
	if size < 0 {
		size = 0
	}
	return &Bar{
		bar: g.container.AddBar(size, DefaultBarOptions(description)...),
	}
}

// Incr advances the bar by n bytes.
func (b *Bar) Incr(n int64) {
	b.bar.IncrInt64(n)
}

// Complete marks the bar finished at its current position.
func (b *Bar) Complete() {
	b.bar.SetTotal(-1, true)
}

// Abort removes the bar without completing it.
func (b *Bar) Abort() {
	b.bar.Abort(true)
}

// Wait flushes remaining renders. Call once after the run.
func (g *Progress) Wait() {
	g.container.Wait()
}
