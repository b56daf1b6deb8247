package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
)

const progressWidth = 78

// progressPrinter redraws a single status line for the transfer that last
// reported progress. Concurrent transfers share the line.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	drawn   bool
	last    map[string]int
}

func newProgressPrinter(w io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{w: w, enabled: enabled, last: make(map[string]int)}
}

// Update matches fetch.ProgressFunc.
func (p *progressPrinter) Update(name string, done, total int64) {
	if !p.enabled {
		return
	}
	pct := 0
	if total > 0 {
		pct = int(done * 100 / total)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[name]; ok && prev == pct {
		return
	}
	p.last[name] = pct

	line := fmt.Sprintf("%3d%% %9s  %s", pct, formatBytes(done), name)
	line = runewidth.Truncate(line, progressWidth, "...")
	fmt.Fprint(p.w, "\r"+runewidth.FillRight(line, progressWidth))
	p.drawn = true
}

// Finish clears the status line.
func (p *progressPrinter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprint(p.w, "\r"+runewidth.FillRight("", progressWidth)+"\r")
		p.drawn = false
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
