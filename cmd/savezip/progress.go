package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// progress prints one status line per file, redrawn in place when the
// output is a terminal. Elsewhere only file names are printed.
type progress struct {
	w   io.Writer
	tty bool

	mu         sync.Mutex
	name       string
	size       int64
	downloaded int64
	last       time.Time
}

func newProgress(w io.Writer) *progress {
	p := &progress{w: w}
	if f, ok := w.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

// Start announces the next input file.
func (p *progress) Start(name string, size int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty && p.name != "" {
		fmt.Fprintln(p.w)
	}
	p.name = name
	p.size = size
	if p.tty {
		p.redraw()
	} else {
		fmt.Fprintf(p.w, "adding %s (%s)\n", name, humanize.IBytes(uint64(size)))
	}
}

// Add records n bytes received by a download.
func (p *progress) Add(n int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.downloaded += int64(n)
	if p.tty && time.Since(p.last) >= 100*time.Millisecond {
		p.redraw()
	}
}

// Done ends the status line.
func (p *progress) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty {
		p.redraw()
		fmt.Fprintln(p.w)
	}
}

func (p *progress) redraw() {
	p.last = time.Now()
	line := fmt.Sprintf("%s (%s)", p.name, humanize.IBytes(uint64(p.size)))
	if p.downloaded > 0 {
		line += fmt.Sprintf(" | archive %s received", humanize.IBytes(uint64(p.downloaded)))
	}
	// Clear to end of line after the carriage return.
	fmt.Fprintf(p.w, "\r%s\x1b[K", line)
}
