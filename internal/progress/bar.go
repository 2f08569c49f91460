// Package progress renders a single-line training progress bar.
package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

type Bar struct {
	w       io.Writer
	fd      int
	tty     bool
	message string

	maxValue     int
	currentValue int
	suffix       string

	started time.Time
}

// NewBar returns a bar that counts up to maxValue. Output is only drawn
// when w is a terminal.
func NewBar(w io.Writer, message string, maxValue int) *Bar {
	b := &Bar{w: w, fd: -1, message: message, maxValue: maxValue, started: time.Now()}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b.fd = int(f.Fd())
		b.tty = true
	}
	return b
}

// formatDuration limits the rendering of a time.Duration to 2 units
func formatDuration(d time.Duration) string {
	if d >= 100*time.Hour {
		return "99h+"
	}
	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return d.Round(time.Second).String()
}

func (b *Bar) width() int {
	if b.fd >= 0 {
		if w, _, err := term.GetSize(b.fd); err == nil {
			return w
		}
	}
	return 80
}

func (b *Bar) percent() float64 {
	if b.maxValue > 0 {
		return float64(b.currentValue) / float64(b.maxValue) * 100
	}
	return 0
}

func (b *Bar) String() string {
	var pre, mid, suf strings.Builder
	if b.message != "" {
		pre.WriteString(b.message)
		pre.WriteString(" ")
	}
	fmt.Fprintf(&pre, "%3.0f%% ", math.Floor(b.percent()))

	fmt.Fprintf(&suf, "%d/%d", b.currentValue, b.maxValue)
	if b.suffix != "" {
		fmt.Fprintf(&suf, " %s", b.suffix)
	}
	elapsed := time.Since(b.started)
	if b.currentValue > 0 && b.currentValue < b.maxValue {
		remaining := time.Duration(float64(elapsed) / float64(b.currentValue) * float64(b.maxValue-b.currentValue))
		fmt.Fprintf(&suf, " [%s:%s]", formatDuration(elapsed), formatDuration(remaining))
	}

	// 2 boundary characters and 1 space
	f := b.width() - pre.Len() - suf.Len() - 3
	if f > 0 {
		n := int(float64(f) * b.percent() / 100)
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		mid.WriteString(strings.Repeat(" ", f-n))
		mid.WriteString("▏ ")
	}
	return pre.String() + mid.String() + suf.String()
}

// Set moves the bar to value and replaces the trailing status text.
func (b *Bar) Set(value int, suffix string) {
	b.currentValue = min(value, b.maxValue)
	b.suffix = suffix
	if b.tty {
		fmt.Fprintf(b.w, "\r%s", b.String())
	}
}

// Done finishes the line.
func (b *Bar) Done() {
	if b.tty {
		fmt.Fprintln(b.w)
	}
}
