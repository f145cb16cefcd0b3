package output

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
)

// Progress draws a single-line solver progress bar on stderr. It only
// draws in text mode on a terminal; elsewhere it just tracks the value.
type Progress struct {
	r      *Renderer
	label  string
	bar    progress.Model
	active bool
	last   int
}

// NewProgress returns a progress bar labelled label.
func (r *Renderer) NewProgress(label string) *Progress {
	p := &Progress{r: r, label: label, last: -1}
	if r.isTTY && r.EffectiveMode() == ModeText {
		p.active = true
		p.bar = progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
			progress.WithColorProfile(r.profile),
		)
	}
	return p
}

// Update sets the bar to percent (0-100). Repeated values are ignored.
func (p *Progress) Update(percent int) {
	percent = max(0, min(percent, 100))
	if percent == p.last {
		return
	}
	p.last = percent
	if !p.active {
		return
	}
	_, _ = fmt.Fprintf(p.r.errOut, "\r%s %s", p.label, p.bar.ViewAs(float64(percent)/100))
}

// Percent returns the last value set, or -1.
func (p *Progress) Percent() int {
	return p.last
}

// Done ends the bar's line.
func (p *Progress) Done() {
	if p.active && p.last >= 0 {
		_, _ = fmt.Fprintln(p.r.errOut)
	}
}
