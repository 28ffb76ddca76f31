// ABOUTME: Text progress indicator printed while responses arrive.
// ABOUTME: Shows a spinner, a bar and a received/expected count.

package rpc

import (
	"fmt"
	"math"
	"strings"

	"github.com/fatih/color"
)

var twirlFrames = []string{"|", "/", "-", "\\"}

// Progress renders a progress line. Each call to Twirl advances the spinner.
type Progress struct {
	width int
	frame int
}

// NewProgress returns an indicator with a bar width columns wide; zero
// width renders only the counts.
func NewProgress(width int) *Progress {
	return &Progress{width: width}
}

// Twirl returns the line for current of total responses, starting with a
// carriage return so it overwrites the previous one.
func (p *Progress) Twirl(current, total int) string {
	if p.width <= 0 || total <= 0 {
		return fmt.Sprintf("\r%d / %d", current, total)
	}

	var b strings.Builder
	if current >= total {
		fmt.Fprintf(&b, "\r %s [ ", color.GreenString("*"))
	} else {
		fmt.Fprintf(&b, "\r %s [ ", color.RedString(twirlFrames[p.frame]))
	}

	dashes := int(math.Round(float64(current) / float64(total) * float64(p.width)))
	if dashes > p.width {
		dashes = p.width
	}
	b.WriteString(strings.Repeat("=", dashes))
	b.WriteString(">")
	b.WriteString(strings.Repeat(" ", p.width-dashes))
	fmt.Fprintf(&b, " ] %d / %d", current, total)

	p.frame = (p.frame + 1) % len(twirlFrames)
	return b.String()
}
