package transfer

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar renders tracker updates as a terminal progress bar. Unknown totals get
// a spinner with a byte count.
type Bar struct {
	bar *progressbar.ProgressBar
}

func NewBar(w io.Writer, task Task) *Bar {
	total := task.Total
	if !task.TotalKnown() {
		total = -1
	}
	return &Bar{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", task.Direction, task.Path)),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)}
}

// Update is shaped to be passed as a tracker's onUpdate callback.
func (b *Bar) Update(p Progress) {
	_ = b.bar.Set64(p.Sent)
	if p.Status == Done {
		_ = b.bar.Finish()
	}
}
