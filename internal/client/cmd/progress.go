package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-share/internal/transfer"
	"github.com/schollz/progressbar/v3"
)

// progressBars draws one bar per transfer in flight.
type progressBars struct {
	out io.Writer

	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func newProgressBars(out io.Writer) *progressBars {
	return &progressBars{
		out:  out,
		bars: make(map[string]*progressbar.ProgressBar),
	}
}

func (p *progressBars) Update(peerID string, t transfer.Transfer) {
	if t.DeclaredSize <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[t.ID]
	if !ok {
		verb := "Sending"
		if t.Direction == transfer.DirectionReceive {
			verb = "Receiving"
		}
		bar = progressbar.NewOptions64(t.DeclaredSize,
			progressbar.OptionSetDescription(fmt.Sprintf("%s %s (%s)", verb, t.FileName, peerID)),
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.out) }),
		)
		p.bars[t.ID] = bar
	}

	_ = bar.Set64(min(t.BytesTransferred, t.DeclaredSize))
	if t.BytesTransferred >= t.DeclaredSize {
		delete(p.bars, t.ID)
	}
}

// Stop abandons the bar for id, if any, leaving the line as drawn.
func (p *progressBars) Stop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bar, ok := p.bars[id]; ok {
		_ = bar.Exit()
		delete(p.bars, id)
	}
}
