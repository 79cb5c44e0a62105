package main

import (
	"io"
	"os"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressOutput is where bars are drawn. Tests point it at io.Discard.
var progressOutput io.Writer = os.Stderr

// progressReporter draws one bar per workflow stage.
type progressReporter struct {
	mu    sync.Mutex
	bars  *mpb.Progress
	byTag map[string]*mpb.Bar
	order []*mpb.Bar
}

func startProgress() *progressReporter {
	return &progressReporter{
		bars:  mpb.New(mpb.WithOutput(progressOutput), mpb.WithWidth(60)),
		byTag: make(map[string]*mpb.Bar),
	}
}

// Report matches progress.StageFunc.
func (p *progressReporter) Report(stage string, processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.byTag[stage]
	if !ok {
		bar = p.bars.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(stage, decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.Counters(0, " | %d/%d"),
			),
		)
		p.byTag[stage] = bar
		p.order = append(p.order, bar)
	}
	bar.SetCurrent(int64(processed))
}

// Stop completes every bar, including stages cut short by an error, and
// waits for the final render.
func (p *progressReporter) Stop() {
	p.mu.Lock()
	for _, bar := range p.order {
		if !bar.Completed() {
			bar.SetTotal(-1, true)
		}
	}
	p.mu.Unlock()

	p.bars.Wait()
}
