// Package progress renders sync progress events.
package progress

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"
)

// Outcome is what happened to a single file.
type Outcome int

const (
	Copied Outcome = iota
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Copied:
		return "copied"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event is emitted once per processed file.
type Event struct {
	Processed int64
	Total     int64 // 0 when unknown
	Path      string
	Size      int64
	Outcome   Outcome
}

// Reporter is a passive sink for progress events.
type Reporter interface {
	Start(total int64)
	Update(ev Event)
	Finish()
}

// Auto picks a reporter for f: a bar on terminals, periodic log lines otherwise.
func Auto(f *os.File, quiet bool) Reporter {
	if quiet {
		return Nop()
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewBar(f)
	}
	return NewLog(log.New(f, "", log.LstdFlags), DefaultLogEvery)
}

type nop struct{}

func (nop) Start(int64)  {}
func (nop) Update(Event) {}
func (nop) Finish()      {}

// Nop returns a Reporter that discards everything.
func Nop() Reporter { return nop{} }

// Bar draws a pb progress bar.
type Bar struct {
	w   io.Writer
	bar *pb.ProgressBar
}

const barTemplate = `{{counters . }} {{bar . }} {{percent . }} {{etime . }} {{string . "file"}}`

// NewBar returns a Bar writing to w.
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

func (b *Bar) Start(total int64) {
	b.bar = pb.New64(total)
	b.bar.SetTemplateString(barTemplate)
	b.bar.SetWriter(b.w)
	b.bar.Start()
}

func (b *Bar) Update(ev Event) {
	if b.bar == nil {
		return
	}
	b.bar.Set("file", filepath.Base(ev.Path))
	b.bar.SetCurrent(ev.Processed)
}

func (b *Bar) Finish() {
	if b.bar != nil {
		b.bar.Set("file", "")
		b.bar.Finish()
	}
}

// DefaultLogEvery is how many files pass between Log lines.
const DefaultLogEvery = 100

// Log prints a percentage line every N files and on the last one.
type Log struct {
	logger *log.Logger
	every  int64

	mu    sync.Mutex
	total int64
}

// NewLog returns a Log reporter.
func NewLog(logger *log.Logger, every int) *Log {
	if every < 1 {
		every = 1
	}
	return &Log{logger: logger, every: int64(every)}
}

func (l *Log) Start(total int64) {
	l.mu.Lock()
	l.total = total
	l.mu.Unlock()
	l.logger.Printf("Items to process: %d", total)
}

func (l *Log) Update(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := ev.Total > 0 && ev.Processed == ev.Total
	if ev.Processed%l.every != 0 && !last {
		return
	}
	if ev.Total > 0 {
		l.logger.Printf("%.2f%% complete (%d/%d)", 100*float64(ev.Processed)/float64(ev.Total), ev.Processed, ev.Total)
	} else {
		l.logger.Printf("%d files processed", ev.Processed)
	}
}

func (l *Log) Finish() {}
