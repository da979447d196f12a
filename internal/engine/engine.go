package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/ivlev/gifmerge/internal/anim"
	"github.com/ivlev/gifmerge/internal/compositor"
	"github.com/ivlev/gifmerge/internal/config"
	"github.com/ivlev/gifmerge/internal/decoder"
	"github.com/ivlev/gifmerge/internal/encoder"
	"github.com/ivlev/gifmerge/internal/progress"
	"github.com/ivlev/gifmerge/internal/system"
	"github.com/ivlev/gifmerge/internal/watermark"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCancelled      = errors.New("engine: cancelled")
	ErrAlreadyStarted = errors.New("engine: pipeline already started")
)

type State int

const (
	Idle State = iota
	Decoding
	Compositing
	Encoding
	Done
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Decoding:
		return "decoding"
	case Compositing:
		return "compositing"
	case Encoding:
		return "encoding"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= Done
}

// Input is one GIF of the job, as raw bytes.
type Input struct {
	ID   string
	Name string
	Data []byte
}

// Job is one export request.
type Job struct {
	Inputs     []Input
	Watermarks []*watermark.Watermark
	Options    config.MergeOptions
}

type Result struct {
	GIF           []byte
	Width, Height int
	Frames        int
	Warnings      []string
	Stats         Stats
}

// Pipeline runs a single job: Idle → Decoding → Compositing → Encoding →
// Done | Failed | Cancelled. An instance is not reusable.
type Pipeline struct {
	Compositor   compositor.Compositor
	Encoder      encoder.GIFEncoder
	Workers      int
	Progress     progress.Func
	ShowStats    bool
	BuildVersion string

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	cancelled bool
}

func NewPipeline(c compositor.Compositor, e encoder.GIFEncoder) *Pipeline {
	return &Pipeline{
		Compositor: c,
		Encoder:    e,
		Workers:    runtime.NumCPU(),
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cancel stops the job at the next frame boundary. It is a no-op once the
// pipeline reached a terminal state.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() {
		return
	}
	p.cancelled = true
	if p.state == Idle {
		p.state = Cancelled
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// advance moves to the next phase unless the job was cancelled.
func (p *Pipeline) advance(ctx context.Context, next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled || ctx.Err() != nil {
		p.state = Cancelled
		return ErrCancelled
	}
	p.state = next
	return nil
}

// finish records a terminal state. Errors caused by cancellation become
// ErrCancelled, everything else is returned verbatim.
func (p *Pipeline) finish(ctx context.Context, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.state = Done
		return nil
	}
	if p.cancelled || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		p.state = Cancelled
		return ErrCancelled
	}
	p.state = Failed
	return err
}

func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	p.mu.Lock()
	if p.state != Idle {
		state := p.state
		p.mu.Unlock()
		if state == Cancelled {
			return nil, ErrCancelled
		}
		return nil, ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel
	p.mu.Unlock()

	stats := Stats{BuildVersion: p.BuildVersion, Inputs: len(job.Inputs)}
	start := time.Now()
	rep := progress.New(p.Progress)
	res := &Result{}

	// 1. Decoding
	if err := p.advance(ctx, Decoding); err != nil {
		return nil, err
	}
	decodeStart := time.Now()
	anims, warnings, err := p.decodeAll(ctx, job.Inputs)
	stats.Decode = time.Since(decodeStart)
	if err != nil {
		return nil, p.finish(ctx, err)
	}
	res.Warnings = append(res.Warnings, warnings...)
	defer func() {
		for _, a := range anims {
			a.Release()
		}
	}()

	if layout, err := compositor.Plan(anims, job.Options.Mode, job.Options.Columns); err == nil {
		w, h := job.Options.OutputSize(layout.Width, layout.Height)
		if msg := system.CheckMemoryBudget(system.FrameBytes(layout.TotalFrames, w, h)); msg != "" {
			log.Printf("[!] %s", msg)
			res.Warnings = append(res.Warnings, msg)
		}
	}

	// 2. Compositing
	if err := p.advance(ctx, Compositing); err != nil {
		return nil, err
	}
	compositeStart := time.Now()
	seq, err := p.Compositor.Composite(ctx, anims, job.Watermarks, job.Options, rep.Phase(0, 50))
	stats.Composite = time.Since(compositeStart)
	if err != nil {
		return nil, p.finish(ctx, err)
	}
	stats.Frames = len(seq.Frames)
	fmt.Printf("[*] Скомпоновано кадров: %d (%dx%d)\n", len(seq.Frames), seq.Width, seq.Height)

	// 3. Encoding
	if err := p.advance(ctx, Encoding); err != nil {
		seq.Frames = nil
		return nil, err
	}
	encodeStart := time.Now()
	gifBytes, err := p.encode(ctx, seq, job.Options.FrameIntervalMs, rep.Phase(50, 50))
	stats.Encode = time.Since(encodeStart)
	frames := len(seq.Frames)
	seq.Frames = nil
	if err != nil {
		return nil, p.finish(ctx, err)
	}

	if err := p.finish(ctx, nil); err != nil {
		return nil, err
	}
	rep.Done()

	stats.Total = time.Since(start)
	if snap, err := system.TakeSnapshot(); err == nil {
		stats.Memory = snap
	}
	res.GIF, res.Width, res.Height, res.Frames = gifBytes, seq.Width, seq.Height, frames
	res.Stats = stats
	if p.ShowStats {
		stats.Print()
	}
	return res, nil
}

// decodeAll decodes inputs in parallel. Failed inputs become warnings unless
// every input failed, in which case the first error is returned.
func (p *Pipeline) decodeAll(ctx context.Context, inputs []Input) ([]*anim.Animation, []string, error) {
	decoded := make([]*anim.Animation, len(inputs))
	errs := make([]error, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Workers, 1))
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			a, err := decoder.Decode(gctx, in.Data)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = fmt.Errorf("%s: %w", in.Name, err)
				return nil
			}
			a.ID = in.ID
			decoded[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		anims    []*anim.Animation
		warnings []string
		firstErr error
	)
	for i, a := range decoded {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			log.Printf("[!] Пропущен файл: %v", errs[i])
			warnings = append(warnings, errs[i].Error())
			continue
		}
		for _, w := range a.Warnings {
			log.Printf("[!] %s: %s", inputs[i].Name, w)
			warnings = append(warnings, fmt.Sprintf("%s: %s", inputs[i].Name, w))
		}
		anims = append(anims, a)
	}
	if len(anims) == 0 && firstErr != nil {
		return nil, nil, firstErr
	}
	return anims, warnings, nil
}

// encode runs the encoder on its own goroutine so the caller's goroutine only
// waits on the result.
func (p *Pipeline) encode(ctx context.Context, seq *anim.Sequence, intervalMs int, phase progress.Phase) ([]byte, error) {
	var out []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := p.Encoder.Encode(gctx, seq, intervalMs, phase)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
