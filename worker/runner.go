// Package worker runs submitted jobs one at a time, in submission order.
// Everything inside a job is strictly sequential; determinism of the
// assembled transcript and summary depends on it.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lectoria/conspect/audio"
	"github.com/lectoria/conspect/export"
	"github.com/lectoria/conspect/lang"
	"github.com/lectoria/conspect/llm"
	"github.com/lectoria/conspect/progress"
	"github.com/lectoria/conspect/queue"
	"github.com/lectoria/conspect/source"
	"github.com/lectoria/conspect/summary"
	"github.com/lectoria/conspect/transcribe"
	"github.com/lectoria/conspect/translate"
)

// Status is the lifecycle of a submitted job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is the immutable description of one unit of work. Refs may hold
// several media references; they are processed as a batch where one bad
// file does not sink the others.
type Job struct {
	ID          string
	Refs        []string
	Title       string
	Target      translate.Target
	WithSummary bool
}

// State is a point-in-time snapshot of a job's progress.
type State struct {
	Status    Status
	Percent   int
	Message   string
	Error     string
	Language  lang.Code
	Artifacts []string
}

// Event is one progress update, streamed to subscribers.
type Event struct {
	Percent int
	Message string
}

// Holder marks working paths as in use so the cleanup sweep skips them.
type Holder interface {
	Hold(path string)
	Release(path string)
}

type nopHolder struct{}

func (nopHolder) Hold(string)    {}
func (nopHolder) Release(string) {}

// Runner owns the job queue and the single processing goroutine.
type Runner struct {
	resolver   *source.Registry
	segmenter  *audio.Segmenter
	engine     *transcribe.Engine
	gen        llm.Generator
	translator *translate.Translator
	pipeline   *summary.Pipeline
	exporter   export.Writer
	exportDir  string
	holder     Holder
	log        zerolog.Logger

	jobs *queue.Queue[Job]

	mu     sync.Mutex
	states map[string]*State
	subs   map[string][]chan Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Deps bundles the collaborators a Runner needs.
type Deps struct {
	Resolver   *source.Registry
	Segmenter  *audio.Segmenter
	Engine     *transcribe.Engine
	Generator  llm.Generator
	Translator *translate.Translator
	Pipeline   *summary.Pipeline
	Exporter   export.Writer
	ExportDir  string
	Holder     Holder
	Log        zerolog.Logger
}

func NewRunner(d Deps) *Runner {
	if d.Holder == nil {
		d.Holder = nopHolder{}
	}
	if d.Exporter == nil {
		d.Exporter = export.Text{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		resolver:   d.Resolver,
		segmenter:  d.Segmenter,
		engine:     d.Engine,
		gen:        d.Generator,
		translator: d.Translator,
		pipeline:   d.Pipeline,
		exporter:   d.Exporter,
		exportDir:  d.ExportDir,
		holder:     d.Holder,
		log:        d.Log,
		jobs:       queue.New[Job](),
		states:     map[string]*State{},
		subs:       map[string][]chan Event{},
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Submit queues a job and returns its ID. Jobs run in submission order.
func (r *Runner) Submit(job Job) string {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.states[job.ID] = &State{Status: StatusPending, Message: "queued"}
	r.mu.Unlock()
	r.jobs.Enqueue(job)
	return job.ID
}

// State returns a snapshot of the job's current state.
func (r *Runner) State(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Subscribe returns a channel of progress events for a job and a cancel
// function. Events are dropped rather than blocking the pipeline when a
// subscriber is slow.
func (r *Runner) Subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	r.mu.Lock()
	r.subs[id] = append(r.subs[id], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		arr := r.subs[id]
		for i, c := range arr {
			if c == ch {
				r.subs[id] = append(arr[:i], arr[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// Start begins the processing loop in its own goroutine.
func (r *Runner) Start() {
	go r.process()
}

// Stop cancels the loop and waits for it to exit. The job in flight is
// interrupted through its context.
func (r *Runner) Stop() {
	r.cancel()
	<-r.done
}

// process polls the queue; one job at a time, no interleaving.
func (r *Runner) process() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.log.Info().Msg("runner: shutting down")
			return
		default:
		}

		job, ok := r.jobs.Dequeue()
		if !ok {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		r.run(job)
	}
}

func (r *Runner) run(job Job) {
	r.update(job.ID, func(st *State) {
		st.Status = StatusRunning
		st.Message = "starting"
	})

	sink := progress.Func(func(percent int, message string) {
		r.update(job.ID, func(st *State) {
			st.Percent = percent
			st.Message = message
		})
		r.broadcast(job.ID, Event{Percent: percent, Message: message})
	})

	var firstErr error
	processed := 0
	for i, ref := range job.Refs {
		title := job.Title
		if len(job.Refs) > 1 {
			title = fmt.Sprintf("%s_%d", job.Title, i+1)
		}
		if err := r.processRef(job, ref, title, sink); err != nil {
			// One corrupt file in a batch is logged and skipped; the batch
			// carries on with the remaining files.
			r.log.Error().Err(err).Str("job", job.ID).Str("ref", ref).Msg("file failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		processed++
	}

	r.update(job.ID, func(st *State) {
		switch {
		case processed == 0 && firstErr != nil:
			st.Status = StatusFailed
			st.Error = firstErr.Error()
			st.Message = "failed"
		case firstErr != nil:
			st.Status = StatusDone
			st.Error = fmt.Sprintf("completed with skipped files: %v", firstErr)
			st.Message = "done with errors"
			st.Percent = 100
		default:
			st.Status = StatusDone
			st.Message = "done"
			st.Percent = 100
		}
	})

	// The terminal event mirrors the terminal state; a failed job must not
	// close its stream with a success-shaped frame.
	final, _ := r.State(job.ID)
	msg := "finished"
	if final.Status == StatusFailed {
		msg = "failed"
	}
	r.broadcast(job.ID, Event{Percent: final.Percent, Message: msg})
}

// processRef runs the full pipeline for a single media reference.
func (r *Runner) processRef(job Job, ref, title string, sink progress.Sink) error {
	ctx := r.ctx

	sink.Report(0, "resolving source")
	mediaPath, err := r.resolver.Resolve(ctx, ref, sink)
	if err != nil {
		return errors.Wrap(err, "resolving source")
	}
	r.holder.Hold(mediaPath)
	defer r.holder.Release(mediaPath)

	sink.Report(5, "splitting audio")
	chunks, err := r.segmenter.Segment(ctx, mediaPath)
	if err != nil {
		return errors.Wrap(err, "segmenting audio")
	}
	defer audio.Cleanup(chunks)

	res, err := r.engine.Transcribe(ctx, chunks, title, sink)
	if err != nil {
		// The engine persisted whatever it accumulated; surface the partial
		// artifact alongside the failure instead of discarding it.
		if res.Partial && res.Text != "" {
			partialPath := filepath.Join(r.exportDir, fmt.Sprintf("Partial_%s.txt", title))
			if werr := r.exporter.Write(res.Text, partialPath); werr == nil {
				r.addArtifact(job.ID, partialPath)
			}
		}
		return errors.Wrap(err, "transcribing")
	}
	r.update(job.ID, func(st *State) { st.Language = res.Language })

	sink.Report(70, "formatting paragraphs")
	text, err := llm.FormatParagraphs(ctx, r.gen, res.Text)
	if err != nil {
		// Formatting is cosmetic: fall back to the raw transcript.
		r.log.Warn().Err(err).Msg("paragraph formatting failed, using raw transcript")
		text = res.Text
	}

	sink.Report(75, "checking translation")
	translated, called, err := r.translator.Run(ctx, text, res.Language, job.Target)
	if err != nil {
		return errors.Wrap(err, "translating")
	}
	if called {
		r.log.Info().Str("from", string(res.Language)).Str("to", string(job.Target.Code)).Msg("transcript translated")
	}

	transcriptPath := filepath.Join(r.exportDir, fmt.Sprintf("%s_%s.txt", capitalize(job.Target.Name), title))
	if err := r.exporter.Write(translated, transcriptPath); err != nil {
		return errors.Wrap(err, "exporting transcript")
	}
	r.addArtifact(job.ID, transcriptPath)

	if job.WithSummary {
		sumRes, err := r.pipeline.Summarize(ctx, translated, title, job.Target, sink)
		if err != nil {
			return errors.Wrap(err, "summarizing")
		}

		summaryTxt := filepath.Join(r.exportDir, fmt.Sprintf("Summary_%s.txt", title))
		if err := r.exporter.Write(sumRes.Summary, summaryTxt); err != nil {
			return errors.Wrap(err, "exporting summary")
		}
		r.addArtifact(job.ID, summaryTxt)

		summaryMD := filepath.Join(r.exportDir, fmt.Sprintf("Summary_%s.md", title))
		md := export.Markdown{Title: title, Language: job.Target.Name, Source: ref}
		if err := md.Write(sumRes.Summary, summaryMD); err != nil {
			return errors.Wrap(err, "exporting summary markdown")
		}
		r.addArtifact(job.ID, summaryMD)
	}

	return nil
}

func (r *Runner) update(id string, fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[id]; ok {
		fn(st)
	}
}

func (r *Runner) addArtifact(id, path string) {
	r.update(id, func(st *State) { st.Artifacts = append(st.Artifacts, path) })
}

func (r *Runner) broadcast(id string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[id] {
		select {
		case ch <- ev:
		default: // slow subscriber, drop
		}
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
