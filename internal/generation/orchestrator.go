package generation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxInFlight = 3
	DefaultCallTimeout = 60 * time.Second
	DefaultQueueSize   = 64

	seedRange = 100000
)

type job struct {
	style StyleSpec
	// seed is nil when every dispatch draws its own random seed.
	seed       *int64
	generation uint64
	image      SourceImage
	settings   Settings
	done       func()
}

// Orchestrator owns the job results for one session and runs style jobs
// against the Transformer with a fixed number of in-flight calls.
type Orchestrator struct {
	catalog     []StyleSpec
	index       map[string]int
	transformer Transformer
	logger      *log.Logger

	maxInFlight int
	callTimeout time.Duration
	seedSource  func() int64

	queue   chan job
	group   errgroup.Group
	stopped chan struct{}

	// admitMu guards running/closing. It is never held while mu is wanted by a job.
	admitMu sync.RWMutex
	running bool
	closing bool

	mu         sync.Mutex
	source     *SourceImage
	settings   Settings
	generation uint64
	results    map[string]JobResult
	pending    map[string]uint64
	subs       map[int]func(Event)
	nextSub    int
}

type Option func(*Orchestrator)

func WithMaxInFlight(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxInFlight = n
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queue = make(chan job, n)
		}
	}
}

// WithSeedSource replaces the random seed generator. It is used both for the
// per-batch base seed and for unlocked per-job seeds.
func WithSeedSource(fn func() int64) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.seedSource = fn
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(catalog []StyleSpec, transformer Transformer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:     append([]StyleSpec(nil), catalog...),
		index:       make(map[string]int, len(catalog)),
		transformer: transformer,
		logger:      log.With("component", "generation"),
		maxInFlight: DefaultMaxInFlight,
		callTimeout: DefaultCallTimeout,
		seedSource:  func() int64 { return rand.Int64N(seedRange) },
		queue:       make(chan job, DefaultQueueSize),
		stopped:     make(chan struct{}),
		settings:    DefaultSettings(),
		results:     map[string]JobResult{},
		pending:     map[string]uint64{},
		subs:        map[int]func(Event){},
	}
	for i, s := range o.catalog {
		o.index[s.Key] = i
	}
	for _, opt := range opts {
		opt(o)
	}
	o.group.SetLimit(o.maxInFlight)
	return o
}

// Start launches the dispatcher. Jobs are admitted in queue order; the errgroup
// limit blocks admission until one of the in-flight calls returns.
func (o *Orchestrator) Start(ctx context.Context) {
	o.admitMu.Lock()
	if o.running || o.closing {
		o.admitMu.Unlock()
		return
	}
	o.running = true
	o.admitMu.Unlock()

	go func() {
		defer close(o.stopped)
		for j := range o.queue {
			o.group.Go(func() error {
				o.runJob(ctx, j)
				return nil
			})
		}
	}()
}

// Shutdown stops admitting batches and waits for queued and in-flight jobs.
func (o *Orchestrator) Shutdown() {
	o.admitMu.Lock()
	if o.closing {
		o.admitMu.Unlock()
		return
	}
	o.closing = true
	wasRunning := o.running
	close(o.queue)
	o.admitMu.Unlock()

	if wasRunning {
		<-o.stopped
	}
	_ = o.group.Wait()
}

// Subscribe registers fn for every state transition and notice. fn runs with
// the orchestrator lock held, so it must not block or call back into o.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) Catalog() []StyleSpec {
	return append([]StyleSpec(nil), o.catalog...)
}

func (o *Orchestrator) Style(key string) (StyleSpec, bool) {
	i, ok := o.index[key]
	if !ok {
		return StyleSpec{}, false
	}
	return o.catalog[i], true
}

// AcceptSource installs a new source image and resets every job to idle.
// Completions still outstanding for the previous image are discarded.
func (o *Orchestrator) AcceptSource(img SourceImage) error {
	if len(img.Data) == 0 {
		return ErrEmptySourceImage
	}
	if img.SizeBytes == 0 {
		img.SizeBytes = int64(len(img.Data))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.source = &img
	o.generation++
	o.pending = map[string]uint64{}
	o.results = make(map[string]JobResult, len(o.catalog))
	for _, s := range o.catalog {
		r := JobResult{Key: s.Key, Status: StatusIdle, Style: s}
		o.results[s.Key] = r
		o.emitLocked(Event{Type: EventJobUpdated, Job: &r})
	}
	o.noticeLocked(SeveritySuccess, "Image uploaded successfully!")
	o.logger.Info("source image accepted", "name", img.OriginalName, "mime", img.MimeType, "bytes", img.SizeBytes, "generation", o.generation)
	return nil
}

// Clear drops the source image and all results.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.source = nil
	o.generation++
	o.pending = map[string]uint64{}
	o.results = map[string]JobResult{}
	o.emitLocked(Event{Type: EventSessionReset})
	o.noticeLocked(SeverityInfo, "Cleared session.")
}

func (o *Orchestrator) HasSource() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.source != nil
}

func (o *Orchestrator) Source() (SourceImage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.source == nil {
		return SourceImage{}, false
	}
	return *o.source, true
}

func (o *Orchestrator) UpdateSettings(s Settings) error {
	if !ValidTargetSize(s.TargetSize) {
		return fmt.Errorf("%w: target size %d", ErrInvalidSettings, s.TargetSize)
	}
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// Snapshot returns the job results in catalog order.
func (o *Orchestrator) Snapshot() []JobResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Replay hands the current results to fn while holding the state lock, so no
// event emitted after the state fn sees can be delivered before it. fn must
// not block or call back into the orchestrator.
func (o *Orchestrator) Replay(fn func([]JobResult)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o.snapshotLocked())
}

func (o *Orchestrator) snapshotLocked() []JobResult {
	out := make([]JobResult, 0, len(o.results))
	for _, s := range o.catalog {
		if r, ok := o.results[s.Key]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (o *Orchestrator) Result(key string) (JobResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.results[key]
	return r, ok
}

// RegenerateOne reruns a single style. Unknown keys are ignored.
func (o *Orchestrator) RegenerateOne(ctx context.Context, key string) error {
	style, ok := o.Style(key)
	if !ok {
		o.logger.Debug("regenerate ignored, unknown style", "key", key)
		return nil
	}
	return o.RunBatch(ctx, []StyleSpec{style})
}

func (o *Orchestrator) RegenerateAll(ctx context.Context) error {
	return o.RunBatch(ctx, o.catalog)
}

// RunBatch queues one job per style, in order, and returns once every queued
// job reached success or error. Styles already queued or loading for the
// current image are skipped. Per-job failures never surface here.
func (o *Orchestrator) RunBatch(ctx context.Context, styles []StyleSpec) error {
	o.mu.Lock()
	if o.source == nil {
		o.noticeLocked(SeverityError, "Please upload an image first.")
		o.mu.Unlock()
		return ErrNoImageLoaded
	}

	src := *o.source
	settings := o.settings
	gen := o.generation

	var base *int64
	if settings.LockSeed {
		b := o.seedSource()
		base = &b
	}

	jobs := make([]job, 0, len(styles))
	for _, s := range styles {
		idx, ok := o.index[s.Key]
		if !ok {
			o.logger.Warn("batch skipped unknown style", "key", s.Key)
			continue
		}
		if g, busy := o.pending[s.Key]; busy && g == gen {
			o.logger.Debug("batch skipped style already in flight", "key", s.Key)
			continue
		}
		o.pending[s.Key] = gen

		j := job{style: o.catalog[idx], generation: gen, image: src, settings: settings}
		if base != nil {
			// Offset by catalog position so a style keeps its seed whatever the batch subset.
			seed := *base + int64(idx)
			j.seed = &seed
		}
		jobs = append(jobs, j)
	}
	o.mu.Unlock()

	if len(jobs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i := range jobs {
		jobs[i].done = wg.Done
	}

	queued, err := o.enqueue(ctx, jobs)
	for _, j := range jobs[queued:] {
		o.release(j)
		j.done()
	}
	wg.Wait()
	if err != nil {
		return err
	}

	o.mu.Lock()
	if gen == o.generation {
		o.noticeLocked(SeveritySuccess, "Generation complete!")
	}
	o.mu.Unlock()
	o.logger.Debug("batch finished", "jobs", len(jobs), "generation", gen)
	return nil
}

func (o *Orchestrator) enqueue(ctx context.Context, jobs []job) (int, error) {
	o.admitMu.RLock()
	defer o.admitMu.RUnlock()

	if o.closing {
		return 0, ErrShuttingDown
	}
	if !o.running {
		return 0, ErrNotRunning
	}

	for i, j := range jobs {
		select {
		case o.queue <- j:
		case <-ctx.Done():
			return i, ctx.Err()
		}
	}
	return len(jobs), nil
}

func (o *Orchestrator) release(j job) {
	o.mu.Lock()
	if g, ok := o.pending[j.style.Key]; ok && g == j.generation {
		delete(o.pending, j.style.Key)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) runJob(ctx context.Context, j job) {
	defer j.done()
	defer o.release(j)

	key := j.style.Key
	logger := o.logger.With("key", key, "generation", j.generation)

	o.mu.Lock()
	if j.generation != o.generation {
		o.mu.Unlock()
		logger.Debug("dropping job for replaced image")
		return
	}
	var seed int64
	if j.seed != nil {
		seed = *j.seed
	} else {
		seed = o.seedSource()
	}
	r := o.results[key]
	r.Status = StatusLoading
	r.Seed = &seed
	r.Output = nil
	r.DurationMs = 0
	r.Error = ""
	o.setLocked(r)
	o.mu.Unlock()

	start := time.Now()
	res, err := o.transform(ctx, TransformRequest{
		Image:    j.image.Data,
		MimeType: j.image.MimeType,
		Style:    j.style,
		Size:     j.settings.TargetSize,
		Seed:     seed,
	})
	elapsed := time.Since(start)
	if err == nil && len(res.Image) == 0 {
		err = EmptyOutput()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if j.generation != o.generation {
		logger.Debug("discarding stale completion", "dur", elapsed.String())
		return
	}

	r = o.results[key]
	if err != nil {
		logger.Warn("style job failed", "dur", elapsed.String(), "err", err)
		r.Status = StatusError
		r.Error = failureMessage(err)
		r.Output = nil
		o.setLocked(r)
		o.noticeLocked(SeverityError, fmt.Sprintf("Error generating %s", j.style.Name))
		return
	}

	mime := res.MimeType
	if mime == "" {
		mime = "image/png"
	}
	r.Status = StatusSuccess
	r.Output = &Output{Data: res.Image, MimeType: mime}
	if res.Seed != nil {
		s := *res.Seed
		r.Seed = &s
	}
	r.DurationMs = elapsed.Milliseconds()
	r.Error = ""
	o.setLocked(r)
	logger.Info("style job completed", "dur", elapsed.String(), "bytes", len(res.Image))
}

// transform bounds the external call and converts panics into job errors.
func (o *Orchestrator) transform(ctx context.Context, req TransformRequest) (res TransformResult, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return TransformResult{}, fmt.Errorf("%w: %w", ErrShuttingDown, ctxErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTransformFailed, p)
		}
	}()
	return o.transformer.Transform(callCtx, req)
}

func (o *Orchestrator) setLocked(r JobResult) {
	o.results[r.Key] = r
	o.emitLocked(Event{Type: EventJobUpdated, Job: &r})
}

func (o *Orchestrator) noticeLocked(sev Severity, msg string) {
	o.emitLocked(Event{Type: EventNotice, Notice: &Notice{ID: uuid.NewString(), Message: msg, Severity: sev}})
}

func (o *Orchestrator) emitLocked(ev Event) {
	for _, fn := range o.subs {
		fn(ev)
	}
}
