package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// memLedger is an in-memory RunLedger
type memLedger struct {
	mu      sync.Mutex
	entries map[models.TopicKey]models.LedgerEntry
	puts    int
}

func newMemLedger() *memLedger {
	return &memLedger{entries: make(map[models.TopicKey]models.LedgerEntry)}
}

func (l *memLedger) Get(ctx context.Context, key models.TopicKey) (*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &entry, nil
}

func (l *memLedger) Put(ctx context.Context, entry *models.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.entries[entry.Key]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else {
		entry.CreatedAt = time.Now()
	}
	l.entries[entry.Key] = *entry
	l.puts++
	return nil
}

func (l *memLedger) List(ctx context.Context) ([]*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range l.entries {
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (l *memLedger) Delete(ctx context.Context, key models.TopicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *memLedger) entry(key models.TopicKey) models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key]
}

// fakeAuth counts session checks and returns queued errors first
type fakeAuth struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (a *fakeAuth) EnsureValidSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return err
	}
	return nil
}

func (a *fakeAuth) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// gauge tracks how many callers are inside a section at once
type gauge struct {
	current int32
	max     int32
}

func (g *gauge) enter() {
	n := atomic.AddInt32(&g.current, 1)
	for {
		m := atomic.LoadInt32(&g.max)
		if n <= m || atomic.CompareAndSwapInt32(&g.max, m, n) {
			return
		}
	}
}

func (g *gauge) exit() {
	atomic.AddInt32(&g.current, -1)
}

func (g *gauge) peak() int {
	return int(atomic.LoadInt32(&g.max))
}

// fakeResolver finds remote sources by name and creates them when missing
type fakeResolver struct {
	mu      sync.Mutex
	sources map[string]models.SourceRef
	created int
	calls   int
	errs    []error
	delay   time.Duration
	inside  *gauge
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{sources: make(map[string]models.SourceRef)}
}

func (r *fakeResolver) FindOrCreate(ctx context.Context, topic models.Topic) (models.SourceRef, error) {
	if r.inside != nil {
		r.inside.enter()
		defer r.inside.exit()
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return models.SourceRef{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		if len(r.errs) > 1 {
			r.errs = r.errs[1:]
		}
		if err != nil {
			return models.SourceRef{}, err
		}
	}

	name := topic.RemoteName()
	if ref, ok := r.sources[name]; ok {
		return ref, nil
	}
	r.created++
	ref := models.SourceRef{ID: fmt.Sprintf("nb-%d", r.created), Name: name}
	r.sources[name] = ref
	return ref, nil
}

// fakeGenerator completes a job after a per-source number of polls
type fakeGenerator struct {
	mu        sync.Mutex
	starts    map[string]int    // by source name
	focus     map[string]string // last focus prompt by source name
	jobs      map[string]string // job id -> source name
	polls     map[string]int    // by job id
	doneAt    map[string]int    // by source name; 0 means never
	failFirst map[string]bool   // first job of the source reports an error
	defaultAt int
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		starts:    make(map[string]int),
		focus:     make(map[string]string),
		jobs:      make(map[string]string),
		polls:     make(map[string]int),
		doneAt:    make(map[string]int),
		failFirst: make(map[string]bool),
		defaultAt: 1,
	}
}

func (g *fakeGenerator) Start(ctx context.Context, source models.SourceRef, queries []string, focus, language string) (models.JobRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.starts[source.Name]++
	g.focus[source.Name] = focus
	job := models.JobRef{SourceID: source.ID, ID: fmt.Sprintf("%s#%d", source.Name, g.starts[source.Name])}
	g.jobs[job.ID] = source.Name
	return job, nil
}

func (g *fakeGenerator) Poll(ctx context.Context, job models.JobRef) (models.PollStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls[job.ID]++
	name := g.jobs[job.ID]

	if g.failFirst[name] && job.ID == name+"#1" {
		return models.PollError, nil
	}

	at, ok := g.doneAt[name]
	if !ok {
		at = g.defaultAt
	}
	if at > 0 && g.polls[job.ID] >= at {
		return models.PollDone, nil
	}
	return models.PollPending, nil
}

func (g *fakeGenerator) startCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.starts[name]
}

// actionLog records enter/exit of exclusive actions in order
type actionLog struct {
	mu     sync.Mutex
	events []string
}

func (l *actionLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *actionLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeMethod is an export method with a fixed result
type fakeMethod struct {
	name  string
	err   error
	delay time.Duration
	hang  bool // ignore ctx entirely
	calls int32
	log   *actionLog
	order *[]string
	mu    *sync.Mutex
}

func (m *fakeMethod) Name() string { return m.name }

func (m *fakeMethod) Attempt(ctx context.Context, ref models.ArtifactRef, timeout time.Duration) (models.ArtifactHandle, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.order != nil {
		m.mu.Lock()
		*m.order = append(*m.order, m.name)
		m.mu.Unlock()
	}
	if m.log != nil {
		m.log.add("enter:" + ref.FileStem)
		defer m.log.add("exit:" + ref.FileStem)
	}
	if m.hang {
		time.Sleep(m.delay)
	} else if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return models.ArtifactHandle{}, ctx.Err()
		}
	}
	if m.err != nil {
		return models.ArtifactHandle{}, m.err
	}
	return models.ArtifactHandle{Path: filepath.Join(ref.OutputDir, ref.FileStem+".pdf")}, nil
}

// fakeConverter converts by renaming the extension
type fakeConverter struct {
	calls int32
	err   error
	log   *actionLog
	delay time.Duration
}

func (c *fakeConverter) Convert(ctx context.Context, handle models.ArtifactHandle) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	stem := filepath.Base(handle.Path)
	if c.log != nil {
		c.log.add("enter:" + stem[:len(stem)-len(".pdf")])
		defer c.log.add("exit:" + stem[:len(stem)-len(".pdf")])
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return "", c.err
	}
	return handle.Path[:len(handle.Path)-len(".pdf")] + ".pptx", nil
}

// fakeHelper is a stall helper returning a fixed status
type fakeHelper struct {
	mu     sync.Mutex
	calls  map[string]int
	status models.PollStatus
}

func newFakeHelper(status models.PollStatus) *fakeHelper {
	return &fakeHelper{calls: make(map[string]int), status: status}
}

func (h *fakeHelper) Nudge(ctx context.Context, job models.JobRef) (models.PollStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[job.SourceID]++
	return h.status, nil
}

func (h *fakeHelper) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		n += c
	}
	return n
}

// fakeCapturer records snapshots; it can fail or panic
type fakeCapturer struct {
	mu        sync.Mutex
	snapshots []models.DiagnosticSnapshot
	err       error
	panics    bool
}

func (c *fakeCapturer) Capture(ctx context.Context, snapshot models.DiagnosticSnapshot) error {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, snapshot)
	c.mu.Unlock()
	if c.panics {
		panic("capture exploded")
	}
	return c.err
}

func (c *fakeCapturer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

var errFlaky = errors.New("flaky remote")

// testOptions uses millisecond timings
func testOptions() Options {
	options := DefaultOptions()
	for stage, p := range options.Policies {
		p.Timeout = time.Second
		options.Policies[stage] = p
	}
	options.PollInterval = 2 * time.Millisecond
	options.StallThreshold = 60 * time.Millisecond
	options.StallExtension = 30 * time.Millisecond
	options.BackoffBase = time.Millisecond
	options.BackoffCeiling = 4 * time.Millisecond
	options.DefaultLanguage = "ko"
	options.DownloadDirectory = "/tmp/noterang-test"
	return options
}

type harness struct {
	auth      *fakeAuth
	session   *Session
	resolver  *fakeResolver
	generator *fakeGenerator
	methods   []*fakeMethod
	converter *fakeConverter
	ledger    *memLedger
	helper    *fakeHelper
	capturer  *fakeCapturer
	gate      *Gate
	options   Options
	logger    arbor.ILogger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := arbor.NewLogger()
	auth := &fakeAuth{}
	return &harness{
		auth:      auth,
		session:   NewSession(auth, logger),
		resolver:  newFakeResolver(),
		generator: newFakeGenerator(),
		methods:   []*fakeMethod{{name: "cli"}},
		converter: &fakeConverter{},
		ledger:    newMemLedger(),
		helper:    newFakeHelper(models.PollPending),
		capturer:  &fakeCapturer{},
		options:   testOptions(),
		logger:    logger,
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	methods := make([]ChainMethod, len(h.methods))
	for i, m := range h.methods {
		methods[i] = ChainMethod{Method: m, Timeout: 500 * time.Millisecond}
	}
	chain, err := NewChain(h.logger, methods...)
	require.NoError(t, err)

	if h.gate == nil {
		h.gate = NewGate(h.options.ConcurrencyLimit)
	}
	supervisor := NewSupervisor(h.logger, h.options, h.helper, h.capturer, nil)
	o, err := NewOrchestrator(h.logger, h.options, h.gate, Dependencies{
		Session:   h.session,
		Resolver:  h.resolver,
		Generator: h.generator,
		Chain:     chain,
		Converter: h.converter,
		Ledger:    h.ledger,
	}, supervisor)
	require.NoError(t, err)
	return o
}

func (h *harness) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	return NewCoordinator(h.logger, h.orchestrator(t), h.session, nil)
}
