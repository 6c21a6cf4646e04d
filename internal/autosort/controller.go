package autosort

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wapuda/tg-autosort/internal/delivery"
	"github.com/wapuda/tg-autosort/internal/extract"
	"github.com/wapuda/tg-autosort/internal/logx"
	"github.com/wapuda/tg-autosort/internal/sortq"
)

// DefaultDebounce is the quiet period after the last insert before a drain.
const DefaultDebounce = 3 * time.Second

// Notifier is told about every debounced drain that attempted something.
type Notifier interface {
	Drained(ctx context.Context, user int64, out delivery.Outcome)
}

// Releaser frees media the queue no longer references (sent, replaced or
// cleared entries).
type Releaser interface {
	Release(m sortq.MediaRef)
}

type pendingDrain struct {
	timer *time.Timer
	gen   uint64
}

// Controller decides when a user's queue is drained: after a debounce, or on
// explicit request. At most one drain per user runs at a time.
type Controller struct {
	store    *sortq.Store
	worker   *delivery.Worker
	debounce time.Duration
	notifier Notifier
	releaser Releaser
	now      func() time.Time
	newID    func() string

	deliveryOpts []delivery.Option

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[int64]pendingDrain
	gen     uint64
	closed  bool
	wg      sync.WaitGroup

	// sending holds media a drain is uploading. A true value means the
	// media was released meanwhile and is freed once the send ends.
	relMu   sync.Mutex
	sending map[sortq.MediaRef]bool
}

type Option func(*Controller)

func WithDebounce(d time.Duration) Option { return func(c *Controller) { c.debounce = d } }

func WithNotifier(n Notifier) Option { return func(c *Controller) { c.notifier = n } }

func WithReleaser(r Releaser) Option { return func(c *Controller) { c.releaser = r } }

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithDeliveryOptions configures the underlying delivery worker.
func WithDeliveryOptions(opts ...delivery.Option) Option {
	return func(c *Controller) { c.deliveryOpts = append(c.deliveryOpts, opts...) }
}

// New builds a controller that delivers through sender. ctx bounds every
// debounced drain; cancel it (or call Close) at shutdown.
func New(ctx context.Context, store *sortq.Store, sender delivery.Sender, opts ...Option) *Controller {
	base, cancel := context.WithCancel(ctx)
	c := &Controller{
		store:    store,
		debounce: DefaultDebounce,
		now:      time.Now,
		newID:    NewID,
		base:     base,
		cancel:   cancel,
		pending:  make(map[int64]pendingDrain),
		sending:  make(map[sortq.MediaRef]bool),
	}
	for _, o := range opts {
		o(c)
	}
	dopts := append(c.deliveryOpts,
		delivery.OnSent(func(_ int64, e sortq.Entry) { c.release(e.Media) }),
		delivery.OnSending(
			func(_ int64, e sortq.Entry) { c.hold(e.Media) },
			func(_ int64, e sortq.Entry) { c.unhold(e.Media) },
		),
	)
	c.worker = delivery.NewWorker(store, sender, dopts...)
	return c
}

// NewID returns a fresh ULID string.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Worker returns the delivery worker used for drains.
func (c *Controller) Worker() *delivery.Worker { return c.worker }

// Submit extracts an identity from text, queues media under it and restarts
// the user's debounce timer. A queued entry with the same key is replaced.
func (c *Controller) Submit(ctx context.Context, user int64, text string, media sortq.MediaRef) extract.Identity {
	id, rule := extract.ExtractRule(text)
	e := sortq.Entry{
		ID:         c.newID(),
		Key:        sortq.KeyOf(id),
		Media:      media,
		Identity:   id,
		EnqueuedAt: c.now(),
	}
	prev, replaced := c.store.Insert(user, e)
	if replaced && prev.Media != media {
		c.release(prev.Media)
	}
	c.schedule(user)

	log := logx.FromCtx(logx.WithEntry(logx.WithUser(ctx, user), e.ID))
	ev := log.Info()
	if rule == extract.RuleFallback {
		ev = log.Debug()
	}
	ev.Str("text", text).
		Str("rule", rule).
		Str("caption", id.Label()).
		Bool("replaced", replaced).
		Msg("queued")
	return id
}

// ForceDrain drains the user's queue now, waiting for a running drain first.
// A pending debounce is cancelled since this drain covers it.
func (c *Controller) ForceDrain(ctx context.Context, user int64) delivery.Outcome {
	c.unschedule(user)
	return c.drain(ctx, user)
}

// Clear drops the user's queue and pending debounce. It reports whether
// anything was queued. A drain already in flight keeps the entry it is
// sending; its media is freed when that send ends.
func (c *Controller) Clear(user int64) bool {
	c.unschedule(user)
	removed := c.store.Clear(user)
	for _, e := range removed {
		c.release(e.Media)
	}
	return len(removed) > 0
}

// Status summarizes the user's queue.
func (c *Controller) Status(user int64) []sortq.Group {
	return c.store.Status(user)
}

// Pending reports whether a debounced drain is scheduled for user.
func (c *Controller) Pending(user int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[user]
	return ok
}

// Close stops pending timers, cancels running drains and waits for them.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	for user, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, user)
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) schedule(user int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if p, ok := c.pending[user]; ok {
		p.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.pending[user] = pendingDrain{
		gen:   gen,
		timer: time.AfterFunc(c.debounce, func() { c.fire(user, gen) }),
	}
}

func (c *Controller) unschedule(user int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[user]; ok {
		p.timer.Stop()
		delete(c.pending, user)
	}
}

func (c *Controller) fire(user int64, gen uint64) {
	c.mu.Lock()
	p, ok := c.pending[user]
	if c.closed || !ok || p.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.pending, user)
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx := logx.WithUser(c.base, user)
	out := c.drain(ctx, user)
	if c.notifier != nil && out.Attempted > 0 {
		c.notifier.Drained(ctx, user, out)
	}
}

func (c *Controller) drain(ctx context.Context, user int64) delivery.Outcome {
	ctx = logx.WithUser(ctx, user)
	log := logx.FromCtx(ctx)

	release, err := c.store.AcquireDrain(ctx, user)
	if err != nil {
		log.Warn().Err(err).Msg("drain not started")
		return delivery.Outcome{}
	}
	defer release()

	if c.store.IsEmpty(user) {
		return delivery.Outcome{}
	}
	start := c.now()
	out := c.worker.Drain(ctx, user)
	log.Info().
		Int("attempted", out.Attempted).
		Int("sent", out.Sent).
		Int("failed", len(out.Failed)).
		Dur("took", c.now().Sub(start)).
		Msg("drain finished")
	return out
}

func (c *Controller) release(m sortq.MediaRef) {
	c.relMu.Lock()
	if _, busy := c.sending[m]; busy {
		c.sending[m] = true
		c.relMu.Unlock()
		return
	}
	c.relMu.Unlock()
	if c.releaser != nil {
		c.releaser.Release(m)
	}
}

func (c *Controller) hold(m sortq.MediaRef) {
	c.relMu.Lock()
	c.sending[m] = false
	c.relMu.Unlock()
}

func (c *Controller) unhold(m sortq.MediaRef) {
	c.relMu.Lock()
	freed := c.sending[m]
	delete(c.sending, m)
	c.relMu.Unlock()
	if freed && c.releaser != nil {
		c.releaser.Release(m)
	}
}
