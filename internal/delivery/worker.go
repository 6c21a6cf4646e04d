package delivery

import (
	"context"
	"errors"

	"github.com/wapuda/tg-autosort/internal/extract"
	"github.com/wapuda/tg-autosort/internal/logx"
	"github.com/wapuda/tg-autosort/internal/sortq"
)

// Failure records an entry the drain gave up on.
type Failure struct {
	Key      sortq.Key
	Identity extract.Identity
	Reason   string
}

// Outcome aggregates one drain.
type Outcome struct {
	Attempted int
	Sent      int
	Failed    []Failure
}

// Worker drains user queues through a single sender.
type Worker struct {
	store  *sortq.Store
	sender Sender
	retry  Retrier
	onSent func(user int64, e sortq.Entry)

	onBegin func(user int64, e sortq.Entry)
	onEnd   func(user int64, e sortq.Entry)
}

type Option func(*Worker)

func WithPolicy(p Policy) Option { return func(w *Worker) { w.retry.Policy = p } }

func WithSleeper(s Sleeper) Option { return func(w *Worker) { w.retry.Sleep = s } }

// OnSent registers a hook called after an entry was delivered and removed.
// It is not called when the entry left the queue while it was being sent.
func OnSent(fn func(user int64, e sortq.Entry)) Option {
	return func(w *Worker) { w.onSent = fn }
}

// OnSending registers hooks bracketing every send of a queued entry. begin
// runs before the entry is re-checked and sent, end runs once when the
// drain is done with it, whatever the result.
func OnSending(begin, end func(user int64, e sortq.Entry)) Option {
	return func(w *Worker) { w.onBegin, w.onEnd = begin, end }
}

func NewWorker(store *sortq.Store, sender Sender, opts ...Option) *Worker {
	w := &Worker{
		store:  store,
		sender: sender,
		retry:  Retrier{Policy: DefaultPolicy(), Sleep: RealSleep},
	}
	for _, o := range opts {
		o(w)
	}
	if w.retry.Sleep == nil {
		w.retry.Sleep = RealSleep
	}
	return w
}

// Retrier exposes the worker's retry machinery for one-off sends.
func (w *Worker) Retrier() Retrier { return w.retry }

// Caption renders the channel caption of an identity.
func Caption(id extract.Identity) string { return id.Label() }

// Drain sends every queued entry of user in key order. One failing entry
// never blocks the rest; failed entries stay queued for a later drain.
// Entries cleared after the drain started are skipped.
func (w *Worker) Drain(ctx context.Context, user int64) Outcome {
	var out Outcome
	log := logx.FromCtx(ctx)
	policy := w.retry.Policy

	for _, snap := range w.store.Snapshot(user) {
		e, ok := w.store.Get(user, snap.Key)
		if !ok {
			continue
		}
		if out.Attempted > 0 {
			if err := w.retry.Sleep.Sleep(ctx, policy.ItemPause); err != nil {
				log.Warn().Err(err).Msg("drain interrupted")
				return out
			}
		}
		if !w.begin(user, e) {
			continue
		}
		out.Attempted++
		ok = w.send(ctx, user, e, &out)
		w.end(user, e)
		if !ok {
			return out
		}
	}
	return out
}

// begin marks e as in flight and confirms it is still queued. Entries
// cleared or replaced before this point are skipped.
func (w *Worker) begin(user int64, e sortq.Entry) bool {
	if w.onBegin != nil {
		w.onBegin(user, e)
	}
	if cur, ok := w.store.Get(user, e.Key); !ok || cur.ID != e.ID {
		w.end(user, e)
		return false
	}
	return true
}

func (w *Worker) end(user int64, e sortq.Entry) {
	if w.onEnd != nil {
		w.onEnd(user, e)
	}
}

// send delivers one entry and records the result in out. It returns false
// when the drain must stop.
func (w *Worker) send(ctx context.Context, user int64, e sortq.Entry, out *Outcome) bool {
	log := logx.FromCtx(ctx)
	req := Request{
		Kind:    Route(e.Media, w.retry.Policy.InlineVideoLimit),
		Media:   e.Media,
		Caption: Caption(e.Identity),
	}
	st := w.retry.Do(ctx, w.sender, req)
	if st.Phase != Sent {
		reason := "unknown"
		if st.Err != nil {
			reason = st.Err.Error()
		}
		out.Failed = append(out.Failed, Failure{Key: e.Key, Identity: e.Identity, Reason: reason})
		log.Warn().Err(st.Err).
			Str("entry", e.ID).
			Str("caption", req.Caption).
			Int("attempts", st.Attempt).
			Msg("delivery failed")
		class, _ := Classify(st.Err)
		return class != ClassCanceled
	}

	out.Sent++
	removed := w.store.RemoveEntry(user, e)
	log.Info().
		Str("entry", e.ID).
		Str("caption", req.Caption).
		Str("kind", string(req.Kind)).
		Int("attempts", st.Attempt).
		Bool("dequeued", removed).
		Msg("delivered")
	if removed && w.onSent != nil {
		w.onSent(user, e)
	}
	return true
}

// Deliver sends one request outside any queue, with the worker's retry
// policy. The error is nil only when the request went out.
func (w *Worker) Deliver(ctx context.Context, sender Sender, req Request) error {
	if req.Kind == "" {
		req.Kind = Route(req.Media, w.retry.Policy.InlineVideoLimit)
	}
	st := w.retry.Do(ctx, sender, req)
	if st.Phase == Sent {
		return nil
	}
	if st.Err == nil {
		return Fatal(errors.New("delivery gave up"))
	}
	return st.Err
}
