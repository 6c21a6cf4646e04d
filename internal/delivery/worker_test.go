package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wapuda/tg-autosort/internal/extract"
	"github.com/wapuda/tg-autosort/internal/sortq"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  []Request
	script map[string][]error // by caption, consumed front to back; nil once exhausted
	always map[string]error
	onSend func(Request)
}

func (f *fakeSender) Send(_ context.Context, req Request) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	var err error
	if e, ok := f.always[req.Caption]; ok {
		err = e
	} else if s := f.script[req.Caption]; len(s) > 0 {
		err, f.script[req.Caption] = s[0], s[1:]
	}
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return err
}

func (f *fakeSender) callsFor(caption string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Caption == caption {
			n++
		}
	}
	return n
}

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (f *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
	return f.err
}

func ep(series string, season *int, episode int, kind sortq.Kind, size int64) sortq.Entry {
	id := extract.Identity{Series: series, Season: season, Episode: episode}
	return sortq.Entry{
		ID:       fmt.Sprintf("%s-%d", series, episode),
		Key:      sortq.KeyOf(id),
		Identity: id,
		Media:    sortq.MediaRef{Kind: kind, FileID: fmt.Sprint(episode), Size: size},
	}
}

func one() *int { n := 1; return &n }

func newTestWorker(store *sortq.Store, sender Sender, sleeper Sleeper) *Worker {
	return NewWorker(store, sender, WithSleeper(sleeper), WithPolicy(DefaultPolicy()))
}

func TestDrainTransientFailureDoesNotBlockQueue(t *testing.T) {
	store := sortq.NewStore()
	for i := 1; i <= 3; i++ {
		store.Insert(1, ep("Show", one(), i, sortq.KindVideo, 10))
	}
	sender := &fakeSender{always: map[string]error{
		"Show - S01E02": Transient(errors.New("connection reset")),
	}}
	sleeper := &fakeSleeper{}

	out := newTestWorker(store, sender, sleeper).Drain(context.Background(), 1)

	if out.Attempted != 3 || out.Sent != 2 || len(out.Failed) != 1 {
		t.Fatalf("Outcome = %+v, want 3 attempted, 2 sent, 1 failed", out)
	}
	if out.Failed[0].Key.Episode != 2 {
		t.Errorf("failed key = %+v, want episode 2", out.Failed[0].Key)
	}
	if n := sender.callsFor("Show - S01E02"); n != 3 {
		t.Errorf("attempts for failing entry = %d, want 3", n)
	}
	if n := sender.callsFor("Show - S01E03"); n != 1 {
		t.Errorf("entry after the failure attempted %d times, want 1", n)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, time.Second}
	if fmt.Sprint(sleeper.waits) != fmt.Sprint(want) {
		t.Errorf("waits = %v, want %v", sleeper.waits, want)
	}
	snap := store.Snapshot(1)
	if len(snap) != 1 || snap[0].Key.Episode != 2 {
		t.Errorf("remaining queue = %+v, want only episode 2", snap)
	}
}

func TestDrainFloodControlWaitsExactly(t *testing.T) {
	store := sortq.NewStore()
	store.Insert(1, ep("Show", one(), 1, sortq.KindVideo, 10))
	flood := Flood(5*time.Second, errors.New("too many requests"))
	sender := &fakeSender{script: map[string][]error{"Show - S01E01": {flood, flood}}}
	sleeper := &fakeSleeper{}

	out := newTestWorker(store, sender, sleeper).Drain(context.Background(), 1)

	if out.Sent != 1 || len(out.Failed) != 0 {
		t.Fatalf("Outcome = %+v, want 1 sent", out)
	}
	want := []time.Duration{5 * time.Second, 5 * time.Second}
	if fmt.Sprint(sleeper.waits) != fmt.Sprint(want) {
		t.Errorf("waits = %v, want %v", sleeper.waits, want)
	}
	if n := sender.callsFor("Show - S01E01"); n != 3 {
		t.Errorf("send calls = %d, want 3", n)
	}
	if !store.IsEmpty(1) {
		t.Error("entry still queued after successful send")
	}
}

func TestDrainFloodControlIsBounded(t *testing.T) {
	store := sortq.NewStore()
	store.Insert(1, ep("Show", one(), 1, sortq.KindVideo, 10))
	sender := &fakeSender{always: map[string]error{
		"Show - S01E01": Flood(30*time.Second, errors.New("too many requests")),
	}}
	sleeper := &fakeSleeper{}

	out := newTestWorker(store, sender, sleeper).Drain(context.Background(), 1)

	if len(out.Failed) != 1 || out.Sent != 0 {
		t.Fatalf("Outcome = %+v, want 1 failed", out)
	}
	if n := sender.callsFor("Show - S01E01"); n != 3 {
		t.Errorf("send calls = %d, want 3", n)
	}
	if len(sleeper.waits) != 2 {
		t.Errorf("waits = %v, want two flood waits", sleeper.waits)
	}
	if store.IsEmpty(1) {
		t.Error("failed entry was removed from the queue")
	}
}

func TestDrainFatalIsNotRetried(t *testing.T) {
	store := sortq.NewStore()
	store.Insert(1, ep("Show", one(), 1, sortq.KindVideo, 10))
	sender := &fakeSender{always: map[string]error{
		"Show - S01E01": Fatal(errors.New("chat not found")),
	}}
	sleeper := &fakeSleeper{}

	out := newTestWorker(store, sender, sleeper).Drain(context.Background(), 1)

	if len(out.Failed) != 1 {
		t.Fatalf("Outcome = %+v, want 1 failed", out)
	}
	if n := sender.callsFor("Show - S01E01"); n != 1 {
		t.Errorf("send calls = %d, want 1", n)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("waits = %v, want none", sleeper.waits)
	}
}

func TestDrainEmptyQueue(t *testing.T) {
	sender := &fakeSender{}
	out := newTestWorker(sortq.NewStore(), sender, &fakeSleeper{}).Drain(context.Background(), 1)
	if out.Attempted != 0 || out.Sent != 0 || out.Failed != nil {
		t.Fatalf("Outcome = %+v, want zero", out)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("sender called %d times", len(sender.calls))
	}
}

func TestDrainSendsInKeyOrderWithRouting(t *testing.T) {
	store := sortq.NewStore()
	store.Insert(1, ep("B", nil, 7, sortq.KindAudio, 10))
	store.Insert(1, ep("A", one(), 2, sortq.KindVideo, 60<<20))
	store.Insert(1, ep("A", one(), 1, sortq.KindVideo, 10))
	sender := &fakeSender{}

	newTestWorker(store, sender, &fakeSleeper{}).Drain(context.Background(), 1)

	want := []struct {
		caption string
		kind    sortq.Kind
	}{
		{"A - S01E01", sortq.KindVideo},
		{"A - S01E02", sortq.KindDocument},
		{"B - Episode 07", sortq.KindAudio},
	}
	if len(sender.calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(sender.calls), len(want))
	}
	for i, w := range want {
		if sender.calls[i].Caption != w.caption || sender.calls[i].Kind != w.kind {
			t.Errorf("call %d = %q/%s, want %q/%s", i, sender.calls[i].Caption, sender.calls[i].Kind, w.caption, w.kind)
		}
	}
}

func TestDrainSkipsEntriesClearedMidDrain(t *testing.T) {
	store := sortq.NewStore()
	for i := 1; i <= 3; i++ {
		store.Insert(1, ep("Show", one(), i, sortq.KindVideo, 10))
	}
	sender := &fakeSender{}
	sender.onSend = func(Request) { store.Clear(1) }

	out := newTestWorker(store, sender, &fakeSleeper{}).Drain(context.Background(), 1)
	if out.Attempted != 1 || out.Sent != 1 {
		t.Fatalf("Outcome = %+v, want only the in-flight entry", out)
	}
}

func TestDrainHooksWhenEntryClearedDuringSend(t *testing.T) {
	store := sortq.NewStore()
	store.Insert(1, ep("Show", one(), 1, sortq.KindVideo, 10))
	store.Insert(1, ep("Show", one(), 2, sortq.KindVideo, 10))
	sender := &fakeSender{}
	sender.onSend = func(Request) { store.Clear(1) }

	var began, ended, sent []string
	w := NewWorker(store, sender,
		WithSleeper(&fakeSleeper{}),
		OnSent(func(_ int64, e sortq.Entry) { sent = append(sent, e.ID) }),
		OnSending(
			func(_ int64, e sortq.Entry) { began = append(began, e.ID) },
			func(_ int64, e sortq.Entry) { ended = append(ended, e.ID) },
		),
	)
	out := w.Drain(context.Background(), 1)

	if out.Sent != 1 {
		t.Fatalf("Outcome = %+v, want one sent", out)
	}
	if len(sent) != 0 {
		t.Errorf("OnSent called for %v after the entry was cleared", sent)
	}
	if fmt.Sprint(began) != "[Show-1]" || fmt.Sprint(ended) != "[Show-1]" {
		t.Errorf("began %v ended %v, want [Show-1] once each", began, ended)
	}
}

func TestDrainSkipsEntryReplacedBeforeSend(t *testing.T) {
	store := sortq.NewStore()
	first := ep("Show", one(), 1, sortq.KindVideo, 10)
	store.Insert(1, first)
	sender := &fakeSender{}

	var ended []string
	w := NewWorker(store, sender,
		WithSleeper(&fakeSleeper{}),
		OnSending(
			func(_ int64, e sortq.Entry) {
				// a newer upload for the same episode lands right now
				newer := first
				newer.ID = "newer"
				store.Insert(1, newer)
			},
			func(_ int64, e sortq.Entry) { ended = append(ended, e.ID) },
		),
	)
	out := w.Drain(context.Background(), 1)

	if out.Attempted != 0 || len(sender.calls) != 0 {
		t.Fatalf("Outcome = %+v calls = %d, want the stale entry skipped", out, len(sender.calls))
	}
	if fmt.Sprint(ended) != "[Show-1]" {
		t.Errorf("ended %v, want [Show-1]", ended)
	}
	if e, ok := store.Get(1, first.Key); !ok || e.ID != "newer" {
		t.Errorf("queue lost the newer entry: %+v", e)
	}
}

func TestDrainStopsWhenContextEnds(t *testing.T) {
	store := sortq.NewStore()
	for i := 1; i <= 3; i++ {
		store.Insert(1, ep("Show", one(), i, sortq.KindVideo, 10))
	}
	sleeper := &fakeSleeper{err: context.Canceled}

	out := newTestWorker(store, &fakeSender{}, sleeper).Drain(context.Background(), 1)
	if out.Attempted != 1 || out.Sent != 1 {
		t.Fatalf("Outcome = %+v, want the drain to stop after the first entry", out)
	}
	if store.Len(1) != 2 {
		t.Fatalf("Len = %d, want 2 entries left queued", store.Len(1))
	}
}

func TestOnSentHook(t *testing.T) {
	store := sortq.NewStore()
	store.Insert(3, ep("Show", one(), 1, sortq.KindVideo, 10))
	var got []string
	w := NewWorker(store, &fakeSender{}, WithSleeper(&fakeSleeper{}), OnSent(func(user int64, e sortq.Entry) {
		got = append(got, fmt.Sprintf("%d:%s", user, e.ID))
	}))
	w.Drain(context.Background(), 3)
	if fmt.Sprint(got) != "[3:Show-1]" {
		t.Fatalf("OnSent calls = %v", got)
	}
}

func TestDeliverRoutesAndRetries(t *testing.T) {
	big := sortq.MediaRef{Kind: sortq.KindVideo, Path: "/tmp/big.mkv", Size: 80 << 20}
	sender := &fakeSender{script: map[string][]error{
		"big": {Transient(errors.New("bad gateway"))},
	}}
	w := NewWorker(sortq.NewStore(), nil, WithSleeper(&fakeSleeper{}))

	if err := w.Deliver(context.Background(), sender, Request{Media: big, Caption: "big"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(sender.calls))
	}
	if k := sender.calls[0].Kind; k != sortq.KindDocument {
		t.Errorf("kind = %q, want document", k)
	}
}

func TestDeliverReturnsFinalError(t *testing.T) {
	boom := Fatal(errors.New("chat not found"))
	sender := &fakeSender{always: map[string]error{"x": boom}}
	w := NewWorker(sortq.NewStore(), nil, WithSleeper(&fakeSleeper{}))

	err := w.Deliver(context.Background(), sender, Request{Kind: sortq.KindAudio, Caption: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
