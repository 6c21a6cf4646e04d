package delivery

import (
	"context"
	"time"

	"github.com/wapuda/tg-autosort/internal/sortq"
)

// Request is one transport call.
type Request struct {
	Kind    sortq.Kind
	Media   sortq.MediaRef
	Caption string
}

// Sender delivers a request to its destination. Errors should be tagged with
// Flood, Transient or Fatal.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

// Sleeper suspends the caller. Implementations return early with ctx's error.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleep waits on a timer.
var RealSleep = SleepFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})

// Policy holds the delivery limits.
type Policy struct {
	MaxAttempts      int
	TransientBackoff time.Duration
	ItemPause        time.Duration
	InlineVideoLimit int64 // videos above this many bytes go out as documents
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		TransientBackoff: 2 * time.Second,
		ItemPause:        time.Second,
		InlineVideoLimit: 50 << 20,
	}
}

// Phase is a step of the per-entry retry state machine.
type Phase int

const (
	Attempting Phase = iota
	Waiting
	Sent
	Failed
)

func (p Phase) String() string {
	switch p {
	case Attempting:
		return "attempting"
	case Waiting:
		return "waiting"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// State is the retry state of one entry. Attempt counts sends made so far.
type State struct {
	Phase   Phase
	Attempt int
	Wait    time.Duration
	Err     error
}

// Next is the transition taken after attempt s.Attempt returned err.
// Every retry path is bounded by MaxAttempts; a flood signal on the last
// attempt fails without waiting.
func (p Policy) Next(s State, err error) State {
	class, wait := Classify(err)
	s.Err = err
	s.Wait = 0
	switch class {
	case ClassNone:
		s.Phase = Sent
	case ClassFatal, ClassCanceled:
		s.Phase = Failed
	case ClassFlood:
		if s.Attempt >= p.MaxAttempts {
			s.Phase = Failed
		} else {
			s.Phase, s.Wait = Waiting, wait
		}
	default:
		if s.Attempt >= p.MaxAttempts {
			s.Phase = Failed
		} else {
			s.Phase, s.Wait = Waiting, p.TransientBackoff
		}
	}
	return s
}

// Retrier runs the retry state machine against a sender.
type Retrier struct {
	Policy Policy
	Sleep  Sleeper
}

// Do sends req until it is sent or the policy gives up. It returns the final
// state; Err is nil only when Phase is Sent.
func (r Retrier) Do(ctx context.Context, sender Sender, req Request) State {
	sleep := r.Sleep
	if sleep == nil {
		sleep = RealSleep
	}
	st := State{Phase: Attempting}
	for {
		switch st.Phase {
		case Attempting:
			st.Attempt++
			st = r.Policy.Next(st, sender.Send(ctx, req))
		case Waiting:
			if err := sleep.Sleep(ctx, st.Wait); err != nil {
				st.Phase, st.Err = Failed, err
				continue
			}
			st.Phase = Attempting
		default:
			return st
		}
	}
}

// Route picks the transport method for m. Oversized videos are sent as
// documents.
func Route(m sortq.MediaRef, inlineVideoLimit int64) sortq.Kind {
	switch m.Kind {
	case sortq.KindVideo:
		if inlineVideoLimit > 0 && m.Size > inlineVideoLimit {
			return sortq.KindDocument
		}
		return sortq.KindVideo
	case sortq.KindAudio:
		return sortq.KindAudio
	}
	return sortq.KindDocument
}
