package sortq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wapuda/tg-autosort/internal/extract"
)

// Kind selects the transport method used for a media item.
type Kind string

const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// ParseKind maps a stored preference to a Kind. Unknown values report false.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindVideo, KindAudio, KindDocument:
		return Kind(s), true
	}
	return "", false
}

// MediaRef points at media the sender can deliver. It is owned by the caller;
// the store only carries it.
type MediaRef struct {
	Kind     Kind          `json:"kind"`
	Path     string        `json:"path,omitempty"`    // local file, uploaded when set
	FileID   string        `json:"file_id,omitempty"` // remote file id, used when Path is empty
	Name     string        `json:"name,omitempty"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration,omitempty"`
	Thumb    string        `json:"thumb,omitempty"` // local thumbnail path
}

// Key orders queue entries: series, then season (absent counts as 1), then
// episode.
type Key struct {
	Series  string
	Season  int
	Episode int
}

// KeyOf derives the queue key of an identity.
func KeyOf(id extract.Identity) Key {
	return Key{Series: id.Series, Season: id.SeasonOr(1), Episode: id.Episode}
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	if k.Series != o.Series {
		return k.Series < o.Series
	}
	if k.Season != o.Season {
		return k.Season < o.Season
	}
	return k.Episode < o.Episode
}

// Entry is one queued media item.
type Entry struct {
	ID         string
	Key        Key
	Media      MediaRef
	Identity   extract.Identity
	EnqueuedAt time.Time
}

// Store holds every user's pending entries. One mutex guards all queues and
// drain flags; it is never held while waiting.
type Store struct {
	mu       sync.Mutex
	queues   map[int64]map[Key]Entry
	draining map[int64]chan struct{}
}

func NewStore() *Store {
	return &Store{
		queues:   make(map[int64]map[Key]Entry),
		draining: make(map[int64]chan struct{}),
	}
}

// Insert upserts e under its key. When an entry with the same key was
// already queued it is returned as replaced.
func (s *Store) Insert(user int64, e Entry) (replaced Entry, ok bool) {
	e.Identity = cloneIdentity(e.Identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[user]
	if !exists {
		q = make(map[Key]Entry)
		s.queues[user] = q
	}
	replaced, ok = q[e.Key]
	q[e.Key] = e
	return replaced, ok
}

// Snapshot returns the user's entries sorted by key.
func (s *Store) Snapshot(user int64) []Entry {
	s.mu.Lock()
	q := s.queues[user]
	out := make([]Entry, 0, len(q))
	for _, e := range q {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

func (s *Store) Get(user int64, key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queues[user][key]
	return e, ok
}

// Remove deletes key from the user's queue. Absent keys are ignored.
func (s *Store) Remove(user int64, key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(user, key)
}

// RemoveEntry deletes e only if it is still the entry stored under its key.
func (s *Store) RemoveEntry(user int64, e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.queues[user][e.Key]
	if !ok || cur.ID != e.ID {
		return false
	}
	s.removeLocked(user, e.Key)
	return true
}

func (s *Store) removeLocked(user int64, key Key) {
	q, ok := s.queues[user]
	if !ok {
		return
	}
	delete(q, key)
	if len(q) == 0 {
		delete(s.queues, user)
	}
}

// Clear empties the user's queue and returns the removed entries.
func (s *Store) Clear(user int64) []Entry {
	s.mu.Lock()
	q := s.queues[user]
	delete(s.queues, user)
	s.mu.Unlock()

	out := make([]Entry, 0, len(q))
	for _, e := range q {
		out = append(out, e)
	}
	return out
}

func (s *Store) IsEmpty(user int64) bool {
	return s.Len(user) == 0
}

func (s *Store) Len(user int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[user])
}

// AcquireDrain marks a drain in progress for user. If another drain holds the
// flag, it waits for that drain to finish or for ctx to end. The returned
// release func must be called exactly once.
func (s *Store) AcquireDrain(ctx context.Context, user int64) (release func(), err error) {
	for {
		s.mu.Lock()
		busy, held := s.draining[user]
		if !held {
			done := make(chan struct{})
			s.draining[user] = done
			s.mu.Unlock()
			return func() {
				s.mu.Lock()
				delete(s.draining, user)
				s.mu.Unlock()
				close(done)
			}, nil
		}
		s.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Draining reports whether a drain currently holds the user's flag.
func (s *Store) Draining(user int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.draining[user]
	return held
}

func cloneIdentity(id extract.Identity) extract.Identity {
	if id.Season != nil {
		season := *id.Season
		id.Season = &season
	}
	return id
}
