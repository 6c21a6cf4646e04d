// Package prefs keeps per-user bot settings in Redis.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wapuda/tg-autosort/internal/sortq"
)

// StateTTL bounds how long a half-finished settings dialog is remembered.
const StateTTL = 24 * time.Hour

func keyRenameFormat(user int64) string { return fmt.Sprintf("rename_format:%d", user) }
func keyAutoRename(user int64) string   { return fmt.Sprintf("auto_rename:%d", user) }
func keyMediaType(user int64) string    { return fmt.Sprintf("media_type:%d", user) }
func keyCaption(user int64) string      { return fmt.Sprintf("caption:%d", user) }
func keyThumb(user int64) string        { return fmt.Sprintf("thumb:%d", user) }
func keyState(user int64) string        { return fmt.Sprintf("state:%d", user) }
func keyManualRename(user int64) string { return fmt.Sprintf("manual_rename:%d", user) }
func keyPending(user int64) string      { return fmt.Sprintf("pending_file:%d", user) }

// Settings is everything stored for one user. Zero values mean unset.
type Settings struct {
	RenameFormat string
	AutoRename   bool
	ManualRename bool
	MediaType    sortq.Kind
	Caption      string
	Thumb        string
}

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *Store) set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *Store) GetRenameFormat(ctx context.Context, user int64) (string, error) {
	return s.get(ctx, keyRenameFormat(user))
}

func (s *Store) SetRenameFormat(ctx context.Context, user int64, format string) error {
	return s.set(ctx, keyRenameFormat(user), format)
}

func (s *Store) DelRenameFormat(ctx context.Context, user int64) error {
	return s.rdb.Del(ctx, keyRenameFormat(user)).Err()
}

func (s *Store) AutoRename(ctx context.Context, user int64) (bool, error) {
	v, err := s.get(ctx, keyAutoRename(user))
	return v == "1", err
}

func (s *Store) SetAutoRename(ctx context.Context, user int64, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return s.set(ctx, keyAutoRename(user), v)
}

// ManualRename reports whether uploads wait for a typed file name.
func (s *Store) ManualRename(ctx context.Context, user int64) (bool, error) {
	v, err := s.get(ctx, keyManualRename(user))
	return v == "1", err
}

func (s *Store) SetManualRename(ctx context.Context, user int64, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return s.set(ctx, keyManualRename(user), v)
}

// GetMediaType returns the kind the user wants files sent as. ok is false
// when no valid preference is stored.
func (s *Store) GetMediaType(ctx context.Context, user int64) (kind sortq.Kind, ok bool, err error) {
	v, err := s.get(ctx, keyMediaType(user))
	if err != nil {
		return "", false, err
	}
	kind, ok = sortq.ParseKind(v)
	return kind, ok, nil
}

func (s *Store) SetMediaType(ctx context.Context, user int64, kind sortq.Kind) error {
	if _, ok := sortq.ParseKind(string(kind)); !ok {
		return fmt.Errorf("unknown media type %q", kind)
	}
	return s.set(ctx, keyMediaType(user), string(kind))
}

func (s *Store) GetCaption(ctx context.Context, user int64) (string, error) {
	return s.get(ctx, keyCaption(user))
}

func (s *Store) SetCaption(ctx context.Context, user int64, template string) error {
	return s.set(ctx, keyCaption(user), template)
}

func (s *Store) DelCaption(ctx context.Context, user int64) error {
	return s.rdb.Del(ctx, keyCaption(user)).Err()
}

func (s *Store) GetThumb(ctx context.Context, user int64) (string, error) {
	return s.get(ctx, keyThumb(user))
}

func (s *Store) SetThumb(ctx context.Context, user int64, fileID string) error {
	return s.set(ctx, keyThumb(user), fileID)
}

func (s *Store) DelThumb(ctx context.Context, user int64) error {
	return s.rdb.Del(ctx, keyThumb(user)).Err()
}

// Settings loads every preference of user in one round trip.
func (s *Store) Settings(ctx context.Context, user int64) (Settings, error) {
	vals, err := s.rdb.MGet(ctx,
		keyRenameFormat(user), keyAutoRename(user), keyMediaType(user), keyCaption(user), keyThumb(user),
		keyManualRename(user),
	).Result()
	if err != nil {
		return Settings{}, err
	}
	str := func(i int) string {
		if v, ok := vals[i].(string); ok {
			return v
		}
		return ""
	}
	st := Settings{
		RenameFormat: str(0),
		AutoRename:   str(1) == "1",
		Caption:      str(3),
		Thumb:        str(4),
		ManualRename: str(5) == "1",
	}
	if k, ok := sortq.ParseKind(str(2)); ok {
		st.MediaType = k
	}
	return st, nil
}

// SetState remembers which settings value the user is about to type.
func (s *Store) SetState(ctx context.Context, user int64, state string) error {
	return s.rdb.Set(ctx, keyState(user), state, StateTTL).Err()
}

func (s *Store) State(ctx context.Context, user int64) (string, error) {
	return s.get(ctx, keyState(user))
}

func (s *Store) ClearState(ctx context.Context, user int64) error {
	return s.rdb.Del(ctx, keyState(user)).Err()
}

// SetPendingFile parks an upload that waits for its new name. It expires with
// the conversation state.
func (s *Store) SetPendingFile(ctx context.Context, user int64, payload []byte) error {
	return s.rdb.Set(ctx, keyPending(user), payload, StateTTL).Err()
}

// PendingFile returns the parked upload, or nil when there is none.
func (s *Store) PendingFile(ctx context.Context, user int64) ([]byte, error) {
	b, err := s.rdb.Get(ctx, keyPending(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (s *Store) DelPendingFile(ctx context.Context, user int64) error {
	return s.rdb.Del(ctx, keyPending(user)).Err()
}
