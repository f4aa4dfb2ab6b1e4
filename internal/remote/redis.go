package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

// RedisOptions configures the shared Redis store.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// Origin tags flag events this process publishes.
	Origin string
}

// RedisStore keeps the shared state in Redis.
//
// Layout under Prefix:
//
//	<p>:flags                 hash  mainSwitch|devicePower -> "1"|"0"
//	<p>:flags:changed         pub/sub channel of FlagEvent JSON
//	<p>:schedules             hash  id -> Schedule JSON
//	<p>:sounds                hash  id -> SoundFile JSON
//	<p>:initialised           set   of collection names ever written
//	<p>:device                string State JSON
type RedisStore struct {
	client *redis.Client
	prefix string
	origin string
	logger zerolog.Logger
}

// NewRedisStore creates a store backed by a new client.
func NewRedisStore(opts RedisOptions, logger zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client, opts.Prefix, opts.Origin, logger)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix, origin string, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		origin: origin,
		logger: logger.With().Str("component", "remote").Logger(),
	}
}

// Close releases the client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetFlags implements Store. Missing fields read as off.
func (s *RedisStore) GetFlags(ctx context.Context) (Flags, error) {
	values, err := s.client.HGetAll(ctx, s.key("flags")).Result()
	if err != nil {
		return Flags{}, fmt.Errorf("%w: get flags: %v", ErrUnavailable, err)
	}
	return Flags{
		MainSwitch:  values[string(FlagMainSwitch)] == "1",
		DevicePower: values[string(FlagDevicePower)] == "1",
	}, nil
}

// SetFlag implements Store. The write and the change notification go out together.
func (s *RedisStore) SetFlag(ctx context.Context, flag Flag, value bool) error {
	payload, err := json.Marshal(FlagEvent{Flag: flag, Value: value, Origin: s.origin})
	if err != nil {
		return err
	}
	stored := "0"
	if value {
		stored = "1"
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("flags"), string(flag), stored)
		pipe.Publish(ctx, s.key("flags", "changed"), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, flag, err)
	}
	return nil
}

// WatchFlags implements Store.
func (s *RedisStore) WatchFlags(ctx context.Context) (<-chan FlagEvent, error) {
	sub := s.client.Subscribe(ctx, s.key("flags", "changed"))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: subscribe flags: %v", ErrUnavailable, err)
	}

	out := make(chan FlagEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event FlagEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.logger.Warn().Err(err).Str("payload", msg.Payload).Msg("ignoring malformed flag event")
					continue
				}
				if event.Origin != "" && event.Origin == s.origin {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ListSchedules implements Store.
func (s *RedisStore) ListSchedules(ctx context.Context) ([]schedules.Schedule, bool, error) {
	raw, initialised, err := s.listCollection(ctx, CollectionSchedules)
	if err != nil {
		return nil, false, err
	}
	items := make([]schedules.Schedule, 0, len(raw))
	for id, value := range raw {
		var sched schedules.Schedule
		if err := json.Unmarshal([]byte(value), &sched); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", id).Msg("skipping malformed remote schedule")
			continue
		}
		if sched.ID == "" {
			sched.ID = id
		}
		items = append(items, sched)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, initialised, nil
}

// PutSchedule implements Store.
func (s *RedisStore) PutSchedule(ctx context.Context, sched schedules.Schedule) error {
	return s.putRecord(ctx, CollectionSchedules, sched.ID, sched)
}

// DeleteSchedule implements Store.
func (s *RedisStore) DeleteSchedule(ctx context.Context, id string) error {
	return s.deleteRecord(ctx, CollectionSchedules, id)
}

// ListSounds implements Store.
func (s *RedisStore) ListSounds(ctx context.Context) ([]sounds.SoundFile, bool, error) {
	raw, initialised, err := s.listCollection(ctx, CollectionSounds)
	if err != nil {
		return nil, false, err
	}
	items := make([]sounds.SoundFile, 0, len(raw))
	for id, value := range raw {
		var sound sounds.SoundFile
		if err := json.Unmarshal([]byte(value), &sound); err != nil {
			s.logger.Warn().Err(err).Str("sound_id", id).Msg("skipping malformed remote sound")
			continue
		}
		if sound.ID == "" {
			sound.ID = id
		}
		items = append(items, sound)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, initialised, nil
}

// PutSound implements Store.
func (s *RedisStore) PutSound(ctx context.Context, sound sounds.SoundFile) error {
	return s.putRecord(ctx, CollectionSounds, sound.ID, sound)
}

// DeleteSound implements Store.
func (s *RedisStore) DeleteSound(ctx context.Context, id string) error {
	return s.deleteRecord(ctx, CollectionSounds, id)
}

// MarkInitialised implements Store.
func (s *RedisStore) MarkInitialised(ctx context.Context, c Collection) error {
	if err := s.client.SAdd(ctx, s.key("initialised"), string(c)).Err(); err != nil {
		return fmt.Errorf("%w: mark %s: %v", ErrUnavailable, c, err)
	}
	return nil
}

// PutDeviceState implements Store.
func (s *RedisStore) PutDeviceState(ctx context.Context, state device.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key("device"), payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: put device state: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) listCollection(ctx context.Context, c Collection) (map[string]string, bool, error) {
	var values *redis.MapStringStringCmd
	var member *redis.BoolCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		values = pipe.HGetAll(ctx, s.key(string(c)))
		member = pipe.SIsMember(ctx, s.key("initialised"), string(c))
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: list %s: %v", ErrUnavailable, c, err)
	}
	return values.Val(), member.Val(), nil
}

func (s *RedisStore) putRecord(ctx context.Context, c Collection, id string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(string(c)), id, payload)
		pipe.SAdd(ctx, s.key("initialised"), string(c))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", ErrUnavailable, c, id, err)
	}
	return nil
}

func (s *RedisStore) deleteRecord(ctx context.Context, c Collection, id string) error {
	if err := s.client.HDel(ctx, s.key(string(c)), id).Err(); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", ErrUnavailable, c, id, err)
	}
	return nil
}
