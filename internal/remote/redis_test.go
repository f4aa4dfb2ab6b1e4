package remote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
)

func unreachableStore(t *testing.T) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStoreWithClient(client, "agrisound", "test", zerolog.Nop())
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_KeyLayout(t *testing.T) {
	store := unreachableStore(t)
	require.Equal(t, "agrisound:flags", store.key("flags"))
	require.Equal(t, "agrisound:flags:changed", store.key("flags", "changed"))
	require.Equal(t, "agrisound:schedules", store.key(string(CollectionSchedules)))
}

func TestRedisStore_UnreachableIsUnavailable(t *testing.T) {
	store := unreachableStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.ErrorIs(t, store.Ping(ctx), ErrUnavailable)

	_, err := store.GetFlags(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	_, _, err = store.ListSchedules(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	require.ErrorIs(t, store.SetFlag(ctx, FlagMainSwitch, true), ErrUnavailable)
}

// sharedStores returns one store per origin, all on the same in-process server.
func sharedStores(t *testing.T, origins ...string) (*miniredis.Miniredis, []*RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	stores := make([]*RedisStore, 0, len(origins))
	for _, origin := range origins {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store := NewRedisStoreWithClient(client, "agrisound", origin, zerolog.Nop())
		t.Cleanup(func() { store.Close() })
		stores = append(stores, store)
	}
	return mr, stores
}

func nextEvent(t *testing.T, events <-chan FlagEvent) FlagEvent {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "watch channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no flag event delivered")
		return FlagEvent{}
	}
}

func TestRedisStore_SetFlagPersistsAndPublishes(t *testing.T) {
	mr, stores := sharedStores(t, "hub-a", "hub-b")
	a, b := stores[0], stores[1]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watched, err := b.WatchFlags(ctx)
	require.NoError(t, err)

	require.NoError(t, a.SetFlag(ctx, FlagMainSwitch, true))

	event := nextEvent(t, watched)
	require.Equal(t, FlagEvent{Flag: FlagMainSwitch, Value: true, Origin: "hub-a"}, event)
	require.Equal(t, "1", mr.HGet("agrisound:flags", string(FlagMainSwitch)))

	flags, err := b.GetFlags(ctx)
	require.NoError(t, err)
	require.Equal(t, Flags{MainSwitch: true}, flags)

	require.NoError(t, a.SetFlag(ctx, FlagMainSwitch, false))
	require.Equal(t, FlagEvent{Flag: FlagMainSwitch, Value: false, Origin: "hub-a"}, nextEvent(t, watched))
	require.Equal(t, "0", mr.HGet("agrisound:flags", string(FlagMainSwitch)))
}

func TestRedisStore_WatchFlagsSkipsOwnOrigin(t *testing.T) {
	_, stores := sharedStores(t, "hub-a", "hub-b")
	a, b := stores[0], stores[1]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fromA, err := a.WatchFlags(ctx)
	require.NoError(t, err)
	fromB, err := b.WatchFlags(ctx)
	require.NoError(t, err)

	require.NoError(t, a.SetFlag(ctx, FlagMainSwitch, true))
	require.NoError(t, b.SetFlag(ctx, FlagDevicePower, true))

	// Pub/sub preserves publish order, so a's own echo would arrive first.
	require.Equal(t, FlagEvent{Flag: FlagDevicePower, Value: true, Origin: "hub-b"}, nextEvent(t, fromA))
	require.Equal(t, FlagEvent{Flag: FlagMainSwitch, Value: true, Origin: "hub-a"}, nextEvent(t, fromB))
}

func TestRedisStore_SameOriginHubsMissEachOther(t *testing.T) {
	_, stores := sharedStores(t, "agrisound-hub", "agrisound-hub", "other")
	a, b, c := stores[0], stores[1], stores[2]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fromB, err := b.WatchFlags(ctx)
	require.NoError(t, err)

	require.NoError(t, a.SetFlag(ctx, FlagMainSwitch, true))
	require.NoError(t, c.SetFlag(ctx, FlagDevicePower, true))

	require.Equal(t, FlagDevicePower, nextEvent(t, fromB).Flag, "a shared origin hides a's write from b")
}

func TestRedisStore_WatchFlagsIgnoresMalformedPayload(t *testing.T) {
	mr, stores := sharedStores(t, "hub-a", "hub-b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watched, err := stores[0].WatchFlags(ctx)
	require.NoError(t, err)

	mr.Publish("agrisound:flags:changed", "not json")
	require.NoError(t, stores[1].SetFlag(ctx, FlagMainSwitch, true))
	require.Equal(t, FlagMainSwitch, nextEvent(t, watched).Flag)
}

func TestRedisStore_WatchFlagsClosesOnCancel(t *testing.T) {
	_, stores := sharedStores(t, "hub-a")
	ctx, cancel := context.WithCancel(context.Background())

	watched, err := stores[0].WatchFlags(ctx)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-watched:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisStore_CollectionInitialisation(t *testing.T) {
	mr, stores := sharedStores(t, "hub-a")
	store := stores[0]
	ctx := context.Background()

	items, initialised, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
	require.False(t, initialised, "never written")

	sched := schedules.Schedule{ID: "s1", Name: "Dawn", Time: "05:30", Days: []int{1}, SoundIDs: schedules.Random(), PlaybackCount: 1}
	require.NoError(t, store.PutSchedule(ctx, sched))
	require.True(t, mr.Exists("agrisound:schedules"))
	ok, err := mr.SIsMember("agrisound:initialised", string(CollectionSchedules))
	require.NoError(t, err)
	require.True(t, ok, "a write marks the collection initialised")

	require.NoError(t, store.DeleteSchedule(ctx, "s1"))
	items, initialised, err = store.ListSchedules(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
	require.True(t, initialised, "emptied is not the same as never written")

	_, initialised, err = store.ListSounds(ctx)
	require.NoError(t, err)
	require.False(t, initialised, "collections are tracked separately")

	require.NoError(t, store.MarkInitialised(ctx, CollectionSounds))
	_, initialised, err = store.ListSounds(ctx)
	require.NoError(t, err)
	require.True(t, initialised)
}

func TestRedisStore_ListSchedulesOrder(t *testing.T) {
	_, stores := sharedStores(t, "hub-a")
	store := stores[0]
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	for _, sched := range []schedules.Schedule{
		{ID: "late", Name: "Late", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "b", Name: "Tie B", CreatedAt: base},
		{ID: "a", Name: "Tie A", CreatedAt: base},
		{ID: "mid", Name: "Mid", CreatedAt: base.Add(time.Hour), LastRunTimestamp: 42},
	} {
		require.NoError(t, store.PutSchedule(ctx, sched))
	}

	items, initialised, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	require.True(t, initialised)

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	require.Equal(t, []string{"a", "b", "mid", "late"}, ids)
	require.Equal(t, int64(42), items[2].LastRunTimestamp)
	require.True(t, items[3].CreatedAt.Equal(base.Add(2*time.Hour)))
}

func TestRedisStore_ListSkipsMalformedRecords(t *testing.T) {
	mr, stores := sharedStores(t, "hub-a")
	store := stores[0]
	ctx := context.Background()

	require.NoError(t, store.PutSound(ctx, sounds.SoundFile{ID: "hawk", Name: "Hawk", URL: "https://a/hawk.mp3"}))
	mr.HSet("agrisound:sounds", "broken", "{")
	mr.HSet("agrisound:sounds", "bare", `{"name":"Bare"}`)

	items, _, err := store.ListSounds(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "bare", items[0].ID, "missing ids fall back to the hash field")
	require.Equal(t, "hawk", items[1].ID)
}

func TestRedisStore_PutDeviceState(t *testing.T) {
	mr, stores := sharedStores(t, "hub-a")
	ctx := context.Background()

	require.NoError(t, stores[0].PutDeviceState(ctx, device.State{Status: device.StatusActive, LastSoundPlayed: "Hawk"}))

	raw, err := mr.Get("agrisound:device")
	require.NoError(t, err)
	require.Contains(t, raw, `"status":"ACTIVE"`)
	require.Contains(t, raw, `"last_sound_played":"Hawk"`)
}
