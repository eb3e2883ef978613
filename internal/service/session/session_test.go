package session

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	ctx := context.Background()

	s := chat.NewSession("abc", time.Now())
	s.Profile.Interests = []string{"soccer"}
	require.NoError(t, store.Save(ctx, s))

	s.Profile.Interests[0] = "mutated"

	loaded, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"soccer"}, loaded.Profile.Interests)

	loaded.History = append(loaded.History, chat.Turn{Role: chat.RoleUser, Text: "hi"})
	again, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, again.History)
}

func TestMemoryStoreExpiresIdleSessions(t *testing.T) {
	store := NewMemoryStore(30*time.Millisecond, 0)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, chat.NewSession("short", time.Now())))

	time.Sleep(60 * time.Millisecond)
	_, err := store.Load(ctx, "short")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("3f1c2a9e-8b7d-4c55-9d6e-0a1b2c3d4e5f"))
	assert.True(t, ValidKey("client_key-1"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("has space"))
	assert.False(t, ValidKey("<script>"))
	assert.False(t, ValidKey(strings.Repeat("a", 129)))
}

func TestManagerBeginCreatesAndReuses(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	m := NewManager(store, nil, WithKeyGenerator(func() string { return "generated" }))
	ctx := context.Background()

	lease, err := m.Begin(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "generated", lease.Key)
	assert.True(t, lease.Created)
	assert.Equal(t, chat.StepParentName, lease.Session.DialogStep)

	lease.Session.Profile.ParentName = "Jane"
	require.NoError(t, m.Commit(ctx, lease))
	lease.Release()

	lease, err = m.Begin(ctx, "generated")
	require.NoError(t, err)
	defer lease.Release()
	assert.False(t, lease.Created)
	assert.Equal(t, "Jane", lease.Session.Profile.ParentName)
}

func TestManagerReplacesMalformedKey(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour, 0), nil, WithKeyGenerator(func() string { return "fresh" }))

	lease, err := m.Begin(context.Background(), "not a key!")
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, "fresh", lease.Key)
	assert.True(t, lease.Rejected)
	assert.True(t, lease.Created)
}

func TestManagerAdoptsUnknownWellFormedKey(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour, 0), nil)

	lease, err := m.Begin(context.Background(), "client-chosen")
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, "client-chosen", lease.Key)
	assert.False(t, lease.Rejected)
	assert.True(t, lease.Created)
}

func TestManagerUncommittedChangesAreInvisible(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour, 0), nil)
	ctx := context.Background()

	lease, err := m.Begin(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, lease))
	lease.Release()

	lease, err = m.Begin(ctx, "k1")
	require.NoError(t, err)
	lease.Session.Profile.ChildName = "Sam"
	lease.Release()

	got, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, got.Profile.ChildName)
}

func TestManagerDelete(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour, 0), nil)
	ctx := context.Background()

	lease, err := m.Begin(ctx, "k2")
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, lease))
	lease.Release()

	require.NoError(t, m.Delete(ctx, "k2"))
	assert.ErrorIs(t, m.Delete(ctx, "k2"), ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "bad key"), ErrSessionNotFound)

	_, err = m.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerSerializesSameKey(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour, 0), nil)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Begin(ctx, "shared")
			if err != nil {
				errs <- err
				return
			}
			defer lease.Release()
			// A lost update would show up as fewer history entries than workers.
			lease.Session.History = append(lease.Session.History, chat.Turn{Role: chat.RoleUser, Text: "x"})
			time.Sleep(time.Millisecond)
			if err := m.Commit(ctx, lease); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("turn failed: %v", err)
	}

	got, err := m.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, got.History, workers)
	assert.Zero(t, m.locker.(*KeyLocker).held())
}

func TestManagerDistinctKeysRunInParallel(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour, 0), nil)
	ctx := context.Background()

	first, err := m.Begin(ctx, "a")
	require.NoError(t, err)
	defer first.Release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		second, err := m.Begin(ctx, "b")
		if err == nil {
			second.Release()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a held lease blocked an unrelated key")
	}
}

// twoWriters runs two managers over one store, the way two API replicas would. The second
// Begin must wait for the first lease, and neither write may be lost.
func twoWriters(t *testing.T, a, b *Manager, key string) {
	t.Helper()
	ctx := context.Background()

	first, err := a.Begin(ctx, key)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = b.Begin(waitCtx, key)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	first.Session.Profile.ParentName = "from-A"
	require.NoError(t, a.Commit(ctx, first))
	first.Release()

	second, err := b.Begin(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "from-A", second.Session.Profile.ParentName)
	second.Session.Profile.ChildName = "from-B"
	require.NoError(t, b.Commit(ctx, second))
	second.Release()

	got, err := a.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "from-A", got.Profile.ParentName)
	assert.Equal(t, "from-B", got.Profile.ChildName)
}

func TestManagersSharingLockerSerialize(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	shared := NewKeyLocker()
	a := NewManager(store, nil, WithLocker(shared))
	b := NewManager(store, nil, WithLocker(shared))
	twoWriters(t, a, b, "k1")
	assert.Zero(t, shared.held())
}

func TestKeyLockerHonoursContext(t *testing.T) {
	l := NewKeyLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock()
	assert.Zero(t, l.held())
}

func TestRedisStoreIntegration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	store, err := NewRedisStore(url, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	s := chat.NewSession("redis-it-"+time.Now().Format("150405.000000"), time.Now().UTC())
	s.DialogStep = chat.StepInterests
	age := 8
	s.Profile.ChildAge = &age
	require.NoError(t, store.Save(ctx, s))
	defer store.Delete(ctx, s.ID)

	got, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.StepInterests, got.DialogStep)
	require.NotNil(t, got.Profile.ChildAge)
	assert.Equal(t, 8, *got.Profile.ChildAge)

	_, err = store.Load(ctx, "redis-it-missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisLockerSerializesAcrossManagers(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	store, err := NewRedisStore(url, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	// 两个 locker 各自持有本地队列，只能通过 redis 互斥
	opts := RedisLockerOptions{TTL: time.Second, RetryInterval: 5 * time.Millisecond}
	a := NewManager(store, nil, WithLocker(NewRedisLocker(store.Client(), opts, nil)))
	b := NewManager(store, nil, WithLocker(NewRedisLocker(store.Client(), opts, nil)))

	key := "redis-lock-" + strings.ReplaceAll(time.Now().Format("150405.000000"), ".", "")
	defer store.Delete(context.Background(), key)
	twoWriters(t, a, b, key)
}

func TestRedisLockerOutlivesTTLWhileHeld(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	store, err := NewRedisStore(url, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	opts := RedisLockerOptions{TTL: 150 * time.Millisecond, RetryInterval: 5 * time.Millisecond}
	holder := NewRedisLocker(store.Client(), opts, nil)
	other := NewRedisLocker(store.Client(), opts, nil)
	key := "redis-ttl-" + strings.ReplaceAll(time.Now().Format("150405.000000"), ".", "")

	unlock, err := holder.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	_, err = other.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the holder keeps extending its lease")

	unlock()
	unlockOther, err := other.Lock(context.Background(), key)
	require.NoError(t, err)
	unlockOther()
}
