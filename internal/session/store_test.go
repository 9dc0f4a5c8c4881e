package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autsav/backgroundRemover/internal/controller"
)

func sampleSnapshot() controller.Snapshot {
	return controller.Snapshot{
		Phase:      controller.PhaseSelected,
		Image:      &controller.Image{DataURI: "data:image/png;base64,AAAA", MediaType: "image/png", Size: 3},
		FullScreen: true,
	}
}

func TestMemoryStore_SaveLoadExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Load(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Save(ctx, "a", sampleSnapshot(), time.Minute))
	got, err := m.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)

	now = now.Add(2 * time.Minute)
	_, err = m.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SweepAndDelete(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, "short", sampleSnapshot(), time.Second))
	require.NoError(t, m.Save(ctx, "long", sampleSnapshot(), time.Hour))
	require.NoError(t, m.Save(ctx, "gone", sampleSnapshot(), time.Hour))
	require.NoError(t, m.Delete(ctx, "gone"))

	now = now.Add(time.Minute)
	assert.Equal(t, 1, m.Sweep())

	_, err := m.Load(ctx, "long")
	assert.NoError(t, err)
	_, err = m.Load(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeCache struct {
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		return errors.New("unsupported value")
	}
	f.ttls[key] = expiration
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	if f.failGet != nil {
		return "", f.failGet
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func TestRedisStore_RoundTrip(t *testing.T) {
	cache := newFakeCache()
	s := NewRedisStore(cache)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "abc", sampleSnapshot(), 30*time.Minute))
	assert.Contains(t, cache.data, "session:abc")
	assert.Equal(t, 30*time.Minute, cache.ttls["session:abc"])

	got, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)

	require.NoError(t, s.Delete(ctx, "abc"))
	_, err = s.Load(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Errors(t *testing.T) {
	cache := newFakeCache()
	s := NewRedisStore(cache)
	ctx := context.Background()

	cache.data["session:bad"] = "{not json"
	_, err := s.Load(ctx, "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	cache.failGet = errors.New("connection refused")
	_, err = s.Load(ctx, "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
