package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	calls    int
	channels []Channel
	err      error
}

func (f *fakeLister) ListActive(ctx context.Context, category string) ([]Channel, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.channels, nil
}

func TestCacheServesFromMemoryWithinTTL(t *testing.T) {
	lister := &fakeLister{channels: []Channel{{ID: "c1", Name: "One"}}}
	cache := NewCache(lister, time.Minute)

	first, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)
	second, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, lister.calls)
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	lister := &fakeLister{channels: []Channel{{ID: "c1"}}}
	cache := NewCache(lister, time.Minute)

	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cache.ListActive(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestCacheKeysPerCategory(t *testing.T) {
	lister := &fakeLister{channels: []Channel{{ID: "c1"}}}
	cache := NewCache(lister, time.Minute)

	_, err := cache.ListActive(context.Background(), "News")
	require.NoError(t, err)
	_, err = cache.ListActive(context.Background(), "Sports")
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestCacheInvalidate(t *testing.T) {
	lister := &fakeLister{channels: []Channel{{ID: "c1"}}}
	cache := NewCache(lister, time.Minute)

	_, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.ListActive(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestCacheServesStaleOnRefreshFailure(t *testing.T) {
	lister := &fakeLister{channels: []Channel{{ID: "c1", Name: "One"}}}
	cache := NewCache(lister, time.Minute)

	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)

	lister.err = errors.New("db down")
	now = now.Add(2 * time.Minute)

	got, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "One", got[0].Name)
}

func TestCacheErrorWithNothingCached(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	cache := NewCache(lister, time.Minute)

	_, err := cache.ListActive(context.Background(), "")
	assert.Error(t, err)
}

func TestCacheReturnsCopies(t *testing.T) {
	lister := &fakeLister{channels: []Channel{{ID: "c1", Name: "One"}}}
	cache := NewCache(lister, time.Minute)

	first, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := cache.ListActive(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "One", second[0].Name)
}
