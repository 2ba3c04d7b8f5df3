package rediscache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	s := NewWithClient(fc, "la:")
	ctx := context.Background()

	_, found, err := s.Get(ctx, "transport:M1_1AF")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "transport:M1_1AF", []byte(`{"ok":true}`), 24*time.Hour))
	assert.Equal(t, 24*time.Hour, fc.ttls["la:transport:M1_1AF"])

	got, found, err := s.Get(ctx, "transport:M1_1AF")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	require.NoError(t, s.Health(ctx))
	require.NoError(t, s.Close())
	assert.True(t, fc.closed)
}

func TestStoreGetError(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.getErr = errors.New("connection refused")
	_, _, err := NewWithClient(fc, "").Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = New(context.Background(), Config{URL: "://nope"})
	require.Error(t, err)
}
