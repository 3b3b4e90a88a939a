// internal/cache/cache_test.go

package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustUnmarshal(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{
			name: "flat",
			a:    `{"user": "alice", "count": 3}`,
			b:    `{"count": 3, "user": "alice"}`,
		},
		{
			name: "nested objects",
			a:    `{"outer": {"y": 1, "x": 2}, "list": [1, 2, 3]}`,
			b:    `{"list": [1, 2, 3], "outer": {"x": 2, "y": 1}}`,
		},
		{
			name: "objects inside arrays",
			a:    `{"steps": [{"b": 2, "a": 1}, {"d": 4, "c": 3}]}`,
			b:    `{"steps": [{"a": 1, "b": 2}, {"c": 3, "d": 4}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := Fingerprint("data_processing", mustUnmarshal(t, tt.a))
			require.NoError(t, err)
			second, err := Fingerprint("data_processing", mustUnmarshal(t, tt.b))
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	base := map[string]interface{}{"user": "alice", "count": 3}
	key, err := Fingerprint("data_processing", base)
	require.NoError(t, err)

	otherValue, err := Fingerprint("data_processing", map[string]interface{}{"user": "alice", "count": 4})
	require.NoError(t, err)
	assert.NotEqual(t, key, otherValue)

	otherType, err := Fingerprint("analysis", base)
	require.NoError(t, err)
	assert.NotEqual(t, key, otherType)
}

func TestFingerprintStableAcrossCalls(t *testing.T) {
	input := mustUnmarshal(t, `{"payload": {"values": [1, 2, 3]}, "mode": "strict"}`)
	first, err := Fingerprint("transformation", input)
	require.NoError(t, err)
	second, err := Fingerprint("transformation", input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFingerprintArrayOrderMatters(t *testing.T) {
	first, err := Fingerprint("analysis", mustUnmarshal(t, `{"values": [1, 2, 3]}`))
	require.NoError(t, err)
	second, err := Fingerprint("analysis", mustUnmarshal(t, `{"values": [3, 2, 1]}`))
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "array order is content, not incidental serialization")
}

func TestCacheRoundTrip(t *testing.T) {
	c := New(NewMemoryStore())
	result := map[string]interface{}{"status": "ok", "rows": float64(42)}

	c.Put("result:test:abc", result, time.Minute)

	got, ok := c.Get("result:test:abc")
	require.True(t, ok)
	assert.Equal(t, result, got)
}

func TestCacheMissOnAbsentKey(t *testing.T) {
	c := New(NewMemoryStore())
	got, ok := c.Get("result:test:missing")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCacheExpiredEntryIsMiss(t *testing.T) {
	c := New(NewMemoryStore())
	c.Put("result:test:abc", map[string]interface{}{"status": "ok"}, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	_, ok := c.Get("result:test:abc")
	assert.False(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	c := New(NewMemoryStore())
	c.Put("result:test:abc", map[string]interface{}{"status": "ok"}, time.Minute)

	c.Invalidate("result:test:abc")

	_, ok := c.Get("result:test:abc")
	assert.False(t, ok)
}

// faultyStore fails every operation, standing in for an unreachable backend.
type faultyStore struct{}

func (faultyStore) Get(string) ([]byte, error)              { return nil, errors.New("disk on fire") }
func (faultyStore) Put(string, []byte, time.Duration) error { return errors.New("disk on fire") }
func (faultyStore) Delete(string) error                     { return errors.New("disk on fire") }

func TestCacheBackendFailureDegradesToMiss(t *testing.T) {
	c := New(faultyStore{})

	got, ok := c.Get("result:test:abc")
	assert.False(t, ok)
	assert.Nil(t, got)

	// Put and Invalidate must not panic or surface the backend error.
	c.Put("result:test:abc", map[string]interface{}{"status": "ok"}, time.Minute)
	c.Invalidate("result:test:abc")
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put("result:test:abc", []byte("not json"), time.Minute))

	c := New(store)
	_, ok := c.Get("result:test:abc")
	assert.False(t, ok)

	// The corrupt entry is dropped so later reads stay cheap.
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put("k", []byte(`{}`), 0))

	time.Sleep(20 * time.Millisecond)

	_, err := store.Get("k")
	assert.NoError(t, err)
}
