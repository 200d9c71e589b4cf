package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAndScoped(t *testing.T) {
	type params struct {
		Query string   `json:"query"`
		Lists []string `json:"lists"`
	}
	a, err := Key("senders", params{Query: "from:x", Lists: []string{"a", "b"}})
	require.NoError(t, err)
	b, err := Key("senders", params{Query: "from:x", Lists: []string{"a", "b"}})
	require.NoError(t, err)
	c, err := Key("suggestions", params{Query: "from:x", Lists: []string{"a", "b"}})
	require.NoError(t, err)
	d, err := Key("senders", params{Query: "from:y", Lists: []string{"a", "b"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, "mailsweep:senders:"))
	assert.Len(t, strings.TrimPrefix(a, "mailsweep:senders:"), 64)
}

func TestLRUStorePerEntryTTL(t *testing.T) {
	s := NewLRUStore(8, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "long", []byte("2"), 30*time.Minute))

	now = now.Add(2 * time.Minute)
	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)
	v, err := s.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, s.Delete(ctx, "long"))
	_, err = s.Get(ctx, "long")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoComputesOncePerKey(t *testing.T) {
	m := NewMemo(NewLRUStore(16, time.Hour), nil)
	var calls atomic.Int32
	compute := func(ctx context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return map[string]int{"count": 42}, nil
	}

	const n = 16
	results := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := m.Do(context.Background(), "mailsweep:suggestions:abc", time.Minute, compute)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 1; i < n; i++ {
		assert.Equal(t, results[0], results[i])
	}

	m.Invalidate(context.Background(), "mailsweep:suggestions:abc")
	_, err := m.Do(context.Background(), "mailsweep:suggestions:abc", time.Minute, compute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestInvalidateRetiresKeysOfEveryMemoOnTheStore(t *testing.T) {
	ctx := context.Background()
	shared := NewLRUStore(16, time.Hour)
	a, b := NewMemo(shared, nil), NewMemo(shared, nil)

	var calls int
	compute := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}
	params := map[string]string{"query": "from:x"}

	key, err := a.Key(ctx, "senders", params)
	require.NoError(t, err)
	_, err = a.Do(ctx, key, time.Minute, compute)
	require.NoError(t, err)
	again, err := a.Key(ctx, "senders", params)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	// b never computed the key, yet its invalidation reaches a
	b.Invalidate(ctx)
	fresh, err := a.Key(ctx, "senders", params)
	require.NoError(t, err)
	assert.NotEqual(t, key, fresh)
	out, err := a.Do(ctx, fresh, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "2", string(out))
	assert.Equal(t, 2, calls)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.Join(ErrUnavailable, errors.New("dial tcp: refused"))
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.Join(ErrUnavailable, errors.New("dial tcp: refused"))
}
func (brokenStore) Delete(context.Context, ...string) error { return ErrUnavailable }

func TestMemoDegradesWhenStoreUnavailable(t *testing.T) {
	m := NewMemo(brokenStore{}, nil)
	var calls int
	for i := 0; i < 3; i++ {
		var out struct{ V int }
		_, err := m.DoInto(context.Background(), "mailsweep:senders:x", time.Minute, &out, func(context.Context) (any, error) {
			calls++
			return struct{ V int }{V: 7}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, out.V)
	}
	assert.Equal(t, 3, calls)
}

func TestMemoPropagatesComputeError(t *testing.T) {
	m := NewMemo(NewLRUStore(4, time.Hour), nil)
	boom := errors.New("boom")
	_, err := m.Do(context.Background(), "mailsweep:senders:y", time.Minute, func(context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}
