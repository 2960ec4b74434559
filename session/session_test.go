package session

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/rpflow/seal"
	"github.com/stretchr/testify/assert"
	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testData struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// testCookies is an in-memory cookie jar: writes are visible to subsequent
// reads, the way a browser behaves across requests.
type testCookies struct {
	values  map[string]string
	maxAges map[string]int
}

func newTestCookies() *testCookies {
	return &testCookies{values: map[string]string{}, maxAges: map[string]int{}}
}

func (c *testCookies) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c *testCookies) Set(name, value string, maxAge int) {
	c.values[name] = value
	c.maxAges[name] = maxAge
}

func (c *testCookies) Delete(name string) {
	delete(c.values, name)
	delete(c.maxAges, name)
}

func testKey(t *testing.T) seal.Key {
	t.Helper()
	k, err := seal.NewKey("fido")
	require.NoError(t, err)
	return k
}

func testManager(t *testing.T, cookies Cookies, store Store, opt ...Option) *Manager[testData] {
	t.Helper()
	m, err := NewManager[testData](cookies, store, testKey(t), opt...)
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	t.Parallel()
	key := testKey(t)

	t.Run("missing-cookies", func(t *testing.T) {
		_, err := NewManager[testData](nil, NewMemStore(), key)
		require.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("missing-store", func(t *testing.T) {
		_, err := NewManager[testData](newTestCookies(), nil, key)
		require.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid-durations", func(t *testing.T) {
		_, err := NewManager[testData](newTestCookies(), NewMemStore(), key, WithAbsoluteDuration(-time.Hour))
		require.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestManager_Get_Anonymous(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	cookies := newTestCookies()
	store := NewMemStore()

	// first contact issues an anonymous session id
	m := testManager(t, cookies, store)
	data, err := m.Get(ctx, nil)
	require.NoError(err)
	assert.Nil(data)
	require.NotEmpty(m.ID())
	_, ok := cookies.Get(DefaultCookieName)
	require.True(ok)

	// the id is stable across requests
	m2 := testManager(t, cookies, store)
	data, err = m2.Get(ctx, nil)
	require.NoError(err)
	assert.Nil(data)
	assert.Equal(m.ID(), m2.ID())
}

func TestManager_UpdateAndGet(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	cookies := newTestCookies()
	store := NewMemStore()

	m := testManager(t, cookies, store)
	_, err := m.Get(ctx, nil)
	require.NoError(err)
	anonymousID := m.ID()

	require.NoError(m.Update(ctx, testData{Name: "alice", Count: 1}))
	assert.NotEqual(anonymousID, m.ID(), "login must rotate the session id")

	// a later request sees the data under the new id
	m2 := testManager(t, cookies, store)
	data, err := m2.Get(ctx, nil)
	require.NoError(err)
	require.NotNil(data)
	assert.Equal("alice", data.Name)
	assert.Equal(m.ID(), m2.ID())

	// update replaces, not merges
	require.NoError(m2.Update(ctx, testData{Name: "alice"}))
	m3 := testManager(t, cookies, store)
	data, err = m3.Get(ctx, nil)
	require.NoError(err)
	require.NotNil(data)
	assert.Zero(data.Count)
}

func TestManager_Update_DiscardsOldSlot(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	cookies := newTestCookies()
	store := NewMemStore()

	m := testManager(t, cookies, store)
	require.NoError(m.Update(ctx, testData{Name: "first"}))
	firstID := m.ID()
	require.NoError(m.Update(ctx, testData{Name: "second"}))

	// the old storage slot must be gone
	raw, err := store.Get(ctx, firstID)
	require.NoError(err)
	assert.Nil(raw)
}

func TestManager_Delete(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	cookies := newTestCookies()
	store := NewMemStore()

	m := testManager(t, cookies, store)
	require.NoError(m.Update(ctx, testData{Name: "alice"}))
	id := m.ID()

	require.NoError(m.Delete(ctx))
	assert.Empty(m.ID())
	_, ok := cookies.Get(DefaultCookieName)
	assert.False(ok)
	raw, err := store.Get(ctx, id)
	require.NoError(err)
	assert.Nil(raw)

	// the browser gets a brand-new anonymous session afterwards
	m2 := testManager(t, cookies, store)
	data, err := m2.Get(ctx, nil)
	require.NoError(err)
	assert.Nil(data)
	assert.NotEqual(id, m2.ID())
}

func TestManager_Get_InactivityExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	start := time.Now()

	newManagerAt := func(t *testing.T, cookies Cookies, store Store, at time.Time) *Manager[testData] {
		return testManager(t, cookies, store,
			WithInactivityDuration(time.Hour),
			WithAbsoluteDuration(24*time.Hour),
			WithNow(func() time.Time { return at }),
		)
	}

	t.Run("no-callback-deletes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cookies := newTestCookies()
		store := NewMemStore()
		m := newManagerAt(t, cookies, store, start)
		require.NoError(m.Update(ctx, testData{Name: "alice"}))
		id := m.ID()

		late := newManagerAt(t, cookies, store, start.Add(2*time.Hour))
		data, err := late.Get(ctx, nil)
		require.NoError(err)
		assert.Nil(data)
		raw, err := store.Get(ctx, id)
		require.NoError(err)
		assert.Nil(raw)
	})
	t.Run("callback-replaces", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cookies := newTestCookies()
		store := NewMemStore()
		m := newManagerAt(t, cookies, store, start)
		require.NoError(m.Update(ctx, testData{Name: "alice", Count: 1}))
		id := m.ID()

		late := newManagerAt(t, cookies, store, start.Add(2*time.Hour))
		data, err := late.Get(ctx, func(ctx context.Context, expired *testData) (*testData, error) {
			require.NotNil(expired)
			assert.Equal("alice", expired.Name)
			return &testData{Name: "alice", Count: expired.Count + 1}, nil
		})
		require.NoError(err)
		require.NotNil(data)
		assert.Equal(2, data.Count)
		assert.Equal(id, late.ID(), "replacement keeps the session id")

		// the rewritten session is live again
		after := newManagerAt(t, cookies, store, start.Add(2*time.Hour+time.Minute))
		data, err = after.Get(ctx, nil)
		require.NoError(err)
		require.NotNil(data)
		assert.Equal(2, data.Count)
	})
	t.Run("callback-nil-deletes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cookies := newTestCookies()
		store := NewMemStore()
		m := newManagerAt(t, cookies, store, start)
		require.NoError(m.Update(ctx, testData{Name: "alice"}))
		id := m.ID()

		late := newManagerAt(t, cookies, store, start.Add(2*time.Hour))
		data, err := late.Get(ctx, func(ctx context.Context, expired *testData) (*testData, error) {
			return nil, nil
		})
		require.NoError(err)
		assert.Nil(data)
		raw, err := store.Get(ctx, id)
		require.NoError(err)
		assert.Nil(raw)
	})
	t.Run("callback-error-deletes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cookies := newTestCookies()
		store := NewMemStore()
		m := newManagerAt(t, cookies, store, start)
		require.NoError(m.Update(ctx, testData{Name: "alice"}))
		id := m.ID()

		late := newManagerAt(t, cookies, store, start.Add(2*time.Hour))
		data, err := late.Get(ctx, func(ctx context.Context, expired *testData) (*testData, error) {
			return nil, tassert.AnError
		})
		require.Error(err)
		assert.Nil(data)
		raw, err := store.Get(ctx, id)
		require.NoError(err)
		assert.Nil(raw)
	})
	t.Run("valid-read-slides", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cookies := newTestCookies()
		store := NewMemStore()
		m := newManagerAt(t, cookies, store, start)
		require.NoError(m.Update(ctx, testData{Name: "alice"}))

		// read within the inactivity window, then again past the original
		// window but within the slid one
		mid := newManagerAt(t, cookies, store, start.Add(50*time.Minute))
		data, err := mid.Get(ctx, nil)
		require.NoError(err)
		require.NotNil(data)

		later := newManagerAt(t, cookies, store, start.Add(100*time.Minute))
		data, err = later.Get(ctx, nil)
		require.NoError(err)
		assert.NotNil(data)
	})
}

func TestManager_Get_AbsoluteExpiry(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	start := time.Now()
	cookies := newTestCookies()
	store := NewMemStore()

	opt := func(at time.Time) []Option {
		return []Option{
			WithInactivityDuration(time.Hour),
			WithAbsoluteDuration(2 * time.Hour),
			WithNow(func() time.Time { return at }),
		}
	}
	m := testManager(t, cookies, store, opt(start)...)
	require.NoError(m.Update(ctx, testData{Name: "alice"}))

	// reads keep sliding the inactivity window, but the absolute ceiling
	// doesn't move
	for _, offset := range []time.Duration{50 * time.Minute, 100 * time.Minute} {
		mid := testManager(t, cookies, store, opt(start.Add(offset))...)
		data, err := mid.Get(ctx, nil)
		require.NoError(err)
		require.NotNil(data)
	}
	late := testManager(t, cookies, store, opt(start.Add(121*time.Minute))...)
	data, err := late.Get(ctx, nil)
	require.NoError(err)
	assert.Nil(data)
}

func TestManager_CookieMaxAge(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	cookies := newTestCookies()

	m := testManager(t, cookies, NewMemStore(),
		WithInactivityDuration(time.Hour),
		WithAbsoluteDuration(10*time.Hour),
	)
	require.NoError(m.Update(ctx, testData{Name: "alice"}))
	assert.Equal(3600, cookies.maxAges[DefaultCookieName],
		"cookie lifetime must be the lesser of inactivity and remaining absolute time")
}

func TestManager_TamperedCookie(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	cookies := newTestCookies()
	store := NewMemStore()

	m := testManager(t, cookies, store)
	require.NoError(m.Update(ctx, testData{Name: "alice"}))
	id := m.ID()

	raw, ok := cookies.Get(DefaultCookieName)
	require.True(ok)
	cookies.Set(DefaultCookieName, raw+"x", 60)

	// a tampered cookie reads as no session and a fresh anonymous id
	m2 := testManager(t, cookies, store)
	data, err := m2.Get(ctx, nil)
	require.NoError(err)
	assert.Nil(data)
	assert.NotEqual(id, m2.ID())
}

func TestManager_CustomCookieName(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()
	cookies := newTestCookies()

	m := testManager(t, cookies, NewMemStore(), WithCookieName("app_session"))
	_, err := m.Get(ctx, nil)
	require.NoError(err)
	_, ok := cookies.Get("app_session")
	require.True(ok)
	_, ok = cookies.Get(DefaultCookieName)
	require.False(ok)
}
