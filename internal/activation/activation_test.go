package activation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mirrors the conditional-write semantics of the Scylla store.
type memStore struct {
	mu    sync.Mutex
	codes map[string]*Code
}

func newMemStore() *memStore {
	return &memStore{codes: map[string]*Code{}}
}

func (s *memStore) snapshot(c *Code) *Code {
	cp := *c
	cp.Devices = append([]Device(nil), c.Devices...)
	return &cp
}

func (s *memStore) GetByCode(_ context.Context, code string) (*Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return s.snapshot(c), nil
}

func (s *memStore) GetByDevice(_ context.Context, deviceID string) (*Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		for _, d := range c.Devices {
			if d.DeviceID == deviceID {
				return s.snapshot(c), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) Insert(_ context.Context, c *Code) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.codes[c.Code]; exists {
		return false, nil
	}
	s.codes[c.Code] = s.snapshot(c)
	return true, nil
}

func (s *memStore) AppendDevice(_ context.Context, code string, d Device, expectedCount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return false, ErrNotFound
	}
	if len(c.Devices) != expectedCount {
		return false, nil
	}
	c.Devices = append(c.Devices, d)
	return true, nil
}

func (s *memStore) Update(_ context.Context, code string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return ErrNotFound
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
	if u.MaxDevices != nil {
		c.MaxDevices = *u.MaxDevices
	}
	if u.ClearExpiry {
		c.ExpiresAt = nil
	} else if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		c.ExpiresAt = &t
	}
	if u.Notes != nil {
		c.Notes = *u.Notes
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; !ok {
		return ErrNotFound
	}
	delete(s.codes, code)
	return nil
}

func (s *memStore) List(_ context.Context) ([]Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Code
	for _, c := range s.codes {
		out = append(out, *s.snapshot(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func seed(t *testing.T, r *Registry, code string, maxDevices int, expiresAt *time.Time) *Code {
	t.Helper()
	c, err := r.Create(context.Background(), code, maxDevices, expiresAt, "")
	require.NoError(t, err)
	return c
}

func TestVerifyActivatesDevice(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "ABCD-1234", 2, nil)

	res, err := r.Verify(context.Background(), "abcd-1234", "dev-1", "Living Room TV")
	require.NoError(t, err)
	assert.False(t, res.AlreadyActivated)
	assert.False(t, res.ActivatedAt.IsZero())

	c, err := r.Get(context.Background(), "ABCD-1234")
	require.NoError(t, err)
	require.Len(t, c.Devices, 1)
	assert.Equal(t, "Living Room TV", c.Devices[0].DeviceName)
}

func TestVerifyCanonicalizesCode(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "ABCD-1234", 1, nil)

	_, err := r.Verify(context.Background(), "  abcd-1234  ", "dev-1", "")
	require.NoError(t, err)

	c, err := r.Get(context.Background(), "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, defaultDeviceName, c.Devices[0].DeviceName)
}

func TestVerifyNotFound(t *testing.T) {
	r := NewRegistry(newMemStore())
	_, err := r.Verify(context.Background(), "NOPE-0000", "dev-1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyDeviceLimit(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "ABCD-1234", 1, nil)

	first, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "A")
	require.NoError(t, err)

	_, err = r.Verify(context.Background(), "ABCD-1234", "dev-b", "B")
	assert.ErrorIs(t, err, ErrDeviceLimitReached)

	// Re-activation of the bound device still succeeds, without a new entry.
	again, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "A")
	require.NoError(t, err)
	assert.True(t, again.AlreadyActivated)
	assert.Equal(t, first.ActivatedAt, again.ActivatedAt)

	c, err := r.Get(context.Background(), "ABCD-1234")
	require.NoError(t, err)
	assert.Len(t, c.Devices, 1)
}

func TestVerifyRaisedLimitReopensCode(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "ABCD-1234", 1, nil)
	_, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "")
	require.NoError(t, err)
	_, err = r.Verify(context.Background(), "ABCD-1234", "dev-b", "")
	require.ErrorIs(t, err, ErrDeviceLimitReached)

	max := 2
	_, err = r.Update(context.Background(), "ABCD-1234", Update{MaxDevices: &max})
	require.NoError(t, err)

	_, err = r.Verify(context.Background(), "ABCD-1234", "dev-b", "")
	assert.NoError(t, err)
}

func TestVerifyDeactivated(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "ABCD-1234", 5, nil)
	_, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "")
	require.NoError(t, err)

	off := false
	_, err = r.Update(context.Background(), "ABCD-1234", Update{IsActive: &off})
	require.NoError(t, err)

	_, err = r.Verify(context.Background(), "ABCD-1234", "dev-b", "")
	assert.ErrorIs(t, err, ErrDeactivated)

	// Deactivation keeps the device list; the bound device re-activates
	// idempotently even while the code is off.
	res, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyActivated)

	c, err := r.Get(context.Background(), "ABCD-1234")
	require.NoError(t, err)
	assert.Len(t, c.Devices, 1)
}

func TestVerifyExpiredCode(t *testing.T) {
	r := NewRegistry(newMemStore())
	past := time.Now().Add(-time.Hour)
	seed(t, r, "ABCD-1234", 5, &past)

	_, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyConcurrentAppendsRespectLimit(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "ABCD-1234", 3, nil)

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = r.Verify(context.Background(), "ABCD-1234", "dev-"+string(rune('a'+i)), "")
		}(i)
	}
	wg.Wait()

	c, err := r.Get(context.Background(), "ABCD-1234")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(c.Devices), 3)

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, len(c.Devices), ok)
}

func TestStatus(t *testing.T) {
	r := NewRegistry(newMemStore())
	future := time.Now().Add(time.Hour)
	seed(t, r, "ABCD-1234", 2, &future)
	_, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "")
	require.NoError(t, err)

	st, err := r.Status(context.Background(), "dev-a")
	require.NoError(t, err)
	assert.True(t, st.Activated)
	require.NotNil(t, st.ExpiresAt)
	assert.WithinDuration(t, future, *st.ExpiresAt, time.Second)

	st, err = r.Status(context.Background(), "dev-unknown")
	require.NoError(t, err)
	assert.False(t, st.Activated)
	assert.False(t, st.Expired)

	past := time.Now().Add(-time.Minute)
	_, err = r.Update(context.Background(), "ABCD-1234", Update{ExpiresAt: &past})
	require.NoError(t, err)

	st, err = r.Status(context.Background(), "dev-a")
	require.NoError(t, err)
	assert.False(t, st.Activated)
	assert.True(t, st.Expired)
}

func TestCreateCustomCodeCollision(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "my-code", 1, nil)

	c, err := r.Get(context.Background(), "MY-CODE")
	require.NoError(t, err)
	assert.Equal(t, "MY-CODE", c.Code)

	_, err = r.Create(context.Background(), "My-Code", 1, nil, "")
	assert.ErrorIs(t, err, ErrCodeCollision)
}

func TestCreateRandomCodeFormat(t *testing.T) {
	r := NewRegistry(newMemStore())
	c, err := r.Create(context.Background(), "", 0, nil, "note")
	require.NoError(t, err)

	require.Len(t, c.Code, 9)
	assert.Equal(t, byte('-'), c.Code[4])
	for _, ch := range strings.ReplaceAll(c.Code, "-", "") {
		assert.Contains(t, codeAlphabet, string(ch))
	}
	assert.Equal(t, 1, c.MaxDevices)
	assert.True(t, c.IsActive)
}

func TestGeneratedCodesUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestClearExpiryReopensExpiredCode(t *testing.T) {
	r := NewRegistry(newMemStore())
	past := time.Now().Add(-time.Hour)
	seed(t, r, "ABCD-1234", 1, &past)

	_, err := r.Verify(context.Background(), "ABCD-1234", "dev-a", "")
	require.ErrorIs(t, err, ErrExpired)

	_, err = r.Update(context.Background(), "ABCD-1234", Update{ClearExpiry: true})
	require.NoError(t, err)

	_, err = r.Verify(context.Background(), "ABCD-1234", "dev-a", "")
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	r := NewRegistry(newMemStore())
	seed(t, r, "ABCD-1234", 1, nil)
	require.NoError(t, r.Delete(context.Background(), "abcd-1234"))
	_, err := r.Get(context.Background(), "ABCD-1234")
	assert.ErrorIs(t, err, ErrNotFound)
}
