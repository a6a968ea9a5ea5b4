package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/betpilot/core"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}

func TestFilePersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "knowledge.json")
	p := NewFilePersister(path)

	loaded, err := p.Load(ctx)
	require.NoError(t, err, "missing file is not an error")
	assert.Empty(t, loaded)

	require.NoError(t, p.Save(ctx, "fb_withdraw_page", map[string]string{
		"amount_input":           "input[name=amount]",
		"withdraw_submit_button": "button.withdraw",
	}))
	require.NoError(t, p.Save(ctx, "fb_withdraw_page", map[string]string{
		"withdraw_submit_button": "button[type=submit]",
	}))
	require.NoError(t, p.Save(ctx, "fb_match_page", map[string]string{"tab": "#tab"}))

	loaded, err = p.Load(ctx)
	require.NoError(t, err)
	want := map[string]map[string]string{
		"fb_withdraw_page": {
			"amount_input":           "input[name=amount]",
			"withdraw_submit_button": "button[type=submit]",
		},
		"fb_match_page": {"tab": "#tab"},
	}
	if diff := cmp.Diff(want, loaded); diff != "" {
		t.Errorf("loaded mismatch (-want +got):\n%s", diff)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".knowledge-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are renamed away")
}

func TestFilePersisterCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))

	_, err := NewFilePersister(path).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLocalStore)
}

func TestRedisPersister(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	p := NewRedisPersisterWithClient(client, "test", nil)

	require.NoError(t, p.Save(ctx, "fb_match_page", map[string]string{"a": "#a", "b": "#b", "skip": ""}))
	require.NoError(t, p.Save(ctx, "fb_match_page", map[string]string{"b": "#b2"}))
	require.NoError(t, p.Save(ctx, "betslip", map[string]string{"open": ".slip"}))

	assert.Equal(t, "#b2", mr.HGet("test:locators:fb_match_page", "b"))
	assert.False(t, mr.Exists("test:locators:empty"))

	// unrelated keys are ignored by Load
	mr.Set("test:other", "x")

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	want := map[string]map[string]string{
		"fb_match_page": {"a": "#a", "b": "#b2"},
		"betslip":       {"open": ".slip"},
	}
	if diff := cmp.Diff(want, loaded); diff != "" {
		t.Errorf("loaded mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisPersisterConnectionFailure(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer client.Close()
	p := NewRedisPersisterWithClient(client, "test", nil)

	mr.Close()

	err := p.Save(context.Background(), "ctx", map[string]string{"a": "#a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConnectionFailed)
}

func TestNewRedisPersister(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	p, err := NewRedisPersister(RedisPersisterOptions{RedisURL: "redis://" + mr.Addr(), Namespace: "bp"})
	require.NoError(t, err)
	defer p.Close()

	_, err = NewRedisPersister(RedisPersisterOptions{})
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)

	_, err = NewRedisPersister(RedisPersisterOptions{RedisURL: "://bad"})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knowledge.json")
	p := NewFilePersister(path)
	require.NoError(t, p.Save(ctx, "ctx", map[string]string{"a": "#a", "b": "#b"}))

	store := NewMemory()
	store.Put("ctx", "c", "#c")
	n, err := Hydrate(ctx, store, p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok := store.Get("ctx", "a")
	assert.True(t, ok)
	assert.Equal(t, "#a", got)
	_, ok = store.Get("ctx", "c")
	assert.True(t, ok, "hydration merges")

	n, err = Hydrate(ctx, store, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
