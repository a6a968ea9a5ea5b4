package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/knowledge"
)

type fakeSnapshotter struct {
	page *PageSnapshot
	err  error
}

func (f *fakeSnapshotter) Snapshot(context.Context) (*PageSnapshot, error) {
	return f.page, f.err
}

type failingPersister struct{ calls int }

func (f *failingPersister) Load(context.Context) (map[string]map[string]string, error) {
	return nil, nil
}

func (f *failingPersister) Save(context.Context, string, map[string]string) error {
	f.calls++
	return errors.New("disk full")
}

func TestAdapterMergesIntoStore(t *testing.T) {
	store := knowledge.NewMemory()
	store.Put("fb_match_page", "keep_me", "#keep")

	oracle := NewStaticOracle(map[string]map[string]string{
		"fb_match_page": {"submit_button": "button.submit"},
	})
	a := NewAdapter(oracle, store)

	require.NoError(t, a.Discover(context.Background(), "fb_match_page", "missing:submit_button", true))

	got, ok := store.Get("fb_match_page", "submit_button")
	assert.True(t, ok)
	assert.Equal(t, "button.submit", got)
	_, ok = store.Get("fb_match_page", "keep_me")
	assert.True(t, ok, "discovery is additive")

	reqs := oracle.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "missing:submit_button", reqs[0].Hint)
	assert.True(t, reqs[0].ForceRefresh)
	assert.Nil(t, reqs[0].Page)
}

func TestAdapterWrapsOracleFailure(t *testing.T) {
	oracle := NewStaticOracle(nil)
	oracle.Err = errors.New("vision model timeout")
	a := NewAdapter(oracle, knowledge.NewMemory())

	err := a.Discover(context.Background(), "ctx", "hint", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDiscoveryFailed)
	assert.Contains(t, err.Error(), "vision model timeout")
	assert.Equal(t, 1, oracle.Calls(), "no internal retry")
}

func TestAdapterPersistsAndAttachesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	oracle := NewStaticOracle(map[string]map[string]string{"ctx": {"a": "#a"}})

	a := NewAdapter(oracle, knowledge.NewMemory())
	a.Persister = knowledge.NewFilePersister(path)
	a.Snapshotter = &fakeSnapshotter{page: &PageSnapshot{URL: "https://example.test/withdraw", Title: "Withdraw"}}

	require.NoError(t, a.Discover(context.Background(), "ctx", "hint", false))

	reqs := oracle.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Page)
	assert.Equal(t, "Withdraw", reqs[0].Page.Title)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a": "#a"`)
}

func TestAdapterToleratesSnapshotAndPersistFailures(t *testing.T) {
	oracle := NewStaticOracle(map[string]map[string]string{"ctx": {"a": "#a"}})
	persister := &failingPersister{}

	a := NewAdapter(oracle, knowledge.NewMemory())
	a.Persister = persister
	a.Snapshotter = &fakeSnapshotter{err: errors.New("page closed")}

	require.NoError(t, a.Discover(context.Background(), "ctx", "hint", true))
	assert.Equal(t, 1, persister.calls)
	assert.Nil(t, oracle.Requests()[0].Page)
}

func TestAdapterCanceledContext(t *testing.T) {
	oracle := NewStaticOracle(map[string]map[string]string{"ctx": {"a": "#a"}})
	store := knowledge.NewMemory()
	a := NewAdapter(oracle, store)
	a.Timeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Discover(ctx, "ctx", "hint", true)
	assert.ErrorIs(t, err, core.ErrDiscoveryFailed)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := store.Get("ctx", "a")
	assert.False(t, ok, "failed discovery leaves the store untouched")
}

func TestHTTPOracle(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/discover", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"selectors": map[string]string{"amount_input": "input#amount"},
		})
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL+"/", 5*time.Second, nil)
	mapping, err := oracle.Discover(context.Background(), Request{Context: "fb_withdraw_page", Hint: "missing:amount_input", ForceRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"amount_input": "input#amount"}, mapping)
	assert.Equal(t, "fb_withdraw_page", got.Context)
	assert.True(t, got.ForceRefresh)
}

func TestHTTPOracleErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPOracle(srv.URL, time.Second, nil).Discover(context.Background(), Request{Context: "ctx"})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrRequestFailed)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":"unknown context"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPOracle(srv.URL, time.Second, nil).Discover(context.Background(), Request{Context: "ctx"})
		assert.ErrorIs(t, err, core.ErrRequestFailed)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewHTTPOracle(url, time.Second, nil).Discover(context.Background(), Request{Context: "ctx"})
		assert.ErrorIs(t, err, core.ErrConnectionFailed)
	})
}

func TestLoadStaticOracle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ctx":{"a":"#a"}}`), 0o644))

	oracle, err := LoadStaticOracle(path)
	require.NoError(t, err)
	mapping, err := oracle.Discover(context.Background(), Request{Context: "ctx"})
	require.NoError(t, err)
	assert.Equal(t, "#a", mapping["a"])

	mapping, err = oracle.Discover(context.Background(), Request{Context: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, mapping)
}
