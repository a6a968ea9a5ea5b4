package postgrest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/betpilot/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(core.RemoteConfig{URL: srv.URL + "/", APIKey: "service-key", Schema: "public", Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

func TestFetchMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/predictions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "fixture_id,last_updated", q.Get("select"))
		assert.Equal(t, "fixture_id.asc", q.Get("order"))
		assert.Equal(t, "1000", q.Get("offset"))
		assert.Equal(t, "1000", q.Get("limit"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "public", r.Header.Get("Accept-Profile"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"fixture_id": 1234567890123, "last_updated": "2024-02-12T10:00:00+00:00"}, {"fixture_id": "abc", "last_updated": null}]`)
	})

	rows, err := c.FetchMetadata(context.Background(), "predictions", []string{"fixture_id"}, "last_updated", 1000, 1000)

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, json.Number("1234567890123"), rows[0]["fixture_id"])
	assert.Nil(t, rows[1]["last_updated"])
}

func TestFetchRowsSingleKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "*", q.Get("select"))
		assert.Equal(t, `in.("1","a\"b")`, q.Get("team_id"))
		_, _ = io.WriteString(w, `[{"team_id": "1", "name": "Arsenal"}]`)
	})

	rows, err := c.FetchRows(context.Background(), "teams", []string{"team_id"}, [][]string{{"1"}, {`a"b`}})

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Arsenal", rows[0]["name"])
}

func TestFetchRowsCompositeKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `(and(league.eq."EPL",season.eq."2024"),and(league.eq."LL",season.eq."2025"))`, r.URL.Query().Get("or"))
		_, _ = io.WriteString(w, `[]`)
	})

	rows, err := c.FetchRows(context.Background(), "standings", []string{"league", "season"}, [][]string{{"EPL", "2024"}, {"LL", "2025"}})

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchRowsNoKeysSkipsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	rows, err := c.FetchRows(context.Background(), "teams", []string{"team_id"}, nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestUpsert(t *testing.T) {
	var got []map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/predictions", r.URL.Path)
		assert.Equal(t, "fixture_id", r.URL.Query().Get("on_conflict"))
		assert.Equal(t, "fixture_id,home,last_updated", r.URL.Query().Get("columns"))
		assert.Equal(t, "resolution=merge-duplicates,missing=default,return=minimal", r.Header.Get("Prefer"))
		assert.Equal(t, "public", r.Header.Get("Content-Profile"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Upsert(context.Background(), "predictions", []string{"fixture_id"}, []map[string]interface{}{
		{"fixture_id": "1", "home": nil, "last_updated": "2024-01-01T00:00:00"},
		{"fixture_id": "2", "last_updated": "2024-01-02T00:00:00"},
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0]["home"])
	assert.Equal(t, "2", got[1]["fixture_id"])
}

// A batch where only some rows carry an id must let the database assign
// the others instead of writing NULL.
func TestUpsertMixedIdentityUsesColumnDefaults(t *testing.T) {
	var (
		got    []map[string]interface{}
		prefer string
		cols   string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		prefer = r.Header.Get("Prefer")
		cols = r.URL.Query().Get("columns")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Upsert(context.Background(), "predictions", []string{"fixture_id"}, []map[string]interface{}{
		{"fixture_id": "1", "id": "7", "last_updated": "2024-01-01T00:00:00"},
		{"fixture_id": "2", "last_updated": "2024-01-02T00:00:00"},
	})

	require.NoError(t, err)
	assert.Equal(t, "fixture_id,id,last_updated", cols)
	assert.Contains(t, strings.Split(prefer, ","), "missing=default")
	require.Len(t, got, 2)
	assert.NotContains(t, got[1], "id")
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      error
		retryable bool
		contains  string
	}{
		{"service unavailable", http.StatusServiceUnavailable, "upstream down", core.ErrConnectionFailed, true, "503"},
		{"rate limited", http.StatusTooManyRequests, "", core.ErrConnectionFailed, true, "429"},
		{"constraint violation", http.StatusConflict, `{"code":"23505","message":"duplicate key value","details":"Key (id)=(1) already exists."}`, core.ErrRequestFailed, false, "23505: duplicate key value"},
		{"bad filter", http.StatusBadRequest, `{"message":"column x does not exist"}`, core.ErrRequestFailed, false, "column x does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.FetchMetadata(context.Background(), "teams", []string{"team_id"}, "last_updated", 0, 10)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, core.IsRetryable(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := NewClient(core.RemoteConfig{URL: srv.URL, APIKey: "k", Timeout: time.Second}, nil)
	require.NoError(t, err)
	srv.Close()

	err = c.Upsert(context.Background(), "teams", []string{"team_id"}, []map[string]interface{}{{"team_id": "1"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConnectionFailed)
	assert.True(t, core.IsRetryable(err))
}

func TestUpsertEmptyBatchSkipsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	assert.NoError(t, c.Upsert(context.Background(), "teams", []string{"team_id"}, nil))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(core.RemoteConfig{URL: "https://proj.supabase.co"}, nil)
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"plain"`, quote("plain"))
	assert.Equal(t, `"a,b"`, quote("a,b"))
	assert.Equal(t, `"back\\slash \"q\""`, quote(`back\slash "q"`))
}
