package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/betpilot/core"
)

// isolate clears the variables a developer shell might carry.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SUPABASE_URL", "SUPABASE_KEY", "BETPILOT_REMOTE_URL", "BETPILOT_REMOTE_KEY",
		"BETPILOT_SYNC_SCHEDULE", "BETPILOT_COLLECTIONS_FILE", "BETPILOT_WITHDRAW_PIN",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("BETPILOT_LOG_LEVEL", "error")
	t.Setenv("BETPILOT_LOG_OUTPUT", "stderr")
	t.Setenv("BETPILOT_KNOWLEDGE_PROVIDER", "memory")
	t.Setenv("BETPILOT_LOCAL_PROVIDER", "csv")
}

func execute(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncWithoutRemoteIsNoop(t *testing.T) {
	isolate(t)

	out, err := execute("sync")

	require.NoError(t, err)
	assert.Contains(t, out, "remote store not configured")
}

// fakePostgREST serves one "teams" row; every other table is empty.
type fakePostgREST struct {
	mu       sync.Mutex
	upserted []map[string]interface{}
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/rest/v1/") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path != "/rest/v1/teams" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, `[]`)
	case r.Method == http.MethodPost:
		var rows []map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.upserted = append(f.upserted, rows...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	case r.URL.Query().Get("select") == "*":
		_, _ = io.WriteString(w, `[{"team_id": "1", "name": "Arsenal FC", "last_updated": "2024-01-02T00:00:00"}]`)
	case r.URL.Query().Get("offset") == "0":
		_, _ = io.WriteString(w, `[{"team_id": "1", "last_updated": "2024-01-02T00:00:00"}]`)
	default:
		_, _ = io.WriteString(w, `[]`)
	}
}

func TestSyncPushesAndPulls(t *testing.T) {
	isolate(t)
	remote := &fakePostgREST{}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "teams.csv"), []byte(
		"team_id,name,last_updated\n"+
			"1,Arsenal,2024-01-01T00:00:00\n"+
			"2,Chelsea,2024-01-03T00:00:00\n"), 0o644))

	t.Setenv("SUPABASE_URL", srv.URL)
	t.Setenv("SUPABASE_KEY", "service-key")
	t.Setenv("BETPILOT_DATA_DIR", dir)

	out, err := execute("sync", "teams")

	require.NoError(t, err)
	assert.Contains(t, out, "push=1 pull=1 unchanged=0 dropped=0 ok")

	require.Len(t, remote.upserted, 1)
	assert.Equal(t, "2", remote.upserted[0]["team_id"])
	assert.Equal(t, "Chelsea", remote.upserted[0]["name"])

	data, err := os.ReadFile(filepath.Join(dir, "teams.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "1,Arsenal FC,2024-01-02T00:00:00")
	assert.Contains(t, string(data), "2,Chelsea,2024-01-03T00:00:00")
}

func TestSyncSkipsMissingLocalSnapshot(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(&fakePostgREST{})
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "teams.csv"), []byte(
		"team_id,name,last_updated\n"+
			"1,Arsenal,2024-01-01T00:00:00\n"), 0o644))

	t.Setenv("SUPABASE_URL", srv.URL)
	t.Setenv("SUPABASE_KEY", "service-key")
	t.Setenv("BETPILOT_DATA_DIR", dir)

	out, err := execute("sync", "teams", "schedules")

	require.NoError(t, err)
	assert.Contains(t, out, "skipped: no local snapshot")
	assert.NotContains(t, out, "FAILED")
}

func TestSyncUnknownCollection(t *testing.T) {
	isolate(t)
	t.Setenv("SUPABASE_URL", "http://127.0.0.1:1")
	t.Setenv("SUPABASE_KEY", "k")
	t.Setenv("BETPILOT_DATA_DIR", t.TempDir())

	_, err := execute("sync", "bookmakers")

	assert.ErrorIs(t, err, core.ErrCollectionNotFound)
}

func TestSyncReportsFailedCollections(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer srv.Close()
	t.Setenv("SUPABASE_URL", srv.URL)
	t.Setenv("SUPABASE_KEY", "k")
	t.Setenv("BETPILOT_DATA_DIR", t.TempDir())

	out, err := execute("sync", "teams")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 collection(s) failed")
	assert.Contains(t, out, "FAILED")
}

func TestRunScheduled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	var passes atomic.Int32
	var out bytes.Buffer
	err := runScheduled(ctx, &out, &core.NoOpLogger{}, "* * * * * *", func(context.Context) {
		passes.Add(1)
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, passes.Load(), int32(1))
	assert.Contains(t, out.String(), "sync scheduled")
}

func TestRunScheduledRejectsBadSchedule(t *testing.T) {
	err := runScheduled(context.Background(), io.Discard, &core.NoOpLogger{}, "every day", func(context.Context) {})

	assert.True(t, core.IsConfigurationError(err))
}

func TestLocatorsSetAndList(t *testing.T) {
	isolate(t)
	t.Setenv("BETPILOT_KNOWLEDGE_PROVIDER", "file")
	t.Setenv("BETPILOT_KNOWLEDGE_FILE", filepath.Join(t.TempDir(), "knowledge.json"))

	out, err := execute("locators", "set", "fb_withdraw_page", "amount_input", "input[name=amount]")
	require.NoError(t, err)
	assert.Equal(t, "fb_withdraw_page.amount_input = input[name=amount]\n", out)

	_, err = execute("locators", "set", "fb_main_page", "navbar_balance", ".balance")
	require.NoError(t, err)

	out, err = execute("locators", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "CONTEXT")
	assert.Contains(t, out, "fb_main_page")
	assert.Contains(t, out, "input[name=amount]")

	out, err = execute("locators", "list", "fb_main_page")
	require.NoError(t, err)
	assert.Contains(t, out, ".balance")
	assert.NotContains(t, out, "amount_input")
}

func TestLocatorsNeedPersistentProvider(t *testing.T) {
	isolate(t)

	_, err := execute("locators", "list")

	assert.True(t, core.IsConfigurationError(err))
}

func TestEnvFileIsLoaded(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	knowledgeFile := filepath.Join(dir, "knowledge.json")
	require.NoError(t, os.WriteFile(knowledgeFile, []byte(`{"fb_main_page": {"navbar_balance": ".balance"}}`), 0o644))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("BETPILOT_KNOWLEDGE_FILE="+knowledgeFile+"\n"), 0o644))

	t.Setenv("BETPILOT_KNOWLEDGE_PROVIDER", "file")
	t.Setenv("BETPILOT_KNOWLEDGE_FILE", "")
	require.NoError(t, os.Unsetenv("BETPILOT_KNOWLEDGE_FILE"))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", envFile, "locators", "list"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), ".balance")
}

func TestActValidatesAction(t *testing.T) {
	isolate(t)

	_, err := execute("act", "--url", "https://example.com", "--context", "c", "--element", "e", "--action", "hover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid action")

	_, err = execute("act", "--url", "https://example.com", "--context", "c", "--element", "e", "--action", "fill")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--value")

	_, err = execute("act", "--context", "c", "--element", "e")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestWithdrawRequiresPin(t *testing.T) {
	isolate(t)

	_, err := execute("withdraw", "--url", "https://example.com/withdraw")

	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
}
