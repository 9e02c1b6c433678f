// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// fakeOpenRouter answers chat completions with a fixed SSE stream and
// generation lookups with a fixed cost.
type fakeOpenRouter struct {
	chatCalls atomic.Int32
	costCalls atomic.Int32
	status    int
}

func (f *fakeOpenRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/chat/completions":
		f.chatCalls.Add(1)
		io.Copy(io.Discard, r.Body)
		if f.status != 0 {
			w.WriteHeader(f.status)
			io.WriteString(w, `{"error":{"message":"upstream failure"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"id\":\"gen-7\",\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		io.WriteString(w, "data: {\"id\":\"gen-7\",\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	case "/generation":
		f.costCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":{"id":"gen-7","total_cost":0.0021}}`)
	case "/models":
		io.WriteString(w, `{"data":[
			{"id":"a/free-one:free","name":"Free One","context_length":8192,"pricing":{"prompt":"0","completion":"0"}},
			{"id":"b/paid","name":"Paid","context_length":128000,"pricing":{"prompt":"0.000003","completion":"0.000015"}}
		]}`)
	default:
		http.NotFound(w, r)
	}
}

type cliEnv struct {
	dir    string
	cfg    string
	db     string
	server *httptest.Server
	api    *fakeOpenRouter
}

// newCLIEnv isolates config, database and environment for one test.
func newCLIEnv(t *testing.T, withKey bool) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("NO_COLOR", "1")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("RIGCHAT_MODEL", "")
	t.Setenv("RIGCHAT_INCLUDE_HISTORY", "")
	t.Setenv("RIGCHAT_LOG_LEVEL", "")

	api := &fakeOpenRouter{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	t.Setenv("RIGCHAT_BASE_URL", server.URL)
	if withKey {
		t.Setenv("RIGCHAT_OPENROUTER_KEY", "sk-or-test")
	} else {
		t.Setenv("RIGCHAT_OPENROUTER_KEY", "")
	}

	return &cliEnv{
		dir:    dir,
		cfg:    filepath.Join(dir, "config.toml"),
		db:     filepath.Join(dir, "sessions.db"),
		server: server,
		api:    api,
	}
}

// run executes the root command and returns stdout and stderr.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", e.cfg, "--db", e.db}, args...))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_StreamsAndReportsCost(t *testing.T) {
	env := newCLIEnv(t, true)

	out, errOut, err := env.run(t, "", "ask", "Say hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello world\n", out)
	assert.Contains(t, errOut, "cost: $0.0021")
	assert.Contains(t, errOut, "gen-7")
	assert.Equal(t, int32(1), env.api.chatCalls.Load())

	// The exchange and its cost are persisted.
	out, _, err = env.run(t, "", "sessions", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Say hello")
	assert.Contains(t, out, "Hello world")
	assert.Contains(t, out, "cost: $0.0021")
}

func TestAsk_ReadsPromptFromStdin(t *testing.T) {
	env := newCLIEnv(t, true)

	out, _, err := env.run(t, "  piped question \n", "ask")
	require.NoError(t, err)
	assert.Equal(t, "Hello world\n", out)

	out, _, err = env.run(t, "", "sessions", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "piped question")
}

func TestAsk_RejectsOversizedStdin(t *testing.T) {
	env := newCLIEnv(t, true)

	_, _, err := env.run(t, strings.Repeat("x", maxPromptBytes+1), "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "larger than")
	assert.Equal(t, int32(0), env.api.chatCalls.Load())

	out, _, err := env.run(t, strings.Repeat("y", maxPromptBytes), "ask")
	require.NoError(t, err)
	assert.Equal(t, "Hello world\n", out)
}

func TestAsk_NoQuestion(t *testing.T) {
	env := newCLIEnv(t, true)

	_, _, err := env.run(t, "", "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no question given")
	assert.Equal(t, int32(0), env.api.chatCalls.Load())
}

func TestAsk_NotConfigured(t *testing.T) {
	env := newCLIEnv(t, false)

	_, _, err := env.run(t, "", "ask", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is not configured")
	assert.Equal(t, int32(0), env.api.chatCalls.Load())
}

func TestAsk_StatusError(t *testing.T) {
	env := newCLIEnv(t, true)
	env.api.status = http.StatusInternalServerError

	_, _, err := env.run(t, "", "ask", "hello")
	require.Error(t, err)
	assert.Equal(t, int32(0), env.api.costCalls.Load())
}

func TestAsk_NewSessionByID(t *testing.T) {
	env := newCLIEnv(t, true)

	_, _, err := env.run(t, "", "ask", "--session", "scratch", "hi")
	require.NoError(t, err)

	out, _, err := env.run(t, "", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "scratch")
	assert.Contains(t, out, "Total: 2 session(s)")
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessions_Lifecycle(t *testing.T) {
	env := newCLIEnv(t, false)

	out, _, err := env.run(t, "", "sessions", "new", "Research", "notes")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)
	id := fields[0]
	assert.Contains(t, out, "Research notes")

	out, _, err = env.run(t, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "Research notes")
	assert.Contains(t, out, "Total: 2 session(s)")
	// New sessions become current.
	assert.Contains(t, out, "* 1")

	_, _, err = env.run(t, "", "sessions", "rename", id[:13], "Renamed")
	require.NoError(t, err)

	_, _, err = env.run(t, "", "sessions", "switch", session.DefaultSessionID)
	require.NoError(t, err)

	out, _, err = env.run(t, "", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Renamed")
	assert.Contains(t, out, "* 2")

	out, _, err = env.run(t, "", "sessions", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted "+id)

	out, _, err = env.run(t, "", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 1 session(s)")
}

func TestSessions_DeleteDefaultFails(t *testing.T) {
	env := newCLIEnv(t, false)

	_, _, err := env.run(t, "", "sessions", "delete", session.DefaultSessionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be deleted")
}

func TestSessions_UnknownRef(t *testing.T) {
	env := newCLIEnv(t, false)

	_, _, err := env.run(t, "", "sessions", "switch", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestSessions_Export(t *testing.T) {
	env := newCLIEnv(t, true)
	_, _, err := env.run(t, "", "ask", "export me")
	require.NoError(t, err)

	outDir := filepath.Join(env.dir, "exports")
	out, _, err := env.run(t, "", "sessions", "export", "--format", "json", "--out", outDir)
	require.NoError(t, err)

	path := strings.TrimSpace(out)
	assert.Equal(t, outDir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "export me")
	assert.Contains(t, string(data), "gen-7")
}

// =============================================================================
// CONFIG / MODELS / VERSION
// =============================================================================

func TestConfig_SetGet(t *testing.T) {
	env := newCLIEnv(t, false)

	out, _, err := env.run(t, "", "config", "set", "provider.selected_model", "me/model")
	require.NoError(t, err)
	assert.Equal(t, "provider.selected_model = me/model\n", out)

	out, _, err = env.run(t, "", "config", "get", "provider.selected_model")
	require.NoError(t, err)
	assert.Equal(t, "me/model\n", out)

	cfg, err := config.LoadFromPath(env.cfg)
	require.NoError(t, err)
	assert.Equal(t, "me/model", cfg.Provider.SelectedModel)
}

func TestConfig_SetInvalidIsRejected(t *testing.T) {
	env := newCLIEnv(t, false)

	_, _, err := env.run(t, "", "config", "set", "cost.max_attempts", "0")
	require.Error(t, err)

	_, statErr := os.Stat(env.cfg)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConfig_GetRedactsKey(t *testing.T) {
	env := newCLIEnv(t, true)

	out, _, err := env.run(t, "", "config", "get", "provider.api_key")
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]\n", out)

	out, _, err = env.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-or-test")
}

func TestConfig_PathAndKeys(t *testing.T) {
	env := newCLIEnv(t, false)

	out, _, err := env.run(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, env.cfg+"\n", out)

	out, _, err = env.run(t, "", "config", "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "cost.max_attempts\n")
}

func TestModels_Local(t *testing.T) {
	env := newCLIEnv(t, false)

	out, _, err := env.run(t, "", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "* "+model.DefaultModel)
}

func TestModels_Remote(t *testing.T) {
	env := newCLIEnv(t, false)

	out, _, err := env.run(t, "", "models", "--remote")
	require.NoError(t, err)
	assert.Contains(t, out, "a/free-one:free")
	assert.Contains(t, out, "$3.00/$15.00 per 1M")
	assert.Contains(t, out, "2 model(s)")

	out, _, err = env.run(t, "", "models", "--remote", "--free")
	require.NoError(t, err)
	assert.NotContains(t, out, "b/paid")
	assert.Contains(t, out, "1 model(s)")
}

func TestVersion(t *testing.T) {
	env := newCLIEnv(t, false)

	out, _, err := env.run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "rigchat "+Version))
}

// =============================================================================
// CHAT REPL
// =============================================================================

func TestChat_PipedSession(t *testing.T) {
	env := newCLIEnv(t, true)

	script := strings.Join([]string{
		"/new Piped",
		"hello there",
		"/history",
		"/model other/model",
		"/bogus",
		"/quit",
	}, "\n") + "\n"

	out, errOut, err := env.run(t, script, "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Started Piped")
	assert.Contains(t, out, "Assistant: Hello world")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "Model set to other/model")
	assert.Contains(t, errOut, "Unknown command: /bogus")

	cfg, err := config.LoadFromPath(env.cfg)
	require.NoError(t, err)
	assert.Equal(t, "other/model", cfg.Provider.SelectedModel)

	out, _, err = env.run(t, "", "sessions", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Piped")
	assert.Contains(t, out, "Hello world")
}

func TestChat_EOFExits(t *testing.T) {
	env := newCLIEnv(t, false)

	out, _, err := env.run(t, "", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "No OpenRouter API key set")
}

func TestChat_DeleteDefaultRefused(t *testing.T) {
	env := newCLIEnv(t, false)

	_, errOut, err := env.run(t, "/delete "+session.DefaultSessionID+"\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, errOut, "cannot be deleted")
}

// =============================================================================
// HELPERS
// =============================================================================

func TestResolveSession(t *testing.T) {
	store := session.NewStore()
	first := store.CreateSession("first").ID
	second := store.CreateSession("second").ID
	list := store.ListSessions()

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"empty is current", "", second, false},
		{"exact id", first, first, false},
		{"position", "1", list[0].ID, false},
		{"last position", "3", list[2].ID, false},
		{"position out of range", "9", "", true},
		{"unique prefix", first[:12], first, false},
		{"unknown", "zzz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSession(store, tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsoleHandler_Streaming(t *testing.T) {
	var out, errOut bytes.Buffer
	h := &consoleHandler{out: &out, errOut: &errOut}

	h.OnStart()
	h.OnToken("Hel")
	h.OnToken("lo")
	h.OnComplete("Hello", "gen-1")
	cost := 0.5
	h.OnCostUpdate("gen-1", &cost)

	assert.Equal(t, "Hello\n", out.String())
	assert.Contains(t, errOut.String(), "cost: $0.50")
	assert.Empty(t, h.Failed())
}

func TestConsoleHandler_WholeResponse(t *testing.T) {
	var out bytes.Buffer
	h := &consoleHandler{out: &out, errOut: io.Discard}

	h.OnStart()
	h.OnComplete("all at once", "")
	assert.Equal(t, "all at once\n", out.String())
}

func TestConsoleHandler_ErrorAndQueuedNotice(t *testing.T) {
	var out, errOut bytes.Buffer
	notices := make(chan string, 1)
	h := &consoleHandler{out: &out, errOut: &errOut, label: "Assistant:", printErrors: true, notices: notices}

	h.OnStart()
	h.OnError("Stream error: boom")
	h.OnCostUpdate("gen-2", nil)

	assert.Equal(t, "Stream error: boom", h.Failed())
	assert.Contains(t, errOut.String(), "Stream error: boom")
	require.Len(t, notices, 1)
	assert.Contains(t, <-notices, "cost unavailable (gen-2)")
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"fits", "short line", 20, "short line"},
		{"wraps words", "alpha beta gamma", 10, "alpha beta\ngamma"},
		{"keeps newlines", "a\nb", 10, "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WrapText(tt.text, tt.width))
		})
	}
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", PadRight("ab", 5))
	assert.Equal(t, "ab…", PadRight("abcdef", 3))
	// Wide runes count double.
	assert.Equal(t, "日本 ", PadRight("日本", 5))
}
