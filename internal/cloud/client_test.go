// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

const testAPIKey = "sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789"

// =============================================================================
// TEST HELPERS
// =============================================================================

// recorder is a ResponseHandler that records every callback in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	tokens []string
	full   string
	genID  string
	errMsg string

	costCh chan *float64
}

func newRecorder() *recorder {
	return &recorder{costCh: make(chan *float64, 1)}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnStart() { r.add("start") }

func (r *recorder) OnToken(token string) {
	r.add("token")
	r.mu.Lock()
	r.tokens = append(r.tokens, token)
	r.mu.Unlock()
}

func (r *recorder) OnComplete(fullText, generationID string) {
	r.add("complete")
	r.mu.Lock()
	r.full, r.genID = fullText, generationID
	r.mu.Unlock()
}

func (r *recorder) OnError(message string) {
	r.add("error")
	r.mu.Lock()
	r.errMsg = message
	r.mu.Unlock()
}

func (r *recorder) OnCostUpdate(generationID string, cost *float64) {
	r.add("cost")
	r.costCh <- cost
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func sseBody(lines ...string) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// mockProvider serves chat completions and generation lookups.
type mockProvider struct {
	chatStatus int
	chatBody   string
	costBody   string

	chatCalls atomic.Int32
	costCalls atomic.Int32

	mu       sync.Mutex
	requests []ChatRequest
	headers  http.Header
}

func (m *mockProvider) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/chat/completions" && r.Method == http.MethodPost:
			m.chatCalls.Add(1)
			body, _ := io.ReadAll(r.Body)
			var req ChatRequest
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("invalid request body: %v", err)
			}
			m.mu.Lock()
			m.requests = append(m.requests, req)
			m.headers = r.Header.Clone()
			m.mu.Unlock()

			status := m.chatStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			io.WriteString(w, m.chatBody)
		case r.URL.Path == "/generation":
			m.costCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, m.costBody)
		default:
			http.NotFound(w, r)
		}
	})
}

func (m *mockProvider) lastRequest(t *testing.T) ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requests)
	return m.requests[len(m.requests)-1]
}

func newTestClient(t *testing.T, provider *mockProvider, opts ...Option) (*StreamingClient, *session.Store) {
	server := httptest.NewServer(provider.handler(t))
	t.Cleanup(server.Close)

	settings := StaticSettings{
		BaseURL:       server.URL,
		APIKey:        testAPIKey,
		SelectedModel: model.DefaultModel,
		Stream:        true,
	}
	store := session.NewStore()
	reconciler := NewCostReconciler(settings,
		WithBackoff(time.Millisecond, 2, 0),
		WithLookupRate(0),
	)
	opts = append([]Option{WithReconciler(reconciler)}, opts...)
	return NewStreamingClient(store, settings, opts...), store
}

func waitCost(t *testing.T, r *recorder) *float64 {
	t.Helper()
	select {
	case cost := <-r.costCh:
		return cost
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cost update")
		return nil
	}
}

// =============================================================================
// END-TO-END TESTS
// =============================================================================

func TestSend_StreamWithoutGenerationID(t *testing.T) {
	provider := &mockProvider{
		chatBody: sseBody(`data: {"choices":[{"delta":{"content":"Hi"}}]}`, `data: [DONE]`),
	}
	client, store := newTestClient(t, provider)
	rec := newRecorder()

	client.Send(context.Background(), session.DefaultSessionID, "Hello", nil,
		Options{Stream: true, IncludeHistory: false}, rec)
	client.Wait()

	assert.Equal(t, []string{"start", "token", "complete"}, rec.Events())
	assert.Equal(t, "Hi", rec.full)
	assert.Equal(t, "", rec.genID)

	msgs := store.Messages(session.DefaultSessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi", msgs[1].Content)
	assert.Empty(t, msgs[1].GenerationID)

	assert.Equal(t, int32(0), provider.costCalls.Load(), "no lookup without a generation id")
}

func TestSend_CostReconciled(t *testing.T) {
	provider := &mockProvider{
		chatBody: sseBody(
			`data: {"id":"gen-42","choices":[{"delta":{"role":"assistant","content":"Hi"}}]}`,
			`data: {"id":"gen-42","choices":[{"delta":{"content":" there"},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		),
		costBody: `{"data":{"id":"gen-42","total_cost":0.00042}}`,
	}
	tracker := telemetry.NewCostTracker()
	client, store := newTestClient(t, provider, WithCostTracker(tracker))
	rec := newRecorder()

	client.Send(context.Background(), "", "Hello", nil, Options{Stream: true}, rec)

	cost := waitCost(t, rec)
	client.Wait()

	require.NotNil(t, cost)
	assert.InDelta(t, 0.00042, *cost, 1e-12)
	assert.Equal(t, []string{"start", "token", "token", "complete", "cost"}, rec.Events())
	assert.Equal(t, "gen-42", rec.genID)

	msgs := store.Messages(session.DefaultSessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "gen-42", msgs[1].GenerationID)
	require.NotNil(t, msgs[1].Cost)
	assert.InDelta(t, 0.00042, *msgs[1].Cost, 1e-12)

	sc, ok := tracker.Session(session.DefaultSessionID)
	require.True(t, ok)
	assert.Equal(t, 1, sc.Resolved)
}

func TestSend_NotConfigured(t *testing.T) {
	provider := &mockProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	store := session.NewStore()
	client := NewStreamingClient(store, StaticSettings{BaseURL: server.URL, APIKey: "   "})
	rec := newRecorder()

	client.Send(context.Background(), session.DefaultSessionID, "Hello", nil, Options{Stream: true}, rec)

	assert.Equal(t, []string{"error"}, rec.Events())
	assert.Contains(t, rec.errMsg, "API key is not configured")
	assert.Equal(t, int32(0), provider.chatCalls.Load())
	assert.Empty(t, store.Messages(session.DefaultSessionID))
}

func TestSend_StatusError(t *testing.T) {
	provider := &mockProvider{
		chatStatus: http.StatusUnauthorized,
		chatBody:   `{"error":{"code":401,"message":"No auth credentials found"}}`,
	}
	client, store := newTestClient(t, provider)
	rec := newRecorder()

	client.Send(context.Background(), session.DefaultSessionID, "Hello", nil, Options{Stream: true}, rec)

	assert.Equal(t, []string{"start", "error"}, rec.Events())
	assert.Equal(t, "API error: 401 Unauthorized: No auth credentials found", rec.errMsg)

	msgs := store.Messages(session.DefaultSessionID)
	require.Len(t, msgs, 1, "only the user message is committed")
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestSend_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	store := session.NewStore()
	client := NewStreamingClient(store, StaticSettings{BaseURL: url, APIKey: testAPIKey, Stream: true})
	rec := newRecorder()

	client.Send(context.Background(), session.DefaultSessionID, "Hello", nil, Options{Stream: true}, rec)

	assert.Equal(t, []string{"start", "error"}, rec.Events())
	assert.True(t, strings.HasPrefix(rec.errMsg, "Connection error:"), rec.errMsg)
	assert.Len(t, store.Messages(session.DefaultSessionID), 1)
}

func TestSend_StreamInterrupted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		io.WriteString(w, "data: {\"id\":\"g\",\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		// returning early leaves the declared body short
	}))
	defer server.Close()

	store := session.NewStore()
	client := NewStreamingClient(store, StaticSettings{BaseURL: server.URL, APIKey: testAPIKey})
	rec := newRecorder()

	client.Send(context.Background(), session.DefaultSessionID, "Hello", nil, Options{Stream: true}, rec)

	events := rec.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[len(events)-1])
	assert.NotContains(t, events, "complete")
	assert.True(t, strings.HasPrefix(rec.errMsg, "Stream error:"), rec.errMsg)
	assert.Len(t, store.Messages(session.DefaultSessionID), 1, "partial content is discarded")
}

func TestSend_NonStreaming(t *testing.T) {
	provider := &mockProvider{
		chatBody: `{"id":"gen-7","model":"m","choices":[{"message":{"role":"assistant","content":"Full answer"},"finish_reason":"stop"}]}`,
		costBody: `{"data":{"id":"gen-7","total_cost":0.01}}`,
	}
	client, store := newTestClient(t, provider)
	rec := newRecorder()

	client.Send(context.Background(), session.DefaultSessionID, "Hello", nil, Options{Stream: false}, rec)
	waitCost(t, rec)
	client.Wait()

	assert.Equal(t, []string{"start", "complete", "cost"}, rec.Events())
	assert.Equal(t, "Full answer", rec.full)
	assert.False(t, provider.lastRequest(t).Stream)

	msgs := store.Messages(session.DefaultSessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "gen-7", msgs[1].GenerationID)
}

func TestSend_NonStreamingBadBody(t *testing.T) {
	provider := &mockProvider{chatBody: `not json`}
	client, _ := newTestClient(t, provider)
	rec := newRecorder()

	client.Send(context.Background(), session.DefaultSessionID, "Hello", nil, Options{}, rec)

	assert.Equal(t, []string{"start", "error"}, rec.Events())
	assert.True(t, strings.HasPrefix(rec.errMsg, "Failed to parse response"), rec.errMsg)
}

func TestSend_CreatesUnknownSession(t *testing.T) {
	provider := &mockProvider{chatBody: sseBody(`data: [DONE]`)}
	client, store := newTestClient(t, provider)

	client.Send(context.Background(), "project-x", "Hello", nil, Options{Stream: true}, nil)

	sess, ok := store.GetSession("project-x")
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "", sess.Messages[1].Content)
	assert.Equal(t, session.DefaultSessionID, store.CurrentSessionID())
}

func TestSend_RequestPayload(t *testing.T) {
	provider := &mockProvider{chatBody: sseBody(`data: {"choices":[{"delta":{"content":"ok"}}]}`, `data: [DONE]`)}
	client, _ := newTestClient(t, provider)

	files := NewContextFiles()
	files.Set("@notes.txt", "remember the milk")

	// First turn, then a second turn with history.
	client.Send(context.Background(), session.DefaultSessionID, "one", nil, Options{Stream: true}, nil)
	client.Send(context.Background(), session.DefaultSessionID, "two", files,
		Options{Model: "openai/gpt-4", Stream: true, IncludeHistory: true}, nil)

	req := provider.lastRequest(t)
	assert.Equal(t, "openai/gpt-4", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Contains(t, req.Messages[0].Content, "FILE: @notes.txt")
	assert.Equal(t, "one", req.Messages[1].Content)
	assert.Equal(t, "ok", req.Messages[2].Content)
	assert.Equal(t, "two", req.Messages[3].Content)

	provider.mu.Lock()
	headers := provider.headers
	provider.mu.Unlock()
	assert.Equal(t, "Bearer "+testAPIKey, headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "text/event-stream", headers.Get("Accept"))
	assert.NotEmpty(t, headers.Get("X-Title"))
}

func TestSend_DefaultModelFromSettings(t *testing.T) {
	provider := &mockProvider{chatBody: sseBody(`data: [DONE]`)}
	client, _ := newTestClient(t, provider)

	client.Send(context.Background(), "", "hi", nil, Options{Stream: true}, nil)
	assert.Equal(t, model.DefaultModel, provider.lastRequest(t).Model)
}

// =============================================================================
// CONCURRENT ACCESS TESTS
// =============================================================================

// TestSendAsync_Concurrent verifies overlapping sends keep the store
// consistent. Run with: go test -race -run TestSendAsync_Concurrent
func TestSendAsync_Concurrent(t *testing.T) {
	provider := &mockProvider{
		chatBody: sseBody(`data: {"id":"g","choices":[{"delta":{"content":"r"}}]}`, `data: [DONE]`),
		costBody: `{"data":{"id":"g","total_cost":0.001}}`,
	}
	client, store := newTestClient(t, provider)

	const sends = 20
	var completes atomic.Int32
	for i := 0; i < sends; i++ {
		h := HandlerFuncs{Complete: func(string, string) { completes.Add(1) }}
		client.SendAsync(context.Background(), session.DefaultSessionID, fmt.Sprintf("q%d", i), nil,
			Options{Stream: true, IncludeHistory: true}, h)
	}
	client.Wait()

	assert.Equal(t, int32(sends), completes.Load())
	msgs := store.Messages(session.DefaultSessionID)
	assert.Len(t, msgs, 2*sends)

	var users int
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			users++
		}
	}
	assert.Equal(t, sends, users)
}
