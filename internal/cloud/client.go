// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// notConfiguredMessage is reported through OnError when no key is set.
const notConfiguredMessage = "OpenRouter API key is not configured. Please set it in the settings."

// ChatResponse represents a non-streaming response from the chat completions endpoint.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// =============================================================================
// STREAMING CLIENT
// =============================================================================

// StreamingClient runs chat exchanges against OpenRouter and commits the
// results to a session store. It is safe for concurrent use; overlapping
// sends on one session append in completion order.
type StreamingClient struct {
	store      *session.Store
	settings   SettingsSource
	httpClient *http.Client
	reconciler *CostReconciler

	costAttempts int
	siteURL      string
	siteName     string

	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracker *telemetry.CostTracker

	// wg tracks SendAsync calls and background cost lookups.
	wg sync.WaitGroup
}

// Option configures a StreamingClient.
type Option func(*StreamingClient)

// WithHTTPClient overrides the HTTP client used for chat requests.
func WithHTTPClient(c *http.Client) Option {
	return func(sc *StreamingClient) { sc.httpClient = c }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(sc *StreamingClient) { sc.log = l }
}

// WithReconciler replaces the default cost reconciler.
func WithReconciler(r *CostReconciler) Option {
	return func(sc *StreamingClient) { sc.reconciler = r }
}

// WithMetrics records request outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(sc *StreamingClient) { sc.metrics = m }
}

// WithCostTracker accumulates reconciled costs per session.
func WithCostTracker(t *telemetry.CostTracker) Option {
	return func(sc *StreamingClient) { sc.tracker = t }
}

// WithCostAttempts sets the lookup budget per generation.
func WithCostAttempts(n int) Option {
	return func(sc *StreamingClient) { sc.costAttempts = n }
}

// WithSiteInfo sets the HTTP-Referer and X-Title attribution headers.
func WithSiteInfo(siteURL, siteName string) Option {
	return func(sc *StreamingClient) {
		sc.siteURL = siteURL
		sc.siteName = siteName
	}
}

// NewStreamingClient creates a client bound to store and settings.
func NewStreamingClient(store *session.Store, settings SettingsSource, opts ...Option) *StreamingClient {
	c := &StreamingClient{
		store:        store,
		settings:     settings,
		httpClient:   sharedStreamingClient,
		costAttempts: DefaultCostAttempts,
		siteURL:      defaultSiteURL,
		siteName:     defaultSiteName,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reconciler == nil {
		c.reconciler = NewCostReconciler(settings,
			WithCostLogger(c.log),
			WithCostMetrics(c.metrics),
		)
	}
	return c
}

// Store returns the session store the client commits to.
func (c *StreamingClient) Store() *session.Store {
	return c.store
}

// SendAsync runs Send in a new goroutine tracked by Wait.
func (c *StreamingClient) SendAsync(ctx context.Context, sessionID, prompt string, files *ContextFiles, opts Options, h ResponseHandler) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Send(ctx, sessionID, prompt, files, opts, h)
	}()
}

// Wait blocks until every SendAsync call and background cost lookup has finished.
func (c *StreamingClient) Wait() {
	c.wg.Wait()
}

// Send performs one chat exchange and reports progress to h. It returns
// after OnComplete or OnError; cost reconciliation continues in the
// background. An empty sessionID means the current session, and an unknown
// one is created on demand.
//
// The user message is always appended. The assistant message is appended
// only when the response was received in full.
func (c *StreamingClient) Send(ctx context.Context, sessionID, prompt string, files *ContextFiles, opts Options, h ResponseHandler) {
	if h == nil {
		h = HandlerFuncs{}
	}
	start := time.Now()

	settings := c.settings.Settings()
	if !settings.IsConfigured() {
		c.metrics.ObserveRequest(telemetry.OutcomeNotConfigured, 0)
		c.log.Warn().Msg("STREAM_NOT_CONFIGURED")
		h.OnError(notConfiguredMessage)
		return
	}

	if sessionID == "" {
		sessionID = c.store.CurrentSessionID()
	}
	c.store.EnsureSession(sessionID, "")
	userMsg := model.NewUserMessage(prompt)
	c.store.AppendMessage(sessionID, userMsg)

	modelID := opts.Model
	if modelID == "" {
		modelID = settings.SelectedModel
	}
	req := BuildRequest(RequestInput{
		Prompt:         prompt,
		ContextFiles:   files,
		Model:          modelID,
		IncludeHistory: opts.IncludeHistory,
		PriorMessages:  c.historyThrough(sessionID, userMsg.ID),
		Stream:         opts.Stream,
	})

	logger := c.log.With().
		Str("session", sessionID).
		Str("model", modelID).
		Bool("stream", req.Stream).
		Logger()

	httpReq, err := c.newChatRequest(ctx, settings, req)
	if err != nil {
		c.metrics.ObserveRequest(telemetry.OutcomeTransport, time.Since(start))
		h.OnError(fmt.Sprintf("Connection error: %v", err))
		return
	}

	logger.Info().
		Int("messages", len(req.Messages)).
		Int("context_files", contextLen(files)).
		Str("key_fp", util.KeyFingerprint(settings.APIKey)).
		Msg("STREAM_START")
	h.OnStart()

	resp, err := c.httpClient.Do(httpReq)
	// SECURITY: Clear Authorization header immediately after request to prevent logging
	httpReq.Header.Del("Authorization")
	if err != nil {
		c.metrics.ObserveRequest(telemetry.OutcomeTransport, time.Since(start))
		logger.Warn().Err(err).Msg("STREAM_TRANSPORT_ERROR")
		h.OnError(fmt.Sprintf("Connection error: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := readResponse(resp)
		apiErr := handleErrorResponse(resp.StatusCode, body)
		c.metrics.ObserveRequest(telemetry.OutcomeStatus, time.Since(start))
		logger.Warn().Err(apiErr).Int("status", resp.StatusCode).Msg("STREAM_STATUS_ERROR")
		h.OnError(statusErrorMessage(resp.StatusCode, apiErr))
		return
	}

	var content, generationID string
	if req.Stream {
		result, err := ParseStream(ctx, resp.Body, func(token string) {
			c.metrics.ObserveToken()
			h.OnToken(token)
		})
		if err != nil {
			c.metrics.ObserveRequest(telemetry.OutcomeStream, time.Since(start))
			logger.Warn().Err(err).Msg("STREAM_READ_ERROR")
			h.OnError(fmt.Sprintf("Stream error: %v", unwrapStream(err)))
			return
		}
		if result.Skipped > 0 {
			logger.Debug().Int("skipped", result.Skipped).Msg("STREAM_MALFORMED_CHUNKS")
		}
		content, generationID = result.Content, result.GenerationID
	} else {
		content, generationID, err = decodeChatResponse(resp)
		if err != nil {
			c.metrics.ObserveRequest(telemetry.OutcomeStream, time.Since(start))
			logger.Warn().Err(err).Msg("STREAM_DECODE_ERROR")
			h.OnError(fmt.Sprintf("Failed to parse response: %v", err))
			return
		}
	}

	c.store.AppendMessage(sessionID, model.NewAssistantMessage(content, generationID))
	c.metrics.ObserveRequest(telemetry.OutcomeComplete, time.Since(start))
	logger.Info().
		Str("generation", generationID).
		Int("chars", len(content)).
		Dur("elapsed", time.Since(start)).
		Msg("STREAM_COMPLETE")
	h.OnComplete(content, generationID)

	if generationID != "" {
		c.reconcile(ctx, sessionID, generationID, h)
	}
}

// historyThrough returns the session history up to and including the
// message with id lastID. Messages appended later by overlapping sends are
// left out so the prompt stays the final element.
func (c *StreamingClient) historyThrough(sessionID, lastID string) []ChatMessage {
	msgs := c.store.Messages(sessionID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == lastID {
			return ToChatMessages(msgs[:i+1])
		}
	}
	return ToChatMessages(msgs)
}

func (c *StreamingClient) newChatRequest(ctx context.Context, settings Settings, req ChatRequest) (*http.Request, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.Endpoint("/chat/completions"), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(httpReq, settings.APIKey, c.siteURL, c.siteName)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}
	return httpReq, nil
}

// reconcile looks up the generation cost in the background and writes the
// result to the store, the tracker and h.
func (c *StreamingClient) reconcile(ctx context.Context, sessionID, generationID string, h ResponseHandler) {
	c.wg.Add(1)
	// The lookup outlives the request; it must not be cancelled with it.
	bg := context.WithoutCancel(ctx)
	c.reconciler.Fetch(bg, generationID, c.costAttempts, func(cost *float64) {
		defer c.wg.Done()
		if cost != nil {
			c.store.SetCost(sessionID, generationID, *cost)
			c.metrics.ObserveCost(*cost)
			if c.tracker != nil {
				c.tracker.Record(sessionID, generationID, *cost)
			}
		} else if c.tracker != nil {
			c.tracker.RecordMissing(sessionID)
		}
		h.OnCostUpdate(generationID, cost)
	})
}

func decodeChatResponse(resp *http.Response) (string, string, error) {
	body, err := readResponse(resp)
	if err != nil {
		return "", "", err
	}
	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", "", errors.New("response has no choices")
	}
	return chatResp.GetContent(), chatResp.ID, nil
}

func unwrapStream(err error) error {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

func contextLen(files *ContextFiles) int {
	if files == nil {
		return 0
	}
	return files.Len()
}
