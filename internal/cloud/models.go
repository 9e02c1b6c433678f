// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// modelsResponse is the response structure for listing models.
type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       *struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// ListModels retrieves the list of available models from OpenRouter.
// The endpoint does not require a key; one is sent when configured.
func (c *StreamingClient) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	settings := c.settings.Settings()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, settings.Endpoint("/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, settings.APIKey, c.siteURL, c.siteName)

	// PERFORMANCE: Use shared HTTP client with connection pooling
	resp, err := c.reconciler.httpClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]model.ModelInfo, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		info := model.ModelInfo{
			ID:          m.ID,
			Name:        m.Name,
			ContextSize: m.ContextLength,
		}
		if m.Pricing != nil {
			info.PromptPrice = m.Pricing.Prompt
			info.CompletionPrice = m.Pricing.Completion
		}
		models = append(models, info)
	}
	return models, nil
}
