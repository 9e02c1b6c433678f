// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"crypto/tls"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds non-streaming requests and cost lookups.
	DefaultTimeout = 60 * time.Second

	// userAgent identifies the client to OpenRouter.
	userAgent = "rigchat/0.1.0"

	defaultSiteURL  = "https://github.com/jeranaias/rigrun-chat"
	defaultSiteName = "rigchat"
)

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: DefaultTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// sharedHTTPClient serves cost lookups and model listing.
	sharedHTTPClient = &http.Client{
		Transport: newTransport(),
		Timeout:   DefaultTimeout,
	}

	// sharedStreamingClient has no overall timeout; streams are bounded by
	// the caller's context and the transport's header timeout.
	sharedStreamingClient = &http.Client{
		Transport: newTransport(),
	}
)

// setHeaders sets the required headers for OpenRouter API requests.
func setHeaders(req *http.Request, apiKey, siteURL, siteName string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if siteURL != "" {
		req.Header.Set("HTTP-Referer", siteURL)
	}
	if siteName != "" {
		req.Header.Set("X-Title", siteName)
	}
}
