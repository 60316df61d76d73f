// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	URL string

	// Timeout bounds one POST. Default 10s.
	Timeout time.Duration

	// PerMinute limits deliveries so a flapping health check cannot flood a
	// chat channel. Default 30.
	PerMinute int
}

// Webhook POSTs events as JSON.
//
// The payload carries a "text" field so Slack and Mattermost incoming hooks
// render it without a custom template.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhook creates a Webhook sink.
func NewWebhook(config WebhookConfig) *Webhook {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.PerMinute <= 0 {
		config.PerMinute = 30
	}
	return &Webhook{
		url:     config.URL,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.PerMinute)), config.PerMinute),
	}
}

type webhookPayload struct {
	Text string `json:"text"`
	Event
}

// Notify implements Sink.
func (w *Webhook) Notify(ctx context.Context, event Event) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(webhookPayload{Text: event.Subject() + "\n" + event.Summary, Event: event})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
