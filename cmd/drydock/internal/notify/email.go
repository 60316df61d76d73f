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
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SendFunc matches smtp.SendMail. Tests replace it.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Email sends events through an SMTP relay.
type Email struct {
	config EmailConfig
	send   SendFunc
}

// NewEmail creates an Email sink.
func NewEmail(config EmailConfig) *Email {
	if config.Port == 0 {
		config.Port = 587
	}
	return &Email{config: config, send: smtp.SendMail}
}

// Notify implements Sink.
func (e *Email) Notify(ctx context.Context, event Event) error {
	if len(e.config.To) == 0 {
		return errors.New("email sink has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}
	addr := net.JoinHostPort(e.config.Host, fmt.Sprint(e.config.Port))

	done := make(chan error, 1)
	go func() {
		done <- e.send(addr, auth, e.config.From, e.config.To, e.message(event))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail via %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Email) message(event Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", event.Subject())
	fmt.Fprintf(&b, "Date: %s\r\n", event.Time.Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Operation: %s (%s)\r\n", event.Operation, event.OperationID)
	fmt.Fprintf(&b, "Phase: %s\r\nStatus: %s\r\n\r\n", event.Phase, event.Status)
	b.WriteString(strings.ReplaceAll(event.Summary, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
