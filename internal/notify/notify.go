// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify provides log-backed Mailer and TriggerSink implementations
// for development and single-process deployments.
package notify

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"

	ep "github.com/holomush/emailpassword/internal/emailpassword"
)

// LogMailer writes outbound email requests to a logger instead of sending
// them. The key is logged so a developer can complete the flow by hand.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send logs the email.
func (m *LogMailer) Send(ctx context.Context, email ep.Email) error {
	m.logger.InfoContext(ctx, "email queued",
		"kind", string(email.Kind),
		"to", email.To,
		"key", email.Key,
		"data", email.Data,
	)
	return nil
}

// LogTriggers writes triggers to a logger.
type LogTriggers struct {
	logger *slog.Logger
}

// NewLogTriggers creates a LogTriggers. A nil logger uses slog.Default.
func NewLogTriggers(logger *slog.Logger) *LogTriggers {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTriggers{logger: logger}
}

// Trigger logs the trigger. Security events are logged at warn level.
func (t *LogTriggers) Trigger(ctx context.Context, trigger ep.Trigger) error {
	attrs := []any{"trigger", string(trigger.Type)}
	if trigger.User.Compare(ulid.ULID{}) != 0 {
		attrs = append(attrs, "user_id", trigger.User.String())
	}
	if trigger.Session != "" {
		attrs = append(attrs, "session", trigger.Session)
	}

	if trigger.Security != nil {
		attrs = append(attrs,
			"reason", trigger.Security.Reason,
			"email", trigger.Security.Email,
			"ip", trigger.Security.IP,
		)
		t.logger.WarnContext(ctx, "security event", attrs...)
		return nil
	}
	t.logger.InfoContext(ctx, "trigger", attrs...)
	return nil
}

// Compile-time interface checks.
var (
	_ ep.Mailer      = (*LogMailer)(nil)
	_ ep.TriggerSink = (*LogTriggers)(nil)
)
