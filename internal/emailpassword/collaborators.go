// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// EmailKind selects the message template for an outbound email.
type EmailKind string

// Email kinds, one per key action.
const (
	EmailRegister      EmailKind = "register"
	EmailConnect       EmailKind = "connect"
	EmailChange        EmailKind = "emailChange"
	EmailResetPassword EmailKind = "resetPassword"
)

// Email is an outbound message request. Rendering is the mailer's job.
type Email struct {
	Kind EmailKind
	To   string
	Key  string
	Data map[string]any
}

// Mailer delivers outbound email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// TriggerType names a notification sent to collaborating services.
type TriggerType string

// Trigger types.
const (
	TriggerRegisterStart    TriggerType = "OnRegisterStart"
	TriggerRegister         TriggerType = "OnRegister"
	TriggerRegisterComplete TriggerType = "OnRegisterComplete"
	TriggerLogin            TriggerType = "OnLogin"
	TriggerPasswordChange   TriggerType = "OnPasswordChange"
	TriggerSecurityEvent    TriggerType = "securityEvent"
)

// Trigger is a side-effect notification. Security is set only for
// TriggerSecurityEvent.
type Trigger struct {
	Type     TriggerType
	User     ulid.ULID
	Session  string
	UserData map[string]any
	Security *LoginFailed
}

// TriggerSink receives triggers.
type TriggerSink interface {
	Trigger(ctx context.Context, trigger Trigger) error
}
