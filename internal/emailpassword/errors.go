// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"github.com/samber/oops"
)

// Error codes returned by workflow steps.
const (
	CodeNotFound                 = "NOT_FOUND"
	CodeAlreadyAdded             = "ALREADY_ADDED"
	CodeTaken                    = "TAKEN"
	CodeAlreadyConnected         = "ALREADY_CONNECTED"
	CodeRegistrationNotConfirmed = "REGISTRATION_NOT_CONFIRMED"
	CodeExpired                  = "EXPIRED"
	CodeAlreadyUsed              = "ALREADY_USED"
	CodeKeyTypeMismatch          = "KEY_TYPE_MISMATCH"
	CodeWrongPassword            = "WRONG_PASSWORD"
	CodeNotAuthorized            = "NOT_AUTHORIZED"
	CodeInternalServerError      = "INTERNAL_SERVER_ERROR"
	CodeInvalidInput             = "INVALID_INPUT"
	CodeThirdPartyLogin          = "THIRD_PARTY_LOGIN"
	CodeConcurrentModification   = "CONCURRENT_MODIFICATION"
)

// Code returns the oops code carried by err, or "" if there is none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string) //nolint:errcheck // non-string codes are not ours
	return code
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return Code(err) == code
}

func errNotFound(entity, field string) error {
	b := oops.Code(CodeNotFound).With("entity", entity)
	if field != "" {
		b = b.With("field", field)
	}
	return b.Errorf("%s not found", entity)
}

func errAlreadyAdded(email string) error {
	return oops.Code(CodeAlreadyAdded).
		With("field", "email").
		With("email", email).
		Errorf("email already added")
}

func errTaken(field, email string) error {
	return oops.Code(CodeTaken).
		With("field", field).
		With("email", email).
		Errorf("email is taken")
}

func errAlreadyConnected(email string) error {
	return oops.Code(CodeAlreadyConnected).
		With("field", "email").
		With("email", email).
		Errorf("email already connected to this account")
}

func errRegistrationNotConfirmed(email string) error {
	return oops.Code(CodeRegistrationNotConfirmed).
		With("field", "email").
		With("email", email).
		Errorf("registration not confirmed")
}

func errExpired(key string) error {
	return oops.Code(CodeExpired).With("key", key).Errorf("key expired")
}

func errAlreadyUsed(key string) error {
	return oops.Code(CodeAlreadyUsed).With("key", key).Errorf("key already used")
}

func errKeyTypeMismatch(key string, want, got KeyAction) error {
	return oops.Code(CodeKeyTypeMismatch).
		With("key", key).
		With("expected", string(want)).
		With("actual", string(got)).
		Errorf("key type mismatch")
}

func errWrongPassword(field string) error {
	return oops.Code(CodeWrongPassword).With("field", field).Errorf("wrong password")
}

func errNotAuthorized() error {
	return oops.Code(CodeNotAuthorized).Errorf("not authorized")
}

func errInternal(reason string) error {
	return oops.Code(CodeInternalServerError).With("reason", reason).Errorf("internal server error")
}

func errThirdPartyLogin(email, method string) error {
	return oops.Code(CodeThirdPartyLogin).
		With("field", "email").
		With("email", email).
		With("method", method).
		Errorf("email is registered with %s login", method)
}
