// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// StartRegisterInput starts a registration.
type StartRegisterInput struct {
	Email        string         `json:"email" jsonschema:"required,minLength=1,format=email"`
	PasswordHash string         `json:"passwordHash" jsonschema:"required,minLength=1"`
	UserData     map[string]any `json:"userData,omitempty"`
}

func (in *StartRegisterInput) normalize() { in.Email = NormalizeEmail(in.Email) }

// EmailInput names a single email.
type EmailInput struct {
	Email string `json:"email" jsonschema:"required,minLength=1,format=email"`
}

func (in *EmailInput) normalize() { in.Email = NormalizeEmail(in.Email) }

// KeyInput names a key token.
type KeyInput struct {
	Key string `json:"key" jsonschema:"required,minLength=1"`
}

// CredentialsInput carries an email and a password hash.
type CredentialsInput struct {
	Email        string `json:"email" jsonschema:"required,minLength=1,format=email"`
	PasswordHash string `json:"passwordHash" jsonschema:"required,minLength=1"`
}

func (in *CredentialsInput) normalize() { in.Email = NormalizeEmail(in.Email) }

// StartEmailChangeInput starts an email change for the caller.
type StartEmailChangeInput struct {
	NewEmail     string `json:"newEmail" jsonschema:"required,minLength=1,format=email"`
	PasswordHash string `json:"passwordHash" jsonschema:"required,minLength=1"`
}

func (in *StartEmailChangeInput) normalize() { in.NewEmail = NormalizeEmail(in.NewEmail) }

// FinishPasswordResetInput consumes a reset key.
type FinishPasswordResetInput struct {
	Key          string `json:"key" jsonschema:"required,minLength=1"`
	PasswordHash string `json:"passwordHash" jsonschema:"required,minLength=1"`
}

// UpdatePasswordInput changes the password of one of the caller's emails.
type UpdatePasswordInput struct {
	Email           string `json:"email" jsonschema:"required,minLength=1,format=email"`
	OldPasswordHash string `json:"oldPasswordHash" jsonschema:"required,minLength=1"`
	NewPasswordHash string `json:"newPasswordHash" jsonschema:"required,minLength=1"`
}

func (in *UpdatePasswordInput) normalize() { in.Email = NormalizeEmail(in.Email) }

// UpdateAllPasswordsInput changes the password of every email of the caller.
type UpdateAllPasswordsInput struct {
	OldPasswordHash string `json:"oldPasswordHash" jsonschema:"required,minLength=1"`
	NewPasswordHash string `json:"newPasswordHash" jsonschema:"required,minLength=1"`
}

// UserInput names a user by id.
type UserInput struct {
	User string `json:"user" jsonschema:"required,minLength=26,maxLength=26"`
}

// PasswordChangeInput sets a user's password on all of their emails.
type PasswordChangeInput struct {
	User         string `json:"user" jsonschema:"required,minLength=26,maxLength=26"`
	PasswordHash string `json:"passwordHash" jsonschema:"required,minLength=1"`
}

// CreateEmailPasswordInput binds an email to an existing user.
type CreateEmailPasswordInput struct {
	Email        string `json:"email" jsonschema:"required,minLength=1,format=email"`
	PasswordHash string `json:"passwordHash" jsonschema:"required,minLength=1"`
	User         string `json:"user" jsonschema:"required,minLength=26,maxLength=26"`
}

func (in *CreateEmailPasswordInput) normalize() { in.Email = NormalizeEmail(in.Email) }

type normalizer interface {
	normalize()
}

var schemaCache sync.Map // reflect.Type -> *jschema.Schema

// InputSchema returns the JSON Schema document generated for an input type.
func InputSchema(input any) ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	data, err := json.Marshal(r.Reflect(input))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").
			With("type", reflect.TypeOf(input).String()).
			Wrap(err)
	}
	return data, nil
}

func compiledSchema(input any) (*jschema.Schema, error) {
	t := reflect.TypeOf(input)
	if sch, ok := schemaCache.Load(t); ok {
		return sch.(*jschema.Schema), nil //nolint:errcheck // only schemas are stored
	}

	data, err := InputSchema(input)
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}

	c := jschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource("input.json", doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}
	sch, err := c.Compile("input.json")
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}

	actual, _ := schemaCache.LoadOrStore(t, sch)
	return actual.(*jschema.Schema), nil //nolint:errcheck // only schemas are stored
}

// ValidateInput normalizes emails in input, which must be a pointer to one
// of the input types above, and checks it against its JSON Schema.
// Violations are returned as INVALID_INPUT with the offending field.
func ValidateInput(input any) error {
	if n, ok := input.(normalizer); ok {
		n.normalize()
	}

	sch, err := compiledSchema(input)
	if err != nil {
		return err
	}

	data, err := json.Marshal(input)
	if err != nil {
		return oops.Code(CodeInvalidInput).Wrap(err)
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return oops.Code(CodeInvalidInput).Wrap(err)
	}

	if err := sch.Validate(inst); err != nil {
		var ve *jschema.ValidationError
		field := ""
		if errors.As(err, &ve) {
			field = invalidField(ve)
		}
		return oops.Code(CodeInvalidInput).
			With("field", field).
			Wrapf(err, "invalid input")
	}
	return nil
}

// invalidField finds the first leaf violation and names the field it concerns.
func invalidField(ve *jschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if req, ok := ve.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		return req.Missing[0]
	}
	return strings.Join(ve.InstanceLocation, ".")
}

// parseUserID parses the user field of an input.
func parseUserID(s string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeInvalidInput).
			With("field", "user").
			With("value", s).
			Errorf("invalid user id: %s", err.Error())
	}
	return id, nil
}
