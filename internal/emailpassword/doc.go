// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package emailpassword manages email/password credentials on top of an
// event log.
//
// # Read models
//
// Identities (one row per email), Keys (one row per one-time token) and the
// Users view are projections folded from the events this package emits.
// Repository interfaces expose the read side; memory and postgres
// subpackages implement them.
//
// # Workflows
//
// Register, Connect, EmailChange and PasswordReset are two-step flows driven
// by one-time Keys. Each step runs decide-then-append: stream versions are
// read first, projections second, and the append carries the versions as
// expectations. A concurrent writer makes the append fail with
// core.ErrConcurrencyConflict and the whole step is decided again, so the
// uniqueness check that admitted a step is always the one that committed it.
//
// # Errors
//
// Every failure is an oops error with one of the Code* constants; use Code
// to read it.
package emailpassword
