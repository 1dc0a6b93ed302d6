// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account implements credential-based authentication for
// BlackFortress.
//
// # Domain Types
//
// Account is the stored identity record. Profile is the read projection
// handed to callers; it never carries the password digest.
//
// # Services
//
//   - Registrar - validates input, enforces uniqueness, hashes and persists
//   - Authenticator - verifies credentials, applies lockout, issues tokens
//
// Both services are stateless between calls. Every lockout transition is
// persisted through Repository.Update in a single statement.
package account
