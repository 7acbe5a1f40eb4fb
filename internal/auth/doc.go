// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth gates a live multi-user world behind account authentication.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an Account with validated username and credential material
//   - NewSession - creates a Session with validated owner, token hash and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Components
//
//   - RateLimiter - per-source failed-attempt throttle, in memory only
//   - SessionCache - the "authenticated now" set consulted on every action
//   - CredentialService - account registration, verification and snapshots
//   - SessionService - session creation, validation and deactivation
//   - Orchestrator - login, registration, logout, restore and shutdown
//
// The services never return store faults to their callers. Every repository
// error is logged and resolved to the operation's negative result, so callers
// must not read "false" as "definitely absent".
package auth
