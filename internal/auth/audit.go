// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"time"
)

// ActionType classifies a security log record.
type ActionType string

// Security log action types.
const (
	ActionRegistration    ActionType = "REGISTRATION"
	ActionAutoLogin       ActionType = "AUTO_LOGIN"
	ActionLogin           ActionType = "LOGIN"
	ActionLoginFailed     ActionType = "LOGIN_FAILED"
	ActionLoginBlocked    ActionType = "LOGIN_BLOCKED"
	ActionIPChangeBlocked ActionType = "IP_CHANGE_BLOCKED"
	ActionSessionRestore  ActionType = "SESSION_RESTORE"
	ActionLogout          ActionType = "LOGOUT"
	ActionForceLogout     ActionType = "FORCE_LOGOUT"
	ActionLinkExternal    ActionType = "LINK_EXTERNAL"
)

// AuditRecord is one append-only security log entry.
type AuditRecord struct {
	Actor   string // username, may be empty for source-only events
	Source  string
	Action  ActionType
	Success bool
	Details string
	At      time.Time
}

// AuditSink accepts security log records. Record must not block.
type AuditSink interface {
	Record(rec AuditRecord)
}

// NopAuditSink discards all records.
type NopAuditSink struct{}

// Record implements AuditSink.
func (NopAuditSink) Record(AuditRecord) {}

// LogAuditSink writes records to a logger at info level.
type LogAuditSink struct {
	Logger *slog.Logger
}

// Record implements AuditSink.
func (s LogAuditSink) Record(rec AuditRecord) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("security event",
		"actor", rec.Actor,
		"source", rec.Source,
		"action", string(rec.Action),
		"success", rec.Success,
		"details", rec.Details,
		"at", rec.At)
}

var (
	_ AuditSink = NopAuditSink{}
	_ AuditSink = LogAuditSink{}
)
