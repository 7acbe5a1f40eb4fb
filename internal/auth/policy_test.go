// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/pkg/errutil"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := auth.DefaultPasswordPolicy()

	tests := []struct {
		name     string
		username string
		password string
		wantCode string
	}{
		{name: "accepts compliant password", username: "alice", password: "Str0ngPass", wantCode: ""},
		{name: "accepts allowed symbols", username: "alice", password: "Str0ng@Pass!", wantCode: ""},
		{name: "rejects short", username: "alice", password: "Ab1", wantCode: "PASSWORD_TOO_SHORT"},
		{name: "rejects long", username: "alice", password: "Aa1" + strings.Repeat("a", 30), wantCode: "PASSWORD_TOO_LONG"},
		{name: "rejects multibyte over bcrypt limit", username: "alice", password: strings.Repeat("日", 25), wantCode: "PASSWORD_TOO_MANY_BYTES"},
		{name: "rejects missing digit", username: "alice", password: "NoDigitsHere", wantCode: "PASSWORD_TOO_WEAK"},
		{name: "rejects missing uppercase", username: "alice", password: "nouppercase1", wantCode: "PASSWORD_TOO_WEAK"},
		{name: "rejects disallowed symbol", username: "alice", password: "Bad#Symbol1", wantCode: "PASSWORD_TOO_WEAK"},
		{name: "rejects password containing username", username: "Alice", password: "xxALICE99x", wantCode: "PASSWORD_CONTAINS_USERNAME"},
		{name: "rejects username containing password", username: "superlongname1", password: "longname", wantCode: "PASSWORD_CONTAINS_USERNAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lenient := policy
			if tt.wantCode == "PASSWORD_CONTAINS_USERNAME" {
				lenient.EnforceComplexity = false
			}
			err := lenient.Validate(tt.username, tt.password)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestPasswordPolicy_RejectsCommonPasswords(t *testing.T) {
	policy := auth.PasswordPolicy{MinLength: 4, MaxLength: 32}

	for _, pw := range []string{"password", "Password123", "QWERTY", "letmein"} {
		errutil.AssertErrorCode(t, policy.Validate("someone", pw), "PASSWORD_COMMON")
	}
}

func TestPasswordPolicy_RejectsInputBcryptCannotHash(t *testing.T) {
	policy := auth.PasswordPolicy{MinLength: 8, MaxLength: 100}

	errutil.AssertErrorCode(t, policy.Validate("alice", strings.Repeat("x", auth.MaxPasswordBytes+8)), "PASSWORD_TOO_MANY_BYTES")
	assert.NoError(t, policy.Validate("alice", strings.Repeat("x", auth.MaxPasswordBytes)))
}

func TestPasswordPolicy_ZeroValueUsesDefaults(t *testing.T) {
	var policy auth.PasswordPolicy

	errutil.AssertErrorCode(t, policy.Validate("alice", "short"), "PASSWORD_TOO_SHORT")
	assert.NoError(t, policy.Validate("alice", "longenough"))
}
