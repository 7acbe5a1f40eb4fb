// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/gatehouse/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("PASSWORD_TOO_SHORT").Errorf("password must be at least 8 characters")
	errutil.AssertErrorCode(t, err, "PASSWORD_TOO_SHORT")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("username", "alice").Errorf("account not found")
	errutil.AssertErrorContext(t, err, "username", "alice")
}
