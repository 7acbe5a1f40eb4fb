// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatehouse/pkg/errutil"
)

type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	forced         int
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Steps(int) error              { return m.stepsErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDbErr }

func (m *mockMigrate) Force(v int) error {
	m.forced = v
	return m.forceErr
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/gatehouse")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/gatehouse":   "pgx5://u:p@db:5432/gatehouse",
		"postgresql://u:p@db:5432/gatehouse": "pgx5://u:p@db:5432/gatehouse",
		"pgx5://db/gatehouse":                "pgx5://db/gatehouse",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrateURL(in), in)
	}
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &mockMigrate{
		upErr:    migrate.ErrNoChange,
		downErr:  migrate.ErrNoChange,
		stepsErr: migrate.ErrNoChange,
	}}
	assert.NoError(t, m.Up())
	assert.NoError(t, m.Down())
	assert.NoError(t, m.Steps(0))
}

func TestMigrator_Errors(t *testing.T) {
	boom := errors.New("database locked")
	m := &Migrator{m: &mockMigrate{upErr: boom, downErr: boom, stepsErr: boom, forceErr: boom}}

	errutil.AssertErrorCode(t, m.Up(), "MIGRATION_UP_FAILED")
	errutil.AssertErrorCode(t, m.Down(), "MIGRATION_DOWN_FAILED")
	err := m.Steps(-1)
	errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
	errutil.AssertErrorContext(t, err, "steps", -1)
	errutil.AssertErrorCode(t, m.Force(1), "MIGRATION_FORCE_FAILED")
}

func TestMigrator_Version(t *testing.T) {
	t.Run("dirty", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: 2, dirty: true}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.True(t, dirty)
	})

	t.Run("empty database", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})

	t.Run("failure", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
		_, _, err := m.Version()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Force(t *testing.T) {
	mm := &mockMigrate{}
	m := &Migrator{m: mm}

	require.NoError(t, m.Force(1))
	assert.Equal(t, 1, mm.forced)
	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")
}

func TestMigrator_Status(t *testing.T) {
	latest, err := LatestVersion()
	require.NoError(t, err)

	t.Run("fresh database has everything pending", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		st, err := m.Status()
		require.NoError(t, err)
		assert.Zero(t, st.Version)
		assert.Empty(t, st.Name)
		assert.Len(t, st.Pending, int(latest))
	})

	t.Run("first migration applied", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: 1}}
		st, err := m.Status()
		require.NoError(t, err)
		assert.Equal(t, "000001_initial", st.Name)
		assert.Equal(t, []uint{2}, st.Pending)
	})

	t.Run("at latest", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: latest}}
		st, err := m.Status()
		require.NoError(t, err)
		assert.Empty(t, st.Pending)
	})
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name      string
		srcErr    error
		dbErr     error
		component string
	}{
		{name: "source", srcErr: errors.New("source close failed"), component: "source"},
		{name: "database", dbErr: errors.New("db close failed"), component: "database"},
		{name: "both", srcErr: errors.New("source close failed"), dbErr: errors.New("db close failed"), component: "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &mockMigrate{closeSourceErr: tt.srcErr, closeDbErr: tt.dbErr}}
			err := m.Close()
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}

	assert.NoError(t, (&Migrator{m: &mockMigrate{}}).Close())
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(2)
	require.NoError(t, err)
	assert.Equal(t, "000002_security_log", name)

	name, err = MigrationName(999)
	require.NoError(t, err)
	assert.Empty(t, name)
}
