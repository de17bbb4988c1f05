package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialector_PicksDriverFromDSN(t *testing.T) {
	cases := []struct {
		dsn  string
		name string
	}{
		{"postgres://u:p@localhost:5432/db", "postgres"},
		{"host=localhost user=postgres dbname=db", "postgres"},
		{"sqlite:file::memory:", "sqlite"},
		{"app:apppass@tcp(127.0.0.1:3306)/ai_interview", "mysql"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.name, Dialector(tc.dsn).Name(), tc.dsn)
	}
}

func TestConnectAndMigrate_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite:" + filepath.Join(t.TempDir(), "interview.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	assert.True(t, gdb.Migrator().HasTable("interviews"))
	assert.True(t, gdb.Migrator().HasTable("questions"))
	assert.True(t, gdb.Migrator().HasTable("job_infos"))
}
