package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	require.Equal(t, 1, migrations[0].version)

	for i := 1; i < len(migrations); i++ {
		require.Less(t, migrations[i-1].version, migrations[i].version)
	}

	require.Contains(t, migrations[0].content, "journal_sessions")
}

func TestPoolConfigDefaults(t *testing.T) {
	cfg := &PoolConfig{}
	cfg.ApplyDefaults()
	require.Error(t, cfg.Validate())

	cfg.ConnString = "postgres://localhost/engagetrack"
	require.NoError(t, cfg.Validate())
	require.Equal(t, int32(4), cfg.MaxConns)

	cfg.MinConns = 10
	require.Error(t, cfg.Validate())
}
