package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/vmplacer/internal/config"
)

func TestPoolConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DatabaseConfig{
		Host:            "db.example",
		Port:            5433,
		Name:            "vmplacer",
		User:            "placer",
		Password:        "secret",
		SSLMode:         "disable",
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: 3 * time.Minute,
	}

	pc, err := poolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "db.example", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "vmplacer", pc.ConnConfig.Database)
	assert.Equal(t, "placer", pc.ConnConfig.User)
	assert.Equal(t, int32(8), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, 3*time.Minute, pc.MaxConnLifetime)
}

func TestPoolConfig_IdleCappedByMax(t *testing.T) {
	t.Parallel()

	pc, err := poolConfig(config.DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "vmplacer", User: "u", SSLMode: "disable",
		MaxOpenConns: 2, MaxIdleConns: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pc.MinConns)
}

func TestPoolConfig_Invalid(t *testing.T) {
	t.Parallel()

	_, err := poolConfig(config.DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "bogus"})
	assert.Error(t, err)
}
