package utils

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"bounty-overlay/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPostgresDisabled(t *testing.T) {
	db, err := OpenPostgres(context.Background(), config.PostgresConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestOpenRedis(t *testing.T) {
	assert.Nil(t, OpenRedis(config.RedisConfig{Enabled: false}))

	mr := miniredis.RunT(t)
	rc := OpenRedis(config.RedisConfig{Enabled: true, Host: mr.Host(), Port: mr.Port()})
	require.NotNil(t, rc)
	defer rc.Close()
	require.NoError(t, rc.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestEnsureCert(t *testing.T) {
	dir := t.TempDir()
	cfg := config.TLSConfig{
		CertPath: filepath.Join(dir, "certs", "server.crt"),
		KeyPath:  filepath.Join(dir, "keys", "server.key"),
		Host:     "overlay.test",
	}
	require.NoError(t, EnsureCert(cfg))
	pair, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "overlay.test")

	before, err := os.ReadFile(cfg.CertPath)
	require.NoError(t, err)
	require.NoError(t, EnsureCert(cfg))
	after, err := os.ReadFile(cfg.CertPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
