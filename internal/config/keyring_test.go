package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringManager_SaveGetDelete(t *testing.T) {
	keyring.MockInit()
	km := NewKeyringManager()
	require.True(t, km.IsAvailable())

	password, err := km.GetNeo4jPassword()
	require.NoError(t, err)
	assert.Empty(t, password)

	require.NoError(t, km.SaveNeo4jPassword("hunter22"))
	password, err = km.GetNeo4jPassword()
	require.NoError(t, err)
	assert.Equal(t, "hunter22", password)

	require.NoError(t, km.DeleteNeo4jPassword())
	require.NoError(t, km.DeleteNeo4jPassword(), "deleting twice is fine")

	assert.Error(t, km.SaveNeo4jPassword(""))
}

func TestResolveNeo4jPassword(t *testing.T) {
	keyring.MockInit()
	km := NewKeyringManager()
	t.Setenv("NEO4J_PASSWORD", "")

	cfg := Default()
	assert.Equal(t, "none", km.ResolveNeo4jPassword(cfg).Source)

	require.NoError(t, km.SaveNeo4jPassword("from-keychain"))
	src := km.ResolveNeo4jPassword(cfg)
	assert.Equal(t, "keychain", src.Source)
	assert.True(t, src.Secure)
	assert.Equal(t, "from-keychain", cfg.Neo4j.Password)

	cfg = Default()
	cfg.Neo4j.Password = "plaintext"
	src = km.ResolveNeo4jPassword(cfg)
	assert.Equal(t, "config", src.Source)
	assert.False(t, src.Secure)

	t.Setenv("NEO4J_PASSWORD", "from-env")
	assert.Equal(t, "env", km.ResolveNeo4jPassword(cfg).Source)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "hu...22", MaskSecret("hunter22"))
}
