package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
seed_env_var = "TEST_SEED"

[[chains]]
name = "kalatori-testnet"
endpoints = ["wss://a.example", "wss://b.example"]
ss58_prefix = 42

[chains.native_token]
name = "KLT"
decimals = 12

[[chains.assets]]
name = "USDK"
id = 7
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chaind.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func TestLoadAndDescriptors(t *testing.T) {
	path := writeSample(t)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "TEST_SEED", cfg.SeedEnvVar)
	require.Len(t, cfg.Chains, 1)

	descriptors, err := cfg.Descriptors()
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.Equal(t, "kalatori-testnet", descriptors[0].Name)
	require.Equal(t, 2, descriptors[0].AssetCount())
}

func TestLoadRejectsEmptyChainList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.toml")
	require.NoError(t, os.WriteFile(path, []byte("seed_env_var = \"X\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestMnemonicReadsEnv(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	t.Setenv("TEST_SEED", "abandon abandon abandon")
	m, err := cfg.Mnemonic()
	require.NoError(t, err)
	require.Equal(t, "abandon abandon abandon", m)
}
