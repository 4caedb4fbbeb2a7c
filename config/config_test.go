package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8545", cfg.ListenAddress)
	require.Equal(t, "memory", cfg.DBBackend)
	require.Equal(t, uint32(200), cfg.PlatformFeeBps)
	require.Equal(t, "owner", cfg.SettlementPolicy)
	// The default ships one asset registry so listings work out of the box.
	require.Equal(t, []AssetRegistryConfig{{Name: "assets"}}, cfg.AssetRegistries)

	// The defaults were written out for the operator to edit.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/auctiond"
DBBackend = "leveldb"
Environment = "prod"
Owner = "0x0000000000000000000000000000000000000001"
FeeRecipient = "0x0000000000000000000000000000000000000005"
PlatformFeeBps = 150
SettlementPolicy = "anyone"
PriceMaxAge = "30m"
BasePriceFeedURL = "https://oracle.example.com/base"

[[assetregistry]]
Name = "collectibles"

[[token]]
Symbol = "TOK"

[[tokenfeed]]
Token = "0x000000000000000000000000000000000000000a"
URL = "https://oracle.example.com/tok"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.DBBackend)
	require.Equal(t, uint32(150), cfg.PlatformFeeBps)
	require.Equal(t, "anyone", cfg.SettlementPolicy)
	require.Equal(t, 30*time.Minute, cfg.PriceMaxAge)
	require.Len(t, cfg.TokenFeeds, 1)
	require.Equal(t, "https://oracle.example.com/tok", cfg.TokenFeeds[0].URL)
	require.Equal(t, []AssetRegistryConfig{{Name: "collectibles"}}, cfg.AssetRegistries)
	require.Equal(t, []TokenConfig{{Symbol: "TOK"}}, cfg.Tokens)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad backend", "DBBackend = \"redis\"\n"},
		{"fee too high", "PlatformFeeBps = 10000\n"},
		{"bad policy", "SettlementPolicy = \"seller\"\n"},
		{"bad duration", "PriceMaxAge = \"soon\"\n"},
		{"missing data dir", "DBBackend = \"bolt\"\nDataDir = \"\"\n"},
		{"registry without name", "[[assetregistry]]\nName = \"\"\n"},
		{"token without symbol", "[[token]]\nSymbol = \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}
