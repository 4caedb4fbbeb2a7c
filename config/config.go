package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config carries the auctiond process configuration.
type Config struct {
	ListenAddress    string        `toml:"ListenAddress"`
	DataDir          string        `toml:"DataDir"`
	DBBackend        string        `toml:"DBBackend"`
	Environment      string        `toml:"Environment"`
	Owner            string        `toml:"Owner"`
	FeeRecipient     string        `toml:"FeeRecipient"`
	PlatformFeeBps   uint32        `toml:"PlatformFeeBps"`
	SettlementPolicy string        `toml:"SettlementPolicy"`
	PriceMaxAge      time.Duration `toml:"-"`
	PriceMaxAgeRaw   string        `toml:"PriceMaxAge"`
	BasePriceFeedURL string        `toml:"BasePriceFeedURL"`

	AssetRegistries []AssetRegistryConfig `toml:"assetregistry"`
	Tokens          []TokenConfig         `toml:"token"`
	TokenFeeds      []TokenFeedConfig     `toml:"tokenfeed"`
}

// AssetRegistryConfig declares an asset registry collaborator. Its ledger
// address is derived from the name at startup.
type AssetRegistryConfig struct {
	Name string `toml:"Name"`
}

// TokenConfig declares a token-currency ledger collaborator. Its ledger
// address is derived from the symbol at startup.
type TokenConfig struct {
	Symbol string `toml:"Symbol"`
}

// TokenFeedConfig binds a token currency to its price feed endpoint.
type TokenFeedConfig struct {
	Token string `toml:"Token"`
	URL   string `toml:"URL"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:    "0.0.0.0:8545",
		DataDir:          "./auction-data",
		DBBackend:        "memory",
		Environment:      "dev",
		PlatformFeeBps:   200,
		SettlementPolicy: "owner",
		PriceMaxAge:      time.Hour,
		AssetRegistries:  []AssetRegistryConfig{{Name: "assets"}},
	}
}

// Load reads the configuration from path, creating the file with defaults
// when it does not exist yet.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := writeDefault(path, cfg); writeErr != nil {
			return nil, writeErr
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.PriceMaxAgeRaw != "" {
		age, err := time.ParseDuration(cfg.PriceMaxAgeRaw)
		if err != nil {
			return nil, fmt.Errorf("config: parse PriceMaxAge: %w", err)
		}
		cfg.PriceMaxAge = age
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	switch c.DBBackend {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("config: unknown DBBackend %q", c.DBBackend)
	}
	if c.DBBackend != "memory" && c.DataDir == "" {
		return fmt.Errorf("config: DataDir required for %s backend", c.DBBackend)
	}
	if c.PlatformFeeBps >= 10_000 {
		return fmt.Errorf("config: PlatformFeeBps %d out of range", c.PlatformFeeBps)
	}
	switch c.SettlementPolicy {
	case "", "owner", "anyone":
	default:
		return fmt.Errorf("config: unknown SettlementPolicy %q", c.SettlementPolicy)
	}
	for i, reg := range c.AssetRegistries {
		if reg.Name == "" {
			return fmt.Errorf("config: assetregistry %d missing Name", i)
		}
	}
	for i, tok := range c.Tokens {
		if tok.Symbol == "" {
			return fmt.Errorf("config: token %d missing Symbol", i)
		}
	}
	return nil
}

func writeDefault(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: write defaults: %w", err)
	}
	return nil
}
