// Package config loads the daemon's chain list and tuning parameters
// from a TOML file, decoded with github.com/BurntSushi/toml. Process-wide
// logging setup and the HTTP-facing order-database config are external
// collaborators and out of scope here.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/kalatori/chaind/internal/chain"
)

// ChainConfig is the TOML shape of one configured chain.
type ChainConfig struct {
	Name       string   `toml:"name"`
	Endpoints  []string `toml:"endpoints"`
	SS58Prefix uint16   `toml:"ss58_prefix"`

	NativeToken *NativeTokenConfig `toml:"native_token"`
	Assets      []AssetConfig      `toml:"assets"`
}

type NativeTokenConfig struct {
	Name     string `toml:"name"`
	Decimals uint8  `toml:"decimals"`
}

type AssetConfig struct {
	Name string `toml:"name"`
	ID   uint32 `toml:"id"`
}

// Config is the full daemon configuration.
type Config struct {
	// SeedEnvVar names the environment variable the signer worker reads
	// its mnemonic from. Defaults to KALATORI_SEED.
	SeedEnvVar string `toml:"seed_env_var"`

	Chains []ChainConfig `toml:"chains"`
}

// Load reads and validates a TOML config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.SeedEnvVar == "" {
		cfg.SeedEnvVar = "KALATORI_SEED"
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("config: %s declares no chains", path)
	}
	return &cfg, nil
}

// Descriptors converts the loaded config into chain.Descriptor values,
// validating each one.
func (c *Config) Descriptors() ([]chain.Descriptor, error) {
	out := make([]chain.Descriptor, 0, len(c.Chains))
	for _, cc := range c.Chains {
		d := chain.Descriptor{
			Name:       cc.Name,
			Endpoints:  cc.Endpoints,
			SS58Prefix: cc.SS58Prefix,
		}
		if cc.NativeToken != nil {
			d.NativeToken = &chain.NativeToken{Name: cc.NativeToken.Name, Decimals: cc.NativeToken.Decimals}
		}
		for _, a := range cc.Assets {
			d.Assets = append(d.Assets, chain.AssetEntry{Name: a.Name, ID: a.ID})
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Mnemonic reads the signer's seed phrase from the configured
// environment variable.
func (c *Config) Mnemonic() (string, error) {
	v := os.Getenv(c.SeedEnvVar)
	if v == "" {
		return "", fmt.Errorf("config: environment variable %s is not set", c.SeedEnvVar)
	}
	return v, nil
}
