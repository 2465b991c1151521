// Package config loads the explicitly injected daemon configuration:
// ledger endpoint, contract identity, chain identity, and per-component
// settings. There is no process-wide singleton; the loaded struct is passed
// to constructors.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ratnathegod/satellite-sla-marketplace/api"
	"github.com/ratnathegod/satellite-sla-marketplace/content"
	"github.com/ratnathegod/satellite-sla-marketplace/events"
	"github.com/ratnathegod/satellite-sla-marketplace/indexer"
	"github.com/ratnathegod/satellite-sla-marketplace/scandb"
)

type Config struct {
	// LedgerEndpoint is the ledger RPC endpoint; empty selects the
	// in-process simulation ledger.
	LedgerEndpoint string `yaml:"ledgerEndpoint"`
	// ChainID names the ledger network this deployment targets.
	ChainID string `yaml:"chainId"`
	// Contract is the escrow contract identity, hex-encoded.
	Contract string `yaml:"contract"`
	// Arbiter is the dispute arbiter identity, hex-encoded.
	Arbiter string `yaml:"arbiter"`

	Reader   *events.Config          `yaml:"reader"`
	Content  *content.Config         `yaml:"content"`
	Prefetch *content.PrefetchConfig `yaml:"prefetch"`
	ScanDB   *scandb.Config          `yaml:"scandb"`
	Indexer  *indexer.Config         `yaml:"indexer"`
	Monitor  *indexer.MonitorConfig  `yaml:"monitor"`
	API      *api.Config             `yaml:"api"`
}

func Default() *Config {
	return &Config{
		ChainID:  "local",
		Reader:   events.DefaultConfig(),
		Content:  content.DefaultConfig(),
		Prefetch: content.DefaultPrefetchConfig(),
		ScanDB:   scandb.DefaultConfig(),
		Indexer:  indexer.DefaultConfig(),
		Monitor:  indexer.DefaultMonitorConfig(),
		API:      api.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ChainID == "" {
		return errors.New("chain id not set")
	}
	if c.Reader != nil {
		if err := c.Reader.Validate(); err != nil {
			return err
		}
	}
	if c.Content != nil {
		if err := c.Content.Validate(); err != nil {
			return err
		}
	}
	if c.Prefetch != nil {
		if err := c.Prefetch.Validate(); err != nil {
			return err
		}
	}
	if c.ScanDB != nil {
		if err := c.ScanDB.Validate(); err != nil {
			return err
		}
	}
	if c.Indexer != nil {
		if err := c.Indexer.Validate(); err != nil {
			return err
		}
	}
	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return err
		}
	}
	return nil
}
