// Package config loads simulation definitions from YAML and turns them into
// runnable systems. A definition carries the price universe, the method/rule
// wiring with possibly swept parameters, and the sweep settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"backsim/internal/rules"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration of a simulation or sweep.
type Config struct {
	Storage Storage `yaml:"storage"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`

	Universe Universe  `yaml:"universe"`
	System   SystemDef `yaml:"system"`
	Sweep    SweepDef  `yaml:"sweep"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials for the market data download tool.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Universe selects the price data a simulation runs on. An empty symbol
// list means every symbol in the price store.
type Universe struct {
	Market  string   `yaml:"market"`
	Index   string   `yaml:"index"`
	Symbols []string `yaml:"symbols"`
	Start   string   `yaml:"start"`
	End     string   `yaml:"end"`
}

// StartDate parses the universe start date.
func (u Universe) StartDate() (time.Time, error) { return parseDate(u.Start) }

// EndDate parses the universe end date.
func (u Universe) EndDate() (time.Time, error) { return parseDate(u.End) }

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// SystemDef is the declarative form of a trading system. Rule parameters
// may be sweep modes; Build resolves them to concrete values.
type SystemDef struct {
	Name       string      `yaml:"name"`
	StartCash  float64     `yaml:"start_cash"`
	Allocation RuleDef     `yaml:"allocation"`
	Equity     []RuleDef   `yaml:"equity"`
	Market     RuleDef     `yaml:"market"`
	Methods    []MethodDef `yaml:"methods"`
}

// MethodDef declares one method: its direction, market-type mask and rules.
type MethodDef struct {
	Name       string    `yaml:"name"`
	Direction  string    `yaml:"direction"`  // long or short
	MarketType []string  `yaml:"markettype"` // any combination of up/flat/down
	Rank       *RuleDef  `yaml:"rank"`
	Entries    []RuleDef `yaml:"entries"`
	Exits      []RuleDef `yaml:"exits"`
}

// RuleDef is one rule reference: its tag plus parameters. Numeric
// parameters may be fixed, enumerated, random or a reported variable;
// string parameters (timings, comparison ops, exceed choices) are always
// fixed.
type RuleDef struct {
	Rule   string
	Params map[string]rules.Mode
	Strs   map[string]string
}

func (d *RuleDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("rule definition must be a mapping")
	}
	d.Params = make(map[string]rules.Mode)
	d.Strs = make(map[string]string)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		if key == "rule" {
			if err := val.Decode(&d.Rule); err != nil {
				return fmt.Errorf("rule tag: %v", err)
			}
			continue
		}
		if val.Kind == yaml.ScalarNode {
			switch val.Tag {
			case "!!str":
				d.Strs[key] = val.Value
				continue
			case "!!bool":
				var b bool
				if err := val.Decode(&b); err != nil {
					return fmt.Errorf("parameter %q: %v", key, err)
				}
				m := rules.Mode{Kind: rules.Fixed}
				if b {
					m.Value = 1
				}
				d.Params[key] = m
				continue
			}
		}
		var m rules.Mode
		if err := m.UnmarshalYAML(val); err != nil {
			return fmt.Errorf("parameter %q: %w", key, err)
		}
		d.Params[key] = m
	}
	if d.Rule == "" {
		return fmt.Errorf("rule definition without a rule tag")
	}
	return nil
}

// SweepDef configures the parameter sweep runner.
type SweepDef struct {
	Runs       int   `yaml:"runs"` // runs per variant, for random modes
	Seed       int64 `yaml:"seed"`
	MaxWorkers int   `yaml:"max_workers"`
	MinTrades  int   `yaml:"min_trades"` // keeper condition
	MaxResults int   `yaml:"max_results"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration at path and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Universe.Market == "" {
		cfg.Universe.Market = "us"
	}
	if cfg.System.StartCash == 0 {
		cfg.System.StartCash = 100000
	}
	if cfg.System.Market.Rule == "" {
		cfg.System.Market = RuleDef{Rule: "all"}
	}
	if cfg.Sweep.Runs == 0 {
		cfg.Sweep.Runs = 1
	}
	if cfg.Sweep.MaxWorkers == 0 {
		cfg.Sweep.MaxWorkers = 4
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	// Canonical Alpaca SDK variable names take priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
