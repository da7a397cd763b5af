// Package config loads geoingest's configuration, layering sources with
// precedence flags > environment > YAML file > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support plain numeric-with-suffix YAML
// values (the same grammar time.ParseDuration already accepts: "2s",
// "90s", "1h30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is geoingest's full runtime configuration.
type Config struct {
	// DumpURL is the HTTP location of the bzip2-compressed JSON entity
	// dump.
	DumpURL string `yaml:"dump_url" env:"GEOINGEST_DUMP_URL"`
	// SPARQLEndpoint is the classification oracle's query endpoint.
	SPARQLEndpoint string `yaml:"sparql_endpoint" env:"GEOINGEST_SPARQL_ENDPOINT"`
	// OutputPath is the destination SQLite database file.
	OutputPath string `yaml:"output_path" env:"GEOINGEST_OUTPUT_PATH"`
	// Workers is the parser pool size; zero means runtime.NumCPU().
	Workers int `yaml:"workers" env:"GEOINGEST_WORKERS"`
	// ProgressInterval controls how often the coordinator logs
	// percent/ETA/throughput.
	ProgressInterval Duration `yaml:"progress_interval" env:"GEOINGEST_PROGRESS_INTERVAL"`
	// MetricsAddr, if non-empty, serves Prometheus metrics at this address.
	MetricsAddr string `yaml:"metrics_addr" env:"GEOINGEST_METRICS_ADDR"`
	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose" env:"GEOINGEST_VERBOSE"`
	// LogFile, if non-empty, additionally logs to this file.
	LogFile string `yaml:"log_file" env:"GEOINGEST_LOG_FILE"`

	Seeds SeedsConfig `yaml:"classification_seeds"`
}

// SeedsConfig names the classification oracle's seed entity ids.
type SeedsConfig struct {
	TerritorialEntities  string   `yaml:"territorial_entities" env:"GEOINGEST_SEED_TERRITORIAL_ENTITIES"`
	HumanSettlements     string   `yaml:"human_settlements" env:"GEOINGEST_SEED_HUMAN_SETTLEMENTS"`
	SecondLevelAdminDivs string   `yaml:"second_level_admin_divs" env:"GEOINGEST_SEED_SECOND_LEVEL_ADMIN_DIVS"`
	Languages            string   `yaml:"languages" env:"GEOINGEST_SEED_LANGUAGES"`
	Excluded             []string `yaml:"excluded" envSeparator:","`
	ExcludedSettlements  []string `yaml:"excluded_settlements" envSeparator:","`
}

const (
	defaultDumpURL  = "https://dumps.wikimedia.org/wikidatawiki/entities/latest-all.json.bz2"
	defaultSPARQL   = "https://query.wikidata.org/sparql"
	defaultOutput   = "geo.db"
)

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		DumpURL:          defaultDumpURL,
		SPARQLEndpoint:   defaultSPARQL,
		OutputPath:       defaultOutput,
		Workers:          0,
		ProgressInterval: Duration(10 * time.Second),
		Seeds: SeedsConfig{
			TerritorialEntities:  "Q56061",
			HumanSettlements:     "Q486972",
			SecondLevelAdminDivs: "Q13220204",
			Languages:            "Q34770",
			Excluded:             []string{"Q2974842", "Q16732483", "Q123705"},
			ExcludedSettlements:  []string{"Q5146", "Q11751517"},
		},
	}
}

// Load builds the configuration: defaults, then an optional YAML file at
// path (if it exists; a missing file is not an error), then environment
// variable overrides (via .env/.env.local if present). Flags are applied
// by the caller afterward, last and therefore highest precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	// Loading .env files is best-effort: relying solely on real
	// environment variables is valid.
	_ = godotenv.Load(".env.local", ".env")

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: applying environment overrides: %w", err)
	}

	return cfg, nil
}

// Save writes cfg as YAML to path, creating its parent directory if
// needed. Used to seed a default config file for first-time operators.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	header := []byte("# geoingest configuration\n# Duration fields use Go's duration grammar (e.g. \"10s\", \"1h30m\").\n\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
