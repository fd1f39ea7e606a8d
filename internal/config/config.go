package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/recbench/internal/strategy"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Data       Data            `yaml:"data"`
	Evaluation Evaluation      `yaml:"evaluation"`
	Sampling   Sampling        `yaml:"sampling"`
	Location   Location        `yaml:"location"`
	Models     strategy.Params `yaml:"models"`
	Output     Output          `yaml:"output"`
	Server     Server          `yaml:"server"`
	Logging    Logging         `yaml:"logging"`
}

// Data locates the ingestion pipeline's files. Relative file names are
// resolved against Dir.
type Data struct {
	Dir        string `yaml:"dir"`
	Ratings    string `yaml:"ratings"`
	UserCities string `yaml:"user_cities"`
	ItemCities string `yaml:"item_cities"`
	LegacyIDs  string `yaml:"legacy_ids"`
	Separator  string `yaml:"separator"`
}

type Evaluation struct {
	Models     []string      `yaml:"models"`
	TopK       int           `yaml:"top_k"`
	RemoveSeen bool          `yaml:"remove_seen"`
	Threshold  float64       `yaml:"threshold"`
	Horizons   Horizons      `yaml:"horizons"`
	Rounds     int           `yaml:"rounds"`
	Workers    int           `yaml:"workers"`
	Timeout    time.Duration `yaml:"timeout"`
	// ComputeSlots bounds concurrent model fits on the shared session.
	ComputeSlots int `yaml:"compute_slots"`
}

// Horizons are rating counts, or fractions of each user's ratings when
// Ratio is set.
type Horizons struct {
	Values []float64 `yaml:"values"`
	Ratio  bool      `yaml:"ratio"`
}

type Sampling struct {
	Mode       string  `yaml:"mode"`
	Users      []int64 `yaml:"users"`
	Size       int     `yaml:"size"`
	MinRatings int     `yaml:"min_ratings"`
	// Seeds holds one seed per round. Missing or null entries sample
	// without a fixed seed.
	Seeds []*uint64 `yaml:"seeds"`
}

type Location struct {
	LatestOnly    bool `yaml:"latest_only"`
	LatestLimiter int  `yaml:"latest_limiter"`
}

type Output struct {
	DataDir    string `yaml:"data_dir"`
	ResultsDir string `yaml:"results_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode"`
}

// ConfigDir returns the XDG config directory for recbench.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "recbench")
}

// DataDir returns the XDG data directory for recbench.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "recbench")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/recbench/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'recbench init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Data: Data{
			Dir:        "data",
			Ratings:    "dedup_filtered_reviews.data",
			UserCities: "int_user_id_to_cities.data",
			ItemCities: "feature_id_to_cities.data",
			LegacyIDs:  "restaurants_id_to_int.data",
			Separator:  "\t",
		},
		Evaluation: Evaluation{
			Models:       []string{strategy.ModelBaseline},
			TopK:         10,
			RemoveSeen:   true,
			Threshold:    3,
			Horizons:     Horizons{Values: []float64{0.3, 0.5, 0.7}, Ratio: true},
			Rounds:       1,
			Workers:      4,
			Timeout:      5 * time.Minute,
			ComputeSlots: 2,
		},
		Sampling: Sampling{
			Mode:       "random",
			Size:       70,
			MinRatings: 50,
		},
		Location: Location{LatestOnly: true, LatestLimiter: 3},
		Models:   strategy.DefaultParams(),
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO", Mode: "development"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration before any data is loaded. Unknown
// model names fail with *strategy.UnknownModelError.
func (c *Config) Validate() error {
	if len(c.Evaluation.Models) == 0 {
		return errors.New("evaluation.models: at least one model is required")
	}
	if err := strategy.Validate(c.Evaluation.Models); err != nil {
		return fmt.Errorf("evaluation.models: %w", err)
	}
	if c.Evaluation.TopK <= 0 {
		return fmt.Errorf("evaluation.top_k must be positive, got %d", c.Evaluation.TopK)
	}
	if len(c.Evaluation.Horizons.Values) == 0 {
		return errors.New("evaluation.horizons.values: at least one horizon is required")
	}
	for _, h := range c.Evaluation.Horizons.Values {
		if c.Evaluation.Horizons.Ratio && (h <= 0 || h > 1) {
			return fmt.Errorf("evaluation.horizons.values: ratio %v outside (0, 1]", h)
		}
		if !c.Evaluation.Horizons.Ratio && h < 1 {
			return fmt.Errorf("evaluation.horizons.values: count %v below 1", h)
		}
	}
	if c.Evaluation.Rounds < 1 {
		return fmt.Errorf("evaluation.rounds must be at least 1, got %d", c.Evaluation.Rounds)
	}
	if c.Evaluation.Workers < 1 {
		return fmt.Errorf("evaluation.workers must be at least 1, got %d", c.Evaluation.Workers)
	}
	if c.Evaluation.Timeout < 0 {
		return fmt.Errorf("evaluation.timeout must not be negative, got %s", c.Evaluation.Timeout)
	}

	switch c.Sampling.Mode {
	case "list":
		if len(c.Sampling.Users) == 0 {
			return errors.New("sampling.users: list mode needs at least one user")
		}
	case "random":
		if c.Sampling.Size <= 0 {
			return fmt.Errorf("sampling.size must be positive in random mode, got %d", c.Sampling.Size)
		}
	case "all":
	default:
		return fmt.Errorf("sampling.mode: unknown mode %q (want list, random or all)", c.Sampling.Mode)
	}

	if c.Location.LatestOnly && c.Location.LatestLimiter < 1 {
		return fmt.Errorf("location.latest_limiter must be at least 1, got %d", c.Location.LatestLimiter)
	}
	switch c.Models.Anchor {
	case strategy.AnchorUser, strategy.AnchorGlobal, "":
	default:
		return fmt.Errorf("models.anchor: unknown anchor %q (want user or global)", c.Models.Anchor)
	}
	if utf8.RuneCountInString(c.Data.Separator) != 1 {
		return fmt.Errorf("data.separator: %q must be a single character", c.Data.Separator)
	}
	return nil
}

// SeedForRound returns the sampling seed of a zero-based round, or nil.
func (c *Config) SeedForRound(round int) *uint64 {
	if round < 0 || round >= len(c.Sampling.Seeds) {
		return nil
	}
	return c.Sampling.Seeds[round]
}

// DataPath resolves a data file name against Data.Dir. Empty names stay
// empty.
func (c *Config) DataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Data.Dir, name)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetResultsDir returns where run directories are created.
func (c *Config) GetResultsDir() string {
	if c.Output.ResultsDir != "" {
		return c.Output.ResultsDir
	}
	return filepath.Join(c.GetDataDir(), "output")
}

// DBPath returns the run history database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "recbench.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
