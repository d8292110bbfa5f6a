// Package config loads keyslot settings from flags, KEYSLOT_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/keyslot/internal/topology"
)

// EnvPrefix is prepended to every environment variable, e.g. KEYSLOT_BASE_PORT.
const EnvPrefix = "keyslot"

const (
	IDsUUID       = "uuid"
	IDsSequential = "sequential"
)

// ErrInvalidConfig is wrapped by every validation failure in Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the settings shared by every keyslot command.
type Config struct {
	LogLevel  string `yaml:"log-level"`
	Host      string `yaml:"host"`
	BasePort  int    `yaml:"base-port"`
	Owners    int    `yaml:"owners"`
	Format    string `yaml:"format"`
	IDs       string `yaml:"ids"`
	Listen    string `yaml:"listen"`
	Blueprint string `yaml:"blueprint"`
}

// Default returns a baseline config for a local three-owner cluster.
func Default() Config {
	return Config{
		LogLevel: "info",
		Host:     topology.DefaultHost,
		BasePort: topology.DefaultBasePort,
		Owners:   topology.RecommendedOwners,
		Format:   string(topology.FormatYAML),
		IDs:      IDsUUID,
		Listen:   "127.0.0.1:8080",
	}
}

// Flags returns a flag set carrying every config key with its default value.
func Flags() *pflag.FlagSet {
	d := Default()

	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.String("config", "", "specifies a YAML config file to load")
	fs.String("log-level", d.LogLevel, "the log level to run at")
	fs.String("host", d.Host, "the host every planned node is placed on")
	fs.Int("base-port", d.BasePort, "the port of the first owner node")
	fs.Int("owners", d.Owners, "the number of owner nodes to plan")
	fs.String("format", d.Format, "the blueprint format (yaml or json)")
	fs.String("ids", d.IDs, "the node id scheme (uuid or sequential)")
	fs.String("listen", d.Listen, "the address the HTTP API listens on")
	fs.String("blueprint", d.Blueprint, "path to a blueprint file to load")
	return fs
}

// Bind wires a flag set and the KEYSLOT_* environment into v.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	return errors.Wrap(v.BindPFlags(fs), "failed to bind flags")
}

// ReadFile merges a YAML config file into v. Values set by flags or the
// environment still take precedence.
func ReadFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return errors.Wrap(v.MergeConfigMap(values), "failed to merge config file")
}

// Load reads and validates a Config from v. If v carries a "config" path,
// that file is merged first.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		if err := ReadFile(v, path); err != nil {
			return Config{}, err
		}
	}

	d := Default()
	for key, value := range map[string]any{
		"log-level": d.LogLevel,
		"host":      d.Host,
		"base-port": d.BasePort,
		"owners":    d.Owners,
		"format":    d.Format,
		"ids":       d.IDs,
		"listen":    d.Listen,
		"blueprint": d.Blueprint,
	} {
		v.SetDefault(key, value)
	}

	cfg := Config{
		LogLevel:  v.GetString("log-level"),
		Host:      v.GetString("host"),
		BasePort:  v.GetInt("base-port"),
		Owners:    v.GetInt("owners"),
		Format:    strings.ToLower(strings.TrimSpace(v.GetString("format"))),
		IDs:       strings.ToLower(strings.TrimSpace(v.GetString("ids"))),
		Listen:    v.GetString("listen"),
		Blueprint: v.GetString("blueprint"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field for a usable value.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return invalid("log-level %q", c.LogLevel)
	}
	if c.Host == "" {
		return invalid("host must not be empty")
	}
	if c.BasePort < 1 || c.BasePort > 65535 {
		return invalid("base-port %d not in [1, 65535]", c.BasePort)
	}
	if c.Owners < 1 || c.Owners > topology.MaxOwners {
		return invalid("owners %d not in [1, %d]", c.Owners, topology.MaxOwners)
	}
	if _, err := topology.ParseFormat(c.Format); err != nil {
		return invalid("format %q", c.Format)
	}
	if c.IDs != IDsUUID && c.IDs != IDsSequential {
		return invalid("ids %q, want %s or %s", c.IDs, IDsUUID, IDsSequential)
	}
	if c.Listen == "" {
		return invalid("listen must not be empty")
	}
	return nil
}

// BlueprintFormat returns the configured blueprint format. Only meaningful on
// a validated Config.
func (c Config) BlueprintFormat() topology.Format {
	f, _ := topology.ParseFormat(c.Format)
	return f
}

// Planner builds a topology planner from the host, port and id settings.
func (c Config) Planner(logger *zap.Logger) *topology.Planner {
	var ids topology.IDGenerator = topology.UUIDGenerator{}
	if c.IDs == IDsSequential {
		ids = topology.NewSequentialGenerator("node")
	}
	return topology.NewPlanner(topology.PlannerOptions{
		Host:     c.Host,
		BasePort: c.BasePort,
		IDs:      ids,
		Logger:   logger,
	})
}
