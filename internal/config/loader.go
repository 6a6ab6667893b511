package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Load reads the process configuration from file, environment and
// defaults.
func Load(opts ...LoaderOption) (*Config, error) {
	loader := NewLoader(opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Loader reads and merges configuration from its sources: built-in
// defaults, then the config file, then CYCLEFLOW_* environment
// variables.
type Loader struct {
	lock       sync.Mutex
	configFile string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit configuration file path instead of
// the XDG search path.
func WithConfigFile(file string) LoaderOption {
	return func(l *Loader) {
		l.configFile = file
	}
}

// NewLoader creates a Loader and applies the given options.
func NewLoader(opts ...LoaderOption) *Loader {
	loader := &Loader{}
	for _, opt := range opts {
		opt(loader)
	}
	return loader
}

type definition struct {
	Debug     bool   `mapstructure:"debug"`
	Quiet     bool   `mapstructure:"quiet"`
	LogFormat string `mapstructure:"logFormat"`
	WorkDir   string `mapstructure:"workDir"`

	Scheduler schedulerDef `mapstructure:"scheduler"`
}

type schedulerDef struct {
	LoopInterval      string `mapstructure:"loopInterval"`
	StallTimeout      string `mapstructure:"stallTimeout"`
	InactivityTimeout string `mapstructure:"inactivityTimeout"`
	AbortOnStall      bool   `mapstructure:"abortOnStall"`
	AbortOnInactivity bool   `mapstructure:"abortOnInactivity"`
	ValidationHorizon string `mapstructure:"validationHorizon"`
}

// Load initializes viper, reads the configuration file if present and
// returns the built Config.
func (l *Loader) Load() (*Config, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	v := viper.New()
	l.setup(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def definition
	if err := v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := build(def)
	if err != nil {
		return nil, err
	}
	cfg.ConfigUsed = v.ConfigFileUsed()
	return cfg, nil
}

func (l *Loader) setup(v *viper.Viper) {
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "cycleflow"))
		v.AddConfigPath("/etc/cycleflow")
	}

	v.SetEnvPrefix("CYCLEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so environment overrides survive
	// Unmarshal.
	v.SetDefault("debug", false)
	v.SetDefault("quiet", false)
	v.SetDefault("workDir", "")
	v.SetDefault("logFormat", "text")
	v.SetDefault("scheduler.loopInterval", "1s")
	v.SetDefault("scheduler.stallTimeout", "10m")
	v.SetDefault("scheduler.inactivityTimeout", "0")
	v.SetDefault("scheduler.abortOnStall", true)
	v.SetDefault("scheduler.abortOnInactivity", false)
	v.SetDefault("scheduler.validationHorizon", "")
}

func build(def definition) (*Config, error) {
	cfg := &Config{
		Global: Global{
			Debug:     def.Debug,
			Quiet:     def.Quiet,
			LogFormat: def.LogFormat,
			WorkDir:   def.WorkDir,
		},
		Scheduler: Scheduler{
			AbortOnStall:      def.Scheduler.AbortOnStall,
			AbortOnInactivity: def.Scheduler.AbortOnInactivity,
			ValidationHorizon: def.Scheduler.ValidationHorizon,
		},
	}

	var err error
	if cfg.Scheduler.LoopInterval, err = parseDuration("scheduler.loopInterval", def.Scheduler.LoopInterval); err != nil {
		return nil, err
	}
	if cfg.Scheduler.StallTimeout, err = parseDuration("scheduler.stallTimeout", def.Scheduler.StallTimeout); err != nil {
		return nil, err
	}
	if cfg.Scheduler.InactivityTimeout, err = parseDuration("scheduler.inactivityTimeout", def.Scheduler.InactivityTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
