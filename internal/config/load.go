package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TASKCORE"

// Loader wraps a viper instance bound to a cobra command's flags, the
// same init/bind shape the teacher's root command uses for its own
// config (cfgFile flag + env override + defaults).
type Loader struct {
	v       *viperlib.Viper
	cfgFile string
}

// NewLoader builds a Loader and registers its flags on cmd.
func NewLoader(cmd *cobra.Command) *Loader {
	l := &Loader{v: viperlib.New()}
	cmd.PersistentFlags().StringVarP(&l.cfgFile, "config", "c", "",
		"config file (default: ./taskcore.yaml or $HOME/.config/taskcore/config.yaml)")
	return l
}

// Load reads defaults, then the config file (if any), then environment
// variables (TASKCORE_* prefix, "_" as the nesting separator), producing
// the final Config. No tunable is bound to a command-line flag; the only
// flag is --config, which picks the file.
func (l *Loader) Load() (Config, error) {
	defaults := Defaults()
	l.v.SetDefault("sla", defaults.SLA)
	l.v.SetDefault("warning_marks", defaults.WarningMarks)
	l.v.SetDefault("presence_ttl", defaults.PresenceTTL)
	l.v.SetDefault("assign_tick", defaults.AssignTick)
	l.v.SetDefault("deadline_tick", defaults.DeadlineTick)
	l.v.SetDefault("max_retries", defaults.MaxRetries)
	l.v.SetDefault("warnings_before_violation", defaults.WarningsBeforeViolation)
	l.v.SetDefault("violations_before_suspension", defaults.ViolationsBeforeSuspension)
	l.v.SetDefault("score_threshold", defaults.ScoreThreshold)
	l.v.SetDefault("http.intake_addr", defaults.HTTP.IntakeAddr)
	l.v.SetDefault("http.gateway_addr", defaults.HTTP.GatewayAddr)
	l.v.SetDefault("http.metrics_addr", defaults.HTTP.MetricsAddr)

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.cfgFile != "" {
		l.v.SetConfigFile(l.cfgFile)
	} else {
		if _, err := os.Stat("taskcore.yaml"); err == nil {
			l.v.SetConfigFile("taskcore.yaml")
		} else {
			home, _ := os.UserHomeDir()
			l.v.AddConfigPath(filepath.Join(home, ".config", "taskcore"))
			l.v.SetConfigName("config")
			l.v.SetConfigType("yaml")
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ConfigFileUsed returns the path actually loaded, empty if none.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// WriteDefaultsYAML renders Defaults() as YAML and writes it to path,
// for the `taskcore config init` scaffolding command. Fails closed if
// path already exists so it never clobbers an operator's edits.
func WriteDefaultsYAML(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New("config file already exists: " + path)
	}
	out, err := yaml.Marshal(Defaults())
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
