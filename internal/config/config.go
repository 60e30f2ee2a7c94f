package config

import (
	"log"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000" yaml:"listen_addr"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data" yaml:"data_path"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/coshell.db" yaml:"database_path"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/coshell.log" yaml:"log_path"`
	ConfigFile   string `envconfig:"CONFIG_FILE" default:"" yaml:"-"`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false" yaml:"auth_disabled"`

	// Relay settings
	FlushThreshold   int    `envconfig:"FLUSH_THRESHOLD" default:"65536" yaml:"flush_threshold"`
	CredentialTTL    string `envconfig:"CREDENTIAL_TTL" default:"60s" yaml:"credential_ttl"`
	PumpPollInterval string `envconfig:"PUMP_POLL_INTERVAL" default:"100ms" yaml:"pump_poll_interval"`
	PumpIdleTimeout  string `envconfig:"PUMP_IDLE_TIMEOUT" default:"30s" yaml:"pump_idle_timeout"`
	MinViewportCols  int    `envconfig:"MIN_VIEWPORT_COLS" default:"20" yaml:"min_viewport_cols"`
	MinViewportRows  int    `envconfig:"MIN_VIEWPORT_ROWS" default:"12" yaml:"min_viewport_rows"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("COSHELL", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.ConfigFile != "" {
		if err := applyFile(Cfg.ConfigFile); err != nil {
			log.Fatalf("failed to load config file %s: %v", Cfg.ConfigFile, err)
		}
	}
}

// fileOverlay mirrors Settings with pointer fields so a config file only
// overrides the keys it actually sets.
type fileOverlay struct {
	ListenAddr       *string `yaml:"listen_addr"`
	DataPath         *string `yaml:"data_path"`
	DatabasePath     *string `yaml:"database_path"`
	LogPath          *string `yaml:"log_path"`
	AuthDisabled     *bool   `yaml:"auth_disabled"`
	FlushThreshold   *int    `yaml:"flush_threshold"`
	CredentialTTL    *string `yaml:"credential_ttl"`
	PumpPollInterval *string `yaml:"pump_poll_interval"`
	PumpIdleTimeout  *string `yaml:"pump_idle_timeout"`
	MinViewportCols  *int    `yaml:"min_viewport_cols"`
	MinViewportRows  *int    `yaml:"min_viewport_rows"`
}

func applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var o fileOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return err
	}

	if o.ListenAddr != nil {
		Cfg.ListenAddr = *o.ListenAddr
	}
	if o.DataPath != nil {
		Cfg.DataPath = *o.DataPath
	}
	if o.DatabasePath != nil {
		Cfg.DatabasePath = *o.DatabasePath
	}
	if o.LogPath != nil {
		Cfg.LogPath = *o.LogPath
	}
	if o.AuthDisabled != nil {
		Cfg.AuthDisabled = *o.AuthDisabled
	}
	if o.FlushThreshold != nil {
		Cfg.FlushThreshold = *o.FlushThreshold
	}
	if o.CredentialTTL != nil {
		Cfg.CredentialTTL = *o.CredentialTTL
	}
	if o.PumpPollInterval != nil {
		Cfg.PumpPollInterval = *o.PumpPollInterval
	}
	if o.PumpIdleTimeout != nil {
		Cfg.PumpIdleTimeout = *o.PumpIdleTimeout
	}
	if o.MinViewportCols != nil {
		Cfg.MinViewportCols = *o.MinViewportCols
	}
	if o.MinViewportRows != nil {
		Cfg.MinViewportRows = *o.MinViewportRows
	}
	return nil
}
