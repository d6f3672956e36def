// Package config loads battlecore.cfg.json through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "battlecore.cfg.json"

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds settings of the in-memory SQLite journal
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig selects and configures the battle journal backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// BattleConfig names the files a served battle is built from
type BattleConfig struct {
	Seed         int64
	SpellsFile   string
	ScenarioFile string
}

// EnvPrefix prefixes environment overrides: BATTLECORE_DB_HOST sets db.host.
const EnvPrefix = "BATTLECORE"

var defaults = map[string]any{
	"logLevel":   "info",
	"logsDir":    "./battlelogs",
	"secret":     "",
	"listenAddr": ":8642",
	"serverUrl":  "ws://localhost:8642/battle",

	"battle.seed":         0,
	"battle.spellsFile":   "spells.yaml",
	"battle.scenarioFile": "scenario.yaml",

	"client.name":           "observer",
	"client.requestTimeout": "30s",

	"storage.type":                  "memory",
	"storage.memory.outputDir":      "./journals",
	"storage.memory.compressOutput": true,
	"storage.sqlite.path":           "./journals/battlecore.db",
	"storage.sqlite.dumpInterval":   "3m",

	"db.host":     "localhost",
	"db.port":     "5432",
	"db.username": "postgres",
	"db.password": "postgres",
	"db.database": "battlecore",

	"influx.enabled":    false,
	"influx.host":       "localhost",
	"influx.port":       "8086",
	"influx.protocol":   "http",
	"influx.token":      "supersecrettoken",
	"influx.org":        "battlecore",
	"influx.backupPath": "./journals/influx_backup.log.gz",

	"graylog.enabled": false,
	"graylog.address": "localhost:12201",

	"monitor.enabled":    true,
	"monitor.statusFile": "./battlelogs/status.json",
	"monitor.interval":   "1s",

	"otel.enabled":      false,
	"otel.serviceName":  "battlecore",
	"otel.batchTimeout": "5s",
	"otel.endpoint":     "",
	"otel.insecure":     true,
}

// Load registers defaults and environment overrides, then reads FileName
// from configDir. A missing file yields viper.ConfigFileNotFoundError
// wrapped, so callers can fall back to defaults.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.SetConfigType("json")
	viper.AddConfigPath(configDir)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// SetDefaults registers every default and binds BATTLECORE_* variables.
func SetDefaults() {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// GetStorageConfig returns the journal backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetBattleConfig returns the files and seed of the served battle.
func GetBattleConfig() BattleConfig {
	return BattleConfig{
		Seed:         viper.GetInt64("battle.seed"),
		SpellsFile:   viper.GetString("battle.spellsFile"),
		ScenarioFile: viper.GetString("battle.scenarioFile"),
	}
}
