package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/config"
	"github.com/warband/battlecore/internal/logging"
	intOtel "github.com/warband/battlecore/internal/otel"
	"github.com/warband/battlecore/internal/rules"
	"github.com/warband/battlecore/internal/spells"
	"github.com/warband/battlecore/pkg/core"
)

// runtimeEnv is the logging and telemetry stack of one command run.
type runtimeEnv struct {
	SessionStart time.Time
	LogFile      *os.File
	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	// ZLogger is handed to the zerolog based managers
	ZLogger      zerolog.Logger
	OTelProvider *intOtel.Provider
}

// setupRuntime opens <logsDir>/<name>.<start>.log and builds the slog
// chain on top of it. ctx supplies attributes for every record.
func setupRuntime(name string, ctx logging.ContextProvider) (*runtimeEnv, error) {
	env := &runtimeEnv{SessionStart: time.Now()}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	path := logging.LogFilePath(logsDir, name, env.SessionStart)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	env.LogFile = file

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		env.OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    file,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("init otel: %w", err)
		}
	}

	env.SlogManager = logging.NewSlogManager()
	if viper.GetBool("graylog.enabled") {
		if err := env.SlogManager.EnableGraylog(viper.GetString("graylog.address")); err != nil {
			fmt.Fprintf(os.Stderr, "graylog disabled: %v\n", err)
		}
	}
	if ctx != nil {
		env.SlogManager.WithContext(ctx)
	}
	var logProvider *sdklog.LoggerProvider
	if env.OTelProvider != nil {
		logProvider = env.OTelProvider.LoggerProvider()
	}
	env.SlogManager.Setup(file, viper.GetString("logLevel"), logProvider)
	env.Logger = env.SlogManager.Logger()
	env.ZLogger = newZerolog(file, viper.GetString("logLevel"))

	env.Logger.Info("Logging to file", "path", path)
	return env, nil
}

func newZerolog(file *os.File, level string) zerolog.Logger {
	var lvl zerolog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = zerolog.DebugLevel
	case "WARN":
		lvl = zerolog.WarnLevel
	case "ERROR":
		lvl = zerolog.ErrorLevel
	case "TRACE":
		lvl = zerolog.TraceLevel
	default:
		lvl = zerolog.InfoLevel
	}

	mlw := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		},
		zerolog.ConsoleWriter{
			Out:        file,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		},
	)
	return zerolog.New(mlw).Level(lvl).With().Timestamp().Logger()
}

// Close flushes telemetry and closes the log file.
func (e *runtimeEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e.SlogManager != nil {
		_ = e.SlogManager.Close(ctx)
	}
	if e.OTelProvider != nil {
		_ = e.OTelProvider.Shutdown(ctx)
	}
	if e.LogFile != nil {
		_ = e.LogFile.Close()
	}
}

// loadBattle reads the spell catalog and scenario named by the battle.*
// config keys. A non-zero battle.seed overrides the scenario seed.
func loadBattle(logger *slog.Logger) (*spells.Catalog, core.BattleInfo, error) {
	cfg := config.GetBattleConfig()

	engine, err := rules.NewEngine()
	if err != nil {
		return nil, core.BattleInfo{}, fmt.Errorf("init rules: %w", err)
	}
	catalog, err := spells.LoadFile(cfg.SpellsFile, engine)
	if catalog == nil {
		return nil, core.BattleInfo{}, err
	}
	if err != nil {
		// broken abilities were left out
		logger.Warn("Some abilities failed to load", "error", err)
	}

	info, err := battle.LoadScenario(cfg.ScenarioFile)
	if err != nil {
		return nil, core.BattleInfo{}, err
	}
	if cfg.Seed != 0 {
		info.Seed = cfg.Seed
	}
	logger.Info("Battle loaded", "battle", info.ID, "spells", catalog.Len(), "units", len(info.Units))
	return catalog, info, nil
}
