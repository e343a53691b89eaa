package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/interviewdesk/internal/config"
	"github.com/zulandar/interviewdesk/internal/db"
	"github.com/zulandar/interviewdesk/internal/logger"
)

// envPrefix namespaces environment overrides, e.g. IDESK_API_URL.
const envPrefix = "IDESK"

// overrideKeys are the config keys that flags and environment variables
// may override. Keys match the YAML names.
var overrideKeys = []string{
	"api_url",
	"socket_url",
	"token",
	"database.driver",
	"database.path",
	"database.host",
	"database.password",
	"evaluation.provider",
	"evaluation.gemini.api_key",
	"notify.slack_webhook",
	"notify.discord_webhook",
	"dashboard.port",
}

// cliEnv carries the root flags and their viper bindings to subcommands.
type cliEnv struct {
	v          *viper.Viper
	configPath string
	envFile    string
}

func newCLIEnv() *cliEnv {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range overrideKeys {
		v.BindEnv(k)
	}
	return &cliEnv{v: v}
}

func (e *cliEnv) bindFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&e.configPath, "config", "c", "idesk.yaml", "path to interviewdesk config file")
	pf.StringVar(&e.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.BoolP("debug", "d", false, "verbose/debug output")
	pf.BoolP("json", "j", false, "json format for logging")
	pf.String("api-url", "", "API root URL (overrides api_url)")
	pf.String("token", "", "bearer token (overrides token)")

	e.v.BindPFlag("debug", pf.Lookup("debug"))
	e.v.BindPFlag("json", pf.Lookup("json"))
	e.v.BindPFlag("api_url", pf.Lookup("api-url"))
	e.v.BindPFlag("token", pf.Lookup("token"))
}

// loadConfig reads the YAML file, then applies .env, environment and flag
// overrides. A missing file is fine when the overrides supply api_url.
func (e *cliEnv) loadConfig() (*config.Config, error) {
	if e.envFile != "" {
		if err := godotenv.Load(e.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", e.envFile, err)
		}
	}

	cfg := &config.Config{}
	data, err := os.ReadFile(e.configPath)
	switch {
	case err == nil:
		if cfg, err = config.Decode(data); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && e.v.IsSet("api_url"):
	default:
		return nil, fmt.Errorf("load config: %w", err)
	}

	e.applyOverrides(cfg)
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e *cliEnv) applyOverrides(cfg *config.Config) {
	str := func(key string, dst *string) {
		if e.v.IsSet(key) {
			if s := e.v.GetString(key); s != "" {
				*dst = s
			}
		}
	}
	str("api_url", &cfg.APIURL)
	str("socket_url", &cfg.SocketURL)
	str("token", &cfg.Token)
	str("database.driver", &cfg.Database.Driver)
	str("database.path", &cfg.Database.Path)
	str("database.host", &cfg.Database.Host)
	str("database.password", &cfg.Database.Password)
	str("evaluation.provider", &cfg.Evaluation.Provider)
	str("evaluation.gemini.api_key", &cfg.Evaluation.Gemini.APIKey)
	str("notify.slack_webhook", &cfg.Notify.SlackWebhook)
	str("notify.discord_webhook", &cfg.Notify.DiscordWebhook)
	if e.v.IsSet("dashboard.port") {
		if p := e.v.GetInt("dashboard.port"); p > 0 {
			cfg.Dashboard.Port = p
		}
	}
	if e.v.GetBool("debug") {
		cfg.Log.Debug = true
	}
	if e.v.GetBool("json") {
		cfg.Log.JSON = true
	}
}

// setup loads config and builds the logger.
func (e *cliEnv) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	l, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, l, nil
}

// openDB opens and migrates the local state store.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return gormDB, nil
}

// closeDB closes the pool behind gormDB. A nil gormDB is a no-op.
func closeDB(gormDB *gorm.DB) error {
	if gormDB == nil {
		return nil
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("close local store: %w", err)
	}
	return sqlDB.Close()
}
