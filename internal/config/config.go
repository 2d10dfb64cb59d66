package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration read once at startup. Values that may
// change while running live in Runtime instead.
type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"prod"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	RuntimeConfigPath string        `env:"RUNTIME_CONFIG_PATH" envDefault:"checkq.yaml"`
	ConfigRefresh     time.Duration `env:"CONFIG_REFRESH_INTERVAL" envDefault:"30s"`

	EmbeddedSweeper bool          `env:"EMBEDDED_SWEEPER" envDefault:"true"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	SweepBatch      int           `env:"SWEEP_BATCH" envDefault:"500"`

	MetricsResync    time.Duration `env:"METRICS_RESYNC_INTERVAL" envDefault:"15s"`
	CheckerKeyHashes []string      `env:"CHECKER_KEY_HASHES" envSeparator:","`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Parse reads Config from the environment, after loading .env if present.
func Parse() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	return c
}
