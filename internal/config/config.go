package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Bot      BotConfig
	Jobs     JobsConfig
	Backup   BackupConfig
	Sweep    SweepConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL string
}

type BotConfig struct {
	// Token is the mother bot's credential.
	Token string
	// BaseURL is the public HTTPS base under which webhooks are registered,
	// e.g. https://bots.example.com. Tenant endpoints append ?bot=<id>.
	BaseURL string
	// Operators are user ids allowed to run administrative commands.
	Operators []int64
}

type JobsConfig struct {
	// RunnerPath is the jobrunner binary the dispatcher spawns. Empty
	// disables detached execution and forces the inline fallback.
	RunnerPath string
	// LockDir holds job lock files and rate-limit markers.
	LockDir string
}

type BackupConfig struct {
	// Dir is where dump files are written before delivery.
	Dir string
	// PgDumpPath and PsqlPath override tool discovery on PATH.
	PgDumpPath string
	PsqlPath   string
}

type SweepConfig struct {
	Interval     time.Duration
	NoticeWindow time.Duration
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("BOTMOTHER")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("jobs.lockdir", "/var/lock/botmother")
	viper.SetDefault("backup.dir", "/var/lib/botmother/backups")
	viper.SetDefault("sweep.interval", "15m")
	viper.SetDefault("sweep.noticewindow", "24h")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if token := os.Getenv("BOT_TOKEN"); token != "" {
		cfg.Bot.Token = token
	}
	if base := os.Getenv("WEBHOOK_BASE_URL"); base != "" {
		cfg.Bot.BaseURL = base
	}

	return &cfg, nil
}
