package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string        `env:"HTTP_ADDR" env-default:":8080"`
	StorageBackend string        `env:"STORAGE_BACKEND" env-default:"mysql"`
	MySQLDSN       string        `env:"MYSQL_DSN" env-default:"root:root@tcp(localhost:3306)/bookstore?parseTime=true"`
	RedisAddr      string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	PendingTimeout time.Duration `env:"PENDING_TIMEOUT" env-default:"1800s"`
	TokenLifetime  time.Duration `env:"TOKEN_LIFETIME" env-default:"1h"`
}

// MustLoad reads the configuration from the environment, with an optional
// local .env file. Exits on malformed values.
func MustLoad() *Config {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("read config: %v", err)
	}
	return &cfg
}
