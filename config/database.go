package config

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"pixeldeck"`
	Password string `env:"PASSWORD"                envDefault:"pixeldeck"`
	Name     string `env:"NAME"                    envDefault:"pixeldeck"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the lifecycle event channel.
type RedisConfig struct {
	// Enabled turns the Redis event publisher on. The engine runs fine
	// without it; events are simply not broadcast.
	Enabled  bool   `env:"ENABLED"  envDefault:"false"`
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
	// EventsChannel is the pub/sub channel lifecycle events are published to.
	EventsChannel string `env:"EVENTS_CHANNEL" envDefault:"pixeldeck:events"`
}
