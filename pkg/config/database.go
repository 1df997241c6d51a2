package config

import "fmt"

// DatabaseConfig holds PostgreSQL connection settings. When Host is empty the
// server falls back to in-memory repositories.
type DatabaseConfig struct {
	Host     string `env:"LOGINBLOCK_PG_HOST" env-default:""`
	Port     uint16 `env:"LOGINBLOCK_PG_PORT" env-default:"5432"`
	Database string `env:"LOGINBLOCK_PG_DATABASE" env-default:"loginblock_db"`
	User     string `env:"LOGINBLOCK_PG_USER" env-default:"loginblock"`
	Password string `env:"LOGINBLOCK_PG_PASSWORD" env-default:"pwd"`
}

// Enabled reports whether a database connection is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// URL returns a pgx connection string for the config.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		d.User, d.Password, d.Host, d.Port, d.Database)
}
