package postgres

import (
	"errors"
	"fmt"
	"net/url"
	"os"
)

// ConnConfig carries the connection parameters for a worker's private store
// connection. Fields left empty by the caller fall back to the conventional
// libpq environment variables.
type ConnConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// FromEnv fills unset fields from PGHOST, PGPORT, PGUSER, PGPASSWORD,
// PGDATABASE, and PGSSLMODE.
func (c ConnConfig) FromEnv() ConnConfig {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.Host, "PGHOST")
	fill(&c.Port, "PGPORT")
	fill(&c.User, "PGUSER")
	fill(&c.Password, "PGPASSWORD")
	fill(&c.Database, "PGDATABASE")
	fill(&c.SSLMode, "PGSSLMODE")
	return c
}

// Validate reports missing required fields. Password is optional: pgx falls
// back to ~/.pgpass, which is preferable to passing secrets around anyway.
func (c ConnConfig) Validate() error {
	if c.Host == "" {
		return errors.New("workerbee/postgres: host is required (set PGHOST)")
	}
	if c.Port == "" {
		return errors.New("workerbee/postgres: port is required (set PGPORT)")
	}
	if c.User == "" {
		return errors.New("workerbee/postgres: user is required (set PGUSER)")
	}
	if c.Database == "" {
		return errors.New("workerbee/postgres: database is required (set PGDATABASE)")
	}
	return nil
}

// DSN renders the config as a PostgreSQL connection URL for New.
func (c ConnConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
