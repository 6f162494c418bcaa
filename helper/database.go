package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// DatabaseConfiguration holds the postgres connection settings.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
}

// NewDatabaseConfiguration reads the configuration from the environment.
// A .env file in the working directory is loaded first if present.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	_ = godotenv.Load()

	config := &DatabaseConfiguration{
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		Database: os.Getenv("DB_DATABASE"),
		Username: os.Getenv("DB_USERNAME"),
		Password: os.Getenv("DB_PASSWORD"),
		Schema:   os.Getenv("DB_SCHEMA"),
		SSLMode:  os.Getenv("DB_SSLMODE"),
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.Schema == "" {
		config.Schema = "public"
	}

	if len(config.Host) == 0 || len(config.Port) == 0 || len(config.Database) == 0 || len(config.Username) == 0 {
		return nil, NewError("database configuration", fmt.Errorf("DB_HOST, DB_PORT, DB_DATABASE and DB_USERNAME must be set"))
	}
	if _, err := strconv.Atoi(config.Port); err != nil {
		return nil, NewError("database configuration", fmt.Errorf("invalid DB_PORT %q: %w", config.Port, err))
	}

	return config, nil
}

// DSN renders the configuration as a lib/pq connection URL.
func (c *DatabaseConfiguration) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	q.Set("search_path", c.Schema)
	u.RawQuery = q.Encode()
	return u.String()
}

// Database is a named postgres pool behind a Connection state machine.
type Database struct {
	Name   string
	Logger *slog.Logger

	config *DatabaseConfiguration
	conn   *Connection[*sql.DB]
}

// NewDatabase creates the handle and makes the first connect attempt.
// A failed attempt is returned, the handle stays usable and reconnects on the next call.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) (*Database, error) {
	if config == nil {
		return nil, NewError("database configuration", fmt.Errorf("configuration is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	db := &Database{
		Name:   name,
		Logger: logger,
		config: config,
	}
	db.conn = NewConnection(name, db.open, func(ctx context.Context, instance *sql.DB) error {
		return instance.Close()
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.conn.Get(ctx); err != nil {
		return db, NewError("connect", err)
	}

	return db, nil
}

// NewTestDatabase connects to the test database and fails hard if it cannot.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	opts := PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelWarn,
		},
	}
	logger := slog.New(NewPrettyHandler(os.Stdout, opts))

	db, err := NewDatabase("test", config, logger)
	if err != nil {
		log.Fatalf("error connecting to test database: %v", err)
	}
	return db
}

func (d *Database) open(ctx context.Context) (*sql.DB, error) {
	instance, err := sql.Open("postgres", d.config.DSN())
	if err != nil {
		return nil, err
	}
	instance.SetMaxOpenConns(25)
	instance.SetMaxIdleConns(5)
	instance.SetConnMaxLifetime(30 * time.Minute)

	if err := instance.PingContext(ctx); err != nil {
		instance.Close()
		return nil, err
	}
	return instance, nil
}

// Conn returns the pool, reconnecting if the handle is closed.
func (d *Database) Conn(ctx context.Context) (*sql.DB, error) {
	return d.conn.Get(ctx)
}

// HandleError classifies err and adds the reference.
// On connection loss the pool is pinged and only closed if the ping fails too.
func (d *Database) HandleError(ctx context.Context, reference string, err error) error {
	if err == nil {
		return nil
	}
	classified := ClassifyPostgresError(err)
	if IsKind(classified, ErrStoreUnavailable) {
		d.conn.InvalidateUnless(ctx, ping)
	}
	return NewError(reference, classified)
}

// ping checks the pool with its own timeout, a cancelled request must not close a healthy pool.
func ping(ctx context.Context, instance *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
	defer cancel()
	return instance.PingContext(ctx)
}

// State returns the connection state.
func (d *Database) State() ConnectionState {
	return d.conn.State()
}

// Close closes the pool. A later Conn reopens it.
func (d *Database) Close() error {
	return d.conn.Close(context.Background())
}
