package neo4jdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

// Config holds the bolt connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	// Database is the neo4j database, empty uses the server default.
	Database string
}

// Store is a graph store on neo4j.
// Every namespace is a node label next to Entity, relations are RELATION edges with a type property.
type Store struct {
	conn     *helper.Connection[neo4j.DriverWithContext]
	logger   *slog.Logger
	database string
	schema   *schemaCache

	mu        sync.RWMutex
	namespace string
}

// schemaCache is shared by all handles of one connection.
type schemaCache struct {
	mu         sync.Mutex
	prepared   map[string]bool
	dimensions map[string]int
}

// New creates a store bound to namespace and makes the first connect attempt.
// A failed attempt is returned together with the store, which reconnects on the next call.
func New(ctx context.Context, cfg Config, namespace string, logger *slog.Logger) (*Store, error) {
	if err := model.ValidateName(namespace); err != nil {
		return nil, helper.NewError("namespace validation", err)
	}
	if cfg.URI == "" {
		return nil, helper.NewError("neo4j configuration", helper.Errorf(helper.ErrInvalidArgument, "uri is empty"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	connect := func(ctx context.Context) (neo4j.DriverWithContext, error) {
		driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
		if err != nil {
			return nil, err
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			driver.Close(ctx)
			return nil, err
		}
		return driver, nil
	}
	closeDriver := func(ctx context.Context, driver neo4j.DriverWithContext) error {
		return driver.Close(ctx)
	}

	s := &Store{
		conn:     helper.NewConnection("neo4j", connect, closeDriver, logger),
		logger:   logger,
		database: cfg.Database,
		schema: &schemaCache{
			prepared:   map[string]bool{},
			dimensions: map[string]int{},
		},
		namespace: namespace,
	}

	if _, err := s.driver(ctx); err != nil {
		return s, err
	}

	logger.Info("Initialized neo4j graph store", slog.String("namespace", namespace))
	return s, nil
}

// Namespace returns the active namespace.
func (s *Store) Namespace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namespace
}

// UseNamespace switches the active namespace of this handle.
func (s *Store) UseNamespace(namespace string) error {
	if err := model.ValidateName(namespace); err != nil {
		return helper.NewError("use namespace", err)
	}

	s.mu.Lock()
	previous := s.namespace
	s.namespace = namespace
	s.mu.Unlock()

	s.logger.Info("Switched graph namespace", slog.String("from", previous), slog.String("to", namespace))
	return nil
}

// WithNamespace returns a second handle bound to namespace that shares the driver.
func (s *Store) WithNamespace(namespace string) (*Store, error) {
	if err := model.ValidateName(namespace); err != nil {
		return nil, helper.NewError("with namespace", err)
	}
	return &Store{
		conn:      s.conn,
		logger:    s.logger,
		database:  s.database,
		schema:    s.schema,
		namespace: namespace,
	}, nil
}

// State returns the connection state.
func (s *Store) State() helper.ConnectionState {
	return s.conn.State()
}

// Close closes the driver of every handle sharing it.
func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// driver returns the open driver and makes sure the namespace constraint exists.
func (s *Store) driver(ctx context.Context) (neo4j.DriverWithContext, error) {
	driver, err := s.conn.Get(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	namespace := s.Namespace()
	s.schema.mu.Lock()
	prepared := s.schema.prepared[namespace]
	s.schema.mu.Unlock()
	if prepared {
		return driver, nil
	}

	query := fmt.Sprintf(
		"CREATE CONSTRAINT %s IF NOT EXISTS FOR (e:%s) REQUIRE e.name IS UNIQUE",
		quote("entity_name_"+namespace), label(namespace),
	)
	_, err = neo4j.ExecuteQuery(ctx, driver, query, nil, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return nil, s.handleError(ctx, "create constraint", err)
	}

	s.schema.mu.Lock()
	s.schema.prepared[namespace] = true
	s.schema.mu.Unlock()

	return driver, nil
}

func (s *Store) queryOptions() []neo4j.ExecuteQueryConfigurationOption {
	if s.database == "" {
		return nil
	}
	return []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithDatabase(s.database)}
}

// handleError closes the connection on connectivity loss and adds the reference.
func (s *Store) handleError(ctx context.Context, reference string, err error) error {
	if err == nil {
		return nil
	}
	if helper.IsKind(err, helper.ErrStoreUnavailable, helper.ErrNotFound, helper.ErrInvalidArgument,
		helper.ErrSchemaMismatch, helper.ErrDimensionMismatch, helper.ErrIndexNotReady) {
		return helper.NewError(reference, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return helper.NewError(reference, err)
	}
	if neo4j.IsConnectivityError(err) {
		s.conn.InvalidateUnless(ctx, verifyConnectivity)
		return helper.NewError(reference, fmt.Errorf("%w: %w", helper.ErrStoreUnavailable, err))
	}
	return helper.NewError(reference, err)
}

// verifyConnectivity checks the driver with its own timeout, so a cancelled request does not close it.
func verifyConnectivity(ctx context.Context, driver neo4j.DriverWithContext) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return driver.VerifyConnectivity(ctx)
}

// label returns the quoted node label of a validated namespace.
func label(namespace string) string {
	return quote("Graph_" + namespace)
}

func indexName(namespace string) string {
	return "entity_embedding_" + namespace
}

func quote(identifier string) string {
	return "`" + identifier + "`"
}

func toFloat64s(vector []float32) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = float64(v)
	}
	return out
}
