// Package blitzorm is an object-document mapping layer over a
// relational store. Application code registers entity descriptors,
// filters collections by example, and receives lazy, chainable result
// views that fold joined row-sets back into nested documents.
package blitzorm

import (
	"context"
	"database/sql"
	"fmt"

	"blitzorm/config"
	"blitzorm/internal/dbexec"
	"blitzorm/internal/logging"
	"blitzorm/internal/planner"
	"blitzorm/internal/sqlutil"
	"blitzorm/schema"

	sq "github.com/Masterminds/squirrel"
	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Deserializer turns an unpacked logical document into a typed domain
// instance. Implementations may return lazily-loaded stand-ins.
type Deserializer interface {
	Materialize(collection string, doc map[string]interface{}) (interface{}, error)
}

// Document is implemented by domain objects that expose their primary key.
type Document interface {
	PK() string
}

// mapDeserializer returns the logical document unchanged.
type mapDeserializer struct{}

func (mapDeserializer) Materialize(_ string, doc map[string]interface{}) (interface{}, error) {
	return doc, nil
}

// Backend persists and queries documents through a relational store.
type Backend struct {
	db           *sql.DB
	registry     *schema.Registry
	deserializer Deserializer
	logger       *logging.Logger
	metrics      *dbexec.QueryMetrics
}

// Option customizes a Backend.
type Option func(*Backend)

// WithDeserializer replaces the default map-identity deserializer.
func WithDeserializer(d Deserializer) Option {
	return func(b *Backend) { b.deserializer = d }
}

// WithLogger replaces the default logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithQueryMetrics attaches statement metrics to every execution.
func WithQueryMetrics(metrics *dbexec.QueryMetrics) Option {
	return func(b *Backend) { b.metrics = metrics }
}

// NewBackend wraps an open database handle.
func NewBackend(db *sql.DB, registry *schema.Registry, opts ...Option) *Backend {
	b := &Backend{
		db:           db,
		registry:     registry,
		deserializer: mapDeserializer{},
		logger:       logging.NewLogger(logging.Config{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open connects to the configured database through the instrumented
// driver and returns a backend over it.
func Open(ctx context.Context, cfg *config.Config, registry *schema.Registry, opts ...Option) (*Backend, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newConfiguredBackend(db, cfg, registry, opts...), nil
}

// OpenIntrospected connects like Open but discovers the registry from
// the configured database's information_schema instead of taking one.
func OpenIntrospected(ctx context.Context, cfg *config.Config, opts ...Option) (*Backend, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	registry, err := schema.Introspect(ctx, db, cfg.Database.Database)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to introspect database %s: %w", cfg.Database.Database, err)
	}
	return newConfiguredBackend(db, cfg, registry, opts...), nil
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn, err := cfg.Database.FormatDSN()
	if err != nil {
		return nil, err
	}

	db, err := otelsql.Open("mysql", dsn, otelsql.WithAttributes(semconv.DBSystemMySQL))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL)); err != nil {
		logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}).
			Warn("failed to register DB stats metrics", "error", err)
	}

	pool := cfg.Database.Pool
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func newConfiguredBackend(db *sql.DB, cfg *config.Config, registry *schema.Registry, opts ...Option) *Backend {
	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewBackend(db, registry, opts...)
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Registry exposes the entity registry backing this backend.
func (b *Backend) Registry() *schema.Registry {
	return b.registry
}

// CreateInstance deserializes a logical document into a domain object
// for the named collection.
func (b *Backend) CreateInstance(collection string, doc map[string]interface{}) (interface{}, error) {
	if _, err := b.registry.Entity(collection); err != nil {
		return nil, err
	}
	return b.deserializer.Materialize(collection, doc)
}

// Filter builds a lazy result view over the collection matching the
// query-by-example criteria. An empty query matches everything.
func (b *Backend) Filter(collection string, query map[string]interface{}) (*ResultView, error) {
	entity, err := b.registry.Entity(collection)
	if err != nil {
		return nil, err
	}
	condition, err := planner.BuildCondition(b.registry, entity, query)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(entity.Fields)+1)
	for _, field := range b.registry.IndexedColumns(entity) {
		columns = append(columns, field.Column)
	}

	plan := &planner.Plan{
		Table:     entity.Table,
		PK:        entity.PrimaryKey,
		Columns:   columns,
		Condition: condition,
	}
	return newResultView(b, entity, plan), nil
}

// Get fetches the single object matching the query. It reports
// ErrNotFound when nothing matches and ErrMultipleObjects when the
// query is ambiguous.
func (b *Backend) Get(ctx context.Context, collection string, query map[string]interface{}) (interface{}, error) {
	view, err := b.Filter(collection, query)
	if err != nil {
		return nil, err
	}
	view.plan.Limit = 2
	if err := view.materialize(ctx); err != nil {
		return nil, err
	}
	switch len(view.objects) {
	case 0:
		return nil, fmt.Errorf("%w in collection %s", ErrNotFound, collection)
	case 1:
		return b.deserializer.Materialize(collection, view.objects[0])
	default:
		return nil, fmt.Errorf("%w in collection %s", ErrMultipleObjects, collection)
	}
}

// Save inserts a document into the collection's table inside a scoped
// transaction, assigning a generated primary key when absent. It
// returns the stored document including its primary key.
func (b *Backend) Save(ctx context.Context, collection string, doc map[string]interface{}) (map[string]interface{}, error) {
	entity, err := b.registry.Entity(collection)
	if err != nil {
		return nil, err
	}

	stored := make(map[string]interface{}, len(doc)+1)
	for key, value := range doc {
		stored[key] = value
	}
	if stored[entity.PrimaryKey] == nil {
		stored[entity.PrimaryKey] = uuid.New().String()
	}

	columns := []string{entity.PrimaryKey}
	values := []interface{}{stored[entity.PrimaryKey]}
	for _, field := range b.registry.IndexedColumns(entity) {
		if field.Column == entity.PrimaryKey {
			continue
		}
		value, ok := stored[field.Name]
		if !ok {
			continue
		}
		columns = append(columns, field.Column)
		values = append(values, value)
	}

	query, args, err := insertSQL(entity.Table, columns, values)
	if err != nil {
		return nil, err
	}

	err = dbexec.WithinTransaction(ctx, b.db, func(tx *sql.Tx) error {
		_, execErr := dbexec.NewExecutor(tx, b.metrics).Exec(ctx, "save", query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}

	b.logger.WithCollection(collection).Debug("saved document", "pk", stored[entity.PrimaryKey])
	return stored, nil
}

func insertSQL(table string, columns []string, values []interface{}) (string, []interface{}, error) {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = sqlutil.QuoteIdentifier(col)
	}
	return sq.Insert(sqlutil.QuoteIdentifier(table)).
		Columns(quoted...).
		Values(values...).
		PlaceholderFormat(sq.Question).
		ToSql()
}

// documentPK extracts the primary key of a candidate object: either a
// Document implementation or a logical map carrying the pk column.
func documentPK(entity schema.Entity, obj interface{}) (string, error) {
	switch v := obj.(type) {
	case Document:
		if v.PK() == "" {
			return "", ErrNoPrimaryKey
		}
		return v.PK(), nil
	case map[string]interface{}:
		if pk := v[entity.PrimaryKey]; pk != nil {
			return pkKey(pk), nil
		}
		if pk := v[schema.DefaultPrimaryKey]; pk != nil {
			return pkKey(pk), nil
		}
		return "", ErrNoPrimaryKey
	default:
		return "", fmt.Errorf("%w: %T", ErrNoPrimaryKey, obj)
	}
}

func pkKey(value interface{}) string {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(value)
}
