package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DefaultCollection is the collection backing the global database package.
const DefaultCollection = "_modules"

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ModuleRecord is a module stored in a collection.
type ModuleRecord struct {
	Collection string  `json:"collection"`
	Path       string  `json:"path"`
	Content    *string `json:"content,omitempty"` // nil when the record has no content field
	Revision   int64   `json:"revision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasContent reports whether the record carries a content field.
func (r *ModuleRecord) HasContent() bool {
	return r != nil && r.Content != nil
}

// Collection describes a module collection and its current revision.
type Collection struct {
	Name      string    `json:"name"`
	Revision  int64     `json:"revision"`
	Modules   int       `json:"modules"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Database is the lookup the loader performs against stored modules.
type Database interface {
	// FindByPath returns the record whose path equals path, or (nil, nil)
	// when the collection holds no such record.
	FindByPath(ctx context.Context, collection, path string) (*ModuleRecord, error)
}

// Store is the full persistence layer for database-backed modules.
type Store interface {
	Database

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Module operations
	PutModule(ctx context.Context, collection, path string, content *string) (*ModuleRecord, error)
	DeleteModule(ctx context.Context, collection, path string) error
	ListModules(ctx context.Context, collection string, limit, offset int) ([]*ModuleRecord, error)

	// Collection operations
	GetCollection(ctx context.Context, name string) (*Collection, error)
	ListCollections(ctx context.Context) ([]*Collection, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
