package weaviate

import "context"

// Object is a Weaviate object without vectors.
type Object struct {
	ID                 string
	Class              string
	Properties         map[string]any
	CreationTimeUnix   int64
	LastUpdateTimeUnix int64
}

// Property is a class property definition.
type Property struct {
	Name         string
	DataType     []string
	Tokenization string
}

// Class is a class definition.
type Class struct {
	Name        string
	Description string
	Properties  []Property
}

// ClientInterface defines the contract for Weaviate client operations.
// This interface enables mocking for testing the warehouse.
type ClientInterface interface {
	Ping(ctx context.Context) error
	GetServerVersion(ctx context.Context) (*ServerVersion, error)

	// Schema operations
	GetClasses(ctx context.Context) ([]string, error)
	CreateClass(ctx context.Context, class *Class) error

	// Object operations
	GetAllObjects(ctx context.Context, className string, useCursor bool) ([]*Object, error)
	CreateObjects(ctx context.Context, objs []*Object) error

	// Query operations
	FindByProperty(ctx context.Context, className, property string, values []string, fields []string) ([]*Object, error)
	GetClassCount(ctx context.Context, className string) (int, error)
}

// Verify that *Client implements ClientInterface at compile time
var _ ClientInterface = (*Client)(nil)
