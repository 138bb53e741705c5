package weaviate

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MockClient is an in-memory implementation of ClientInterface for testing.
type MockClient struct {
	mu sync.Mutex
	// Classes holds created class definitions by name
	Classes map[string]*Class
	// Objects holds objects in insertion order
	Objects []*Object
	// Version is returned by GetServerVersion
	Version string
	// Err can be set to make methods return an error
	Err error
	// CreateErr, when set, fails CreateObjects only
	CreateErr error
}

// NewMockClient creates a new MockClient for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		Classes: make(map[string]*Class),
		Version: "1.25.0",
	}
}

func (m *MockClient) Ping(ctx context.Context) error {
	return m.Err
}

func (m *MockClient) GetServerVersion(ctx context.Context) (*ServerVersion, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return parseVersion(m.Version)
}

// GetClasses returns all class names.
func (m *MockClient) GetClasses(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var classes []string
	for name := range m.Classes {
		classes = append(classes, name)
	}
	slices.Sort(classes)
	return classes, nil
}

// CreateClass records a class definition.
func (m *MockClient) CreateClass(ctx context.Context, class *Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.Classes[class.Name]; ok {
		return fmt.Errorf("class %s already exists", class.Name)
	}
	m.Classes[class.Name] = class
	return nil
}

// CreateObjects appends objects, assigning IDs.
func (m *MockClient) CreateObjects(ctx context.Context, objs []*Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.CreateErr != nil {
		return m.CreateErr
	}
	for _, o := range objs {
		if _, ok := m.Classes[o.Class]; !ok {
			return fmt.Errorf("class %s not found", o.Class)
		}
		cp := *o
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		m.Objects = append(m.Objects, &cp)
	}
	return nil
}

// GetAllObjects returns all objects of a specific class.
func (m *MockClient) GetAllObjects(ctx context.Context, className string, useCursor bool) ([]*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var result []*Object
	for _, obj := range m.Objects {
		if obj.Class == className {
			result = append(result, obj)
		}
	}
	return result, nil
}

// FindByProperty returns objects whose property equals any of values.
func (m *MockClient) FindByProperty(ctx context.Context, className, property string, values []string, fields []string) ([]*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var result []*Object
	for _, obj := range m.Objects {
		if obj.Class != className {
			continue
		}
		v, ok := obj.Properties[property].(string)
		if !ok || !slices.Contains(values, v) {
			continue
		}
		props := make(map[string]any, len(fields))
		for _, f := range fields {
			props[f] = obj.Properties[f]
		}
		result = append(result, &Object{ID: obj.ID, Class: className, Properties: props})
	}
	return result, nil
}

// GetClassCount returns the count of objects in a class.
func (m *MockClient) GetClassCount(ctx context.Context, className string) (int, error) {
	objs, err := m.GetAllObjects(ctx, className, true)
	return len(objs), err
}

// Verify MockClient implements ClientInterface
var _ ClientInterface = (*MockClient)(nil)
