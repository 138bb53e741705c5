// Package weaviate stores warehouse targets as Weaviate classes. It wraps
// the Weaviate client with support for multiple server versions.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	weaviatemodels "github.com/weaviate/weaviate/entities/models"
)

// queryLimit bounds filtered GraphQL reads.
const queryLimit = 10000

// ServerVersion holds parsed Weaviate version info
type ServerVersion struct {
	Version string // e.g., "1.25.0"
	Major   int
	Minor   int
	Patch   int
}

var versionRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)

// parseVersion parses a version string like "1.25.0" into ServerVersion
func parseVersion(version string) (*ServerVersion, error) {
	matches := versionRe.FindStringSubmatch(version)
	if len(matches) < 4 {
		return nil, fmt.Errorf("invalid version format: %s", version)
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	patch, _ := strconv.Atoi(matches[3])

	return &ServerVersion{
		Version: version,
		Major:   major,
		Minor:   minor,
		Patch:   patch,
	}, nil
}

// SupportsFeature checks if the server supports a specific feature
func (v *ServerVersion) SupportsFeature(feature string) bool {
	switch feature {
	case "cursor_pagination":
		return v.Major > 1 || (v.Major == 1 && v.Minor >= 18)
	case "contains_any":
		return v.Major > 1 || (v.Major == 1 && v.Minor >= 21)
	default:
		return true
	}
}

// Client wraps the Weaviate client
type Client struct {
	client *weaviate.Client
	url    string
}

// NewClient creates a new Weaviate client
func NewClient(url string) (*Client, error) {
	cfg := weaviate.Config{
		Host:   url,
		Scheme: "http",
	}

	if rest, ok := strings.CutPrefix(url, "http://"); ok {
		cfg.Host = rest
	} else if rest, ok := strings.CutPrefix(url, "https://"); ok {
		cfg.Host = rest
		cfg.Scheme = "https"
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	return &Client{
		client: client,
		url:    url,
	}, nil
}

// Ping checks if Weaviate is reachable
func (c *Client) Ping(ctx context.Context) error {
	live, err := c.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Weaviate: %w", err)
	}
	if !live {
		return fmt.Errorf("weaviate is not live")
	}
	return nil
}

// GetServerVersion fetches and parses the Weaviate server version
func (c *Client) GetServerVersion(ctx context.Context) (*ServerVersion, error) {
	meta, err := c.client.Misc().MetaGetter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get server metadata: %w", err)
	}
	return parseVersion(meta.Version)
}

// GetClasses returns all class names in the schema
func (c *Client) GetClasses(ctx context.Context) ([]string, error) {
	schema, err := c.client.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, err
	}

	var classes []string
	for _, class := range schema.Classes {
		classes = append(classes, class.Class)
	}
	return classes, nil
}

// CreateClass creates a new class without a vectorizer.
func (c *Client) CreateClass(ctx context.Context, class *Class) error {
	classObj := &weaviatemodels.Class{
		Class:       class.Name,
		Description: class.Description,
		Vectorizer:  "none",
	}
	for _, prop := range class.Properties {
		classObj.Properties = append(classObj.Properties, &weaviatemodels.Property{
			Name:         prop.Name,
			DataType:     prop.DataType,
			Tokenization: prop.Tokenization,
		})
	}

	return c.client.Schema().ClassCreator().WithClass(classObj).Do(ctx)
}

// CreateObjects writes objects in one batch request. Any per-object
// failure fails the call.
func (c *Client) CreateObjects(ctx context.Context, objs []*Object) error {
	if len(objs) == 0 {
		return nil
	}
	batch := make([]*weaviatemodels.Object, len(objs))
	for i, o := range objs {
		batch[i] = &weaviatemodels.Object{Class: o.Class, Properties: o.Properties}
	}

	resp, err := c.client.Batch().ObjectsBatcher().WithObjects(batch...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch create: %w", err)
	}
	for i, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				return fmt.Errorf("batch create object %d: %s", i, e.Message)
			}
		}
	}
	return nil
}

// GetClassCount returns the number of objects in a class using aggregate query
func (c *Client) GetClassCount(ctx context.Context, className string) (int, error) {
	metaField := graphql.Field{
		Name: "meta",
		Fields: []graphql.Field{
			{Name: "count"},
		},
	}

	result, err := c.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(metaField).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get count for %s: %w", className, err)
	}
	if err := graphQLError(result); err != nil {
		return 0, fmt.Errorf("failed to get count for %s: %w", className, err)
	}

	data, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected aggregate response format")
	}

	classData, ok := data[className].([]interface{})
	if !ok || len(classData) == 0 {
		return 0, nil
	}

	first, ok := classData[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}

	meta, ok := first["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}

	count, ok := meta["count"].(float64)
	if !ok {
		return 0, nil
	}

	return int(count), nil
}

// FindByProperty returns objects of className whose text property equals
// any of values. Only the requested fields are populated.
func (c *Client) FindByProperty(ctx context.Context, className, property string, values []string, fields []string) ([]*Object, error) {
	if len(values) == 0 {
		return nil, nil
	}

	where := filters.Where().
		WithPath([]string{property}).
		WithOperator(filters.ContainsAny).
		WithValueText(values...)

	gqlFields := make([]graphql.Field, len(fields))
	for i, f := range fields {
		gqlFields[i] = graphql.Field{Name: f}
	}

	result, err := c.client.GraphQL().Get().
		WithClassName(className).
		WithFields(gqlFields...).
		WithWhere(where).
		WithLimit(queryLimit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", className, property, err)
	}
	if err := graphQLError(result); err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", className, property, err)
	}

	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected get response format")
	}
	items, _ := get[className].([]interface{})

	objs := make([]*Object, 0, len(items))
	for _, item := range items {
		props, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		objs = append(objs, &Object{Class: className, Properties: props})
	}
	return objs, nil
}

func graphQLError(resp *weaviatemodels.GraphQLResponse) error {
	if resp == nil || len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
}

// scanPageSize is the page size of full class scans.
const scanPageSize = 100

// GetAllObjects reads every object of className. Servers that support it
// are paged with an id cursor, older ones with offsets.
func (c *Client) GetAllObjects(ctx context.Context, className string, useCursor bool) ([]*Object, error) {
	var (
		all    []*Object
		after  string
		offset int
	)
	for {
		getter := c.client.Data().ObjectsGetter().
			WithClassName(className).
			WithLimit(scanPageSize)
		switch {
		case !useCursor:
			getter = getter.WithOffset(offset)
		case after != "":
			getter = getter.WithAfter(after)
		}

		page, err := getter.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", className, err)
		}
		for _, obj := range page {
			if o := convertObject(obj); o != nil {
				all = append(all, o)
			}
		}
		if len(page) < scanPageSize {
			return all, nil
		}
		offset += len(page)
		after = page[len(page)-1].ID.String()
	}
}

// convertObject flattens an API object. Properties that do not decode as a
// JSON object are dropped.
func convertObject(obj *weaviatemodels.Object) *Object {
	if obj == nil {
		return nil
	}
	props, ok := obj.Properties.(map[string]any)
	if !ok && obj.Properties != nil {
		data, err := json.Marshal(obj.Properties)
		if err != nil || json.Unmarshal(data, &props) != nil {
			props = nil
		}
	}
	return &Object{
		ID:                 obj.ID.String(),
		Class:              obj.Class,
		Properties:         props,
		CreationTimeUnix:   obj.CreationTimeUnix,
		LastUpdateTimeUnix: obj.LastUpdateTimeUnix,
	}
}
