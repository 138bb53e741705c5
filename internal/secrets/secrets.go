// Package secrets resolves named credentials from the environment, the
// filesystem or Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a source has no value for the requested name.
var ErrNotFound = errors.New("secret not found")

// Source returns the current value of a named secret. Failures are final;
// callers do not retry.
type Source interface {
	Secret(ctx context.Context, name string) (string, error)
}

// EnvSource reads secrets from environment variables. The variable name is
// the upper-cased secret name with dashes replaced by underscores, unless
// Var is set.
type EnvSource struct {
	Var string
}

func (s EnvSource) Secret(_ context.Context, name string) (string, error) {
	key := s.Var
	if key == "" {
		key = EnvName(name)
	}
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("env %s: %w", key, ErrNotFound)
	}
	return strings.TrimSpace(v), nil
}

// EnvName maps a secret name like "companies-house-api-key" to
// COMPANIES_HOUSE_API_KEY.
func EnvName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name))
}

// FileSource reads a secret from a file. When Path is a directory the
// secret name is used as the file name inside it.
type FileSource struct {
	Path string
}

func (s FileSource) Secret(_ context.Context, name string) (string, error) {
	path := s.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("read secret file: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("file %s is empty: %w", path, ErrNotFound)
	}
	return v, nil
}

// StaticSource returns a fixed value for every name. Used by tests and local
// runs against a mock registry.
type StaticSource string

func (s StaticSource) Secret(_ context.Context, _ string) (string, error) {
	if s == "" {
		return "", ErrNotFound
	}
	return string(s), nil
}
