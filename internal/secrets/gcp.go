package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"
)

// GCPSource reads the latest version of a secret from Google Secret Manager.
type GCPSource struct {
	project string
	svc     *secretmanager.Service
}

// NewGCPSource creates a Secret Manager backed source for project. Options
// are passed through to the API client; with none, application default
// credentials are used.
func NewGCPSource(ctx context.Context, project string, opts ...option.ClientOption) (*GCPSource, error) {
	if project == "" {
		return nil, fmt.Errorf("gcp secrets: project is required")
	}
	svc, err := secretmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return &GCPSource{project: project, svc: svc}, nil
}

// VersionName returns the resource name of the latest version of secret.
func VersionName(project, secret string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, secret)
}

func (s *GCPSource) Secret(ctx context.Context, name string) (string, error) {
	resp, err := s.svc.Projects.Secrets.Versions.Access(VersionName(s.project, name)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("access secret %s: %w", name, err)
	}
	if resp.Payload == nil || resp.Payload.Data == "" {
		return "", fmt.Errorf("secret %s has no payload: %w", name, ErrNotFound)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("decode secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}
