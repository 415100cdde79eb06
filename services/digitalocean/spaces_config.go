package digitalocean

import (
	"fmt"

	"github.com/sahilchouksey/study-textbook-api/config"
)

// SpacesConfigFromEnv builds the Spaces configuration from the environment
func SpacesConfigFromEnv(env *config.EnviornmentVariable) (*SpacesConfig, error) {
	cfg := &SpacesConfig{
		AccessKey: env.DO_SPACES_ACCESS_KEY,
		SecretKey: env.DO_SPACES_SECRET_KEY,
		Bucket:    env.DO_SPACES_BUCKET,
		Region:    env.DO_SPACES_REGION,
		Endpoint:  env.DO_SPACES_ENDPOINT,
		CDNURL:    env.DO_SPACES_CDN_ENDPOINT,
	}

	// Bucket and region are required
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("DO_SPACES_BUCKET and DO_SPACES_REGION must be configured")
	}

	// Default endpoint (without https:// prefix for URL construction)
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("%s.digitaloceanspaces.com", cfg.Region)
	}

	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("DO_SPACES_ACCESS_KEY and DO_SPACES_SECRET_KEY must be configured")
	}
	return cfg, nil
}

// IsConfigured returns true if Spaces credentials are present
func (c *SpacesConfig) IsConfigured() bool {
	return c != nil && c.AccessKey != "" && c.SecretKey != ""
}

// NewSpacesClientFromEnv creates a SpacesClient from the environment
func NewSpacesClientFromEnv(env *config.EnviornmentVariable) (*SpacesClient, error) {
	cfg, err := SpacesConfigFromEnv(env)
	if err != nil {
		return nil, err
	}
	return NewSpacesClient(*cfg)
}
