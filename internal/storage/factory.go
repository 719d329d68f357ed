package storage

import (
	"context"
	"fmt"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// Config selects and configures the object-store backend.
type Config struct {
	// Provider is one of "s3", "gcs", "azure", "local".
	Provider string       `mapstructure:"provider" yaml:"provider"`
	S3       *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	GCS      *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
	Azure    *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
	Local    *LocalConfig `mapstructure:"local" yaml:"local,omitempty"`
}

// Validate checks that the selected provider has its configuration block.
func (c *Config) Validate() error {
	switch c.Provider {
	case "s3":
		if c.S3 == nil {
			return backup.NewConfigurationError("object store provider is s3 but no s3 block is configured", nil)
		}
		return c.S3.Validate()
	case "gcs":
		if c.GCS == nil {
			return backup.NewConfigurationError("object store provider is gcs but no gcs block is configured", nil)
		}
		return c.GCS.Validate()
	case "azure":
		if c.Azure == nil {
			return backup.NewConfigurationError("object store provider is azure but no azure block is configured", nil)
		}
		return c.Azure.Validate()
	case "local":
		if c.Local == nil {
			return backup.NewConfigurationError("object store provider is local but no local block is configured", nil)
		}
		return c.Local.Validate()
	case "":
		return backup.NewConfigurationError("object store provider is required", nil)
	default:
		return backup.NewConfigurationError(fmt.Sprintf("unsupported object store provider: %s", c.Provider), nil)
	}
}

// NewObjectStore builds the configured backend.
func NewObjectStore(ctx context.Context, config *Config) (ObjectStore, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("object store configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case "s3":
		return NewS3ObjectStore(config.S3)
	case "gcs":
		return NewGCSObjectStore(ctx, config.GCS)
	case "azure":
		return NewAzureObjectStore(config.Azure)
	case "local":
		return NewLocalObjectStore(config.Local)
	default:
		return nil, backup.NewConfigurationError(fmt.Sprintf("unsupported object store provider: %s", config.Provider), nil)
	}
}
