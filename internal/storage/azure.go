package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// AzureObjectStore implements ObjectStore for Azure Blob Storage
type AzureObjectStore struct {
	containerURL azblob.ContainerURL
	container    string
}

// AzureConfig holds Azure backend configuration
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// Validate checks the Azure backend configuration
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" || c.AccountKey == "" {
		return backup.NewConfigurationError("Azure object store requires account name and key", nil)
	}
	if c.ContainerName == "" {
		return backup.NewConfigurationError("Azure object store requires a container name", nil)
	}
	return nil
}

// NewAzureObjectStore creates a new AzureObjectStore instance
func NewAzureObjectStore(config *AzureConfig) (*AzureObjectStore, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("Azure object store configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, backup.NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, backup.NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureObjectStore{
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		container:    config.ContainerName,
	}, nil
}

// PutObject streams the reader to Azure Blob Storage with the given metadata.
func (a *AzureObjectStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	blobURL := a.containerURL.NewBlockBlobURL(key)

	_, err := azblob.UploadStreamToBlockBlob(ctx, reader, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 8,
		Metadata:   azureMetadata(metadata),
	})
	if err != nil {
		return backup.NewStorageError("failed to upload object to Azure", err)
	}

	return nil
}

// GetObject opens the object for reading and returns its metadata.
func (a *AzureObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	blobURL := a.containerURL.NewBlockBlobURL(key)

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, nil, backup.NewStorageError("failed to download object from Azure", err)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	return body, lowercaseKeys(response.NewMetadata()), nil
}

// HeadObject returns the object's metadata without reading its body.
func (a *AzureObjectStore) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	blobURL := a.containerURL.NewBlockBlobURL(key)

	props, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, backup.NewStorageError("failed to read Azure blob properties", err)
	}

	return lowercaseKeys(props.NewMetadata()), nil
}

// DeleteObject removes the object. Missing keys are not an error.
func (a *AzureObjectStore) DeleteObject(ctx context.Context, key string) error {
	blobURL := a.containerURL.NewBlockBlobURL(key)

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return backup.NewStorageError("failed to delete object from Azure", err)
	}

	return nil
}

// HealthCheck verifies that the container is accessible and listable.
func (a *AzureObjectStore) HealthCheck(ctx context.Context) error {
	_, err := a.containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		MaxResults: 1,
	})
	if err != nil {
		return backup.NewStorageError("Azure health check failed: container not accessible", err)
	}

	return nil
}

// Provider returns the backend name
func (a *AzureObjectStore) Provider() string {
	return "azure"
}

// azureMetadata filters out keys that are not valid Azure metadata
// names (they must be valid C# identifiers).
func azureMetadata(metadata map[string]string) azblob.Metadata {
	out := make(azblob.Metadata, len(metadata))
	for k, v := range metadata {
		out[strings.ReplaceAll(k, "-", "_")] = v
	}
	return out
}

func lowercaseKeys(metadata azblob.Metadata) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[strings.ToLower(k)] = v
	}
	return out
}

func isAzureNotFound(err error) bool {
	var storageErr azblob.StorageError
	if errors.As(err, &storageErr) {
		switch storageErr.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound:
			return true
		}
	}
	return false
}
