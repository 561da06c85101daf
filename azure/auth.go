package azure

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/tidewater-io/tidewater/cfg"
)

// NewServiceClient builds the service client for the configured auth
// method: a full connection string, an account shared key, or the ambient
// credential chain (managed identity, workload identity, az login).
func NewServiceClient(storage cfg.StorageConfiguration) (*service.Client, error) {
	endpoint := storage.BlobEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", storage.Account)
	}

	switch storage.AuthMethod {
	case "connection_string":
		client, err := service.NewClientFromConnectionString(storage.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("connection string client: %w", err)
		}
		return client, nil

	case "storage_key":
		cred, err := azblob.NewSharedKeyCredential(storage.Account, storage.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("shared key credential: %w", err)
		}
		client, err := service.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("shared key client: %w", err)
		}
		return client, nil

	case "default":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("default credential: %w", err)
		}
		client, err := service.NewClient(endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("default credential client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown auth method: %s", storage.AuthMethod)
	}
}
