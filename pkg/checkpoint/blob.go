package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// BlobStore keeps one JSON blob per checkpoint in an Azure storage
// container. Works against Azurite over plain HTTP for local development.
type BlobStore struct {
	client        *azblob.Client
	containerName string
	prefix        string
	logger        *zap.Logger
	containerInit atomic.Bool
}

// NewBlobStore creates a store from a standard storage connection string.
func NewBlobStore(connectionString, containerName, prefix string, logger *zap.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStore{
		client:        client,
		containerName: containerName,
		prefix:        strings.Trim(prefix, "/"),
		logger:        logger,
	}, nil
}

func (s *BlobStore) blobName(key string) string {
	name := url.PathEscape(key) + ".json"
	if s.prefix != "" {
		return s.prefix + "/" + name
	}
	return name
}

// Get implements Store.
func (s *BlobStore) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(s.blobName(key))

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to download checkpoint blob: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read checkpoint blob: %w", err)
	}
	content, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

// Update implements Store.
func (s *BlobStore) Update(ctx context.Context, key string, content map[string]any) error {
	if err := s.ensureContainer(ctx); err != nil {
		return err
	}
	raw, err := encode(content)
	if err != nil {
		return err
	}

	name := s.blobName(key)
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(name)
	_, err = blobClient.UploadBuffer(ctx, raw, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
	})
	if err != nil {
		s.logger.Error("Failed to upload checkpoint",
			zap.String("blob", name),
			zap.Error(err))
		return fmt.Errorf("checkpoint upload failed: %w", err)
	}

	s.logger.Debug("Uploaded checkpoint",
		zap.String("blob", name),
		zap.Int("size_bytes", len(raw)))
	return nil
}

// Delete implements Store.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.containerName, s.blobName(key), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return fmt.Errorf("failed to delete checkpoint blob: %w", err)
	}
	return nil
}

func (s *BlobStore) ensureContainer(ctx context.Context) error {
	if s.containerInit.Load() {
		return nil
	}

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(bloberror.ContainerAlreadyExists) {
			s.containerInit.Store(true)
			return nil
		}
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	s.containerInit.Store(true)
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}
